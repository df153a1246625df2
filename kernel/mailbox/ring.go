// Package mailbox implements the byte ring buffer behind a task mailbox.
//
// Messages are stored back to back and may wrap around the end of the
// buffer. Each message begins with its little-endian u32 length (header
// included), which is how Peek finds message boundaries.
package mailbox

import "encoding/binary"

// LenSize is the size of the length field every message starts with.
const LenSize = 4

// Ring is a fixed-capacity byte queue over caller-owned storage.
type Ring struct {
	buf   []byte
	head  uint32 // next byte to read
	tail  uint32 // next byte to write
	space uint32
}

// New returns an empty ring over buf. The ring owns buf from now on.
func New(buf []byte) *Ring {
	return &Ring{buf: buf, space: uint32(len(buf))}
}

// Cap returns the total capacity in bytes.
func (r *Ring) Cap() uint32 { return uint32(len(r.buf)) }

// Space returns the number of free bytes.
func (r *Ring) Space() uint32 { return r.space }

// Len returns the number of queued bytes.
func (r *Ring) Len() uint32 { return r.Cap() - r.space }

// Empty reports whether no bytes are queued.
func (r *Ring) Empty() bool { return r.space == r.Cap() }

// Fits reports whether n more bytes can be queued.
func (r *Ring) Fits(n uint32) bool { return n <= r.space }

// Put appends msg. It returns false and queues nothing if msg does not fit.
func (r *Ring) Put(msg []byte) bool {
	n := uint32(len(msg))
	if n > r.space {
		return false
	}
	first := copy(r.buf[r.tail:], msg)
	copy(r.buf, msg[first:])
	r.tail = (r.tail + n) % r.Cap()
	r.space -= n
	return true
}

// Peek returns the length of the message at the head, or 0 when empty.
func (r *Ring) Peek() uint32 {
	if r.Len() < LenSize {
		return 0
	}
	var hdr [LenSize]byte
	r.copyOut(hdr[:])
	return binary.LittleEndian.Uint32(hdr[:])
}

// Get removes the head message into dst and returns its length. It returns
// 0 and leaves the ring untouched when empty or when dst is too small.
func (r *Ring) Get(dst []byte) uint32 {
	n := r.Peek()
	if n == 0 || n > uint32(len(dst)) || n > r.Len() {
		return 0
	}
	r.copyOut(dst[:n])
	r.head = (r.head + n) % r.Cap()
	r.space += n
	return n
}

func (r *Ring) copyOut(dst []byte) {
	first := copy(dst, r.buf[r.head:])
	copy(dst[first:], r.buf)
}
