// Package proto defines the mailbox message wire format.
//
// Every message starts with a fixed header followed by the payload.
//
// Header layout (little-endian):
//   - u32: total length, header included
//   - u8: sender task id
//   - u8: type
package proto

import "encoding/binary"

// Kind is the message type tag carried in the header.
type Kind uint8

const (
	Default Kind = 0
	KCDReg  Kind = 1 // register a command key with the decoder
	KCDCmd  Kind = 2 // command forwarded by the decoder
	Display Kind = 3 // text for the console display task
	KeyIn   Kind = 10
)

func (k Kind) String() string {
	switch k {
	case Default:
		return "default"
	case KCDReg:
		return "kcd_reg"
	case KCDCmd:
		return "kcd_cmd"
	case Display:
		return "display"
	case KeyIn:
		return "key_in"
	default:
		return "unknown"
	}
}

const (
	// HeaderSize is the encoded header length.
	HeaderSize = 6
	// MinMsgSize is the smallest valid message: a header with no payload.
	MinMsgSize = HeaderSize
)

// Header is the decoded message header.
type Header struct {
	Length uint32
	Sender uint8
	Kind   Kind
}

// Put encodes h into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.Length)
	b[4] = h.Sender
	b[5] = byte(h.Kind)
}

// DecodeHeader reads the header at the start of b.
func DecodeHeader(b []byte) (h Header, ok bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	h.Length = binary.LittleEndian.Uint32(b[0:4])
	h.Sender = b[4]
	h.Kind = Kind(b[5])
	return h, true
}

// Message encodes a complete message.
func Message(sender uint8, kind Kind, payload []byte) []byte {
	b := make([]byte, HeaderSize+len(payload))
	Header{Length: uint32(len(b)), Sender: sender, Kind: kind}.Put(b)
	copy(b[HeaderSize:], payload)
	return b
}

// Payload returns the bytes after the header, bounded by the encoded length.
func Payload(msg []byte) []byte {
	h, ok := DecodeHeader(msg)
	if !ok || h.Length < HeaderSize || int(h.Length) > len(msg) {
		return nil
	}
	return msg[HeaderSize:h.Length]
}

// KeyInPayload encodes a relayed keystroke as UTF-8.
func KeyInPayload(r rune) []byte {
	return []byte(string(r))
}

// KCDRegPayload encodes a command key registration.
//
// Payload format:
//
//	b[0] : command identifier character
func KCDRegPayload(cmd byte) []byte { return []byte{cmd} }

// DecodeKCDRegPayload decodes a KCDRegPayload.
func DecodeKCDRegPayload(b []byte) (cmd byte, ok bool) {
	if len(b) != 1 {
		return 0, false
	}
	return b[0], true
}
