// Package bitmap holds the power-of-two helpers and the packed bit array used
// by the buddy allocator.
package bitmap

import "math/bits"

// Pow2 returns 2^exp.
func Pow2(exp uint) uint32 {
	return 1 << exp
}

// IsPow2 reports whether n is a nonzero power of two.
func IsPow2(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// Log2Ceil returns the smallest r with 2^r >= n. Log2Ceil(0) is 0.
func Log2Ceil(n uint32) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len32(n - 1))
}

// Bitmap is a fixed-size packed bit array. Bit i lives in word i/64 at bit
// position i%64.
type Bitmap struct {
	size  uint32
	words []uint64
}

// New returns a cleared bitmap able to hold size bits.
func New(size uint32) Bitmap {
	return Bitmap{size: size, words: make([]uint64, (size+63)/64)}
}

// Size is the number of addressable bits.
func (b *Bitmap) Size() uint32 { return b.size }

// On reports whether bit i is set.
func (b *Bitmap) On(i uint32) bool {
	return b.words[i>>6]&(1<<(i&63)) != 0
}

// Set sets bit i.
func (b *Bitmap) Set(i uint32) {
	b.words[i>>6] |= 1 << (i & 63)
}

// Clear clears bit i.
func (b *Bitmap) Clear(i uint32) {
	b.words[i>>6] &^= 1 << (i & 63)
}

// ClearAll clears every bit.
func (b *Bitmap) ClearAll() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}
