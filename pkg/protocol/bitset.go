package protocol

import "fmt"

// BitSet is a fixed-capacity presence bitmap. Bit i marks the field with bit
// index i as present.
//
// Capacity is fixed at construction; SetBit and IsSet panic for bits outside
// [0, Len()). The codec never queries bits beyond the schema's bitmap, so an
// out-of-range access is a programming error rather than a decode failure.
type BitSet struct {
	bits []byte
}

// NewBitSet returns an empty BitSet backed by n bytes.
func NewBitSet(n int) BitSet {
	return BitSet{bits: make([]byte, n)}
}

// BitSetFrom wraps raw bitmap bytes without copying.
func BitSetFrom(b []byte) BitSet {
	return BitSet{bits: b}
}

// BitmapSize returns the number of bytes needed for a bitmap whose highest
// bit index is maxBit: ceil((maxBit+1)/8). It returns 0 when maxBit < 0.
func BitmapSize(maxBit int) int {
	if maxBit < 0 {
		return 0
	}
	return maxBit/8 + 1
}

// Len returns the capacity in bits.
func (b BitSet) Len() int {
	return len(b.bits) * 8
}

// Bytes returns the underlying bitmap bytes.
func (b BitSet) Bytes() []byte {
	return b.bits
}

// SetBit marks bit i as present.
func (b BitSet) SetBit(i int) {
	b.check(i)
	b.bits[i/8] |= 1 << (i % 8)
}

// IsSet reports whether bit i is present.
func (b BitSet) IsSet(i int) bool {
	b.check(i)
	return b.bits[i/8]&(1<<(i%8)) != 0
}

func (b BitSet) check(i int) {
	if i < 0 || i >= b.Len() {
		panic(fmt.Sprintf("protocol: bit %d out of range [0, %d)", i, b.Len()))
	}
}
