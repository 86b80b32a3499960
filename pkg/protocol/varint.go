package protocol

// MaxVarIntLen is the maximum number of bytes a VarInt can occupy.
// Lengths and offsets are 32-bit, so five 7-bit groups are enough.
const MaxVarIntLen = 5

// AppendVarInt appends v as a VarInt to buf and returns the extended buffer.
// Uses 7 bits of data per byte, least significant group first; the MSB marks
// continuation.
func AppendVarInt(buf []byte, v uint32) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// PutVarInt encodes v into buf and returns the number of bytes written.
// buf must have at least VarIntLen(v) bytes available.
func PutVarInt(buf []byte, v uint32) int {
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i + 1
}

// DecodeVarInt decodes a VarInt from the start of buf.
// Returns the value and the number of bytes consumed.
//
// A fifth byte that still carries the continuation flag, or whose data bits
// do not fit in 32 bits, fails with ErrVarIntOverflow. Running out of input
// before the terminating byte fails with ErrTruncated.
func DecodeVarInt(buf []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(buf) {
			return 0, 0, ErrTruncated
		}
		b := buf[i]
		if i == MaxVarIntLen-1 && b > 0x0F {
			// 4 bits remain after 28; anything more is either a continuation
			// or a value outside the 32-bit domain.
			return 0, 0, ErrVarIntOverflow
		}
		v |= uint32(b&0x7F) << (7 * i)
		if b < 0x80 {
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrVarIntOverflow
}

// VarIntLen returns the number of bytes needed to encode v as a VarInt.
func VarIntLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}
