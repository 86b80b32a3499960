package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeVarInt(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		bytes int // expected encoded length
	}{
		{"zero", 0, 1},
		{"one", 1, 1},
		{"max_1byte", 127, 1},
		{"min_2byte", 128, 2},
		{"max_2byte", 16383, 2},
		{"min_3byte", 16384, 3},
		{"max_4byte", 1<<28 - 1, 4},
		{"min_5byte", 1 << 28, 5},
		{"max_uint32", math.MaxUint32, 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := AppendVarInt(nil, tc.value)
			if len(buf) != tc.bytes {
				t.Errorf("AppendVarInt(%d) = %d bytes, want %d", tc.value, len(buf), tc.bytes)
			}
			if n := VarIntLen(tc.value); n != tc.bytes {
				t.Errorf("VarIntLen(%d) = %d, want %d", tc.value, n, tc.bytes)
			}

			put := make([]byte, MaxVarIntLen)
			n := PutVarInt(put, tc.value)
			if !bytes.Equal(put[:n], buf) {
				t.Errorf("PutVarInt(%d) = %x, want %x", tc.value, put[:n], buf)
			}

			decoded, read, err := DecodeVarInt(buf)
			if err != nil {
				t.Fatalf("DecodeVarInt() error = %v", err)
			}
			if read != len(buf) {
				t.Errorf("DecodeVarInt read %d bytes, want %d", read, len(buf))
			}
			if decoded != tc.value {
				t.Errorf("DecodeVarInt = %d, want %d", decoded, tc.value)
			}
		})
	}
}

func TestVarIntKnownEncodings(t *testing.T) {
	tests := []struct {
		value uint32
		want  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
		{math.MaxUint32, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
	}

	for _, tc := range tests {
		got := AppendVarInt(nil, tc.value)
		if !bytes.Equal(got, tc.want) {
			t.Errorf("AppendVarInt(%d) = %x, want %x", tc.value, got, tc.want)
		}
	}
}

func TestDecodeVarIntErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"unterminated", []byte{0x80}, ErrTruncated},
		{"unterminated_4", []byte{0xFF, 0xFF, 0xFF, 0xFF}, ErrTruncated},
		{"six_bytes", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, ErrVarIntOverflow},
		{"fifth_byte_too_large", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x10}, ErrVarIntOverflow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeVarInt(tc.data)
			if !errors.Is(err, tc.want) {
				t.Fatalf("DecodeVarInt(%x) error = %v, want %v", tc.data, err, tc.want)
			}
		})
	}

	// A continuation on the fifth byte is a format error, not a bounds error.
	_, _, err := DecodeVarInt([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	if !errors.Is(err, ErrFormat) || errors.Is(err, ErrBounds) {
		t.Errorf("six-byte varint error = %v, want format error", err)
	}
}

func TestDecodeVarIntIgnoresTrailing(t *testing.T) {
	v, n, err := DecodeVarInt([]byte{0xAC, 0x02, 0xFF, 0xFF})
	if err != nil {
		t.Fatalf("DecodeVarInt() error = %v", err)
	}
	if v != 300 || n != 2 {
		t.Errorf("DecodeVarInt = (%d, %d), want (300, 2)", v, n)
	}
}
