package protocol

import (
	"errors"
	"testing"
)

func TestCursorBounds(t *testing.T) {
	c := NewCursor([]byte{1, 2, 3})

	if _, err := c.Take(4); !errors.Is(err, ErrTruncated) {
		t.Errorf("Take(4) error = %v, want ErrTruncated", err)
	}
	if _, err := c.Take(-1); !errors.Is(err, ErrTruncated) {
		t.Errorf("Take(-1) error = %v, want ErrTruncated", err)
	}
	if c.Pos() != 0 {
		t.Errorf("Pos() after failed Take = %d, want 0", c.Pos())
	}
	if _, err := c.ReadUint32(); !errors.Is(err, ErrBounds) {
		t.Errorf("ReadUint32() error = %v, want ErrBounds", err)
	}
	if err := c.Seek(4); !errors.Is(err, ErrBounds) {
		t.Errorf("Seek(4) error = %v, want ErrBounds", err)
	}
	if err := c.Seek(3); err != nil {
		t.Errorf("Seek(3) error = %v", err)
	}
	if c.Remaining() != 0 || len(c.Rest()) != 0 {
		t.Errorf("Remaining() = %d, want 0", c.Remaining())
	}
}

func TestCursorLengthPrefixed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(*Cursor) error
		want error
	}{
		{
			name: "length_past_end",
			data: []byte{0x05, 'a', 'b'},
			read: func(c *Cursor) error { _, err := c.ReadString(); return err },
			want: ErrBounds,
		},
		{
			name: "invalid_utf8",
			data: []byte{0x02, 0xFF, 0xFE},
			read: func(c *Cursor) error { _, err := c.ReadString(); return err },
			want: ErrFormat,
		},
		{
			name: "bytes_past_end",
			data: []byte{0x80, 0x01},
			read: func(c *Cursor) error { _, err := c.ReadBytes(); return err },
			want: ErrBounds,
		},
		{
			name: "count_over_limit",
			data: AppendVarInt(nil, MaxCollectionCount+1),
			read: func(c *Cursor) error { _, err := c.ReadCount(1); return err },
			want: ErrSizeViolation,
		},
		{
			name: "count_cannot_fit",
			data: []byte{0x10, 0, 0, 0},
			read: func(c *Cursor) error { _, err := c.ReadCount(1); return err },
			want: ErrBounds,
		},
		{
			name: "count_min_element",
			data: []byte{0x02, 0, 0, 0, 0, 0, 0, 0},
			read: func(c *Cursor) error { _, err := c.ReadCount(8); return err },
			want: ErrBounds,
		},
		{
			name: "fixed_string_invalid_utf8",
			data: []byte{0xC3, 0x28},
			read: func(c *Cursor) error { _, err := c.ReadFixedString(2); return err },
			want: ErrFormat,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.read(NewCursor(tc.data))
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCursorBytesAreCopied(t *testing.T) {
	data := []byte{0x02, 0x01, 0x02}
	b, err := NewCursor(data).ReadBytes()
	if err != nil {
		t.Fatal(err)
	}
	data[1] = 0xFF
	if b[0] != 0x01 {
		t.Error("ReadBytes() result aliases the input buffer")
	}
}

func TestReaderVariableBlock(t *testing.T) {
	// fixed int32, then a 3-byte variable block
	buf := []byte{0x0A, 0, 0, 0, 0x02, 0x01, 0x02}
	r := NewReader(buf)

	if v, err := r.Fixed().ReadInt32(); err != nil || v != 10 {
		t.Fatalf("ReadInt32() = %d, %v; want 10, nil", v, err)
	}
	if err := r.SetVariableBlockStart(4); err != nil {
		t.Fatalf("SetVariableBlockStart(4) error = %v", err)
	}
	if r.VariableBlockStart() != 4 || r.VariableBlockLen() != 3 {
		t.Errorf("variable block = [%d, +%d), want [4, +3)", r.VariableBlockStart(), r.VariableBlockLen())
	}

	// The fixed cursor may not read into the variable block.
	if _, err := r.Fixed().ReadUint8(); !errors.Is(err, ErrTruncated) {
		t.Errorf("fixed ReadUint8() past start error = %v, want ErrTruncated", err)
	}

	if err := r.SeekVar(1, 2); err != nil {
		t.Fatalf("SeekVar(1, 2) error = %v", err)
	}
	if v, err := r.Var().ReadUint8(); err != nil || v != 0x01 {
		t.Errorf("Var().ReadUint8() = %x, %v; want 01, nil", v, err)
	}
	if err := r.SeekVar(0, 1); err != nil {
		t.Fatal(err)
	}
	if b, err := r.Var().ReadBytes(); err != nil || len(b) != 2 {
		t.Errorf("Var().ReadBytes() = %x, %v", b, err)
	}
}

func TestReaderSeekVarBounds(t *testing.T) {
	r := NewReader([]byte{0, 1, 2, 3})
	if err := r.SetVariableBlockStart(1); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		offset, size int
		ok           bool
	}{
		{0, 3, true},
		{2, 1, true},
		{3, 0, true},
		{-1, 1, false},
		{2, 2, false},
		{4, 0, false},
		{0, 4, false},
	}
	for _, tc := range tests {
		err := r.SeekVar(tc.offset, tc.size)
		if tc.ok && err != nil {
			t.Errorf("SeekVar(%d, %d) error = %v", tc.offset, tc.size, err)
		}
		if !tc.ok && !errors.Is(err, ErrBounds) {
			t.Errorf("SeekVar(%d, %d) error = %v, want ErrBounds", tc.offset, tc.size, err)
		}
	}
}

func TestReaderSetVariableBlockStartErrors(t *testing.T) {
	r := NewReader([]byte{0, 1})
	if err := r.SetVariableBlockStart(3); !errors.Is(err, ErrBounds) {
		t.Errorf("SetVariableBlockStart(3) error = %v, want ErrBounds", err)
	}
	if _, err := r.Fixed().Take(2); err != nil {
		t.Fatal(err)
	}
	if err := r.SetVariableBlockStart(1); !errors.Is(err, ErrFormat) {
		t.Errorf("SetVariableBlockStart(1) error = %v, want ErrFormat", err)
	}
}

func TestDepthContext(t *testing.T) {
	dc := newDepthContext(2)
	if err := dc.enter(); err != nil {
		t.Fatal(err)
	}
	if err := dc.enter(); err != nil {
		t.Fatal(err)
	}
	if err := dc.enter(); !errors.Is(err, ErrMaxDepth) || !errors.Is(err, ErrFormat) {
		t.Errorf("enter() at limit error = %v, want ErrMaxDepth", err)
	}
	dc.leave()
	if err := dc.enter(); err != nil {
		t.Errorf("enter() after leave error = %v", err)
	}
}
