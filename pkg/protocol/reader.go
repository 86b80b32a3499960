package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	uuid "github.com/satori/go.uuid"
)

// Cursor reads sequentially from a byte slice. Every read is bounds checked
// and fails with ErrTruncated instead of reading past the end.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor creates a cursor positioned at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Pos returns the current read position.
func (c *Cursor) Pos() int {
	return c.pos
}

// Len returns the total length of the underlying region.
func (c *Cursor) Len() int {
	return len(c.buf)
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Rest returns the unread bytes without advancing.
func (c *Cursor) Rest() []byte {
	return c.buf[c.pos:]
}

// Seek moves the cursor to pos, which must lie within [0, Len()].
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return fmt.Errorf("%w: seek to %d in %d bytes", ErrBounds, pos, len(c.buf))
	}
	c.pos = pos
	return nil
}

// Skip advances the position by n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.Take(n)
	return err
}

// Take returns the next n bytes and advances past them.
// The returned slice references the cursor's buffer; do not modify.
func (c *Cursor) Take(n int) ([]byte, error) {
	if n < 0 || n > len(c.buf)-c.pos {
		return nil, ErrTruncated
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (c *Cursor) ReadUint8() (uint8, error) {
	if c.pos >= len(c.buf) {
		return 0, ErrTruncated
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// ReadInt8 reads a signed byte.
func (c *Cursor) ReadInt8() (int8, error) {
	v, err := c.ReadUint8()
	return int8(v), err
}

// ReadBool reads a boolean. Any non-zero byte is true.
func (c *Cursor) ReadBool() (bool, error) {
	v, err := c.ReadUint8()
	return v != 0, err
}

// ReadUint16 reads a uint16 in little-endian byte order.
func (c *Cursor) ReadUint16() (uint16, error) {
	b, err := c.Take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt16 reads an int16 in little-endian byte order.
func (c *Cursor) ReadInt16() (int16, error) {
	v, err := c.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a uint32 in little-endian byte order.
func (c *Cursor) ReadUint32() (uint32, error) {
	b, err := c.Take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads an int32 in little-endian byte order.
func (c *Cursor) ReadInt32() (int32, error) {
	v, err := c.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a uint64 in little-endian byte order.
func (c *Cursor) ReadUint64() (uint64, error) {
	b, err := c.Take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadInt64 reads an int64 in little-endian byte order.
func (c *Cursor) ReadInt64() (int64, error) {
	v, err := c.ReadUint64()
	return int64(v), err
}

// ReadFloat32 reads a float32 in IEEE 754 format (little-endian).
func (c *Cursor) ReadFloat32() (float32, error) {
	v, err := c.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat64 reads a float64 in IEEE 754 format (little-endian).
func (c *Cursor) ReadFloat64() (float64, error) {
	v, err := c.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadGUID reads a 16-byte mixed-endian GUID (see Writer.WriteGUID).
func (c *Cursor) ReadGUID() (uuid.UUID, error) {
	b, err := c.Take(16)
	if err != nil {
		return uuid.Nil, err
	}
	var g uuid.UUID
	g[0], g[1], g[2], g[3] = b[3], b[2], b[1], b[0]
	g[4], g[5] = b[5], b[4]
	g[6], g[7] = b[7], b[6]
	copy(g[8:], b[8:])
	return g, nil
}

// ReadFixedString reads a size-byte zero-padded string, up to the first
// zero byte or the full width.
func (c *Cursor) ReadFixedString(size int) (string, error) {
	b, err := c.Take(size)
	if err != nil {
		return "", err
	}
	for i, v := range b {
		if v == 0 {
			b = b[:i]
			break
		}
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: invalid UTF-8 in fixed string", ErrFormat)
	}
	return string(b), nil
}

// ReadFixedBytes reads exactly size bytes and returns a copy.
func (c *Cursor) ReadFixedBytes(size int) ([]byte, error) {
	b, err := c.Take(size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, b)
	return out, nil
}

// ReadVarInt reads an unsigned VarInt.
func (c *Cursor) ReadVarInt() (uint32, error) {
	v, n, err := DecodeVarInt(c.buf[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += n
	return v, nil
}

// ReadLength reads a VarInt length prefix and checks that that many bytes
// remain.
func (c *Cursor) ReadLength() (int, error) {
	v, err := c.ReadVarInt()
	if err != nil {
		return 0, err
	}
	if uint64(v) > uint64(c.Remaining()) {
		return 0, fmt.Errorf("%w: length %d exceeds %d remaining bytes", ErrBounds, v, c.Remaining())
	}
	return int(v), nil
}

// ReadString reads a VarInt length-prefixed UTF-8 string.
func (c *Cursor) ReadString() (string, error) {
	n, err := c.ReadLength()
	if err != nil {
		return "", err
	}
	b, _ := c.Take(n)
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: invalid UTF-8 in string", ErrFormat)
	}
	return string(b), nil
}

// ReadBytes reads VarInt length-prefixed bytes.
// Returns a copy of the bytes (safe to retain).
func (c *Cursor) ReadBytes() ([]byte, error) {
	n, err := c.ReadLength()
	if err != nil {
		return nil, err
	}
	b, _ := c.Take(n)
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadCount reads a VarInt collection count and validates it against limits.
// minElem is the smallest number of bytes a single element can occupy; the
// count must be coverable by the remaining bytes.
func (c *Cursor) ReadCount(minElem int) (int, error) {
	v, err := c.ReadVarInt()
	if err != nil {
		return 0, err
	}
	if v > MaxCollectionCount {
		return 0, fmt.Errorf("%w: collection count %d exceeds %d", ErrSizeViolation, v, MaxCollectionCount)
	}
	if minElem < 1 {
		minElem = 1
	}
	if uint64(v)*uint64(minElem) > uint64(c.Remaining()) {
		return 0, fmt.Errorf("%w: %d elements cannot fit in %d remaining bytes", ErrBounds, v, c.Remaining())
	}
	return int(v), nil
}

// Reader is a view over one encoded object with two independent cursors:
// the fixed cursor walks the bitmap, fixed block and offset table; the
// variable cursor walks the variable block and can be repositioned for
// offset-addressed reads.
type Reader struct {
	buf      []byte
	fixed    Cursor
	variable Cursor
	varStart int
}

// NewReader creates a reader over buf. Until SetVariableBlockStart is called
// the fixed cursor spans the whole buffer and the variable block is empty.
func NewReader(buf []byte) *Reader {
	return &Reader{
		buf:      buf,
		fixed:    Cursor{buf: buf},
		variable: Cursor{buf: buf[len(buf):]},
		varStart: len(buf),
	}
}

// Fixed returns the fixed-block cursor.
func (r *Reader) Fixed() *Cursor {
	return &r.fixed
}

// Var returns the variable-block cursor. Positions are relative to the start
// of the variable block.
func (r *Reader) Var() *Cursor {
	return &r.variable
}

// ReadBitmap reads an n-byte presence bitmap from the fixed cursor.
func (r *Reader) ReadBitmap(n int) (BitSet, error) {
	b, err := r.fixed.Take(n)
	if err != nil {
		return BitSet{}, err
	}
	return BitSetFrom(b), nil
}

// SetVariableBlockStart splits the buffer at start: the fixed cursor is
// limited to [0, start) and the variable cursor covers [start, len).
func (r *Reader) SetVariableBlockStart(start int) error {
	if start < 0 || start > len(r.buf) {
		return fmt.Errorf("%w: variable block starts at %d, payload is %d bytes", ErrBounds, start, len(r.buf))
	}
	if r.fixed.pos > start {
		return fmt.Errorf("%w: fixed block overruns variable block start %d", ErrFormat, start)
	}
	r.varStart = start
	r.fixed.buf = r.buf[:start]
	r.variable = Cursor{buf: r.buf[start:]}
	return nil
}

// VariableBlockStart returns the absolute start of the variable block.
func (r *Reader) VariableBlockStart() int {
	return r.varStart
}

// VariableBlockLen returns the length of the variable block.
func (r *Reader) VariableBlockLen() int {
	return len(r.variable.buf)
}

// SeekVar positions the variable cursor at offset, relative to the start of
// the variable block, after checking that at least size bytes are available
// there. Sequential reads resume from the new position.
func (r *Reader) SeekVar(offset, size int) error {
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrBounds, offset)
	}
	if size < 0 || offset+size > r.VariableBlockLen() {
		return fmt.Errorf("%w: offset %d+%d exceeds variable block of %d bytes",
			ErrBounds, offset, size, r.VariableBlockLen())
	}
	r.variable.pos = offset
	return nil
}
