package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	uuid "github.com/satori/go.uuid"
)

// Writer is a growable output buffer for one message.
//
// Besides plain little-endian primitive writes it keeps, per object being
// written, the state needed for the offset-table layout: where the offset
// placeholders live, where the variable block starts, and therefore the
// current offset within the variable block. Nested objects push their own
// state with BeginObject and pop it with EndObject.
type Writer struct {
	buf    []byte
	frames []writeFrame
}

type writeFrame struct {
	offsetsAt int // absolute position of the offset table, -1 if none
	slots     int // number of offset slots
	varStart  int // absolute start of the variable block, -1 until begun
}

// NewWriter creates a new writer with a default initial capacity.
func NewWriter() *Writer {
	return NewWriterSize(256)
}

// NewWriterSize creates a new writer with the specified initial capacity.
func NewWriterSize(size int) *Writer {
	return &Writer{
		buf:    make([]byte, 0, size),
		frames: make([]writeFrame, 0, 4),
	}
}

// Reset resets the writer to empty state, reusing the underlying buffer.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.frames = w.frames[:0]
}

// Bytes returns the written bytes. The returned slice is valid until
// the next call to Reset or any Write method.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes currently written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteInt8 appends a signed byte.
func (w *Writer) WriteInt8(v int8) {
	w.buf = append(w.buf, byte(v))
}

// WriteBool appends a boolean as a single byte (0x00 or 0x01).
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 0x01)
	} else {
		w.buf = append(w.buf, 0x00)
	}
}

// WriteUint16 appends a uint16 in little-endian byte order.
func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteInt16 appends an int16 in little-endian byte order.
func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteUint32 appends a uint32 in little-endian byte order.
func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteInt32 appends an int32 in little-endian byte order.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint64 appends a uint64 in little-endian byte order.
func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteInt64 appends an int64 in little-endian byte order.
func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteFloat32 appends a float32 in IEEE 754 format (little-endian).
func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 appends a float64 in IEEE 754 format (little-endian).
func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

// WriteGUID appends a GUID as 16 bytes in mixed-endian layout: the first
// three groups (4, 2 and 2 bytes) little-endian, the last 8 bytes as-is.
func (w *Writer) WriteGUID(g uuid.UUID) {
	w.buf = append(w.buf,
		g[3], g[2], g[1], g[0],
		g[5], g[4],
		g[7], g[6])
	w.buf = append(w.buf, g[8:]...)
}

// WriteFixedString appends s zero-padded or truncated to exactly size bytes.
// Truncation never splits a UTF-8 sequence.
func (w *Writer) WriteFixedString(s string, size int) {
	if len(s) > size {
		s = truncateUTF8(s, size)
	}
	w.buf = append(w.buf, s...)
	w.WriteZeros(size - len(s))
}

// WriteFixedBytes appends b zero-padded or truncated to exactly size bytes.
func (w *Writer) WriteFixedBytes(b []byte, size int) {
	if len(b) > size {
		b = b[:size]
	}
	w.buf = append(w.buf, b...)
	w.WriteZeros(size - len(b))
}

// WriteZeros appends n zero bytes.
func (w *Writer) WriteZeros(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// WriteRaw appends raw bytes.
func (w *Writer) WriteRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteVarInt appends an unsigned VarInt.
func (w *Writer) WriteVarInt(v uint32) {
	w.buf = AppendVarInt(w.buf, v)
}

// WriteString appends a VarInt length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) error {
	if len(s) > math.MaxInt32 {
		return fmt.Errorf("%w: string of %d bytes", ErrSizeViolation, len(s))
	}
	w.WriteVarInt(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteBytes appends VarInt length-prefixed raw bytes.
func (w *Writer) WriteBytes(b []byte) error {
	if len(b) > math.MaxInt32 {
		return fmt.Errorf("%w: byte array of %d bytes", ErrSizeViolation, len(b))
	}
	w.WriteVarInt(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

// WriteBitmap appends the bitmap bytes.
func (w *Writer) WriteBitmap(bs BitSet) {
	w.buf = append(w.buf, bs.Bytes()...)
}

// BeginObject starts a new (possibly nested) object at the current position.
func (w *Writer) BeginObject() {
	w.frames = append(w.frames, writeFrame{offsetsAt: -1, varStart: -1})
}

// EndObject finishes the innermost object started with BeginObject.
func (w *Writer) EndObject() {
	w.frames = w.frames[:len(w.frames)-1]
}

func (w *Writer) frame() *writeFrame {
	if len(w.frames) == 0 {
		w.BeginObject()
	}
	return &w.frames[len(w.frames)-1]
}

// ReserveOffsets appends n int32 offset placeholders, each initialized to -1,
// for the current object.
func (w *Writer) ReserveOffsets(n int) {
	f := w.frame()
	f.offsetsAt = len(w.buf)
	f.slots = n
	for i := 0; i < n; i++ {
		w.WriteInt32(-1)
	}
}

// BeginVariableBlock marks the current position as the start of the current
// object's variable block.
func (w *Writer) BeginVariableBlock() {
	w.frame().varStart = len(w.buf)
}

// VarOffset returns the current position relative to the start of the
// current object's variable block.
func (w *Writer) VarOffset() int {
	return len(w.buf) - w.frame().varStart
}

// Backfill records the current variable-block offset into offset slot.
// Call it immediately before writing the field that owns the slot.
func (w *Writer) Backfill(slot int) error {
	f := w.frame()
	if f.varStart < 0 {
		return fmt.Errorf("%w: backfill before variable block", ErrFormat)
	}
	if f.offsetsAt < 0 || slot < 0 || slot >= f.slots {
		return fmt.Errorf("%w: offset slot %d not reserved", ErrBounds, slot)
	}
	off := len(w.buf) - f.varStart
	if off > math.MaxInt32 {
		return fmt.Errorf("%w: variable offset %d", ErrSizeViolation, off)
	}
	pos := f.offsetsAt + 4*slot
	binary.LittleEndian.PutUint32(w.buf[pos:], uint32(int32(off)))
	return nil
}

// EndVariableBlock closes the current object's variable block and returns
// its length in bytes.
func (w *Writer) EndVariableBlock() int {
	f := w.frame()
	if f.varStart < 0 {
		return 0
	}
	return len(w.buf) - f.varStart
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}

var writerPool = sync.Pool{
	New: func() any { return NewWriterSize(512) },
}

// maxPooledWriter caps the buffer size kept in the pool so one huge message
// does not pin memory.
const maxPooledWriter = 1 << 20

func getWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

func putWriter(w *Writer) {
	if cap(w.buf) > maxPooledWriter {
		return
	}
	writerPool.Put(w)
}
