package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/klauspost/compress/zstd"
)

// HeaderSize is the size of the envelope header in bytes.
const HeaderSize = 8

// Header is the envelope header preceding every payload.
//
// Wire format (8 bytes header + payload):
//
//	┌──────────────────────────┬──────────────────────────┐
//	│ Payload Length           │ Packet ID                │
//	│ (4 bytes, little-endian) │ (4 bytes, little-endian) │
//	└──────────────────────────┴──────────────────────────┘
//	│  Payload (length bytes, possibly compressed)        │
//	└─────────────────────────────────────────────────────┘
type Header struct {
	Length   int
	PacketID int32
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.Length))
	return binary.LittleEndian.AppendUint32(dst, uint32(h.PacketID))
}

// Put writes the encoded header into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	binary.LittleEndian.PutUint32(b, uint32(h.Length))
	binary.LittleEndian.PutUint32(b[4:], uint32(h.PacketID))
}

// ParseHeader decodes a header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, newError("read", "", "header", ErrTruncated)
	}
	n := binary.LittleEndian.Uint32(b)
	if n > MaxPacketSize {
		return Header{}, newError("read", "", "header",
			fmt.Errorf("%w: payload length %d exceeds %d", ErrSizeViolation, n, MaxPacketSize))
	}
	return Header{
		Length:   int(n),
		PacketID: int32(binary.LittleEndian.Uint32(b[4:])),
	}, nil
}

// ReadHeader reads one header from r. It returns io.EOF unchanged when r
// ends cleanly before the first header byte.
func ReadHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, newError("read", "", "header", ErrTruncated)
		}
		return Header{}, err
	}
	return ParseHeader(b[:])
}

// Codec turns packets into envelopes and back, using a registry to map
// packet ids onto types and to find each type's compression and size limit.
// A Codec is safe for concurrent use.
type Codec struct {
	reg  *Registry
	comp *compressor
}

type codecOptions struct {
	zstdLevel zstd.EncoderLevel
}

// CodecOption configures a Codec.
type CodecOption func(*codecOptions)

// WithZstdLevel sets the zstd encoder level used for compressed packets.
func WithZstdLevel(level zstd.EncoderLevel) CodecOption {
	return func(o *codecOptions) {
		o.zstdLevel = level
	}
}

// NewCodec creates a codec for the packets in reg.
func NewCodec(reg *Registry, opts ...CodecOption) (*Codec, error) {
	o := codecOptions{zstdLevel: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(&o)
	}
	comp, err := newCompressor(o.zstdLevel)
	if err != nil {
		return nil, err
	}
	return &Codec{reg: reg, comp: comp}, nil
}

// Registry returns the codec's registry.
func (c *Codec) Registry() *Registry {
	return c.reg
}

// Close releases the compression state.
func (c *Codec) Close() {
	c.comp.close()
}

// Encode returns the complete envelope of p.
func (c *Codec) Encode(p Packet) ([]byte, error) {
	return c.AppendEncode(nil, p)
}

// AppendEncode appends the complete envelope of p to dst. Payloads larger
// than the packet's MaxSize, before or after compression, are rejected and
// dst is returned unchanged.
func (c *Codec) AppendEncode(dst []byte, p Packet) ([]byte, error) {
	e, ok := c.reg.ByPacket(p)
	if !ok {
		return dst, newError("encode", packetTypeName(p), "",
			fmt.Errorf("%w: %T is not registered", ErrUnknownPacket, p))
	}
	limit := e.Info.MaxSize

	start := len(dst)
	buf := append(dst, make([]byte, HeaderSize)...)
	buf, err := MarshalAppend(buf, p)
	if err != nil {
		return dst, err
	}

	payload := buf[start+HeaderSize:]
	if len(payload) > limit {
		return dst, newError("encode", e.Info.Name, "",
			fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrSizeViolation, len(payload), limit))
	}
	if e.Info.Compression != CompressionNone {
		compressed, err := c.comp.compress(e.Info.Compression, payload)
		if err != nil {
			return dst, newError("encode", e.Info.Name, "", err)
		}
		if len(compressed) > limit {
			return dst, newError("encode", e.Info.Name, "",
				fmt.Errorf("%w: compressed payload of %d bytes exceeds %d", ErrSizeViolation, len(compressed), limit))
		}
		buf = append(buf[:start+HeaderSize], compressed...)
		payload = buf[start+HeaderSize:]
	}

	Header{Length: len(payload), PacketID: e.Info.ID}.Put(buf[start:])
	return buf, nil
}

// CheckHeader validates a header against the registry before its payload is
// read: the packet id must be known and the length within the type's limit.
func (c *Codec) CheckHeader(h Header) (*Entry, error) {
	e, ok := c.reg.ByID(h.PacketID)
	if !ok {
		return nil, newError("decode", "", "",
			fmt.Errorf("%w: id %d", ErrUnknownPacket, h.PacketID))
	}
	if h.Length < 0 || h.Length > e.Info.MaxSize {
		return nil, newError("decode", e.Info.Name, "",
			fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrSizeViolation, h.Length, e.Info.MaxSize))
	}
	return e, nil
}

// Decode decodes the payload that followed h into a new packet.
func (c *Codec) Decode(h Header, payload []byte) (Packet, error) {
	e, err := c.CheckHeader(h)
	if err != nil {
		return nil, err
	}
	if len(payload) != h.Length {
		return nil, newError("decode", e.Info.Name, "",
			fmt.Errorf("%w: header declares %d bytes, got %d", ErrFormat, h.Length, len(payload)))
	}
	data, err := c.comp.decompress(e.Info.Compression, payload, e.Info.MaxSize)
	if err != nil {
		return nil, newError("decode", e.Info.Name, "", err)
	}
	v, err := UnmarshalNew(e.Schema, data)
	if err != nil {
		return nil, err
	}
	return v.(Packet), nil
}

// ReadPacket reads and decodes one envelope from r. The header is validated
// before the payload is allocated.
func (c *Codec) ReadPacket(r io.Reader) (Header, Packet, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return h, nil, err
	}
	if _, err := c.CheckHeader(h); err != nil {
		return h, nil, err
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return h, nil, newError("read", "", "payload", ErrTruncated)
		}
		return h, nil, err
	}
	p, err := c.Decode(h, payload)
	return h, p, err
}

// WritePacket encodes p and writes the envelope to w in a single Write.
func (c *Codec) WritePacket(w io.Writer, p Packet) error {
	b, err := c.Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func packetTypeName(p Packet) string {
	if p == nil {
		return ""
	}
	t := reflect.TypeOf(p)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
