package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the whole-payload compression of a packet type.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionSnappy
)

// String returns the string representation of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*c = CompressionNone
	case "zstd":
		*c = CompressionZstd
	case "snappy":
		*c = CompressionSnappy
	default:
		return fmt.Errorf("unknown compression %q", text)
	}
	return nil
}

// maxZstdWindow bounds the window a peer may declare in a zstd frame. It
// matches the encoder's default window.
const maxZstdWindow = 8 << 20

// compressor holds the zstd encoder shared by all connections and a pool of
// synchronous stream decoders. EncodeAll is safe for concurrent use.
type compressor struct {
	zenc  *zstd.Encoder
	zdecs sync.Pool
}

func newCompressor(level zstd.EncoderLevel) (*compressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("protocol: create zstd encoder: %w", err)
	}
	if _, err := newZstdDecoder(); err != nil {
		enc.Close()
		return nil, fmt.Errorf("protocol: create zstd decoder: %w", err)
	}
	c := &compressor{zenc: enc}
	c.zdecs.New = func() any {
		dec, err := newZstdDecoder()
		if err != nil {
			return nil
		}
		return dec
	}
	return c, nil
}

// newZstdDecoder returns a decoder that inflates one block at a time on the
// reading goroutine, so a bounded read stops a frame early.
func newZstdDecoder() (*zstd.Decoder, error) {
	return zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxWindow(maxZstdWindow),
		zstd.WithDecoderMaxMemory(MaxPacketSize),
	)
}

func (c *compressor) close() {
	c.zenc.Close()
}

// compress returns the compressed form of src in a new buffer.
func (c *compressor) compress(alg Compression, src []byte) ([]byte, error) {
	switch alg {
	case CompressionZstd:
		return c.zenc.EncodeAll(src, make([]byte, 0, len(src)/2+16)), nil
	case CompressionSnappy:
		return snappy.Encode(nil, src), nil
	case CompressionNone:
		return src, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrSchema, uint8(alg))
	}
}

// decompress inflates src. A size declared in the compressed stream is
// checked against limit before anything is allocated, and inflation stops
// as soon as the output passes limit.
func (c *compressor) decompress(alg Compression, src []byte, limit int) ([]byte, error) {
	switch alg {
	case CompressionZstd:
		return c.unzstd(src, limit)
	case CompressionSnappy:
		n, err := snappy.DecodedLen(src)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrFormat, err)
		}
		if n > limit {
			return nil, fmt.Errorf("%w: declared decompressed size %d exceeds %d", ErrSizeViolation, n, limit)
		}
		out, err := snappy.Decode(nil, src)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrFormat, err)
		}
		return out, nil
	case CompressionNone:
		return src, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrSchema, uint8(alg))
	}
}

// unzstd inflates every frame in src, reading at most limit+1 bytes of
// output. Small frames may omit their content size.
func (c *compressor) unzstd(src []byte, limit int) ([]byte, error) {
	var h zstd.Header
	if err := h.Decode(src); err != nil {
		return nil, fmt.Errorf("%w: zstd header: %v", ErrFormat, err)
	}
	hint := 0
	if h.HasFCS {
		if h.FrameContentSize > uint64(limit) {
			return nil, fmt.Errorf("%w: declared decompressed size %d exceeds %d", ErrSizeViolation, h.FrameContentSize, limit)
		}
		hint = int(h.FrameContentSize)
	}

	dec, _ := c.zdecs.Get().(*zstd.Decoder)
	if dec == nil {
		return nil, fmt.Errorf("%w: zstd decoder unavailable", ErrFormat)
	}
	defer func() {
		dec.Reset(nil)
		c.zdecs.Put(dec)
	}()
	if err := dec.Reset(bytes.NewReader(src)); err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrFormat, err)
	}

	out := bytes.NewBuffer(make([]byte, 0, hint))
	if _, err := out.ReadFrom(io.LimitReader(dec, int64(limit)+1)); err != nil {
		if errors.Is(err, zstd.ErrWindowSizeExceeded) || errors.Is(err, zstd.ErrDecoderSizeExceeded) {
			return nil, fmt.Errorf("%w: zstd: %v", ErrSizeViolation, err)
		}
		return nil, fmt.Errorf("%w: zstd: %v", ErrFormat, err)
	}
	if out.Len() > limit {
		return nil, fmt.Errorf("%w: decompressed size exceeds %d", ErrSizeViolation, limit)
	}
	return out.Bytes(), nil
}
