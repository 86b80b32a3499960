package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/golang/snappy"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
)

func testRegistry(t testing.TB) *Registry {
	t.Helper()
	b := NewRegistryBuilder()
	if err := b.RegisterAll(
		assetPart{},
		&everything{},
		disconnect{},
		twoStrings{},
		bulk{},
		snappyBulk{},
		ping{},
	); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return reg
}

func testCodec(t testing.TB) *Codec {
	t.Helper()
	c, err := NewCodec(testRegistry(t), WithZstdLevel(zstd.SpeedFastest))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestHeader(t *testing.T) {
	h := Header{Length: 11, PacketID: 10}
	b := h.AppendTo(nil)
	want := []byte{0x0B, 0x00, 0x00, 0x00, 0x0A, 0x00, 0x00, 0x00}
	if !bytes.Equal(b, want) {
		t.Fatalf("AppendTo() = %x, want %x", b, want)
	}

	got, err := ParseHeader(b)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if got != h {
		t.Errorf("ParseHeader() = %+v, want %+v", got, h)
	}

	if _, err := ParseHeader(b[:7]); !errors.Is(err, ErrTruncated) {
		t.Errorf("ParseHeader(short) error = %v, want ErrTruncated", err)
	}
	huge := Header{Length: 0, PacketID: 1}.AppendTo(nil)
	binary.LittleEndian.PutUint32(huge, 0xFFFFFFFF)
	if _, err := ParseHeader(huge); !errors.Is(err, ErrSizeViolation) {
		t.Errorf("ParseHeader(huge) error = %v, want ErrSizeViolation", err)
	}
}

func TestReadHeaderEOF(t *testing.T) {
	if _, err := ReadHeader(bytes.NewReader(nil)); err != io.EOF {
		t.Errorf("ReadHeader(empty) error = %v, want io.EOF", err)
	}
	if _, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3})); !errors.Is(err, ErrTruncated) {
		t.Errorf("ReadHeader(partial) error = %v, want ErrTruncated", err)
	}
}

func TestCodecScenarioEnvelope(t *testing.T) {
	c := testCodec(t)

	got, err := c.Encode(&assetPart{Size: 10, Part: []byte{0x01, 0x02}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := []byte{
		0x0B, 0x00, 0x00, 0x00, // length
		0x0A, 0x00, 0x00, 0x00, // packet id
		0x0A, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x02, 0x01, 0x02,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = %x, want %x", got, want)
	}

	h, p, err := c.ReadPacket(bytes.NewReader(want))
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if h.PacketID != 10 || h.Length != 11 {
		t.Errorf("header = %+v, want {Length:11 PacketID:10}", h)
	}
	if diff := cmp.Diff(&assetPart{Size: 10, Part: []byte{0x01, 0x02}}, p); diff != "" {
		t.Errorf("ReadPacket() mismatch (-want +got):\n%s", diff)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := testCodec(t)

	chunks := make([][]byte, 32)
	for i := range chunks {
		chunks[i] = bytes.Repeat([]byte{byte(i)}, 64)
	}
	packets := []Packet{
		&assetPart{Size: 3, Part: []byte{1, 2, 3}},
		sampleEverything(),
		&disconnect{Kind: colorRed, Reason: strPtr("kicked")},
		&bulk{Chunks: chunks, Index: map[int32]string{1: "one"}},
		&snappyBulk{Chunks: chunks},
		&ping{Seq: 9, Time: 123456789},
	}

	var stream bytes.Buffer
	for _, p := range packets {
		if err := c.WritePacket(&stream, p); err != nil {
			t.Fatalf("WritePacket(%T) error = %v", p, err)
		}
	}

	for _, want := range packets {
		_, got, err := c.ReadPacket(&stream)
		if err != nil {
			t.Fatalf("ReadPacket() error = %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%T mismatch (-want +got):\n%s", want, diff)
		}
	}
	if _, _, err := c.ReadPacket(&stream); err != io.EOF {
		t.Errorf("ReadPacket() at end error = %v, want io.EOF", err)
	}
}

func TestCodecCompresses(t *testing.T) {
	c := testCodec(t)
	chunks := [][]byte{bytes.Repeat([]byte{0xAB}, 4096)}

	for _, p := range []Packet{&bulk{Chunks: chunks}, &snappyBulk{Chunks: chunks}} {
		raw, err := Marshal(p)
		if err != nil {
			t.Fatal(err)
		}
		env, err := c.Encode(p)
		if err != nil {
			t.Fatal(err)
		}
		if len(env)-HeaderSize >= len(raw) {
			t.Errorf("%T: envelope payload %d bytes, raw %d", p, len(env)-HeaderSize, len(raw))
		}
	}
}

func TestCodecSmallZstdRoundTrip(t *testing.T) {
	c := testCodec(t)

	tests := []*bulk{
		{Chunks: [][]byte{[]byte("z")}, Index: map[int32]string{0: "zero"}},
		{Chunks: [][]byte{[]byte("abc")}, Index: map[int32]string{1: "a"}},
		{Chunks: [][]byte{bytes.Repeat([]byte("x"), 100)}, Index: map[int32]string{7: "seven"}},
	}
	for _, want := range tests {
		env, err := c.Encode(want)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		_, got, err := c.ReadPacket(bytes.NewReader(env))
		if err != nil {
			t.Fatalf("ReadPacket() error = %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestCompressionText(t *testing.T) {
	for _, want := range []Compression{CompressionNone, CompressionZstd, CompressionSnappy} {
		text, err := want.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Compression
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if got != want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", text, got, want)
		}
	}
	var c Compression
	if err := c.UnmarshalText([]byte("gzip")); err == nil {
		t.Error("UnmarshalText(gzip) error = nil, want error")
	}
}

func TestCodecUnknownPacket(t *testing.T) {
	c := testCodec(t)

	env := Header{Length: 0, PacketID: 999}.AppendTo(nil)
	_, _, err := c.ReadPacket(bytes.NewReader(env))
	if !errors.Is(err, ErrUnknownPacket) {
		t.Errorf("ReadPacket() error = %v, want ErrUnknownPacket", err)
	}

	type unregistered struct {
		ping
	}
	if _, err := c.Encode(unregistered{}); !errors.Is(err, ErrUnknownPacket) {
		t.Errorf("Encode() error = %v, want ErrUnknownPacket", err)
	}
}

func TestCodecSizeViolations(t *testing.T) {
	c := testCodec(t)

	t.Run("header_length", func(t *testing.T) {
		// ping allows 64 bytes; the payload must not even be read.
		env := Header{Length: 65, PacketID: 16}.AppendTo(nil)
		_, _, err := c.ReadPacket(bytes.NewReader(env))
		if !errors.Is(err, ErrSizeViolation) {
			t.Errorf("ReadPacket() error = %v, want ErrSizeViolation", err)
		}
	})

	t.Run("encode_too_large", func(t *testing.T) {
		p := &disconnect{Reason: strPtr(string(bytes.Repeat([]byte("x"), 5000)))}
		dst := []byte{0xAA}
		got, err := c.AppendEncode(dst, p)
		if !errors.Is(err, ErrSizeViolation) {
			t.Fatalf("AppendEncode() error = %v, want ErrSizeViolation", err)
		}
		if len(got) != 1 {
			t.Errorf("AppendEncode() returned %d bytes on error, want dst unchanged", len(got))
		}
	})

	t.Run("zstd_declared_size", func(t *testing.T) {
		enc, _ := zstd.NewWriter(nil)
		defer enc.Close()
		bomb := enc.EncodeAll(make([]byte, 2<<20), nil)
		env := Header{Length: len(bomb), PacketID: 14}.AppendTo(nil)
		env = append(env, bomb...)
		_, _, err := c.ReadPacket(bytes.NewReader(env))
		if !errors.Is(err, ErrSizeViolation) {
			t.Errorf("ReadPacket() error = %v, want ErrSizeViolation", err)
		}
	})

	t.Run("zstd_trailing_frame", func(t *testing.T) {
		enc, _ := zstd.NewWriter(nil)
		defer enc.Close()
		// The first frame declares a size within the limit; the second
		// inflates far past it.
		payload := enc.EncodeAll(make([]byte, 1000), nil)
		payload = enc.EncodeAll(make([]byte, 4<<20), payload)
		_, err := c.Decode(Header{Length: len(payload), PacketID: 14}, payload)
		if !errors.Is(err, ErrSizeViolation) {
			t.Errorf("Decode() error = %v, want ErrSizeViolation", err)
		}
	})

	t.Run("zstd_undeclared_size", func(t *testing.T) {
		var buf bytes.Buffer
		w, _ := zstd.NewWriter(&buf)
		if _, err := w.Write(make([]byte, 2<<20)); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		payload := buf.Bytes()
		_, err := c.Decode(Header{Length: len(payload), PacketID: 14}, payload)
		if !errors.Is(err, ErrSizeViolation) {
			t.Errorf("Decode() error = %v, want ErrSizeViolation", err)
		}
	})

	t.Run("snappy_declared_size", func(t *testing.T) {
		bomb := snappy.Encode(nil, make([]byte, 2<<20))
		env := Header{Length: len(bomb), PacketID: 15}.AppendTo(nil)
		env = append(env, bomb...)
		_, _, err := c.ReadPacket(bytes.NewReader(env))
		if !errors.Is(err, ErrSizeViolation) {
			t.Errorf("ReadPacket() error = %v, want ErrSizeViolation", err)
		}
	})
}

func TestCodecCorruptCompression(t *testing.T) {
	c := testCodec(t)
	for _, id := range []int32{14, 15} {
		payload := []byte{0x05, 0xFF, 0xFF}
		_, err := c.Decode(Header{Length: len(payload), PacketID: id}, payload)
		if !errors.Is(err, ErrFormat) {
			t.Errorf("Decode(id %d) error = %v, want ErrFormat", id, err)
		}
	}
}

func TestCodecTruncatedPayload(t *testing.T) {
	c := testCodec(t)
	env, err := c.Encode(&ping{Seq: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = c.ReadPacket(bytes.NewReader(env[:len(env)-3]))
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("ReadPacket() error = %v, want ErrTruncated", err)
	}
}

func TestCodecDecodeLengthMismatch(t *testing.T) {
	c := testCodec(t)
	_, err := c.Decode(Header{Length: 12, PacketID: 16}, make([]byte, 10))
	if !errors.Is(err, ErrFormat) {
		t.Errorf("Decode() error = %v, want ErrFormat", err)
	}
}
