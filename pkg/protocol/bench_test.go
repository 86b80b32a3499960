package protocol

import (
	"bytes"
	"testing"
)

// === VarInt Benchmarks ===

func BenchmarkVarInt_EncodeSmall(b *testing.B) {
	buf := make([]byte, 0, MaxVarIntLen)
	for i := 0; i < b.N; i++ {
		buf = AppendVarInt(buf[:0], 127)
	}
}

func BenchmarkVarInt_EncodeLarge(b *testing.B) {
	buf := make([]byte, 0, MaxVarIntLen)
	for i := 0; i < b.N; i++ {
		buf = AppendVarInt(buf[:0], 1<<28)
	}
}

func BenchmarkVarInt_Decode(b *testing.B) {
	buf := AppendVarInt(nil, 1<<28)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = DecodeVarInt(buf)
	}
}

// === Codec Benchmarks ===

func BenchmarkMarshal_Small(b *testing.B) {
	p := &assetPart{Size: 10, Part: []byte{1, 2, 3, 4}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Marshal(p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMarshal_Everything(b *testing.B) {
	p := sampleEverything()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Marshal(p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUnmarshal_Small(b *testing.B) {
	data, _ := Marshal(&assetPart{Size: 10, Part: []byte{1, 2, 3, 4}})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var p assetPart
		if err := Unmarshal(data, &p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUnmarshal_Everything(b *testing.B) {
	data, _ := Marshal(sampleEverything())
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var p everything
		if err := Unmarshal(data, &p); err != nil {
			b.Fatal(err)
		}
	}
}

// === Envelope Benchmarks ===

func BenchmarkCodec_EncodeZstd(b *testing.B) {
	c := testCodec(b)
	p := &bulk{Chunks: [][]byte{bytes.Repeat([]byte("chunk"), 512)}}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Encode(p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodec_ReadPacket(b *testing.B) {
	c := testCodec(b)
	env, _ := c.Encode(sampleEverything())
	r := bytes.NewReader(env)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Reset(env)
		if _, _, err := c.ReadPacket(r); err != nil {
			b.Fatal(err)
		}
	}
}
