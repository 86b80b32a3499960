package protocol

import (
	uuid "github.com/satori/go.uuid"
)

// Message types shared by the tests in this package.

type color uint8

const (
	colorRed color = iota + 1
	colorBlue
)

type assetPart struct {
	Size int32  `wire:"fixed=0"`
	Part []byte `wire:"offset=0"`
}

func (assetPart) PacketInfo() Info {
	return Info{ID: 10, MaxSize: 1 << 16, VariableBlockStart: 8}
}

// assetPartTwin has the layout of assetPart under different names.
type assetPartTwin struct {
	Length int32  `wire:"fixed=0"`
	Blob   []byte `wire:"offset=0"`
}

type vec3 struct {
	X float64 `wire:"fixed=0"`
	Y float64 `wire:"fixed=1"`
	Z float64 `wire:"fixed=2"`
}

type item struct {
	ID   int32    `wire:"fixed=0"`
	Name string   `wire:"offset=0"`
	Tags []string `wire:"bit=0,offset=1"`
}

type everything struct {
	Flag    bool             `wire:"fixed=0"`
	I8      int8             `wire:"fixed=1"`
	U8      uint8            `wire:"fixed=2"`
	Color   color            `wire:"fixed=3"`
	I16     int16            `wire:"fixed=4"`
	U16     uint16           `wire:"fixed=5"`
	I32     int32            `wire:"fixed=6"`
	U32     uint32           `wire:"fixed=7"`
	I64     int64            `wire:"fixed=8"`
	U64     uint64           `wire:"fixed=9"`
	F32     float32          `wire:"fixed=10"`
	F64     float64          `wire:"fixed=11"`
	ID      uuid.UUID        `wire:"fixed=12"`
	Hash    [4]byte          `wire:"fixed=13"`
	Lang    string           `wire:"fixed=14,size=8"`
	Pos     vec3             `wire:"fixed=15"`
	Vel     *vec3            `wire:"fixed=16,bit=0"`
	Count   *int32           `wire:"fixed=17,bit=1"`
	Name    string           `wire:"offset=0"`
	Nick    *string          `wire:"bit=2,offset=1"`
	Data    []byte           `wire:"bit=3,offset=2"`
	Items   []item           `wire:"offset=3"`
	Scores  map[string]int32 `wire:"bit=4,offset=4"`
	Owner   *item            `wire:"bit=5,offset=5"`
	Ignored string
	Skipped int `wire:"-"`
}

func (everything) PacketInfo() Info {
	return Info{ID: 11, Name: "Everything", MaxSize: 1 << 20, VariableBlockStart: 149}
}

type disconnect struct {
	Kind   color   `wire:"fixed=0"`
	Reason *string `wire:"bit=0"`
	Extra  []byte  `wire:"bit=1"`
}

func (disconnect) PacketInfo() Info {
	return Info{ID: 12, MaxSize: 4096, VariableBlockStart: 2}
}

type twoStrings struct {
	A string `wire:"offset=0"`
	B string `wire:"offset=1"`
}

func (twoStrings) PacketInfo() Info {
	return Info{ID: 13, MaxSize: 4096}
}

type bulk struct {
	Chunks [][]byte         `wire:"offset=0"`
	Index  map[int32]string `wire:"offset=1"`
}

func (bulk) PacketInfo() Info {
	return Info{ID: 14, Compression: CompressionZstd, MaxSize: 1 << 20}
}

type snappyBulk struct {
	Chunks [][]byte `wire:"offset=0"`
}

func (snappyBulk) PacketInfo() Info {
	return Info{ID: 15, Compression: CompressionSnappy, MaxSize: 1 << 20}
}

type ping struct {
	Seq  uint32 `wire:"fixed=0"`
	Time int64  `wire:"fixed=1"`
}

func (ping) PacketInfo() Info {
	return Info{ID: 16, MaxSize: 64}
}

func strPtr(s string) *string { return &s }

func int32Ptr(v int32) *int32 { return &v }

func sampleEverything() *everything {
	return &everything{
		Flag:   true,
		I8:     -8,
		U8:     200,
		Color:  colorBlue,
		I16:    -1600,
		U16:    60000,
		I32:    -32,
		U32:    4000000000,
		I64:    -64,
		U64:    1 << 63,
		F32:    1.5,
		F64:    -2.25,
		ID:     uuid.FromStringOrNil("00112233-4455-6677-8899-aabbccddeeff"),
		Hash:   [4]byte{0xDE, 0xAD, 0xBE, 0xEF},
		Lang:   "en-US",
		Pos:    vec3{X: 1, Y: 2, Z: 3},
		Vel:    &vec3{X: -1, Y: 0, Z: 0.5},
		Count:  int32Ptr(7),
		Name:   "steve",
		Nick:   strPtr("st"),
		Data:   []byte{1, 2, 3},
		Items:  []item{{ID: 1, Name: "sword", Tags: []string{"sharp"}}, {ID: 2, Name: "shield"}},
		Scores: map[string]int32{"b": 2, "a": 1, "c": -3},
		Owner:  &item{ID: 9, Name: "owner", Tags: []string{}},
	}
}
