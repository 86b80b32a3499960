// Package protocol implements the binary wire protocol of the Lithium game
// server.
//
// Message types are plain Go structs whose fields carry a `wire` struct tag.
// The tags are resolved once per type into a Schema that fixes where every
// field lives in the encoded payload; Marshal and Unmarshal then walk the
// schema with reflection.
//
// # Wire Format
//
// Every message travels in an envelope with an 8-byte header:
//
//	┌──────────────────────────┬──────────────────────────┐
//	│ Payload Length           │ Packet ID                │
//	│ (4 bytes, little-endian) │ (4 bytes, little-endian) │
//	└──────────────────────────┴──────────────────────────┘
//
// The payload, after optional zstd or snappy decompression, has up to four
// regions:
//
//	[bitmap][fixed block][offset table][variable block]
//
// where:
//   - Bitmap: one presence bit per nullable field, ceil((maxBit+1)/8) bytes
//   - Fixed block: fixed-width fields in fixed-index order, zero-filled when absent
//   - Offset table: one int32 per offset-addressed variable field, -1 when absent
//   - Variable block: strings, byte arrays, collections and nested objects
//
// # Field Tags
//
//	type AssetPart struct {
//	    Size int32  `wire:"fixed=0"`
//	    Part []byte `wire:"offset=0"`
//	}
//
// Keys:
//
//   - fixed=N: position in the fixed block
//   - bit=N: nullability bit; the field must be a pointer, slice or map
//   - offset=N: position in the offset table
//   - size=N: byte width of a fixed-length string
//
// A type whose variable fields all carry an offset index uses the offset
// table layout. A type whose variable fields are only bit-gated writes them
// back to back in ascending bit order. Mixing the two in one type is a
// schema error.
//
// # Encoding
//
//   - Integers and floats: little-endian, IEEE 754 for floats
//   - VarInt: 7 bits per byte, least significant group first, at most 5 bytes
//   - Strings and byte arrays: VarInt length followed by the bytes
//   - Arrays: VarInt count followed by the elements
//   - Maps: VarInt count followed by key/value pairs in ascending key order
//   - GUIDs: 16 bytes, first three groups little-endian
//
// # Errors
//
// Every error matches exactly one of ErrFormat, ErrBounds, ErrUnknownPacket,
// ErrSizeViolation or ErrSchema with errors.Is. Decoding never panics on
// malformed input and never reads outside the payload.
package protocol
