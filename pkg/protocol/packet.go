package protocol

// Packet is implemented by every message type that travels in an envelope.
// Nested message types (objects) do not implement it; they are reached
// through a packet's fields.
//
// PacketInfo must use a value receiver and must not depend on the receiver's
// contents: the registry calls it on zero values.
type Packet interface {
	PacketInfo() Info
}

// Info is the type-level declaration of a packet.
type Info struct {
	// ID identifies the packet type on the wire.
	ID int32

	// Name is a human-readable name used in logs, metrics and tooling.
	// Defaults to the Go type name.
	Name string

	// Compression selects whole-payload compression.
	Compression Compression

	// MaxSize bounds the payload length on the wire and, for compressed
	// packets, the decompressed length.
	MaxSize int

	// VariableBlockStart, if non-zero, is checked against the resolved
	// schema when the packet is registered.
	VariableBlockStart int
}
