package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Entry is one registered packet type.
type Entry struct {
	Info   Info
	Type   reflect.Type
	Schema *Schema
}

// New returns a pointer to a new zero value of the packet type.
func (e *Entry) New() Packet {
	return reflect.New(e.Type).Interface().(Packet)
}

// RegistryBuilder collects packet types during startup. It is not safe for
// concurrent use; Build freezes the result into a Registry.
type RegistryBuilder struct {
	byID   map[int32]*Entry
	byType map[reflect.Type]*Entry
	errs   []error
}

// NewRegistryBuilder creates an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		byID:   make(map[int32]*Entry),
		byType: make(map[reflect.Type]*Entry),
	}
}

// Register resolves and adds the type of p. p is only used for its type and
// may be a nil pointer. Errors are also remembered and reported by Build.
func (b *RegistryBuilder) Register(p Packet) (*Schema, error) {
	e, err := b.register(p)
	if err != nil {
		b.errs = append(b.errs, err)
		return nil, err
	}
	return e.Schema, nil
}

// RegisterAll registers every packet and returns the joined errors.
func (b *RegistryBuilder) RegisterAll(ps ...Packet) error {
	var errs []error
	for _, p := range ps {
		if _, err := b.Register(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *RegistryBuilder) register(p Packet) (*Entry, error) {
	if p == nil {
		return nil, registerErrorf("", "nil packet")
	}
	t := reflect.TypeOf(p)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, registerErrorf(t.String(), "%s is not a struct", t)
	}
	if !t.Implements(packetType) {
		return nil, registerErrorf(t.Name(), "PacketInfo must have a value receiver")
	}

	info := reflect.Zero(t).Interface().(Packet).PacketInfo()
	if info.Name == "" {
		info.Name = t.Name()
	}
	if info.MaxSize <= 0 || info.MaxSize > MaxPacketSize {
		return nil, registerErrorf(info.Name, "max size %d outside (0, %d]", info.MaxSize, MaxPacketSize)
	}
	switch info.Compression {
	case CompressionNone, CompressionZstd, CompressionSnappy:
	default:
		return nil, registerErrorf(info.Name, "unknown compression %d", uint8(info.Compression))
	}
	if _, ok := b.byType[t]; ok {
		return nil, registerErrorf(info.Name, "type %s registered twice", t)
	}
	if prev, ok := b.byID[info.ID]; ok {
		return nil, registerErrorf(info.Name, "packet id %d already registered by %s", info.ID, prev.Info.Name)
	}

	s, err := Resolve(t)
	if err != nil {
		return nil, err
	}
	if info.VariableBlockStart != 0 && info.VariableBlockStart != s.VariableBlockStart {
		return nil, registerErrorf(info.Name, "declared variable block start %d, resolved %d",
			info.VariableBlockStart, s.VariableBlockStart)
	}
	if s.minSize() > info.MaxSize {
		return nil, registerErrorf(info.Name, "minimum payload %d exceeds max size %d", s.minSize(), info.MaxSize)
	}

	e := &Entry{Info: info, Type: t, Schema: s}
	b.byID[info.ID] = e
	b.byType[t] = e
	return e, nil
}

// Build returns the frozen registry, or every registration error joined.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	r := &Registry{
		byID:    make(map[int32]*Entry, len(b.byID)),
		byType:  make(map[reflect.Type]*Entry, len(b.byType)),
		entries: make([]*Entry, 0, len(b.byID)),
	}
	for id, e := range b.byID {
		r.byID[id] = e
		r.byType[e.Type] = e
		r.entries = append(r.entries, e)
		if e.Info.MaxSize > r.maxSize {
			r.maxSize = e.Info.MaxSize
		}
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].Info.ID < r.entries[j].Info.ID })

	d := xxhash.New()
	var buf [21]byte
	for _, e := range r.entries {
		binary.LittleEndian.PutUint32(buf[0:], uint32(e.Info.ID))
		binary.LittleEndian.PutUint64(buf[4:], e.Schema.Fingerprint)
		binary.LittleEndian.PutUint64(buf[12:], uint64(e.Info.MaxSize))
		buf[20] = byte(e.Info.Compression)
		d.Write(buf[:])
	}
	r.fingerprint = d.Sum64()
	return r, nil
}

// Registry maps packet ids and Go types onto packet entries. It is immutable
// and safe for concurrent use without locking.
type Registry struct {
	byID        map[int32]*Entry
	byType      map[reflect.Type]*Entry
	entries     []*Entry
	fingerprint uint64
	maxSize     int
}

// ByID returns the entry registered under id.
func (r *Registry) ByID(id int32) (*Entry, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// ByType returns the entry of struct type t (or pointer to it).
func (r *Registry) ByType(t reflect.Type) (*Entry, bool) {
	if t == nil {
		return nil, false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	e, ok := r.byType[t]
	return e, ok
}

// ByPacket returns the entry of p's type.
func (r *Registry) ByPacket(p Packet) (*Entry, bool) {
	if p == nil {
		return nil, false
	}
	return r.ByType(reflect.TypeOf(p))
}

// New returns a new zero packet of the type registered under id.
func (r *Registry) New(id int32) (Packet, error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownPacket, id)
	}
	return e.New(), nil
}

// Entries returns all entries ordered by packet id.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered packet types.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Fingerprint hashes every entry's id, layout, size limit and compression.
// Peers built from the same packet definitions have equal fingerprints.
func (r *Registry) Fingerprint() uint64 {
	return r.fingerprint
}

// MaxSize returns the largest MaxSize of any registered packet.
func (r *Registry) MaxSize() int {
	return r.maxSize
}

func registerErrorf(typ, format string, args ...any) *Error {
	return &Error{
		Kind: ErrSchema,
		Op:   "register",
		Type: typ,
		Err:  fmt.Errorf(format, args...),
	}
}
