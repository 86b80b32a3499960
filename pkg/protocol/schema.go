package protocol

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	uuid "github.com/satori/go.uuid"
)

// Layout is the canonical variable-block layout of a message type.
type Layout uint8

const (
	// LayoutFixed types have no variable fields.
	LayoutFixed Layout = iota

	// LayoutOffsets types address every variable field through an int32
	// offset table placed between the fixed and the variable block.
	LayoutOffsets

	// LayoutSequential types write bit-gated variable fields back to back in
	// ascending bit order, with no offset table.
	LayoutSequential
)

// String returns the string representation of the layout.
func (l Layout) String() string {
	switch l {
	case LayoutFixed:
		return "fixed"
	case LayoutOffsets:
		return "offsets"
	case LayoutSequential:
		return "sequential"
	default:
		return "unknown"
	}
}

// Schema is the resolved wire layout of a message type. Schemas are built
// once per Go type, cached, and shared read-only.
//
// Encoded layout:
//
//	┌──────────┬─────────────┬──────────────┬────────────────┐
//	│ bitmap   │ fixed block │ offset table │ variable block │
//	└──────────┴─────────────┴──────────────┴────────────────┘
//	            ^ BitmapBytes               ^ VariableBlockStart
type Schema struct {
	// Name is the Go type name.
	Name string

	// Type is the Go struct type.
	Type reflect.Type

	// Fields lists all wire fields in declaration order.
	Fields []*Field

	// FixedFields are ordered by fixed index.
	FixedFields []*Field

	// NullableFields are ordered by bit index.
	NullableFields []*Field

	// VariableFields are ordered by offset index (ties by bit index, then
	// name) for LayoutOffsets, or by bit index for LayoutSequential.
	VariableFields []*Field

	Layout             Layout
	BitmapBytes        int
	FixedBlockSize     int
	OffsetTableSize    int
	VariableBlockStart int

	// Fingerprint hashes the wire-relevant parts of the layout. Two schemas
	// with equal fingerprints encode identically.
	Fingerprint uint64
}

// IsFixedSize reports whether every encoding of the type has the same
// length, which lets it be inlined in a parent's fixed block.
func (s *Schema) IsFixedSize() bool {
	return s.BitmapBytes == 0 && len(s.VariableFields) == 0
}

// minSize is the smallest possible encoding of the type.
func (s *Schema) minSize() int {
	return s.VariableBlockStart
}

// Describe renders a human-readable description of the layout.
func (s *Schema) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s layout=%s bitmap=%d fixed=%d offsets=%d varStart=%d fingerprint=%016x\n",
		s.Name, s.Layout, s.BitmapBytes, s.FixedBlockSize, s.OffsetTableSize/4,
		s.VariableBlockStart, s.Fingerprint)
	for _, f := range s.FixedFields {
		fmt.Fprintf(&b, "  fixed    #%-3d @%-5d %-24s %s%s\n",
			f.FixedIndex, s.BitmapBytes+f.FixedPos, f.Name, f.describe(), bitSuffix(f))
	}
	for _, f := range s.VariableFields {
		if s.Layout == LayoutOffsets {
			fmt.Fprintf(&b, "  variable slot %-5d %-24s %s%s\n", f.Slot, f.Name, f.describe(), bitSuffix(f))
		} else {
			fmt.Fprintf(&b, "  variable seq        %-24s %s%s\n", f.Name, f.describe(), bitSuffix(f))
		}
	}
	return b.String()
}

func bitSuffix(f *Field) string {
	if f.IsNullable() {
		return fmt.Sprintf(" (bit %d)", f.BitIndex)
	}
	return ""
}

var (
	guidType   = reflect.TypeOf(uuid.UUID{})
	packetType = reflect.TypeOf((*Packet)(nil)).Elem()
)

// resolver caches schemas per Go type. Lookups are lock-free; resolution
// runs under mu so a type is resolved at most once.
type resolver struct {
	mu    sync.Mutex
	cache sync.Map // reflect.Type -> *Schema
}

var schemas resolver

// Resolve returns the schema of struct type t (or pointer to struct),
// resolving and caching it on first use. Resolution is deterministic.
func Resolve(t reflect.Type) (*Schema, error) {
	if t == nil {
		return nil, schemaErrorf("", "", "nil type")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, schemaErrorf(t.String(), "", "%s is not a struct", t)
	}
	if s, ok := schemas.cache.Load(t); ok {
		return s.(*Schema), nil
	}

	schemas.mu.Lock()
	defer schemas.mu.Unlock()
	if s, ok := schemas.cache.Load(t); ok {
		return s.(*Schema), nil
	}

	r := &resolution{
		inProgress: make(map[reflect.Type]bool),
		done:       make(map[reflect.Type]*Schema),
	}
	s, err := r.resolve(t)
	if err != nil {
		return nil, err
	}
	for typ, sc := range r.done {
		schemas.cache.Store(typ, sc)
	}
	return s, nil
}

// SchemaOf returns the schema of v's type.
func SchemaOf(v any) (*Schema, error) {
	return Resolve(reflect.TypeOf(v))
}

// resolution is the state of one Resolve call, which may recurse into
// nested object types.
type resolution struct {
	inProgress map[reflect.Type]bool
	done       map[reflect.Type]*Schema
}

func (r *resolution) resolve(t reflect.Type) (*Schema, error) {
	if s, ok := schemas.cache.Load(t); ok {
		return s.(*Schema), nil
	}
	if s, ok := r.done[t]; ok {
		return s, nil
	}
	if r.inProgress[t] {
		return nil, schemaErrorf(t.Name(), "", "recursive type %s", t)
	}
	r.inProgress[t] = true
	defer delete(r.inProgress, t)

	s := &Schema{Name: t.Name(), Type: t}
	if s.Name == "" {
		s.Name = t.String()
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup("wire")
		if !ok || tag == "-" {
			continue
		}
		if !sf.IsExported() {
			return nil, schemaErrorf(s.Name, sf.Name, "unexported field carries a wire tag")
		}
		spec, err := parseTag(tag)
		if err != nil {
			return nil, schemaErrorf(s.Name, sf.Name, "%v", err)
		}
		f, err := r.field(s.Name, sf.Name, sf.Type, spec)
		if err != nil {
			return nil, err
		}
		f.index = sf.Index
		s.Fields = append(s.Fields, f)
	}

	if err := layout(s); err != nil {
		return nil, err
	}
	s.Fingerprint = fingerprint(s)
	r.done[t] = s
	return s, nil
}

// field resolves one struct field and validates its combination of roles.
func (r *resolution) field(owner, name string, t reflect.Type, spec tagSpec) (*Field, error) {
	f := &Field{
		Name:        name,
		FixedIndex:  spec.fixed,
		BitIndex:    spec.bit,
		OffsetIndex: spec.offset,
		FixedPos:    NoIndex,
		Slot:        NoIndex,
		typ:         t,
	}
	if err := r.classify(owner, f, t, spec.size); err != nil {
		return nil, err
	}

	if f.IsFixed() {
		switch {
		case f.IsOffset():
			return nil, schemaErrorf(owner, name, "fixed field cannot also be offset-addressed")
		case !isFixedWidth(f):
			return nil, schemaErrorf(owner, name, "%s is not fixed-width", f.describe())
		case f.pointer && !f.IsNullable():
			return nil, schemaErrorf(owner, name, "pointer field in the fixed block needs a bit index")
		case f.IsNullable() && !f.pointer:
			return nil, schemaErrorf(owner, name, "nullable fixed field must be a pointer")
		}
		return f, nil
	}

	switch {
	case f.Kind == KindFixedString:
		return nil, schemaErrorf(owner, name, "fixed-length string needs a fixed index")
	case f.Kind.primitiveWidth() > 0 || f.Kind == KindFixedBytes:
		return nil, schemaErrorf(owner, name, "%s needs a fixed index", f.describe())
	case !f.IsNullable() && !f.IsOffset():
		return nil, schemaErrorf(owner, name, "variable field needs a bit or offset index")
	case f.IsNullable() && !nillable(t):
		return nil, schemaErrorf(owner, name, "nullable field must be a pointer, slice or map")
	}
	return f, nil
}

// element resolves the element, key or value type of a collection.
func (r *resolution) element(owner, name string, t reflect.Type) (*Field, error) {
	f := &Field{
		Name:        name,
		FixedIndex:  NoIndex,
		BitIndex:    NoIndex,
		OffsetIndex: NoIndex,
		FixedPos:    NoIndex,
		Slot:        NoIndex,
		typ:         t,
	}
	if err := r.classify(owner, f, t, 0); err != nil {
		return nil, err
	}
	if f.pointer && f.Kind != KindObject {
		return nil, schemaErrorf(owner, name, "nullable collection elements are not supported")
	}
	if f.minSize() == 0 {
		return nil, schemaErrorf(owner, name, "zero-width collection element %s", f.describe())
	}
	return f, nil
}

// classify maps a Go type onto a Kind.
func (r *resolution) classify(owner string, f *Field, t reflect.Type, size int) error {
	if t.Kind() == reflect.Pointer {
		f.pointer = true
		t = t.Elem()
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map:
			return schemaErrorf(owner, f.Name, "unsupported pointer type *%s", t)
		}
	}

	if t == guidType {
		f.Kind = KindGUID
	} else {
		switch t.Kind() {
		case reflect.Bool:
			f.Kind = KindBool
		case reflect.Int8:
			f.Kind = KindInt8
		case reflect.Uint8:
			if t.PkgPath() != "" {
				f.Kind = KindEnum
			} else {
				f.Kind = KindUint8
			}
		case reflect.Int16:
			f.Kind = KindInt16
		case reflect.Uint16:
			f.Kind = KindUint16
		case reflect.Int32:
			f.Kind = KindInt32
		case reflect.Uint32:
			f.Kind = KindUint32
		case reflect.Int64:
			f.Kind = KindInt64
		case reflect.Uint64:
			f.Kind = KindUint64
		case reflect.Float32:
			f.Kind = KindFloat32
		case reflect.Float64:
			f.Kind = KindFloat64
		case reflect.String:
			if size > 0 {
				f.Kind = KindFixedString
				f.Size = size
			} else {
				f.Kind = KindString
			}
		case reflect.Array:
			if t.Elem().Kind() != reflect.Uint8 {
				return schemaErrorf(owner, f.Name, "arrays other than [N]byte are not supported, use a slice")
			}
			f.Kind = KindFixedBytes
			f.Size = t.Len()
		case reflect.Slice:
			if isByte(t.Elem()) {
				f.Kind = KindBytes
				break
			}
			elem, err := r.element(owner, f.Name+"[]", t.Elem())
			if err != nil {
				return err
			}
			f.Kind = KindArray
			f.Elem = elem
		case reflect.Map:
			key, err := r.element(owner, f.Name+"{key}", t.Key())
			if err != nil {
				return err
			}
			switch key.Kind {
			case KindBool, KindInt8, KindUint8, KindEnum, KindInt16, KindUint16, KindInt32,
				KindUint32, KindInt64, KindUint64, KindString, KindGUID:
			default:
				return schemaErrorf(owner, f.Name, "unsupported map key %s", key.describe())
			}
			val, err := r.element(owner, f.Name+"{value}", t.Elem())
			if err != nil {
				return err
			}
			f.Kind = KindMap
			f.Key = key
			f.Elem = val
		case reflect.Struct:
			s, err := r.resolve(t)
			if err != nil {
				return err
			}
			f.Kind = KindObject
			f.Object = s
			if s.IsFixedSize() {
				f.Size = s.FixedBlockSize
			}
		default:
			return schemaErrorf(owner, f.Name, "unsupported type %s", t)
		}
	}

	if w := f.Kind.primitiveWidth(); w > 0 {
		f.Size = w
	}
	if size > 0 && f.Kind != KindFixedString {
		return schemaErrorf(owner, f.Name, "size applies to strings only")
	}
	return nil
}

// layout orders the fields and computes block sizes.
func layout(s *Schema) error {
	var fixed, nullable, variable []*Field
	for _, f := range s.Fields {
		if f.IsFixed() {
			fixed = append(fixed, f)
		} else {
			variable = append(variable, f)
		}
		if f.IsNullable() {
			nullable = append(nullable, f)
		}
	}

	sort.Slice(fixed, func(i, j int) bool { return fixed[i].FixedIndex < fixed[j].FixedIndex })
	pos := 0
	for i, f := range fixed {
		if i > 0 && fixed[i-1].FixedIndex == f.FixedIndex {
			return schemaErrorf(s.Name, f.Name, "fixed index %d already used by %s", f.FixedIndex, fixed[i-1].Name)
		}
		f.FixedPos = pos
		pos += f.Size
	}

	sort.Slice(nullable, func(i, j int) bool { return nullable[i].BitIndex < nullable[j].BitIndex })
	maxBit := NoIndex
	for i, f := range nullable {
		if i > 0 && nullable[i-1].BitIndex == f.BitIndex {
			return schemaErrorf(s.Name, f.Name, "bit index %d already used by %s", f.BitIndex, nullable[i-1].Name)
		}
		maxBit = f.BitIndex
	}

	offsets := 0
	for _, f := range variable {
		if f.IsOffset() {
			offsets++
		}
	}
	switch {
	case len(variable) == 0:
		s.Layout = LayoutFixed
	case offsets == len(variable):
		s.Layout = LayoutOffsets
		sort.Slice(variable, func(i, j int) bool {
			a, b := variable[i], variable[j]
			if a.OffsetIndex != b.OffsetIndex {
				return a.OffsetIndex < b.OffsetIndex
			}
			if a.BitIndex != b.BitIndex {
				return a.BitIndex < b.BitIndex
			}
			return a.Name < b.Name
		})
		for i, f := range variable {
			f.Slot = i
		}
	case offsets == 0:
		s.Layout = LayoutSequential
		sort.Slice(variable, func(i, j int) bool { return variable[i].BitIndex < variable[j].BitIndex })
	default:
		return schemaErrorf(s.Name, "", "mixes offset-addressed and sequential variable fields")
	}

	s.FixedFields = fixed
	s.NullableFields = nullable
	s.VariableFields = variable
	s.BitmapBytes = BitmapSize(maxBit)
	s.FixedBlockSize = pos
	if s.Layout == LayoutOffsets {
		s.OffsetTableSize = 4 * len(variable)
	}
	s.VariableBlockStart = s.BitmapBytes + s.FixedBlockSize + s.OffsetTableSize
	return nil
}

// fingerprint hashes the wire-relevant layout of s. Go field names are left
// out so renaming a field does not change the wire identity.
func fingerprint(s *Schema) uint64 {
	d := xxhash.New()
	put := func(v int) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(int64(v)))
		d.Write(b[:])
	}
	var field func(f *Field)
	field = func(f *Field) {
		put(int(f.Kind))
		put(f.FixedPos)
		put(f.BitIndex)
		put(f.Slot)
		put(f.Size)
		if f.Key != nil {
			field(f.Key)
		}
		if f.Elem != nil {
			field(f.Elem)
		}
		if f.Object != nil {
			put(int(f.Object.Fingerprint))
		}
	}
	put(int(s.Layout))
	put(s.BitmapBytes)
	put(s.FixedBlockSize)
	put(s.OffsetTableSize)
	for _, f := range s.FixedFields {
		field(f)
	}
	for _, f := range s.VariableFields {
		field(f)
	}
	return d.Sum64()
}

func isFixedWidth(f *Field) bool {
	switch f.Kind {
	case KindObject:
		return f.Object.IsFixedSize() && f.Size > 0
	default:
		return f.Kind.primitiveWidth() > 0 || ((f.Kind == KindFixedBytes || f.Kind == KindFixedString) && f.Size > 0)
	}
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

func isByte(t reflect.Type) bool {
	return t.Kind() == reflect.Uint8 && t.PkgPath() == ""
}
