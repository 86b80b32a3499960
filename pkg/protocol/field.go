package protocol

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Kind is the logical wire type of a field. The set is closed: every switch
// over Kind in this package handles all of them.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt8
	KindUint8
	KindEnum
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindGUID
	KindFixedBytes
	KindFixedString
	KindString
	KindBytes
	KindArray
	KindMap
	KindObject
)

var kindNames = [...]string{
	KindInvalid:     "Invalid",
	KindBool:        "Bool",
	KindInt8:        "Int8",
	KindUint8:       "Uint8",
	KindEnum:        "Enum",
	KindInt16:       "Int16",
	KindUint16:      "Uint16",
	KindInt32:       "Int32",
	KindUint32:      "Uint32",
	KindInt64:       "Int64",
	KindUint64:      "Uint64",
	KindFloat32:     "Float32",
	KindFloat64:     "Float64",
	KindGUID:        "GUID",
	KindFixedBytes:  "FixedBytes",
	KindFixedString: "FixedString",
	KindString:      "String",
	KindBytes:       "Bytes",
	KindArray:       "Array",
	KindMap:         "Map",
	KindObject:      "Object",
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// primitiveWidth returns the encoded width of primitive fixed-width kinds,
// or 0 for kinds whose width depends on the field (FixedBytes, FixedString,
// Object) or that are variable-length.
func (k Kind) primitiveWidth() int {
	switch k {
	case KindBool, KindInt8, KindUint8, KindEnum:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat32:
		return 4
	case KindInt64, KindUint64, KindFloat64:
		return 8
	case KindGUID:
		return 16
	case KindInvalid, KindFixedBytes, KindFixedString, KindString, KindBytes,
		KindArray, KindMap, KindObject:
		return 0
	}
	return 0
}

// NoIndex marks an unused positional role.
const NoIndex = -1

// Field describes one field of a message type, or the element, key or value
// of a collection. Fields are created by the resolver and must not be
// modified afterwards.
type Field struct {
	// Name is the Go field name, or a synthetic name for collection elements.
	Name string

	// Kind is the logical wire type.
	Kind Kind

	// FixedIndex orders the field within the fixed block, or NoIndex.
	FixedIndex int

	// BitIndex is the field's nullability bit, or NoIndex.
	BitIndex int

	// OffsetIndex orders the field within the offset table, or NoIndex.
	OffsetIndex int

	// Size is the encoded width for fixed-width kinds and inline objects.
	Size int

	// Elem describes array elements and map values.
	Elem *Field

	// Key describes map keys.
	Key *Field

	// Object is the nested schema for KindObject.
	Object *Schema

	// FixedPos is the byte position within the fixed block, or NoIndex.
	FixedPos int

	// Slot is the position within the offset table, or NoIndex.
	Slot int

	typ     reflect.Type // Go type of the field
	index   []int        // reflect field index within the parent struct
	pointer bool         // Go type is a pointer to the encoded type
}

// IsFixed reports whether the field lives in the fixed block.
func (f *Field) IsFixed() bool { return f.FixedIndex != NoIndex }

// IsNullable reports whether the field has a nullability bit.
func (f *Field) IsNullable() bool { return f.BitIndex != NoIndex }

// IsOffset reports whether the field is addressed through the offset table.
func (f *Field) IsOffset() bool { return f.OffsetIndex != NoIndex }

// IsComposite reports whether the field, or its element type, is a nested
// message.
func (f *Field) IsComposite() bool {
	switch {
	case f.Kind == KindObject:
		return true
	case f.Kind == KindArray:
		return f.Elem.IsComposite()
	case f.Kind == KindMap:
		return f.Elem.IsComposite() || f.Key.IsComposite()
	}
	return false
}

// Type returns the Go type of the field.
func (f *Field) Type() reflect.Type { return f.typ }

// minSize returns the smallest number of bytes an encoded value of this
// field can occupy.
func (f *Field) minSize() int {
	switch f.Kind {
	case KindString, KindBytes, KindArray, KindMap:
		return 1
	case KindObject:
		if f.Size > 0 {
			return f.Size
		}
		return f.Object.minSize()
	default:
		return f.Size
	}
}

// describe renders the field's wire type, e.g. "Array<Object(Asset)>".
func (f *Field) describe() string {
	switch f.Kind {
	case KindArray:
		return "Array<" + f.Elem.describe() + ">"
	case KindMap:
		return "Map<" + f.Key.describe() + "," + f.Elem.describe() + ">"
	case KindObject:
		return "Object(" + f.Object.Name + ")"
	case KindFixedBytes, KindFixedString:
		return f.Kind.String() + "[" + strconv.Itoa(f.Size) + "]"
	default:
		return f.Kind.String()
	}
}

// tagSpec holds the parsed `wire` struct tag of a field.
type tagSpec struct {
	fixed  int
	bit    int
	offset int
	size   int
}

// parseTag parses a tag of the form "fixed=0,bit=1,offset=2,size=16".
func parseTag(tag string) (tagSpec, error) {
	spec := tagSpec{fixed: NoIndex, bit: NoIndex, offset: NoIndex}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return spec, fmt.Errorf("missing value in %q", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return spec, fmt.Errorf("invalid value in %q", part)
		}
		switch strings.TrimSpace(key) {
		case "fixed":
			spec.fixed = n
		case "bit":
			spec.bit = n
		case "offset":
			spec.offset = n
		case "size":
			spec.size = n
		default:
			return spec, fmt.Errorf("unknown key in %q", part)
		}
	}
	return spec, nil
}
