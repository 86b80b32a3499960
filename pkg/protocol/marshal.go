package protocol

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"

	uuid "github.com/satori/go.uuid"
)

// Marshal encodes v, a struct or pointer to struct, into its payload bytes.
func Marshal(v any) ([]byte, error) {
	return MarshalAppend(nil, v)
}

// MarshalAppend appends the payload encoding of v to dst.
func MarshalAppend(dst []byte, v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return dst, newError("encode", "", "", fmt.Errorf("%w: nil %T", ErrSchema, v))
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return dst, newError("encode", "", "", fmt.Errorf("%w: cannot encode %T", ErrSchema, v))
	}
	s, err := Resolve(rv.Type())
	if err != nil {
		return dst, err
	}

	w := getWriter()
	defer putWriter(w)
	e := encoder{w: w, depth: newDepthContext(MaxObjectDepth)}
	if err := e.object(s, rv); err != nil {
		return dst, err
	}
	return append(dst, w.Bytes()...), nil
}

type encoder struct {
	w     *Writer
	depth *depthContext
}

// object writes bitmap, fixed block, offset table and variable block of one
// object at the writer's current position.
func (e *encoder) object(s *Schema, v reflect.Value) error {
	if err := e.depth.enter(); err != nil {
		return newError("encode", s.Name, "", err)
	}
	defer e.depth.leave()

	w := e.w
	w.BeginObject()
	defer w.EndObject()

	if s.BitmapBytes > 0 {
		bits := NewBitSet(s.BitmapBytes)
		for _, f := range s.NullableFields {
			if !v.FieldByIndex(f.index).IsNil() {
				bits.SetBit(f.BitIndex)
			}
		}
		w.WriteBitmap(bits)
	}

	for _, f := range s.FixedFields {
		fv := v.FieldByIndex(f.index)
		if f.pointer {
			if fv.IsNil() {
				w.WriteZeros(f.Size)
				continue
			}
			fv = fv.Elem()
		}
		if err := e.fixed(f, fv); err != nil {
			return withField("encode", s.Name, f.Name, err)
		}
	}

	if s.Layout == LayoutOffsets {
		w.ReserveOffsets(len(s.VariableFields))
	}
	w.BeginVariableBlock()
	for _, f := range s.VariableFields {
		fv := v.FieldByIndex(f.index)
		if f.IsNullable() && fv.IsNil() {
			continue
		}
		if s.Layout == LayoutOffsets {
			if err := w.Backfill(f.Slot); err != nil {
				return withField("encode", s.Name, f.Name, err)
			}
		}
		if f.pointer {
			if fv.IsNil() {
				fv = reflect.Zero(f.typ.Elem())
			} else {
				fv = fv.Elem()
			}
		}
		if err := e.value(f, fv); err != nil {
			return withField("encode", s.Name, f.Name, err)
		}
	}
	w.EndVariableBlock()
	return nil
}

// fixed writes a fixed-width value.
func (e *encoder) fixed(f *Field, v reflect.Value) error {
	w := e.w
	switch f.Kind {
	case KindBool:
		w.WriteBool(v.Bool())
	case KindInt8, KindInt16, KindInt32, KindInt64:
		writeUint(w, f.Size, uint64(v.Int()))
	case KindUint8, KindEnum, KindUint16, KindUint32, KindUint64:
		writeUint(w, f.Size, v.Uint())
	case KindFloat32:
		w.WriteFloat32(float32(v.Float()))
	case KindFloat64:
		w.WriteFloat64(v.Float())
	case KindGUID:
		w.WriteGUID(v.Interface().(uuid.UUID))
	case KindFixedBytes:
		b := make([]byte, f.Size)
		reflect.Copy(reflect.ValueOf(b), v)
		w.WriteFixedBytes(b, f.Size)
	case KindFixedString:
		w.WriteFixedString(v.String(), f.Size)
	case KindObject:
		return e.object(f.Object, v)
	case KindInvalid, KindString, KindBytes, KindArray, KindMap:
		return fmt.Errorf("%w: %s is not fixed-width", ErrSchema, f.Kind)
	}
	return nil
}

// value writes a value in variable position: length-prefixed for strings,
// bytes and collections, recursively for objects, raw for fixed-width kinds.
func (e *encoder) value(f *Field, v reflect.Value) error {
	w := e.w
	switch f.Kind {
	case KindString:
		return w.WriteString(v.String())
	case KindBytes:
		return w.WriteBytes(v.Bytes())
	case KindArray:
		n := v.Len()
		if n > MaxCollectionCount {
			return fmt.Errorf("%w: %d elements exceed %d", ErrSizeViolation, n, MaxCollectionCount)
		}
		w.WriteVarInt(uint32(n))
		for i := 0; i < n; i++ {
			if err := e.elem(f.Elem, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		n := v.Len()
		if n > MaxCollectionCount {
			return fmt.Errorf("%w: %d entries exceed %d", ErrSizeViolation, n, MaxCollectionCount)
		}
		w.WriteVarInt(uint32(n))
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keyLess(f.Key.Kind, keys[i], keys[j]) })
		for _, k := range keys {
			if err := e.elem(f.Key, k); err != nil {
				return err
			}
			if err := e.elem(f.Elem, v.MapIndex(k)); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		return e.object(f.Object, v)
	default:
		return e.fixed(f, v)
	}
}

func (e *encoder) elem(f *Field, v reflect.Value) error {
	if f.pointer {
		if v.IsNil() {
			return fmt.Errorf("%w: nil %s element", ErrFormat, f.describe())
		}
		v = v.Elem()
	}
	return e.value(f, v)
}

func writeUint(w *Writer, width int, v uint64) {
	switch width {
	case 1:
		w.WriteUint8(uint8(v))
	case 2:
		w.WriteUint16(uint16(v))
	case 4:
		w.WriteUint32(uint32(v))
	default:
		w.WriteUint64(v)
	}
}

// keyLess orders map keys so equal maps always encode to equal bytes.
func keyLess(k Kind, a, b reflect.Value) bool {
	switch k {
	case KindString:
		return a.String() < b.String()
	case KindBool:
		return !a.Bool() && b.Bool()
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return a.Int() < b.Int()
	case KindGUID:
		ga, gb := a.Interface().(uuid.UUID), b.Interface().(uuid.UUID)
		return bytes.Compare(ga[:], gb[:]) < 0
	default:
		return a.Uint() < b.Uint()
	}
}
