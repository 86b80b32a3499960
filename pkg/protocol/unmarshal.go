package protocol

import (
	"fmt"
	"reflect"
)

// Unmarshal decodes a payload into v, which must be a non-nil pointer to a
// struct. The whole of data must be consumed; trailing bytes are a format
// error. Decoded strings and byte slices never alias data.
func Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return newError("decode", "", "", fmt.Errorf("%w: Unmarshal needs a non-nil pointer, got %T", ErrSchema, v))
	}
	s, err := Resolve(rv.Type())
	if err != nil {
		return err
	}
	return decodeInto(s, data, rv.Elem())
}

// UnmarshalNew decodes a payload into a new value of the schema's type and
// returns a pointer to it.
func UnmarshalNew(s *Schema, data []byte) (any, error) {
	p := reflect.New(s.Type)
	if err := decodeInto(s, data, p.Elem()); err != nil {
		return nil, err
	}
	return p.Interface(), nil
}

func decodeInto(s *Schema, data []byte, v reflect.Value) error {
	d := decoder{depth: newDepthContext(MaxObjectDepth)}
	n, err := d.object(s, data, v)
	if err != nil {
		return err
	}
	if n != len(data) {
		return newError("decode", s.Name, "", fmt.Errorf("%w: %d trailing bytes", ErrFormat, len(data)-n))
	}
	return nil
}

type decoder struct {
	depth *depthContext
}

// object decodes one object from the start of buf into v and returns the
// number of bytes it occupies.
func (d *decoder) object(s *Schema, buf []byte, v reflect.Value) (int, error) {
	if err := d.depth.enter(); err != nil {
		return 0, newError("decode", s.Name, "", err)
	}
	defer d.depth.leave()

	r := NewReader(buf)
	var bits BitSet
	if s.BitmapBytes > 0 {
		var err error
		if bits, err = r.ReadBitmap(s.BitmapBytes); err != nil {
			return 0, newError("decode", s.Name, "", err)
		}
	}
	present := func(f *Field) bool {
		return !f.IsNullable() || bits.IsSet(f.BitIndex)
	}

	fc := r.Fixed()
	for _, f := range s.FixedFields {
		fv := v.FieldByIndex(f.index)
		if !f.pointer {
			if err := d.fixed(f, fc, fv); err != nil {
				return 0, withField("decode", s.Name, f.Name, err)
			}
			continue
		}
		if !present(f) {
			fv.SetZero()
			if err := fc.Skip(f.Size); err != nil {
				return 0, withField("decode", s.Name, f.Name, err)
			}
			continue
		}
		p := reflect.New(f.typ.Elem())
		if err := d.fixed(f, fc, p.Elem()); err != nil {
			return 0, withField("decode", s.Name, f.Name, err)
		}
		fv.Set(p)
	}

	var offsets []int32
	if s.Layout == LayoutOffsets {
		offsets = make([]int32, len(s.VariableFields))
		for i := range offsets {
			off, err := fc.ReadInt32()
			if err != nil {
				return 0, newError("decode", s.Name, "", err)
			}
			offsets[i] = off
		}
	}
	if err := r.SetVariableBlockStart(s.VariableBlockStart); err != nil {
		return 0, newError("decode", s.Name, "", err)
	}

	vc := r.Var()
	end := 0
	for _, f := range s.VariableFields {
		fv := v.FieldByIndex(f.index)

		if s.Layout == LayoutSequential {
			if !present(f) {
				fv.SetZero()
				continue
			}
			if err := d.variable(f, vc, fv); err != nil {
				return 0, withField("decode", s.Name, f.Name, err)
			}
			end = vc.Pos()
			continue
		}

		off := offsets[f.Slot]
		if off == -1 {
			if present(f) {
				if f.IsNullable() {
					return 0, newError("decode", s.Name, f.Name, fmt.Errorf("%w: bit %d set but offset absent", ErrFormat, f.BitIndex))
				}
				return 0, newError("decode", s.Name, f.Name, fmt.Errorf("%w: required field absent", ErrFormat))
			}
			fv.SetZero()
			continue
		}
		if !present(f) {
			return 0, newError("decode", s.Name, f.Name, fmt.Errorf("%w: offset %d set but bit %d clear", ErrFormat, off, f.BitIndex))
		}
		if err := r.SeekVar(int(off), f.minSize()); err != nil {
			return 0, newError("decode", s.Name, f.Name, err)
		}
		if err := d.variable(f, vc, fv); err != nil {
			return 0, withField("decode", s.Name, f.Name, err)
		}
		if vc.Pos() > end {
			end = vc.Pos()
		}
	}
	return s.VariableBlockStart + end, nil
}

// variable decodes a top-level variable field.
func (d *decoder) variable(f *Field, c *Cursor, v reflect.Value) error {
	if f.pointer {
		p := reflect.New(f.typ.Elem())
		if err := d.value(f, c, p.Elem(), true); err != nil {
			return err
		}
		v.Set(p)
		return nil
	}
	return d.value(f, c, v, f.IsNullable())
}

// fixed decodes a fixed-width value.
func (d *decoder) fixed(f *Field, c *Cursor, v reflect.Value) error {
	switch f.Kind {
	case KindBool:
		b, err := c.ReadBool()
		if err != nil {
			return err
		}
		v.SetBool(b)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		u, err := readUint(c, f.Size)
		if err != nil {
			return err
		}
		v.SetInt(signExtend(u, f.Size))
	case KindUint8, KindEnum, KindUint16, KindUint32, KindUint64:
		u, err := readUint(c, f.Size)
		if err != nil {
			return err
		}
		v.SetUint(u)
	case KindFloat32:
		x, err := c.ReadFloat32()
		if err != nil {
			return err
		}
		v.SetFloat(float64(x))
	case KindFloat64:
		x, err := c.ReadFloat64()
		if err != nil {
			return err
		}
		v.SetFloat(x)
	case KindGUID:
		g, err := c.ReadGUID()
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(g))
	case KindFixedBytes:
		b, err := c.Take(f.Size)
		if err != nil {
			return err
		}
		reflect.Copy(v, reflect.ValueOf(b))
	case KindFixedString:
		s, err := c.ReadFixedString(f.Size)
		if err != nil {
			return err
		}
		v.SetString(s)
	case KindObject:
		n, err := d.object(f.Object, c.Rest(), v)
		if err != nil {
			return err
		}
		return c.Skip(n)
	case KindInvalid, KindString, KindBytes, KindArray, KindMap:
		return fmt.Errorf("%w: %s is not fixed-width", ErrSchema, f.Kind)
	}
	return nil
}

// value decodes a value in variable position. keepEmpty selects whether an
// empty collection decodes to an empty value (present optional field) or to
// nil.
func (d *decoder) value(f *Field, c *Cursor, v reflect.Value, keepEmpty bool) error {
	switch f.Kind {
	case KindString:
		s, err := c.ReadString()
		if err != nil {
			return err
		}
		v.SetString(s)
	case KindBytes:
		b, err := c.ReadBytes()
		if err != nil {
			return err
		}
		if len(b) == 0 && !keepEmpty {
			v.SetZero()
			return nil
		}
		v.SetBytes(b)
	case KindArray:
		n, err := c.ReadCount(f.Elem.minSize())
		if err != nil {
			return err
		}
		if n == 0 && !keepEmpty {
			v.SetZero()
			return nil
		}
		sl := reflect.MakeSlice(v.Type(), n, n)
		for i := 0; i < n; i++ {
			if err := d.elem(f.Elem, c, sl.Index(i)); err != nil {
				return err
			}
		}
		v.Set(sl)
	case KindMap:
		n, err := c.ReadCount(f.Key.minSize() + f.Elem.minSize())
		if err != nil {
			return err
		}
		if n == 0 && !keepEmpty {
			v.SetZero()
			return nil
		}
		t := v.Type()
		m := reflect.MakeMapWithSize(t, n)
		for i := 0; i < n; i++ {
			key := reflect.New(t.Key()).Elem()
			if err := d.elem(f.Key, c, key); err != nil {
				return err
			}
			if m.MapIndex(key).IsValid() {
				return fmt.Errorf("%w: duplicate map key %v", ErrFormat, key)
			}
			val := reflect.New(t.Elem()).Elem()
			if err := d.elem(f.Elem, c, val); err != nil {
				return err
			}
			m.SetMapIndex(key, val)
		}
		v.Set(m)
	case KindObject:
		n, err := d.object(f.Object, c.Rest(), v)
		if err != nil {
			return err
		}
		return c.Skip(n)
	default:
		return d.fixed(f, c, v)
	}
	return nil
}

func (d *decoder) elem(f *Field, c *Cursor, v reflect.Value) error {
	if f.pointer {
		p := reflect.New(f.typ.Elem())
		if err := d.value(f, c, p.Elem(), false); err != nil {
			return err
		}
		v.Set(p)
		return nil
	}
	return d.value(f, c, v, false)
}

func readUint(c *Cursor, width int) (uint64, error) {
	switch width {
	case 1:
		v, err := c.ReadUint8()
		return uint64(v), err
	case 2:
		v, err := c.ReadUint16()
		return uint64(v), err
	case 4:
		v, err := c.ReadUint32()
		return uint64(v), err
	default:
		return c.ReadUint64()
	}
}

func signExtend(u uint64, width int) int64 {
	switch width {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	default:
		return int64(u)
	}
}
