package sbin

import (
	"fmt"
	"reflect"
	"strconv"
)

// Unmarshaler is implemented by types that read their own encoding.
type Unmarshaler interface {
	UnmarshalSbin(r *Reader) error
}

var unmarshalerType = reflect.TypeFor[Unmarshaler]()

// Unmarshal decodes the first value in data into v, which must be a non-nil
// pointer. Bytes after the first value are ignored.
func Unmarshal(data []byte, v any) error {
	return NewReader(data).Decode(v)
}

// Decode reads the next value into v, which must be a non-nil pointer.
//
// Object entries whose key names no field are skipped and fields without an
// entry are left untouched. Pointers, slices, maps and interfaces accept Nil
// and are set to their zero value.
func (r *Reader) Decode(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &InvalidUnmarshalError{Type: reflect.TypeOf(v)}
	}
	return r.decode(rv.Elem(), 0)
}

func (r *Reader) decode(v reflect.Value, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}

	k := v.Kind()
	if k != reflect.Interface && k != reflect.Pointer && v.CanAddr() &&
		reflect.PointerTo(v.Type()).Implements(unmarshalerType) {
		return v.Addr().Interface().(Unmarshaler).UnmarshalSbin(r)
	}

	switch k {
	case reflect.Bool:
		b, err := r.ReadBool()
		if err != nil {
			return err
		}
		v.SetBool(b)

	case reflect.Int8:
		n, err := r.ReadI8()
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case reflect.Int16:
		n, err := r.ReadI16()
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case reflect.Int32:
		n, err := r.ReadI32()
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case reflect.Int, reflect.Int64:
		n, err := r.ReadI64()
		if err != nil {
			return err
		}
		v.SetInt(n)

	case reflect.Uint8:
		n, err := r.ReadU8()
		if err != nil {
			return err
		}
		v.SetUint(uint64(n))
	case reflect.Uint16:
		n, err := r.ReadU16()
		if err != nil {
			return err
		}
		v.SetUint(uint64(n))
	case reflect.Uint32:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		v.SetUint(uint64(n))
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		n, err := r.ReadU64()
		if err != nil {
			return err
		}
		v.SetUint(n)

	case reflect.Float32:
		f, err := r.ReadF32()
		if err != nil {
			return err
		}
		v.SetFloat(float64(f))
	case reflect.Float64:
		f, err := r.ReadF64()
		if err != nil {
			return err
		}
		v.SetFloat(f)

	case reflect.String:
		s, err := r.ReadStr()
		if err != nil {
			return err
		}
		v.SetString(s)

	case reflect.Slice:
		if r.IsNil() {
			v.SetZero()
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b, err := r.ReadBytes()
			if err != nil {
				return err
			}
			v.SetBytes(b)
			return nil
		}
		return r.decodeSlice(v, depth)

	case reflect.Array:
		return r.decodeArray(v, depth)

	case reflect.Map:
		if r.IsNil() {
			v.SetZero()
			return nil
		}
		return r.decodeMap(v, depth)

	case reflect.Struct:
		return r.decodeStruct(v, depth)

	case reflect.Pointer:
		if r.IsNil() {
			v.SetZero()
			return nil
		}
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return r.decode(v.Elem(), depth+1)

	case reflect.Interface:
		if r.IsNil() {
			v.SetZero()
			return nil
		}
		if u := lookupUnion(v.Type()); u != nil {
			return r.decodeUnion(u, v, depth)
		}
		if v.NumMethod() == 0 {
			x, err := r.readAny(depth)
			if err != nil {
				return err
			}
			if x == nil {
				v.SetZero()
			} else {
				v.Set(reflect.ValueOf(x))
			}
			return nil
		}
		if !v.IsNil() && v.Elem().Kind() == reflect.Pointer && !v.Elem().IsNil() {
			return r.decode(v.Elem().Elem(), depth+1)
		}
		return &UnsupportedTypeError{Type: v.Type()}

	default:
		return &UnsupportedTypeError{Type: v.Type()}
	}
	return nil
}

func (r *Reader) decodeSlice(v reflect.Value, depth int) error {
	if err := r.BeginArray(); err != nil {
		return err
	}

	et := v.Type().Elem()
	s := reflect.MakeSlice(v.Type(), 0, 0)
	for {
		more, err := r.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		elem := reflect.New(et).Elem()
		if err := r.decode(elem, depth+1); err != nil {
			return err
		}
		s = reflect.Append(s, elem)
	}
	v.Set(s)
	return nil
}

// decodeArray fills v in order. Extra elements are skipped and missing ones
// are zeroed.
func (r *Reader) decodeArray(v reflect.Value, depth int) error {
	if err := r.BeginArray(); err != nil {
		return err
	}

	i := 0
	for ; ; i++ {
		more, err := r.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		if i < v.Len() {
			err = r.decode(v.Index(i), depth+1)
		} else {
			err = r.skip(depth + 1)
		}
		if err != nil {
			return err
		}
	}
	for ; i < v.Len(); i++ {
		v.Index(i).SetZero()
	}
	return nil
}

func (r *Reader) decodeMap(v reflect.Value, depth int) error {
	if err := r.BeginObject(); err != nil {
		return err
	}

	t := v.Type()
	if v.IsNil() {
		v.Set(reflect.MakeMap(t))
	}
	for {
		more, err := r.More()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		ks, err := r.ReadStr()
		if err != nil {
			return err
		}
		key, err := mapKeyValue(ks, t.Key())
		if err != nil {
			return err
		}
		val := reflect.New(t.Elem()).Elem()
		if err := r.decode(val, depth+1); err != nil {
			return err
		}
		v.SetMapIndex(key, val)
	}
}

func mapKeyValue(s string, t reflect.Type) (reflect.Value, error) {
	k := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		k.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return k, fmt.Errorf("%w: map key %q: %v", ErrTypeMismatch, s, err)
		}
		k.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return k, fmt.Errorf("%w: map key %q: %v", ErrTypeMismatch, s, err)
		}
		k.SetUint(n)
	default:
		return k, &UnsupportedTypeError{Type: t}
	}
	return k, nil
}

func (r *Reader) decodeStruct(v reflect.Value, depth int) error {
	if err := r.BeginObject(); err != nil {
		return err
	}

	info := cachedStruct(v.Type())
	for {
		more, err := r.More()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		name, err := r.ReadStr()
		if err != nil {
			return err
		}

		idx, ok := info.byName[name]
		if !ok {
			if err := r.skip(depth + 1); err != nil {
				return err
			}
			continue
		}
		if err := r.decode(v.Field(info.fields[idx].index), depth+1); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
}

func (r *Reader) decodeUnion(u *union, v reflect.Value, depth int) error {
	if err := r.BeginArray(); err != nil {
		return err
	}
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	if uint64(idx) >= uint64(len(u.variants)) {
		return fmt.Errorf("%w: %s has no variant %d", ErrTypeMismatch, v.Type(), idx)
	}

	nv := reflect.New(u.variants[idx]).Elem()
	if err := r.decode(nv, depth+1); err != nil {
		return err
	}
	if err := r.ReadEnd(); err != nil {
		return err
	}
	v.Set(nv)
	return nil
}
