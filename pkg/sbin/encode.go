package sbin

import (
	"reflect"
	"slices"
	"strconv"
)

// Marshaler is implemented by types that write their own encoding.
type Marshaler interface {
	MarshalSbin(w *Writer) error
}

var marshalerType = reflect.TypeFor[Marshaler]()

// Marshal returns the encoding of v.
func Marshal(v any) ([]byte, error) {
	w := writerPool.Get().(*Writer)
	defer func() {
		w.Reset()
		writerPool.Put(w)
	}()

	if err := w.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, w.Len())
	copy(out, w.buf)
	return out, nil
}

// Append appends the encoding of v to dst.
func Append(dst []byte, v any) ([]byte, error) {
	w := NewWriterBuffer(dst)
	if err := w.Encode(v); err != nil {
		return dst, err
	}
	return w.buf, nil
}

// Encode appends the encoding of v. On error the writer may hold a partial
// value.
func (w *Writer) Encode(v any) error {
	return w.encode(reflect.ValueOf(v), 0)
}

func (w *Writer) encode(v reflect.Value, depth int) error {
	if !v.IsValid() {
		w.WriteNil()
		return nil
	}
	if depth > maxDepth {
		return ErrTooDeep
	}

	if v.Kind() != reflect.Interface && v.Type().Implements(marshalerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			w.WriteNil()
			return nil
		}
		return v.Interface().(Marshaler).MarshalSbin(w)
	}
	if v.Kind() != reflect.Interface && reflect.PointerTo(v.Type()).Implements(marshalerType) {
		if v.CanAddr() {
			return v.Addr().Interface().(Marshaler).MarshalSbin(w)
		}
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p.Interface().(Marshaler).MarshalSbin(w)
	}

	switch v.Kind() {
	case reflect.Bool:
		w.WriteBool(v.Bool())
	case reflect.Int8:
		w.WriteI8(int8(v.Int()))
	case reflect.Int16:
		w.WriteI16(int16(v.Int()))
	case reflect.Int32:
		w.WriteI32(int32(v.Int()))
	case reflect.Int, reflect.Int64:
		w.WriteI64(v.Int())
	case reflect.Uint8:
		w.WriteU8(uint8(v.Uint()))
	case reflect.Uint16:
		w.WriteU16(uint16(v.Uint()))
	case reflect.Uint32:
		w.WriteU32(uint32(v.Uint()))
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		w.WriteU64(v.Uint())
	case reflect.Float32:
		w.WriteF32(float32(v.Float()))
	case reflect.Float64:
		w.WriteF64(v.Float())
	case reflect.String:
		if err := checkLen(v.Len()); err != nil {
			return err
		}
		w.WriteStr(v.String())

	case reflect.Slice:
		if v.IsNil() {
			w.WriteNil()
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			if err := checkLen(v.Len()); err != nil {
				return err
			}
			w.WriteBytes(v.Bytes())
			return nil
		}
		return w.encodeSeq(v, depth)

	case reflect.Array:
		return w.encodeSeq(v, depth)

	case reflect.Map:
		if v.IsNil() {
			w.WriteNil()
			return nil
		}
		return w.encodeMap(v, depth)

	case reflect.Struct:
		return w.encodeStruct(v, depth)

	case reflect.Pointer:
		if v.IsNil() {
			w.WriteNil()
			return nil
		}
		return w.encode(v.Elem(), depth+1)

	case reflect.Interface:
		if v.IsNil() {
			w.WriteNil()
			return nil
		}
		if u := lookupUnion(v.Type()); u != nil {
			return w.encodeUnion(u, v, depth)
		}
		return w.encode(v.Elem(), depth+1)

	default:
		return &UnsupportedTypeError{Type: v.Type()}
	}
	return nil
}

func (w *Writer) encodeSeq(v reflect.Value, depth int) error {
	w.BeginArray()
	for i := 0; i < v.Len(); i++ {
		if err := w.encode(v.Index(i), depth+1); err != nil {
			return err
		}
	}
	w.WriteEnd()
	return nil
}

// encodeMap writes entries sorted by key so equal maps encode identically.
func (w *Writer) encodeMap(v reflect.Value, depth int) error {
	type entry struct {
		key string
		val reflect.Value
	}

	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := mapKeyString(iter.Key())
		if err != nil {
			return err
		}
		entries = append(entries, entry{key: k, val: iter.Value()})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		}
		return 0
	})

	w.BeginObject()
	for _, e := range entries {
		w.WriteStr(e.key)
		if err := w.encode(e.val, depth+1); err != nil {
			return err
		}
	}
	w.WriteEnd()
	return nil
}

func mapKeyString(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", &UnsupportedTypeError{Type: k.Type()}
}

func (w *Writer) encodeStruct(v reflect.Value, depth int) error {
	info := cachedStruct(v.Type())

	w.BeginObject()
	for _, f := range info.fields {
		w.WriteStr(f.name)
		if err := w.encode(v.Field(f.index), depth+1); err != nil {
			return err
		}
	}
	w.WriteEnd()
	return nil
}

func (w *Writer) encodeUnion(u *union, v reflect.Value, depth int) error {
	elem := v.Elem()
	idx, ok := u.index[elem.Type()]
	if !ok {
		return &UnsupportedTypeError{Type: elem.Type()}
	}

	w.BeginArray()
	w.WriteU32(idx)
	if err := w.encode(elem, depth+1); err != nil {
		return err
	}
	w.WriteEnd()
	return nil
}
