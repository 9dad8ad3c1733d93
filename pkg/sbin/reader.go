package sbin

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// maxDepth bounds container nesting on both encode and decode.
const maxDepth = 256

// Reader consumes tagged values from a byte slice. A failed read leaves the
// reader positioned somewhere inside the offending value; callers are expected
// to abandon the value on error.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

func (r *Reader) String() string {
	return fmt.Sprintf("Reader[pos=%d len=%d]", r.pos, len(r.buf))
}

func (r *Reader) Pos() int {
	return r.pos
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrUnexpectedEOF
	}
	p := r.buf[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

// PeekTag returns the next tag without consuming it.
func (r *Reader) PeekTag() (Tag, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrUnexpectedEOF
	}
	t := Tag(r.buf[r.pos])
	if !t.Valid() {
		return 0, &InvalidTypeError{Tag: uint8(t)}
	}
	return t, nil
}

func (r *Reader) ReadTag() (Tag, error) {
	t, err := r.PeekTag()
	if err != nil {
		return 0, err
	}
	r.pos++
	return t, nil
}

func (r *Reader) expect(want Tag) error {
	got, err := r.PeekTag()
	if err != nil {
		return err
	}
	if got != want {
		return mismatch(want, got)
	}
	r.pos++
	return nil
}

// ==================================================================
// Scalars
// ==================================================================

func (r *Reader) ReadNil() error {
	return r.expect(TagNil)
}

// IsNil reports whether the next value is Nil, consuming it if so.
func (r *Reader) IsNil() bool {
	if r.pos < len(r.buf) && Tag(r.buf[r.pos]) == TagNil {
		r.pos++
		return true
	}
	return false
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.expect(TagU8); err != nil {
		return 0, err
	}
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.expect(TagU16); err != nil {
		return 0, err
	}
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.expect(TagU32); err != nil {
		return 0, err
	}
	return r.rawU32()
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.expect(TagU64); err != nil {
		return 0, err
	}
	return r.rawU64()
}

func (r *Reader) ReadI8() (int8, error) {
	if err := r.expect(TagI8); err != nil {
		return 0, err
	}
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return int8(p[0]), nil
}

func (r *Reader) ReadI16() (int16, error) {
	if err := r.expect(TagI16); err != nil {
		return 0, err
	}
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(p)), nil
}

func (r *Reader) ReadI32() (int32, error) {
	if err := r.expect(TagI32); err != nil {
		return 0, err
	}
	v, err := r.rawU32()
	return int32(v), err
}

func (r *Reader) ReadI64() (int64, error) {
	if err := r.expect(TagI64); err != nil {
		return 0, err
	}
	v, err := r.rawU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	if err := r.expect(TagF32); err != nil {
		return 0, err
	}
	v, err := r.rawU32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadF64() (float64, error) {
	if err := r.expect(TagF64); err != nil {
		return 0, err
	}
	v, err := r.rawU64()
	return math.Float64frombits(v), err
}

// ReadBool treats any non-zero payload byte as true.
func (r *Reader) ReadBool() (bool, error) {
	if err := r.expect(TagBool); err != nil {
		return false, err
	}
	p, err := r.take(1)
	if err != nil {
		return false, err
	}
	return p[0] != 0, nil
}

func (r *Reader) ReadStr() (string, error) {
	if err := r.expect(TagStr); err != nil {
		return "", err
	}
	return r.rawStr()
}

// ReadBytes returns a copy of the next Bytes payload.
func (r *Reader) ReadBytes() ([]byte, error) {
	if err := r.expect(TagBytes); err != nil {
		return nil, err
	}
	p, err := r.rawBytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

func (r *Reader) rawU32() (uint32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (r *Reader) rawU64() (uint64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (r *Reader) rawBytes() ([]byte, error) {
	n, err := r.rawU32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.Remaining()) {
		return nil, ErrUnexpectedEOF
	}
	return r.take(int(n))
}

func (r *Reader) rawStr() (string, error) {
	p, err := r.rawBytes()
	if err != nil {
		return "", err
	}
	// Sentinel byte; its value is not checked.
	if _, err := r.take(1); err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", ErrInvalidUTF8
	}
	return string(p), nil
}

// ==================================================================
// Containers
// ==================================================================

func (r *Reader) BeginArray() error {
	return r.expect(TagArray)
}

func (r *Reader) BeginObject() error {
	return r.expect(TagObject)
}

// More reports whether the current container has another element. When the
// next tag is End it is consumed and More returns false.
func (r *Reader) More() (bool, error) {
	t, err := r.PeekTag()
	if err != nil {
		return false, err
	}
	if t == TagEnd {
		r.pos++
		return false, nil
	}
	return true, nil
}

func (r *Reader) ReadEnd() error {
	return r.expect(TagEnd)
}

// Skip discards the next complete value.
func (r *Reader) Skip() error {
	return r.skip(0)
}

func (r *Reader) skip(depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	t, err := r.ReadTag()
	if err != nil {
		return err
	}

	switch t {
	case TagNil:
		return nil
	case TagU8, TagI8, TagBool:
		_, err = r.take(1)
	case TagU16, TagI16:
		_, err = r.take(2)
	case TagU32, TagI32, TagF32:
		_, err = r.take(4)
	case TagU64, TagI64, TagF64:
		_, err = r.take(8)
	case TagStr:
		if _, err = r.rawBytes(); err == nil {
			_, err = r.take(1)
		}
	case TagBytes:
		_, err = r.rawBytes()
	case TagArray, TagObject:
		for {
			more, err := r.More()
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
			if err := r.skip(depth + 1); err != nil {
				return err
			}
		}
	default:
		return &InvalidTypeError{Tag: uint8(t)}
	}
	return err
}

// ReadAny decodes the next value without a target type. Numbers keep their
// encoded width, Str becomes string, Bytes []byte, Array []any, Object
// map[string]any and Nil nil.
func (r *Reader) ReadAny() (any, error) {
	return r.readAny(0)
}

func (r *Reader) readAny(depth int) (any, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}
	t, err := r.PeekTag()
	if err != nil {
		return nil, err
	}

	switch t {
	case TagNil:
		r.pos++
		return nil, nil
	case TagU8:
		return r.ReadU8()
	case TagU16:
		return r.ReadU16()
	case TagU32:
		return r.ReadU32()
	case TagU64:
		return r.ReadU64()
	case TagI8:
		return r.ReadI8()
	case TagI16:
		return r.ReadI16()
	case TagI32:
		return r.ReadI32()
	case TagI64:
		return r.ReadI64()
	case TagF32:
		return r.ReadF32()
	case TagF64:
		return r.ReadF64()
	case TagBool:
		return r.ReadBool()
	case TagStr:
		return r.ReadStr()
	case TagBytes:
		return r.ReadBytes()
	case TagArray:
		r.pos++
		out := []any{}
		for {
			more, err := r.More()
			if err != nil {
				return nil, err
			}
			if !more {
				return out, nil
			}
			v, err := r.readAny(depth + 1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	case TagObject:
		r.pos++
		out := map[string]any{}
		for {
			more, err := r.More()
			if err != nil {
				return nil, err
			}
			if !more {
				return out, nil
			}
			k, err := r.ReadStr()
			if err != nil {
				return nil, err
			}
			v, err := r.readAny(depth + 1)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
	default:
		return nil, &InvalidTypeError{Tag: uint8(t)}
	}
}
