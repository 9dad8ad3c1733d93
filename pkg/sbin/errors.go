package sbin

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrUnexpectedEOF = errors.New("sbin: unexpected end of input")
	ErrTypeMismatch  = errors.New("sbin: type mismatch")
	ErrInvalidUTF8   = errors.New("sbin: invalid utf8")
	ErrInvalidType   = errors.New("sbin: invalid type")
	ErrTooDeep       = errors.New("sbin: nesting too deep")
	ErrTooLarge      = errors.New("sbin: length exceeds u32")
)

// InvalidTypeError is returned when a tag byte is not a known Tag, or when
// a tag appears where no value may start (a stray End).
type InvalidTypeError struct {
	Tag uint8
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("sbin: invalid type: %d", e.Tag)
}

func (e *InvalidTypeError) Is(target error) bool {
	return target == ErrInvalidType
}

type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return "sbin: unsupported type: " + e.Type.String()
}

// InvalidUnmarshalError describes an invalid argument passed to Unmarshal.
type InvalidUnmarshalError struct {
	Type reflect.Type
}

func (e *InvalidUnmarshalError) Error() string {
	if e.Type == nil {
		return "sbin: Unmarshal(nil)"
	}
	if e.Type.Kind() != reflect.Pointer {
		return "sbin: Unmarshal(non-pointer " + e.Type.String() + ")"
	}
	return "sbin: Unmarshal(nil " + e.Type.String() + ")"
}

func mismatch(want, got Tag) error {
	return fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, want, got)
}
