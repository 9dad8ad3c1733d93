// Package sbin implements a compact, self-describing binary encoding.
//
// Every value starts with a one byte Tag. Numbers follow at their natural
// width in little-endian order. Strings and byte blobs carry a u32 length
// prefix, and strings are additionally followed by a single zero byte that is
// not counted in the length. Arrays and objects are closed by an End tag;
// object entries alternate between a Str key and the value.
package sbin

import "fmt"

type Tag uint8

const (
	TagNil Tag = iota
	TagU8
	TagU16
	TagU32
	TagU64
	TagI8
	TagI16
	TagI32
	TagI64
	TagF32
	TagF64
	TagBool
	TagStr
	TagBytes
	TagArray
	TagObject
	TagEnd
)

var tagNames = [...]string{
	TagNil:    "nil",
	TagU8:     "u8",
	TagU16:    "u16",
	TagU32:    "u32",
	TagU64:    "u64",
	TagI8:     "i8",
	TagI16:    "i16",
	TagI32:    "i32",
	TagI64:    "i64",
	TagF32:    "f32",
	TagF64:    "f64",
	TagBool:   "bool",
	TagStr:    "str",
	TagBytes:  "bytes",
	TagArray:  "array",
	TagObject: "object",
	TagEnd:    "end",
}

// Valid reports whether t is one of the defined tags.
func (t Tag) Valid() bool {
	return t <= TagEnd
}

func (t Tag) String() string {
	if t.Valid() {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}
