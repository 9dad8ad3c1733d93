package sbin

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

var writerPool = &sync.Pool{
	New: func() any {
		return NewWriter()
	},
}

// Writer appends tagged values to a growing byte slice. Writes never fail;
// the only errors come from Encode for values that cannot be represented.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// NewWriterBuffer returns a Writer that appends to buf.
func NewWriterBuffer(buf []byte) *Writer {
	return &Writer{buf: buf}
}

func (w *Writer) String() string {
	return fmt.Sprintf("Writer[len=%d cap=%d]", len(w.buf), cap(w.buf))
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

func (w *Writer) WriteTag(t Tag) {
	w.buf = append(w.buf, byte(t))
}

func (w *Writer) WriteNil() {
	w.WriteTag(TagNil)
}

func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, byte(TagU8), v)
}

func (w *Writer) WriteU16(v uint16) {
	w.WriteTag(TagU16)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteU32(v uint32) {
	w.WriteTag(TagU32)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteU64(v uint64) {
	w.WriteTag(TagU64)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteI8(v int8) {
	w.buf = append(w.buf, byte(TagI8), byte(v))
}

func (w *Writer) WriteI16(v int16) {
	w.WriteTag(TagI16)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) WriteI32(v int32) {
	w.WriteTag(TagI32)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteI64(v int64) {
	w.WriteTag(TagI64)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteF32(v float32) {
	w.WriteTag(TagF32)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *Writer) WriteF64(v float64) {
	w.WriteTag(TagF64)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) WriteBool(v bool) {
	var b byte
	if v {
		b = 1
	}
	w.buf = append(w.buf, byte(TagBool), b)
}

// WriteStr writes s followed by the zero sentinel. s is not validated.
func (w *Writer) WriteStr(s string) {
	w.WriteTag(TagStr)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(s)))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteBytes(p []byte) {
	w.WriteTag(TagBytes)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(p)))
	w.buf = append(w.buf, p...)
}

func (w *Writer) BeginArray() {
	w.WriteTag(TagArray)
}

func (w *Writer) BeginObject() {
	w.WriteTag(TagObject)
}

func (w *Writer) WriteEnd() {
	w.WriteTag(TagEnd)
}

func checkLen(n int) error {
	if uint64(n) > math.MaxUint32 {
		return ErrTooLarge
	}
	return nil
}
