package sbin

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeU32(t *testing.T) {
	data, err := Marshal(uint32(300))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	expected := []byte{3, 0x2C, 0x01, 0x00, 0x00}
	if !bytes.Equal(data, expected) {
		t.Errorf("Expected %v, got %v", expected, data)
	}
}

func TestEncodeStr(t *testing.T) {
	data, err := Marshal("hi")
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	expected := []byte{12, 2, 0, 0, 0, 'h', 'i', 0}
	if !bytes.Equal(data, expected) {
		t.Errorf("Expected %v, got %v", expected, data)
	}
}

func TestEncodeLayouts(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected []byte
	}{
		{"nil", nil, []byte{0}},
		{"u8", uint8(7), []byte{1, 7}},
		{"u16", uint16(0x0102), []byte{2, 0x02, 0x01}},
		{"u64", uint64(1), []byte{4, 1, 0, 0, 0, 0, 0, 0, 0}},
		{"i8", int8(-1), []byte{5, 0xFF}},
		{"i16", int16(-2), []byte{6, 0xFE, 0xFF}},
		{"i32", int32(1), []byte{7, 1, 0, 0, 0}},
		{"int", 1, []byte{8, 1, 0, 0, 0, 0, 0, 0, 0}},
		{"f32", float32(1), []byte{9, 0x00, 0x00, 0x80, 0x3F}},
		{"bool", true, []byte{11, 1}},
		{"empty str", "", []byte{12, 0, 0, 0, 0, 0}},
		{"bytes", []byte{9, 8}, []byte{13, 2, 0, 0, 0, 9, 8}},
		{"empty bytes", []uint8{}, []byte{13, 0, 0, 0, 0}},
		{"array", [2]uint8{1, 2}, []byte{14, 1, 1, 1, 2, 16}},
		{"slice", []int8{3}, []byte{14, 5, 3, 16}},
		{"map", map[string]bool{"a": false}, []byte{15, 12, 1, 0, 0, 0, 'a', 0, 11, 0, 16}},
		{"nil ptr", (*int32)(nil), []byte{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if !bytes.Equal(data, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, data)
			}
		})
	}
}

type inner struct {
	Name  string
	Age   uint32
	Score float64
}

type outer struct {
	ID       uint64 `sbin:"id"`
	Data     inner
	Tags     []string
	Meta     map[string]string
	Optional *int32
	Skipped  string `sbin:"-"`
	private  int
}

func TestRoundTripNested(t *testing.T) {
	opt := int32(-5)
	in := outer{
		ID:   12345,
		Data: inner{Name: "Bob", Age: 25, Score: 88},
		Tags: []string{"student", "active"},
		Meta: map[string]string{
			"created": "2024-01-01",
			"updated": "2024-02-01",
		},
		Optional: &opt,
		Skipped:  "gone",
		private:  3,
	}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if data[0] != byte(TagObject) {
		t.Errorf("Expected leading object tag, got %d", data[0])
	}

	var out outer
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	in.Skipped = ""
	in.private = 0
	if !reflect.DeepEqual(in, out) {
		t.Errorf("Expected %+v, got %+v", in, out)
	}
}

func TestRoundTripPrimitives(t *testing.T) {
	values := []any{
		uint8(255), uint16(65535), uint32(math.MaxUint32), uint64(math.MaxUint64),
		int8(math.MinInt8), int16(math.MinInt16), int32(math.MinInt32), int64(math.MinInt64),
		float32(3.5), math.Pi, true, false, "héllo", []byte{0, 1, 2},
	}

	for _, v := range values {
		data, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal(%v) failed: %v", v, err)
		}

		out := reflect.New(reflect.TypeOf(v))
		if err := Unmarshal(data, out.Interface()); err != nil {
			t.Fatalf("Unmarshal(%v) failed: %v", v, err)
		}
		if !reflect.DeepEqual(out.Elem().Interface(), v) {
			t.Errorf("Expected %v, got %v", v, out.Elem().Interface())
		}
	}
}

func TestRoundTripIntegerMapKeys(t *testing.T) {
	in := map[uint64][]int16{7: {1, -1}, 100: nil}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out map[uint64][]int16
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("Expected %v, got %v", in, out)
	}
}

func TestOptional(t *testing.T) {
	var absent *uint32
	data, _ := Marshal(absent)
	if !bytes.Equal(data, []byte{byte(TagNil)}) {
		t.Errorf("Expected [0], got %v", data)
	}

	present := uint32(42)
	data, _ = Marshal(&present)

	var out *uint32
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out == nil || *out != 42 {
		t.Errorf("Expected 42, got %v", out)
	}

	if err := Unmarshal([]byte{byte(TagNil)}, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out != nil {
		t.Errorf("Expected nil, got %v", *out)
	}
}

func TestBoolNonZeroIsTrue(t *testing.T) {
	var b bool
	if err := Unmarshal([]byte{byte(TagBool), 7}, &b); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !b {
		t.Error("Expected non-zero byte to decode as true")
	}
}

func TestUnknownFieldsSkipped(t *testing.T) {
	type wide struct {
		A uint8
		B []map[string]any
		C string
	}
	type narrow struct {
		C string
	}

	data, err := Marshal(wide{A: 1, B: []map[string]any{{"x": int32(1)}}, C: "kept"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out narrow
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.C != "kept" {
		t.Errorf("Expected kept, got %q", out.C)
	}
}

func TestTypeMismatch(t *testing.T) {
	data, _ := Marshal(uint16(1))

	var v uint32
	err := Unmarshal(data, &v)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch, got %v", err)
	}
}

func TestInvalidType(t *testing.T) {
	var v any
	err := Unmarshal([]byte{200}, &v)
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("Expected ErrInvalidType, got %v", err)
	}

	var ite *InvalidTypeError
	if !errors.As(err, &ite) || ite.Tag != 200 {
		t.Errorf("Expected tag 200, got %v", err)
	}

	err = Unmarshal([]byte{byte(TagEnd)}, &v)
	if !errors.Is(err, ErrInvalidType) {
		t.Errorf("Expected stray End to be invalid, got %v", err)
	}
}

func TestInvalidUTF8(t *testing.T) {
	var s string
	err := Unmarshal([]byte{byte(TagStr), 1, 0, 0, 0, 0xFF, 0}, &s)
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("Expected ErrInvalidUTF8, got %v", err)
	}
}

func TestTruncatedInputs(t *testing.T) {
	in := outer{ID: 1, Data: inner{Name: "x"}, Tags: []string{"a"}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	for i := 0; i < len(data); i++ {
		var out outer
		err := Unmarshal(data[:i], &out)
		if !errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("Prefix %d: expected ErrUnexpectedEOF, got %v", i, err)
		}
	}
}

func TestMissingSentinel(t *testing.T) {
	var s string
	err := Unmarshal([]byte{byte(TagStr), 2, 0, 0, 0, 'h', 'i'}, &s)
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("Expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestHugeLengthDoesNotAllocate(t *testing.T) {
	var b []byte
	err := Unmarshal([]byte{byte(TagBytes), 0xFF, 0xFF, 0xFF, 0xFF, 1}, &b)
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("Expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestDeepNesting(t *testing.T) {
	data := bytes.Repeat([]byte{byte(TagArray)}, 10000)

	var v any
	if err := Unmarshal(data, &v); !errors.Is(err, ErrTooDeep) {
		t.Errorf("Expected ErrTooDeep, got %v", err)
	}
	if err := NewReader(data).Skip(); !errors.Is(err, ErrTooDeep) {
		t.Errorf("Expected ErrTooDeep from Skip, got %v", err)
	}
}

func TestReadAny(t *testing.T) {
	data, err := Marshal(map[string]any{
		"n":    uint16(3),
		"list": []any{"a", nil, int64(-1)},
		"blob": []byte{1},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var v any
	if err := Unmarshal(data, &v); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	expected := map[string]any{
		"n":    uint16(3),
		"list": []any{"a", nil, int64(-1)},
		"blob": []byte{1},
	}
	if !reflect.DeepEqual(v, expected) {
		t.Errorf("Expected %v, got %v", expected, v)
	}
}

func TestUnsupportedType(t *testing.T) {
	_, err := Marshal(make(chan int))

	var ute *UnsupportedTypeError
	if !errors.As(err, &ute) {
		t.Errorf("Expected UnsupportedTypeError, got %v", err)
	}
}

func TestInvalidUnmarshal(t *testing.T) {
	var v uint8
	err := Unmarshal([]byte{1, 1}, v)

	var iue *InvalidUnmarshalError
	if !errors.As(err, &iue) {
		t.Errorf("Expected InvalidUnmarshalError, got %v", err)
	}
}

type shape interface{ area() float64 }

type circle struct{ R float64 }

func (c circle) area() float64 { return math.Pi * c.R * c.R }

type rect struct{ W, H float64 }

func (r *rect) area() float64 { return r.W * r.H }

type drawing struct {
	Shapes []shape
}

func TestUnion(t *testing.T) {
	RegisterUnion[shape](circle{}, &rect{})

	in := drawing{Shapes: []shape{circle{R: 1}, &rect{W: 2, H: 3}, nil}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out drawing
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("Expected %+v, got %+v", in, out)
	}

	bad := []byte{byte(TagArray), byte(TagU32), 9, 0, 0, 0, byte(TagNil), byte(TagEnd)}
	var s shape
	if err := Unmarshal(bad, &s); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch for unknown variant, got %v", err)
	}
}

type celsius float32

func (c celsius) MarshalSbin(w *Writer) error {
	w.WriteI16(int16(c * 10))
	return nil
}

func (c *celsius) UnmarshalSbin(r *Reader) error {
	v, err := r.ReadI16()
	if err != nil {
		return err
	}
	*c = celsius(v) / 10
	return nil
}

func TestCustomMarshaler(t *testing.T) {
	type reading struct {
		Temp celsius
	}

	data, err := Marshal(reading{Temp: 21.5})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Contains(data, []byte{byte(TagI16), 215, 0}) {
		t.Errorf("Expected custom i16 encoding in %v", data)
	}

	var out reading
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Temp != 21.5 {
		t.Errorf("Expected 21.5, got %v", out.Temp)
	}
}

type label struct {
	Text string
}

func (l *label) MarshalSbin(w *Writer) error {
	w.WriteStr("label:" + l.Text)
	return nil
}

func (l *label) UnmarshalSbin(r *Reader) error {
	s, err := r.ReadStr()
	if err != nil {
		return err
	}
	l.Text = strings.TrimPrefix(s, "label:")
	return nil
}

func TestPointerReceiverMarshaler(t *testing.T) {
	byValue, err := Marshal(label{Text: "a"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	byPointer, err := Marshal(&label{Text: "a"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(byValue, byPointer) {
		t.Errorf("Expected equal encodings, got %v and %v", byValue, byPointer)
	}

	var out label
	if err := Unmarshal(byValue, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Text != "a" {
		t.Errorf("Expected a, got %q", out.Text)
	}

	type wrapper struct {
		Items []label
	}
	data, err := Marshal(wrapper{Items: []label{{Text: "x"}, {Text: "y"}}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var w wrapper
	if err := Unmarshal(data, &w); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(w.Items) != 2 || w.Items[1].Text != "y" {
		t.Errorf("Expected [x y], got %v", w.Items)
	}
}

func TestMapEncodingIsSorted(t *testing.T) {
	m := map[string]uint8{"b": 2, "a": 1, "c": 3}

	first, _ := Marshal(m)
	for i := 0; i < 10; i++ {
		again, _ := Marshal(m)
		if !bytes.Equal(first, again) {
			t.Fatalf("Expected stable encoding, got %v and %v", first, again)
		}
	}
}

func TestAppend(t *testing.T) {
	dst := []byte{0xAA}
	out, err := Append(dst, uint8(1))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !bytes.Equal(out, []byte{0xAA, 1, 1}) {
		t.Errorf("Expected [170 1 1], got %v", out)
	}
}

func BenchmarkMarshalStruct(b *testing.B) {
	v := outer{ID: 1, Data: inner{Name: "bench", Age: 3}, Tags: []string{"a", "b"}}
	for b.Loop() {
		if _, err := Marshal(v); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUnmarshalStruct(b *testing.B) {
	data, _ := Marshal(outer{ID: 1, Data: inner{Name: "bench", Age: 3}, Tags: []string{"a", "b"}})
	for b.Loop() {
		var out outer
		if err := Unmarshal(data, &out); err != nil {
			b.Fatal(err)
		}
	}
}
