// Package action frames the records that carry replicated state changes.
//
// A stream is a plain concatenation of records with no outer length or count.
// Each record is four sbin values: U8 kind, U64 entity, U32 type, Bytes payload.
package action

import (
	"errors"
	"fmt"

	"github.com/QYUbit/Axon/pkg/sbin"
	"github.com/QYUbit/Axon/pkg/typeid"
)

type Kind uint8

const (
	Spawn   Kind = 1
	Despawn Kind = 2
	Change  Kind = 3
	Invoke  Kind = 4
)

func (k Kind) String() string {
	switch k {
	case Spawn:
		return "spawn"
	case Despawn:
		return "despawn"
	case Change:
		return "change"
	case Invoke:
		return "invoke"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Known reports whether k is one of the four defined kinds.
func (k Kind) Known() bool {
	return k >= Spawn && k <= Invoke
}

type EntityID uint64

type Record struct {
	Kind   Kind
	Entity EntityID
	// Type is the object type for Spawn and Despawn, the variant type for
	// Change and the event type for Invoke.
	Type    typeid.ID
	Payload []byte

	// Target restricts delivery to one client. Routing only, never encoded.
	Target string
}

func (r Record) String() string {
	return fmt.Sprintf("%s{entity=%d type=%d payload=%d}", r.Kind, r.Entity, r.Type, len(r.Payload))
}

var ErrMalformedRecord = errors.New("action: malformed record")

// AppendRecord appends the wire form of rec to dst.
func AppendRecord(dst []byte, rec Record) []byte {
	w := sbin.NewWriterBuffer(dst)
	w.WriteU8(uint8(rec.Kind))
	w.WriteU64(uint64(rec.Entity))
	w.WriteU32(uint32(rec.Type))
	w.WriteBytes(rec.Payload)
	return w.Bytes()
}

// Encode frames records in order.
func Encode(records ...Record) []byte {
	var buf []byte
	for _, rec := range records {
		buf = AppendRecord(buf, rec)
	}
	return buf
}

// Decode parses every record in data.
//
// Running out of input exactly where a record would start ends the stream
// cleanly. Any other failure stops parsing: the records read so far are
// returned together with an error wrapping ErrMalformedRecord, and the rest of
// data is discarded.
func Decode(data []byte) ([]Record, error) {
	var records []Record

	d := NewDecoder(data)
	for {
		rec, ok := d.Next()
		if !ok {
			return records, d.Err()
		}
		records = append(records, rec)
	}
}

// Decoder reads records one at a time.
type Decoder struct {
	r   *sbin.Reader
	err error
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{r: sbin.NewReader(data)}
}

// Next returns the next record. It returns false at the end of the stream or
// after the first malformed record; Err tells the two apart.
func (d *Decoder) Next() (Record, bool) {
	if d.err != nil || d.r.Remaining() == 0 {
		return Record{}, false
	}

	offset := d.r.Pos()
	rec, err := readRecord(d.r)
	if err != nil {
		d.err = fmt.Errorf("%w at offset %d: %w", ErrMalformedRecord, offset, err)
		return Record{}, false
	}
	return rec, true
}

func (d *Decoder) Err() error {
	return d.err
}

func readRecord(r *sbin.Reader) (Record, error) {
	kind, err := r.ReadU8()
	if err != nil {
		return Record{}, fmt.Errorf("kind: %w", err)
	}
	entity, err := r.ReadU64()
	if err != nil {
		return Record{}, fmt.Errorf("entity: %w", err)
	}
	typ, err := r.ReadU32()
	if err != nil {
		return Record{}, fmt.Errorf("type: %w", err)
	}
	payload, err := r.ReadBytes()
	if err != nil {
		return Record{}, fmt.Errorf("payload: %w", err)
	}
	if len(payload) == 0 {
		payload = nil
	}

	return Record{
		Kind:    Kind(kind),
		Entity:  EntityID(entity),
		Type:    typeid.ID(typ),
		Payload: payload,
	}, nil
}
