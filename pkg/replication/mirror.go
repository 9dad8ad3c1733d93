package replication

import (
	"maps"
	"slices"

	"github.com/QYUbit/Axon/pkg/action"
	"github.com/QYUbit/Axon/pkg/axlog"
	"github.com/QYUbit/Axon/pkg/sbin"
	"github.com/QYUbit/Axon/pkg/typeid"
)

// Mirror is the observer side replica. It applies record streams the way a
// client does: a Spawn of a known id or a Change of an unknown one is
// ignored, Despawn drops the entity and Invoke goes to OnInvoke.
type Mirror struct {
	entities map[action.EntityID]*mirrored
	logger   axlog.Logger

	OnInvoke func(rec action.Record)
}

type mirrored struct {
	typ      typeid.ID
	variants map[typeid.ID][]byte
}

func NewMirror(logger axlog.Logger) *Mirror {
	return &Mirror{
		entities: make(map[action.EntityID]*mirrored),
		logger:   axlog.OrNop(logger),
	}
}

// Apply decodes data and applies every record. Records before a malformed one
// are still applied; the decode error is returned.
func (m *Mirror) Apply(data []byte) error {
	d := action.NewDecoder(data)
	for {
		rec, ok := d.Next()
		if !ok {
			return d.Err()
		}
		m.ApplyRecord(rec)
	}
}

func (m *Mirror) ApplyRecord(rec action.Record) {
	switch rec.Kind {
	case action.Spawn:
		if _, ok := m.entities[rec.Entity]; ok {
			return
		}
		m.entities[rec.Entity] = &mirrored{
			typ:      rec.Type,
			variants: make(map[typeid.ID][]byte),
		}

	case action.Despawn:
		delete(m.entities, rec.Entity)

	case action.Change:
		e, ok := m.entities[rec.Entity]
		if !ok {
			return
		}
		e.variants[rec.Type] = rec.Payload

	case action.Invoke:
		if m.OnInvoke != nil {
			m.OnInvoke(rec)
		}

	default:
		m.logger.Debug("unknown record kind", "record", rec)
	}
}

func (m *Mirror) Len() int {
	return len(m.entities)
}

func (m *Mirror) Has(id action.EntityID) bool {
	_, ok := m.entities[id]
	return ok
}

func (m *Mirror) TypeOf(id action.EntityID) (typeid.ID, bool) {
	e, ok := m.entities[id]
	if !ok {
		return 0, false
	}
	return e.typ, true
}

func (m *Mirror) Variant(id action.EntityID, variant typeid.ID) ([]byte, bool) {
	e, ok := m.entities[id]
	if !ok {
		return nil, false
	}
	p, ok := e.variants[variant]
	return p, ok
}

// Variants returns the variant ids stored for id in ascending order.
func (m *Mirror) Variants(id action.EntityID) []typeid.ID {
	e, ok := m.entities[id]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(e.variants))
}

// Entities returns the mirrored ids in ascending order.
func (m *Mirror) Entities() []action.EntityID {
	return slices.Sorted(maps.Keys(m.entities))
}

// VariantOf decodes the variant of type T stored for id.
func VariantOf[T any](m *Mirror, id action.EntityID) (T, bool, error) {
	var v T

	p, ok := m.Variant(id, typeid.Of[T]())
	if !ok {
		return v, false, nil
	}
	if err := sbin.Unmarshal(p, &v); err != nil {
		return v, true, err
	}
	return v, true, nil
}
