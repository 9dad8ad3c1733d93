// Package snapshot keeps the authoritative replica of every replicated entity
// and the records produced since the last flush.
//
// A Log is not safe for concurrent use. The host feeds it from its update
// loop and the replication server drains it from the same goroutine.
package snapshot

import (
	"slices"

	"github.com/QYUbit/Axon/pkg/action"
	"github.com/QYUbit/Axon/pkg/axlog"
	"github.com/QYUbit/Axon/pkg/typeid"
)

// Notifier receives lifecycle notifications from the host framework.
type Notifier interface {
	ObjectAdded(id action.EntityID, typ typeid.ID)
	ObjectRemoved(id action.EntityID, typ typeid.ID)
	VariantChanged(id action.EntityID, variant typeid.ID, payload []byte)
}

type entity struct {
	typ      typeid.ID
	variants map[typeid.ID][]byte
}

type Log struct {
	entities map[action.EntityID]*entity
	pending  []action.Record
	logger   axlog.Logger
}

var _ Notifier = (*Log)(nil)

func New(logger axlog.Logger) *Log {
	return &Log{
		entities: make(map[action.EntityID]*entity),
		logger:   axlog.OrNop(logger),
	}
}

// ==================================================================
// Mutations
// ==================================================================

// OnSpawn starts tracking id with a fresh, empty snapshot. Spawning an id that
// is already tracked replaces its snapshot.
func (l *Log) OnSpawn(id action.EntityID, typ typeid.ID) {
	if prev, ok := l.entities[id]; ok {
		l.logger.Warn("spawn of tracked entity, replacing snapshot",
			"entity", id, "previousType", prev.typ, "type", typ)
	}

	l.entities[id] = &entity{
		typ:      typ,
		variants: make(map[typeid.ID][]byte),
	}
	l.pending = append(l.pending, action.Record{Kind: action.Spawn, Entity: id, Type: typ})
}

// OnDespawn drops the snapshot for id. Unknown ids are ignored.
func (l *Log) OnDespawn(id action.EntityID, typ typeid.ID) {
	if _, ok := l.entities[id]; !ok {
		l.logger.Debug("despawn of untracked entity", "entity", id, "type", typ)
		return
	}

	delete(l.entities, id)
	l.pending = append(l.pending, action.Record{Kind: action.Despawn, Entity: id, Type: typ})
}

// OnChange replaces the stored payload of variant on id. Changes for untracked
// entities are dropped.
func (l *Log) OnChange(id action.EntityID, variant typeid.ID, payload []byte) {
	e, ok := l.entities[id]
	if !ok {
		l.logger.Debug("change for untracked entity dropped", "entity", id, "variant", variant)
		return
	}

	stored := slices.Clone(payload)
	if stored == nil {
		stored = []byte{}
	}
	e.variants[variant] = stored

	l.pending = append(l.pending, action.Record{
		Kind:    action.Change,
		Entity:  id,
		Type:    variant,
		Payload: stored,
	})
}

// OnInvoke queues a server originated event. An empty target broadcasts it.
// Invokes are not part of the snapshot.
func (l *Log) OnInvoke(id action.EntityID, event typeid.ID, payload []byte, target string) {
	l.pending = append(l.pending, action.Record{
		Kind:    action.Invoke,
		Entity:  id,
		Type:    event,
		Payload: slices.Clone(payload),
		Target:  target,
	})
}

func (l *Log) ObjectAdded(id action.EntityID, typ typeid.ID) {
	l.OnSpawn(id, typ)
}

func (l *Log) ObjectRemoved(id action.EntityID, typ typeid.ID) {
	l.OnDespawn(id, typ)
}

func (l *Log) VariantChanged(id action.EntityID, variant typeid.ID, payload []byte) {
	l.OnChange(id, variant, payload)
}

// Clear forgets every entity and every pending record.
func (l *Log) Clear() {
	clear(l.entities)
	l.pending = nil
}

// ==================================================================
// Output
// ==================================================================

// Flush returns the records queued since the previous flush, in the order
// they were produced, and clears the queue.
func (l *Log) Flush() []action.Record {
	out := l.pending
	l.pending = nil
	return out
}

// Pending returns the number of queued records.
func (l *Log) Pending() int {
	return len(l.pending)
}

// Records returns a full snapshot: for each entity a Spawn followed by one
// Change per stored variant. Entities and variants are in ascending id order.
func (l *Log) Records() []action.Record {
	records := make([]action.Record, 0, len(l.entities))

	for _, id := range l.Entities() {
		e := l.entities[id]
		records = append(records, action.Record{Kind: action.Spawn, Entity: id, Type: e.typ})

		variants := make([]typeid.ID, 0, len(e.variants))
		for v := range e.variants {
			variants = append(variants, v)
		}
		slices.Sort(variants)

		for _, v := range variants {
			records = append(records, action.Record{
				Kind:    action.Change,
				Entity:  id,
				Type:    v,
				Payload: e.variants[v],
			})
		}
	}
	return records
}

// Stream encodes Records. A receiver that applies it to an empty replica ends
// up with exactly the current state.
func (l *Log) Stream() []byte {
	return action.Encode(l.Records()...)
}

// ==================================================================
// Queries
// ==================================================================

func (l *Log) Len() int {
	return len(l.entities)
}

func (l *Log) Has(id action.EntityID) bool {
	_, ok := l.entities[id]
	return ok
}

func (l *Log) TypeOf(id action.EntityID) (typeid.ID, bool) {
	e, ok := l.entities[id]
	if !ok {
		return 0, false
	}
	return e.typ, true
}

// Variant returns the last payload stored for variant on id. The returned
// slice must not be modified.
func (l *Log) Variant(id action.EntityID, variant typeid.ID) ([]byte, bool) {
	e, ok := l.entities[id]
	if !ok {
		return nil, false
	}
	p, ok := e.variants[variant]
	return p, ok
}

// Entities returns the tracked ids in ascending order.
func (l *Log) Entities() []action.EntityID {
	ids := make([]action.EntityID, 0, len(l.entities))
	for id := range l.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
