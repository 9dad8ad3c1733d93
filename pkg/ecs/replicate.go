package ecs

import (
	"iter"

	"github.com/QYUbit/Axon/pkg/action"
	"github.com/QYUbit/Axon/pkg/axlog"
	"github.com/QYUbit/Axon/pkg/sbin"
	"github.com/QYUbit/Axon/pkg/snapshot"
	"github.com/QYUbit/Axon/pkg/typeid"
)

// Replicator reports ECS changes to a snapshot.Notifier. An object component
// marks an entity as replicated and names its type; variant components carry
// the replicated state and are sent whole whenever they change.
type Replicator struct {
	notifier snapshot.Notifier
	logger   axlog.Logger
	objects  []objectBinding
	variants []variantBinding
}

type objectBinding struct {
	typ   typeid.ID
	store trackedStore
}

type trackedStore interface {
	HasEntity(id EntityID) bool
	Entities() iter.Seq[EntityID]
	Added() iter.Seq[EntityID]
	Removed() iter.Seq[EntityID]
}

type variantBinding struct {
	typ     typeid.ID
	name    string
	get     func(id EntityID) (any, bool)
	changed func() iter.Seq[EntityID]
}

func NewReplicator(notifier snapshot.Notifier, logger axlog.Logger) *Replicator {
	return &Replicator{
		notifier: notifier,
		logger:   axlog.OrNop(logger),
	}
}

// ReplicateObject registers T as an object component on w and returns its
// type id. Gaining T spawns the entity remotely; losing it despawns it.
func ReplicateObject[T any](w *World, r *Replicator) typeid.ID {
	RegisterComponent[T](w)
	store, _ := getStoreFromWorld[T](w)

	id := typeid.Of[T]()
	r.objects = append(r.objects, objectBinding{typ: id, store: store})
	return id
}

// ReplicateVariant registers T as a variant component on w and returns its
// type id. Every tick in which T is added or fetched mutably its value is
// encoded and reported.
func ReplicateVariant[T any](w *World, r *Replicator) typeid.ID {
	RegisterComponent[T](w)
	store, _ := getStoreFromWorld[T](w)

	id := typeid.Of[T]()
	r.variants = append(r.variants, variantBinding{
		typ:  id,
		name: store.typ.String(),
		get: func(eid EntityID) (any, bool) {
			if !store.HasEntity(eid) {
				return nil, false
			}
			return store.Get(eid), true
		},
		changed: func() iter.Seq[EntityID] {
			return func(yield func(EntityID) bool) {
				for row := range Query1[T](w, Changed[T]()) {
					if !yield(row.ID) {
						return
					}
				}
			}
		},
	})
	return id
}

// Sync reports this tick's changes: spawns first, then variant changes, then
// despawns. A spawn carries every variant the entity holds, so an entity that
// lost and regained its object component within one tick is despawned and
// spawned again with its full state.
func (r *Replicator) Sync() {
	spawned := make(map[EntityID]struct{})

	for _, o := range r.objects {
		removed := make(map[EntityID]struct{})
		for id := range o.store.Removed() {
			removed[id] = struct{}{}
		}

		for id := range o.store.Added() {
			if _, ok := spawned[id]; ok {
				continue
			}
			if _, ok := removed[id]; ok {
				r.notifier.ObjectRemoved(action.EntityID(id), o.typ)
			}
			r.notifier.ObjectAdded(action.EntityID(id), o.typ)
			r.emitAll(id)
			spawned[id] = struct{}{}
		}
	}

	for _, v := range r.variants {
		for id := range v.changed() {
			if _, ok := spawned[id]; ok {
				continue
			}
			if value, ok := v.get(id); ok {
				r.emit(id, v, value)
			}
		}
	}

	for _, o := range r.objects {
		seen := make(map[EntityID]struct{})
		for id := range o.store.Removed() {
			if _, ok := seen[id]; ok || o.store.HasEntity(id) {
				continue
			}
			seen[id] = struct{}{}
			r.notifier.ObjectRemoved(action.EntityID(id), o.typ)
		}
	}
}

// Resync reports every live object and its variants as if newly spawned.
func (r *Replicator) Resync() {
	for _, o := range r.objects {
		for id := range o.store.Entities() {
			r.notifier.ObjectAdded(action.EntityID(id), o.typ)
			r.emitAll(id)
		}
	}
}

func (r *Replicator) emitAll(id EntityID) {
	for _, v := range r.variants {
		if value, ok := v.get(id); ok {
			r.emit(id, v, value)
		}
	}
}

func (r *Replicator) emit(id EntityID, v variantBinding, value any) {
	payload, err := sbin.Marshal(value)
	if err != nil {
		r.logger.Error("failed encoding variant", "entity", id, "variant", v.name, "error", err)
		return
	}
	r.notifier.VariantChanged(action.EntityID(id), v.typ, payload)
}

// System returns Sync as an end of tick system.
func (r *Replicator) System() SystemFunc {
	return func(SystemContext) {
		r.Sync()
	}
}
