// Package ecs is a small sparse-set entity component system used as the host
// for replicated state.
package ecs

import (
	"iter"
	"reflect"
	"sync/atomic"
)

type EntityID uint64

type World struct {
	entities map[EntityID]struct{}
	stores   map[reflect.Type]TypedStore

	nextID atomic.Uint64
}

func NewWorld() *World {
	return &World{
		entities: make(map[EntityID]struct{}),
		stores:   make(map[reflect.Type]TypedStore),
	}
}

// NewEntityID allocates an id that has not been handed out by this world.
// Ids start at 1. Safe for concurrent use by systems.
func (w *World) NewEntityID() EntityID {
	return EntityID(w.nextID.Add(1))
}

func (w *World) EntityExists(id EntityID) bool {
	_, ok := w.entities[id]
	return ok
}

func (w *World) EntityCount() int {
	return len(w.entities)
}

// Entities iterates live entities in no particular order.
func (w *World) Entities() iter.Seq[EntityID] {
	return func(yield func(EntityID) bool) {
		for id := range w.entities {
			if !yield(id) {
				return
			}
		}
	}
}

// ==================================================================
// Commands
// ==================================================================

func (w *World) processCommands(commands []Command) {
	for _, cmd := range commands {
		switch cmd.Op {
		case CreateEntityCommand:
			w.createEntity(cmd.Entity)
			for _, v := range cmd.Values {
				w.addComponent(cmd.Entity, reflect.TypeOf(v), v)
			}
		case DestroyEntityCommand:
			w.destroyEntity(cmd.Entity)
		case AddComponentToEntity:
			w.addComponent(cmd.Entity, cmd.Type, cmd.Value)
		case RemoveComponentFromEntity:
			w.removeComponent(cmd.Entity, cmd.Type)
		}
	}
}

func (w *World) createEntity(id EntityID) {
	w.entities[id] = struct{}{}
	for {
		cur := w.nextID.Load()
		if uint64(id) <= cur || w.nextID.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}

func (w *World) destroyEntity(id EntityID) {
	delete(w.entities, id)

	for _, store := range w.stores {
		if store.HasEntity(id) {
			store.Remove(id)
		}
	}
}

func (w *World) addComponent(id EntityID, typ reflect.Type, initial any) {
	if _, ok := w.entities[id]; !ok {
		return
	}
	s, ok := w.stores[typ]
	if ok {
		s.Add(id, initial)
	}
}

func (w *World) removeComponent(id EntityID, typ reflect.Type) {
	s, ok := w.stores[typ]
	if ok {
		s.Remove(id)
	}
}

func (w *World) resetTracking() {
	for _, s := range w.stores {
		s.resetTracking()
	}
}

// ==================================================================
// Components
// ==================================================================

// RegisterComponent creates the store for T. Registering twice is a no-op.
func RegisterComponent[T any](w *World) {
	t := reflect.TypeFor[T]()
	if _, ok := w.stores[t]; ok {
		return
	}

	w.stores[t] = &Store[T]{
		typ:    t,
		sparse: make(map[EntityID]int),
	}
}

func getStoreFromWorld[T any](w *World) (*Store[T], bool) {
	s, ok := w.stores[reflect.TypeFor[T]()]
	if !ok {
		return nil, false
	}
	store, ok := s.(*Store[T])
	return store, ok
}

// Get returns the component T of id for reading.
func Get[T any](w *World, id EntityID) (*T, bool) {
	s, ok := getStoreFromWorld[T](w)
	if !ok || !s.HasEntity(id) {
		return nil, false
	}
	return s.Get(id), true
}

// GetMutable returns the component T of id and marks it changed.
func GetMutable[T any](w *World, id EntityID) (*T, bool) {
	s, ok := getStoreFromWorld[T](w)
	if !ok || !s.HasEntity(id) {
		return nil, false
	}
	return s.GetMutable(id), true
}

type TypedStore interface {
	Entities() iter.Seq[EntityID]
	HasEntity(id EntityID) bool
	Add(id EntityID, value any)
	Remove(id EntityID)
	Len() int
	resetTracking()
}

// Store keeps the components of one type densely packed. Besides the values
// it tracks, per tick, which entities gained the component, which lost it and
// which values were handed out mutably.
type Store[T any] struct {
	typ    reflect.Type
	sparse map[EntityID]int
	dense  []EntityID
	data   []T
	dirty  []bool

	added   []EntityID
	removed []EntityID
}

// Add inserts value for id. A value that is not a T, or an id that already
// has the component, is ignored. New components count as changed.
func (s *Store[T]) Add(id EntityID, value any) {
	if s.HasEntity(id) {
		return
	}

	initial, ok := value.(T)
	if !ok {
		return
	}

	newIndex := len(s.data)

	s.data = append(s.data, initial)
	s.dense = append(s.dense, id)
	s.dirty = append(s.dirty, true)

	s.sparse[id] = newIndex
	s.added = append(s.added, id)
}

func (s *Store[T]) Remove(id EntityID) {
	idx, exists := s.sparse[id]
	if !exists {
		return
	}

	lastIndex := len(s.data) - 1
	lastEntityID := s.dense[lastIndex]

	if idx != lastIndex {
		s.data[idx] = s.data[lastIndex]
		s.dense[idx] = lastEntityID
		s.dirty[idx] = s.dirty[lastIndex]

		s.sparse[lastEntityID] = idx
	}

	var zero T
	s.data[lastIndex] = zero

	s.data = s.data[:lastIndex]
	s.dense = s.dense[:lastIndex]
	s.dirty = s.dirty[:lastIndex]

	delete(s.sparse, id)
	s.removed = append(s.removed, id)
}

func (s *Store[T]) Entities() iter.Seq[EntityID] {
	return func(yield func(EntityID) bool) {
		for _, id := range s.dense {
			if !yield(id) {
				break
			}
		}
	}
}

func (s *Store[T]) Len() int {
	return len(s.dense)
}

func (s *Store[T]) HasEntity(id EntityID) bool {
	_, ok := s.sparse[id]
	return ok
}

func (s *Store[T]) Get(id EntityID) *T {
	return &s.data[s.sparse[id]]
}

func (s *Store[T]) GetMutable(id EntityID) *T {
	idx := s.sparse[id]
	s.dirty[idx] = true
	return &s.data[idx]
}

// IsChanged reports whether id's component was added or fetched mutably this
// tick.
func (s *Store[T]) IsChanged(id EntityID) bool {
	idx, ok := s.sparse[id]
	return ok && s.dirty[idx]
}

// Added lists entities that gained the component this tick and still have it.
func (s *Store[T]) Added() iter.Seq[EntityID] {
	return func(yield func(EntityID) bool) {
		for _, id := range s.added {
			if s.HasEntity(id) && !yield(id) {
				return
			}
		}
	}
}

// Removed lists entities that lost the component this tick.
func (s *Store[T]) Removed() iter.Seq[EntityID] {
	return func(yield func(EntityID) bool) {
		for _, id := range s.removed {
			if !yield(id) {
				return
			}
		}
	}
}

func (s *Store[T]) resetTracking() {
	clear(s.dirty)
	s.added = s.added[:0]
	s.removed = s.removed[:0]
}
