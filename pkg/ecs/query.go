package ecs

import (
	"iter"
)

// Filter narrows a query to entities for which it returns true.
type Filter func(w *World, id EntityID) bool

// With matches entities that have a T component.
func With[T any]() Filter {
	return func(w *World, id EntityID) bool {
		s, ok := getStoreFromWorld[T](w)
		return ok && s.HasEntity(id)
	}
}

// Without matches entities that have no T component.
func Without[T any]() Filter {
	return func(w *World, id EntityID) bool {
		s, ok := getStoreFromWorld[T](w)
		return !ok || !s.HasEntity(id)
	}
}

// Changed matches entities whose T was added or fetched mutably this tick.
func Changed[T any]() Filter {
	return func(w *World, id EntityID) bool {
		s, ok := getStoreFromWorld[T](w)
		return ok && s.IsChanged(id)
	}
}

func matches(w *World, id EntityID, filters []Filter) bool {
	for _, f := range filters {
		if !f(w, id) {
			return false
		}
	}
	return true
}

type Row1[T any] struct {
	ID    EntityID
	store *Store[T]
}

func (r Row1[T]) Get() *T {
	return r.store.Get(r.ID)
}

func (r Row1[T]) GetMutable() *T {
	return r.store.GetMutable(r.ID)
}

type Row2[T1, T2 any] struct {
	ID     EntityID
	store1 *Store[T1]
	store2 *Store[T2]
}

func (r Row2[T1, T2]) Get1() *T1 {
	return r.store1.Get(r.ID)
}

func (r Row2[T1, T2]) GetMutable1() *T1 {
	return r.store1.GetMutable(r.ID)
}

func (r Row2[T1, T2]) Get2() *T2 {
	return r.store2.Get(r.ID)
}

func (r Row2[T1, T2]) GetMutable2() *T2 {
	return r.store2.GetMutable(r.ID)
}

// Query1 iterates entities that have T and match every filter. The store must
// not gain or lose components while iterating.
func Query1[T any](w *World, filters ...Filter) iter.Seq[Row1[T]] {
	return func(yield func(Row1[T]) bool) {
		s, ok := getStoreFromWorld[T](w)
		if !ok {
			return
		}
		for _, id := range s.dense {
			if matches(w, id, filters) && !yield(Row1[T]{ID: id, store: s}) {
				return
			}
		}
	}
}

// Query2 iterates entities that have T1 and T2 and match every filter. The
// smaller of the two stores drives iteration.
func Query2[T1, T2 any](w *World, filters ...Filter) iter.Seq[Row2[T1, T2]] {
	return func(yield func(Row2[T1, T2]) bool) {
		s1, ok1 := getStoreFromWorld[T1](w)
		s2, ok2 := getStoreFromWorld[T2](w)
		if !ok1 || !ok2 {
			return
		}

		driver, other := s1.dense, TypedStore(s2)
		if s2.Len() < s1.Len() {
			driver, other = s2.dense, s1
		}

		for _, id := range driver {
			if !other.HasEntity(id) || !matches(w, id, filters) {
				continue
			}
			if !yield(Row2[T1, T2]{ID: id, store1: s1, store2: s2}) {
				return
			}
		}
	}
}
