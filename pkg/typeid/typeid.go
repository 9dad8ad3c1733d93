// Package typeid derives the 32-bit identifiers that name replicated object,
// variant and event types on the wire.
package typeid

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

type ID uint32

// Hash is djb2 over name: seed 5381, then hash*33 + b for every byte,
// wrapping at 32 bits.
func Hash(name string) ID {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return ID(h)
}

// Name returns the qualified name used to derive the id of t, in the form
// "<package path with / replaced by ::>::<type name>".
func Name(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	pkg := strings.ReplaceAll(t.PkgPath(), "/", "::")
	if pkg == "" {
		return t.Name()
	}
	return pkg + "::" + t.Name()
}

// Of returns the id of T. Pointer types share the id of their element.
func Of[T any]() ID {
	return Hash(Name(reflect.TypeFor[T]()))
}

// ErrCollision is returned when two different names hash to the same id.
type ErrCollision struct {
	ID       ID
	Existing string
	Name     string
}

func (e ErrCollision) Error() string {
	return fmt.Sprintf("type id %d collides: %s and %s", e.ID, e.Existing, e.Name)
}

// Table records which name owns each id. Deployments claim every replicated
// type at startup so collisions fail fast instead of misrouting payloads.
type Table struct {
	mu    sync.Mutex
	names map[ID]string
}

func NewTable() *Table {
	return &Table{names: make(map[ID]string)}
}

// Claim binds id to name. Claiming the same pair twice is a no-op.
func (t *Table) Claim(id ID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.names[id]; ok && existing != name {
		return ErrCollision{ID: id, Existing: existing, Name: name}
	}
	t.names[id] = name
	return nil
}

// ClaimType claims the derived id of T and returns it.
func ClaimType[T any](t *Table) (ID, error) {
	name := Name(reflect.TypeFor[T]())
	id := Hash(name)
	return id, t.Claim(id, name)
}

func (t *Table) Lookup(id ID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.names[id]
	return name, ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.names)
}
