package sbin

import (
	"fmt"
	"reflect"
	"sync"
)

// A union maps the concrete types stored in an interface to a stable
// variant index. On the wire a union value is Array, U32 index, payload, End.
type union struct {
	variants []reflect.Type
	index    map[reflect.Type]uint32
}

var (
	unionMu sync.RWMutex
	unions  = map[reflect.Type]*union{}
)

// RegisterUnion declares the interface type I as a sum type whose variants
// are the dynamic types of the given values, in order. The order defines the
// wire index and must match on both ends. Registering I again replaces the
// previous variant list.
func RegisterUnion[I any](variants ...I) {
	it := reflect.TypeFor[I]()
	if it.Kind() != reflect.Interface {
		panic(fmt.Sprintf("sbin: RegisterUnion: %s is not an interface", it))
	}

	u := &union{index: make(map[reflect.Type]uint32, len(variants))}
	for i, v := range variants {
		vt := reflect.TypeOf(v)
		if vt == nil {
			panic(fmt.Sprintf("sbin: RegisterUnion: nil variant %d for %s", i, it))
		}
		if _, dup := u.index[vt]; dup {
			panic(fmt.Sprintf("sbin: RegisterUnion: duplicate variant %s for %s", vt, it))
		}
		u.index[vt] = uint32(i)
		u.variants = append(u.variants, vt)
	}

	unionMu.Lock()
	unions[it] = u
	unionMu.Unlock()
}

func lookupUnion(t reflect.Type) *union {
	unionMu.RLock()
	defer unionMu.RUnlock()
	return unions[t]
}
