// Package registry maps event type ids to handlers that decode a payload and
// apply it to the host.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/QYUbit/Axon/pkg/axlog"
	"github.com/QYUbit/Axon/pkg/sbin"
	"github.com/QYUbit/Axon/pkg/typeid"
)

var typeOfBytes = reflect.TypeFor[[]byte]()

var ErrHandlerPanic = errors.New("registry: handler panicked")

// HandlerFunc applies a decoded payload to the host context c.
type HandlerFunc[T, C any] func(c C, payload T) error

type compiledHandler[C any] func(c C, payload []byte) error

type entry[C any] struct {
	name    string
	handler compiledHandler[C]
}

// Registry is a dispatch table keyed by type id. C is whatever the host hands
// to handlers when applying an event, such as a command buffer.
type Registry[C any] struct {
	mu       sync.RWMutex
	handlers map[typeid.ID]entry[C]
	logger   axlog.Logger
}

func New[C any](logger axlog.Logger) *Registry[C] {
	return &Registry[C]{
		handlers: make(map[typeid.ID]entry[C]),
		logger:   axlog.OrNop(logger),
	}
}

func (r *Registry[C]) insert(id typeid.ID, name string, h compiledHandler[C]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.handlers[id]; ok {
		if prev.name != name {
			r.logger.Warn("type id rebound to a different type", "id", id, "previous", prev.name, "type", name)
		} else {
			r.logger.Debug("handler replaced", "id", id, "type", name)
		}
	}
	r.handlers[id] = entry[C]{name: name, handler: h}
}

// RegisterRaw binds id to a handler that receives the undecoded payload.
func (r *Registry[C]) RegisterRaw(id typeid.ID, handler HandlerFunc[[]byte, C]) {
	r.insert(id, typeOfBytes.String(), compiledHandler[C](handler))
}

// Register binds id to handler. Payloads are decoded with sbin into a T before
// the handler runs. Registering an id again replaces the previous handler.
func Register[T, C any](r *Registry[C], id typeid.ID, handler HandlerFunc[T, C]) {
	t := reflect.TypeFor[T]()
	name := typeid.Name(t)

	fn := func(c C, data []byte) error {
		var payload T
		if err := sbin.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		return handler(c, payload)
	}

	r.insert(id, name, fn)
}

// RegisterEvent registers handler under the derived id of T and returns it.
func RegisterEvent[T, C any](r *Registry[C], handler HandlerFunc[T, C]) typeid.ID {
	id := typeid.Of[T]()
	Register(r, id, handler)
	return id
}

func (r *Registry[C]) Unregister(id typeid.ID) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

func (r *Registry[C]) Has(id typeid.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Invoke dispatches payload to the handler bound to id. Unknown ids are
// ignored and return nil. A payload that fails to decode is reported without
// calling the handler. Handler panics are recovered and returned as errors
// wrapping ErrHandlerPanic.
func (r *Registry[C]) Invoke(id typeid.ID, payload []byte, c C) (err error) {
	r.mu.RLock()
	e, ok := r.handlers[id]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("no handler for type", "id", id)
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, e.name, rec)
		}
	}()

	return e.handler(c, payload)
}
