package ecs

import (
	"reflect"
)

type CommandOperation int

const (
	CreateEntityCommand CommandOperation = iota
	DestroyEntityCommand
	AddComponentToEntity
	RemoveComponentFromEntity
)

// Command is one deferred structural change.
type Command struct {
	Op     CommandOperation
	Entity EntityID
	Type   reflect.Type
	Value  any
	Values []any
}

// CommandBuffer collects structural changes so systems never mutate the
// world layout while others iterate it. Buffers are applied in the order
// their systems were registered.
type CommandBuffer struct {
	commands []Command
}

func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{}
}

func (cb *CommandBuffer) push(cmd Command) {
	cb.commands = append(cb.commands, cmd)
}

func (cb *CommandBuffer) Reset() {
	cb.commands = cb.commands[:0]
}

func (cb *CommandBuffer) GetCommands() []Command {
	return cb.commands
}

func (cb *CommandBuffer) Len() int {
	return len(cb.commands)
}

// CreateEntity queues the creation of e with the given initial components.
func (cb *CommandBuffer) CreateEntity(e EntityID, initial ...any) {
	cb.push(Command{Op: CreateEntityCommand, Entity: e, Values: initial})
}

// DestroyEntity queues the destruction of e and all of its components.
func (cb *CommandBuffer) DestroyEntity(e EntityID) {
	cb.push(Command{Op: DestroyEntityCommand, Entity: e})
}

func (cb *CommandBuffer) AddComponent(e EntityID, v any) {
	cb.push(Command{Op: AddComponentToEntity, Entity: e, Type: reflect.TypeOf(v), Value: v})
}

// RemoveComponent queues removing the component of v's type from e.
func (cb *CommandBuffer) RemoveComponent(e EntityID, v any) {
	cb.push(Command{Op: RemoveComponentFromEntity, Entity: e, Type: reflect.TypeOf(v)})
}

func RemoveComponentFor[T any](cb *CommandBuffer, e EntityID) {
	cb.push(Command{Op: RemoveComponentFromEntity, Entity: e, Type: reflect.TypeFor[T]()})
}

// Apply executes the queued commands against w and resets cb. It is meant for
// command buffers driven outside the scheduler, such as event handlers.
func (cb *CommandBuffer) Apply(w *World) {
	w.processCommands(cb.commands)
	cb.Reset()
}
