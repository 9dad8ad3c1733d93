package ecs

import (
	"testing"

	"github.com/QYUbit/Axon/pkg/action"
	"github.com/QYUbit/Axon/pkg/sbin"
	"github.com/QYUbit/Axon/pkg/snapshot"
	"github.com/QYUbit/Axon/pkg/typeid"
)

// Test Components
type TestPosition struct{ X, Y float64 }
type TestVelocity struct{ X, Y float64 }
type TestHealth struct{ Value int }
type TestTag struct{}

// TestEngineCreation tests basic engine creation
func TestEngineCreation(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("Engine creation failed")
	}
	if engine.World() == nil {
		t.Error("Engine world is nil")
	}
	if engine.Scheduler() == nil {
		t.Error("Engine scheduler is nil")
	}
}

// TestComponentRegistrationDuplicate tests duplicate registration handling
func TestComponentRegistrationDuplicate(t *testing.T) {
	engine := NewEngine()

	RegisterComponent[TestPosition](engine.World())
	RegisterComponent[TestPosition](engine.World())
	RegisterComponent[TestVelocity](engine.World())

	if len(engine.World().stores) != 2 {
		t.Errorf("Expected 2 stores, got %d", len(engine.World().stores))
	}
}

// TestEntityCreation tests entity creation via commands
func TestEntityCreation(t *testing.T) {
	engine := NewEngine()
	RegisterComponent[TestPosition](engine.World())

	called := false
	engine.RegisterSystemFunc(func(ctx SystemContext) {
		ctx.Commands.CreateEntity(EntityID(1), TestPosition{X: 10, Y: 20})
		called = true
	}, Trigger(OnStartup))

	engine.Init()

	if !called {
		t.Error("System was not called")
	}
	if !engine.World().EntityExists(EntityID(1)) {
		t.Error("Entity was not created")
	}
	if pos, ok := Get[TestPosition](engine.World(), 1); !ok || pos.X != 10 {
		t.Errorf("Expected initial position, got %v", pos)
	}
}

// TestEntityDestruction tests entity destruction
func TestEntityDestruction(t *testing.T) {
	engine := NewEngine()
	RegisterComponent[TestPosition](engine.World())

	destroyed := false
	engine.RegisterSystemFunc(func(ctx SystemContext) {
		ctx.Commands.CreateEntity(EntityID(1), TestPosition{X: 10, Y: 20})
	}, Trigger(OnStartup))

	engine.RegisterSystemFunc(func(ctx SystemContext) {
		if !destroyed {
			ctx.Commands.DestroyEntity(EntityID(1))
			destroyed = true
		}
	})

	engine.Init()
	engine.ExecuteTick(1.0 / 60.0)

	if engine.World().EntityExists(EntityID(1)) {
		t.Error("Entity was not destroyed")
	}
	if _, ok := Get[TestPosition](engine.World(), 1); ok {
		t.Error("Component outlived its entity")
	}
}

// TestComponentAddRemove tests adding and removing components
func TestComponentAddRemove(t *testing.T) {
	engine := NewEngine()
	RegisterComponent[TestPosition](engine.World())
	RegisterComponent[TestVelocity](engine.World())

	engine.RegisterSystemFunc(func(ctx SystemContext) {
		ctx.Commands.CreateEntity(EntityID(1), TestPosition{X: 10, Y: 20})
	}, Trigger(OnStartup))

	tickCount := 0
	engine.RegisterSystemFunc(func(ctx SystemContext) {
		tickCount++
		switch tickCount {
		case 1:
			ctx.Commands.AddComponent(EntityID(1), TestVelocity{X: 1, Y: 1})
		case 2:
			if pos, ok := Get[TestPosition](ctx.World, EntityID(1)); !ok {
				t.Error("Position component missing")
			} else if pos.X != 10 {
				t.Error("Position component corrupted")
			}
			if _, ok := Get[TestVelocity](ctx.World, EntityID(1)); !ok {
				t.Error("Velocity component not added")
			}
			ctx.Commands.RemoveComponent(EntityID(1), TestVelocity{})
		}
	})

	engine.Init()
	engine.ExecuteTick(1.0 / 60.0)
	engine.ExecuteTick(1.0 / 60.0)

	if _, ok := Get[TestVelocity](engine.World(), EntityID(1)); ok {
		t.Error("Velocity component not removed")
	}
}

// TestQuery1 tests single component queries
func TestQuery1(t *testing.T) {
	engine := NewEngine()
	RegisterComponent[TestPosition](engine.World())

	engine.RegisterSystemFunc(func(ctx SystemContext) {
		ctx.Commands.CreateEntity(EntityID(1), TestPosition{X: 10, Y: 20})
		ctx.Commands.CreateEntity(EntityID(2), TestPosition{X: 30, Y: 40})
	}, Trigger(OnStartup))

	count := 0
	engine.RegisterSystemFunc(func(ctx SystemContext) {
		for row := range Query1[TestPosition](ctx.World) {
			count++
			pos := row.Get()
			if pos.X != 10 && pos.X != 30 {
				t.Errorf("Unexpected position value: %f", pos.X)
			}
		}
	})

	engine.Init()
	engine.ExecuteTick(1.0 / 60.0)

	if count != 2 {
		t.Errorf("Expected to find 2 entities, found %d", count)
	}
}

// TestQuery2 tests two component queries and filters
func TestQuery2(t *testing.T) {
	w := NewWorld()
	RegisterComponent[TestPosition](w)
	RegisterComponent[TestVelocity](w)
	RegisterComponent[TestTag](w)

	cb := NewCommandBuffer()
	cb.CreateEntity(1, TestPosition{}, TestVelocity{X: 1})
	cb.CreateEntity(2, TestPosition{})
	cb.CreateEntity(3, TestPosition{}, TestVelocity{X: 2}, TestTag{})
	cb.Apply(w)

	count := 0
	for row := range Query2[TestPosition, TestVelocity](w) {
		count++
		row.GetMutable1().X += row.Get2().X
	}
	if count != 2 {
		t.Errorf("Expected 2 entities with position and velocity, got %d", count)
	}

	var untagged []EntityID
	for row := range Query2[TestPosition, TestVelocity](w, Without[TestTag]()) {
		untagged = append(untagged, row.ID)
	}
	if len(untagged) != 1 || untagged[0] != 1 {
		t.Errorf("Expected only entity 1, got %v", untagged)
	}

	tagged := 0
	for range Query1[TestPosition](w, With[TestTag](), With[TestVelocity]()) {
		tagged++
	}
	if tagged != 1 {
		t.Errorf("Expected 1 tagged entity, got %d", tagged)
	}

	for row := range Query2[TestPosition, TestHealth](w) {
		t.Errorf("Expected no rows for unregistered component, got %d", row.ID)
	}
}

// TestSystemBatching tests that conflicting systems are not batched together
func TestSystemBatching(t *testing.T) {
	s := NewScheduler()
	noop := func(SystemContext) {}

	s.AddSystemFunc(noop, Writes(TestPosition{}))
	s.AddSystemFunc(noop, Reads(TestPosition{}))
	s.AddSystemFunc(noop, Reads(TestVelocity{}))
	s.Compile()

	if len(s.batches) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(s.batches))
	}
	if len(s.batches[0]) != 2 || len(s.batches[1]) != 1 {
		t.Errorf("Unexpected batch sizes %d and %d", len(s.batches[0]), len(s.batches[1]))
	}
}

// TestSystemBatchingLevels tests that a system lands after every system it
// conflicts with, even when an earlier batch has room
func TestSystemBatchingLevels(t *testing.T) {
	s := NewScheduler()
	noop := func(SystemContext) {}

	s.AddSystemFunc(noop, Writes(TestPosition{}))
	s.AddSystemFunc(noop, Reads(TestPosition{}), Writes(TestVelocity{}))
	s.AddSystemFunc(noop, Reads(TestVelocity{}))
	s.AddSystemFunc(noop, Reads(TestHealth{}))
	s.Compile()

	if len(s.batches) != 3 {
		t.Fatalf("Expected 3 batches, got %d", len(s.batches))
	}
	if len(s.batches[0]) != 2 || len(s.batches[1]) != 1 || len(s.batches[2]) != 1 {
		t.Errorf("Unexpected batch sizes %d, %d and %d", len(s.batches[0]), len(s.batches[1]), len(s.batches[2]))
	}
}

// TestCommandOrder tests that command buffers apply in registration order
func TestCommandOrder(t *testing.T) {
	engine := NewEngine()
	RegisterComponent[TestHealth](engine.World())

	engine.RegisterSystemFunc(func(ctx SystemContext) {
		ctx.Commands.CreateEntity(1, TestHealth{Value: 1})
	}, Trigger(OnStartup))

	engine.RegisterSystemFunc(func(ctx SystemContext) {
		RemoveComponentFor[TestHealth](ctx.Commands, 1)
	}, Reads(TestPosition{}))
	engine.RegisterSystemFunc(func(ctx SystemContext) {
		ctx.Commands.AddComponent(1, TestHealth{Value: 2})
	}, Reads(TestVelocity{}))

	engine.Init()
	engine.ExecuteTick(1)

	if h, ok := Get[TestHealth](engine.World(), 1); !ok || h.Value != 2 {
		t.Errorf("Expected health 2 after remove then add, got %v", h)
	}
}

// TestChangeTracking tests added, changed and removed tracking
func TestChangeTracking(t *testing.T) {
	w := NewWorld()
	RegisterComponent[TestPosition](w)
	store, _ := getStoreFromWorld[TestPosition](w)

	cb := NewCommandBuffer()
	cb.CreateEntity(1, TestPosition{})
	cb.CreateEntity(2, TestPosition{})
	cb.Apply(w)

	added := 0
	for range store.Added() {
		added++
	}
	if added != 2 {
		t.Errorf("Expected 2 added, got %d", added)
	}

	w.resetTracking()
	GetMutable[TestPosition](w, 2)

	var changed []EntityID
	for row := range Query1[TestPosition](w, Changed[TestPosition]()) {
		changed = append(changed, row.ID)
	}
	if len(changed) != 1 || changed[0] != 2 {
		t.Errorf("Expected only entity 2 changed, got %v", changed)
	}

	cb.DestroyEntity(1)
	cb.Apply(w)

	removed := 0
	for range store.Removed() {
		removed++
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
}

func TestNewEntityIDSkipsExplicitIDs(t *testing.T) {
	w := NewWorld()
	cb := NewCommandBuffer()
	cb.CreateEntity(10)
	cb.Apply(w)

	if id := w.NewEntityID(); id != 11 {
		t.Errorf("Expected 11, got %d", id)
	}
}

// ==================================================================
// Replication
// ==================================================================

type Player struct{}

type Position struct{ X, Y float32 }

func TestReplicatorOrdering(t *testing.T) {
	engine := NewEngine()
	log := snapshot.New(nil)
	r := NewReplicator(log, nil)

	playerType := ReplicateObject[Player](engine.World(), r)
	posType := ReplicateVariant[Position](engine.World(), r)
	engine.RegisterSystemFunc(r.System(), Trigger(OnEndOfTick))

	if playerType != typeid.Of[Player]() || posType != typeid.Of[Position]() {
		t.Fatal("Expected derived type ids")
	}

	tick := 0
	engine.RegisterSystemFunc(func(ctx SystemContext) {
		tick++
		switch tick {
		case 1:
			ctx.Commands.CreateEntity(7, Player{}, Position{X: 1, Y: 2})
		case 2:
			if p, ok := GetMutable[Position](ctx.World, 7); ok {
				p.X = 5
			}
		case 3:
			ctx.Commands.DestroyEntity(7)
		}
	})
	engine.Init()

	engine.ExecuteTick(1)
	got := log.Flush()
	if len(got) != 2 || got[0].Kind != action.Spawn || got[1].Kind != action.Change {
		t.Fatalf("Expected spawn then change, got %v", got)
	}
	if got[0].Entity != 7 || got[0].Type != playerType || got[1].Type != posType {
		t.Errorf("Unexpected records %v", got)
	}

	var pos Position
	if err := sbin.Unmarshal(got[1].Payload, &pos); err != nil || pos != (Position{X: 1, Y: 2}) {
		t.Errorf("Expected encoded position {1 2}, got %v (%v)", pos, err)
	}

	engine.ExecuteTick(1)
	got = log.Flush()
	if len(got) != 1 || got[0].Kind != action.Change {
		t.Fatalf("Expected a single change, got %v", got)
	}
	if err := sbin.Unmarshal(got[0].Payload, &pos); err != nil || pos.X != 5 {
		t.Errorf("Expected X=5, got %v (%v)", pos, err)
	}

	engine.ExecuteTick(1)
	got = log.Flush()
	if len(got) != 1 || got[0].Kind != action.Despawn || got[0].Type != playerType {
		t.Fatalf("Expected a single despawn, got %v", got)
	}
	if log.Len() != 0 {
		t.Errorf("Expected empty log, got %d entities", log.Len())
	}

	engine.ExecuteTick(1)
	if got := log.Flush(); len(got) != 0 {
		t.Errorf("Expected quiet tick, got %v", got)
	}
}

func TestReplicatorResync(t *testing.T) {
	w := NewWorld()
	log := snapshot.New(nil)
	r := NewReplicator(log, nil)

	ReplicateObject[Player](w, r)
	posType := ReplicateVariant[Position](w, r)

	cb := NewCommandBuffer()
	cb.CreateEntity(1, Player{}, Position{X: 3})
	cb.CreateEntity(2, Player{})
	cb.Apply(w)
	w.resetTracking()

	r.Resync()

	if log.Len() != 2 {
		t.Errorf("Expected 2 entities after resync, got %d", log.Len())
	}
	if _, ok := log.Variant(1, posType); !ok {
		t.Error("Expected position of entity 1 in the log")
	}
}

func TestReplicatorRespawn(t *testing.T) {
	engine := NewEngine()
	log := snapshot.New(nil)
	r := NewReplicator(log, nil)

	playerType := ReplicateObject[Player](engine.World(), r)
	posType := ReplicateVariant[Position](engine.World(), r)
	engine.RegisterSystemFunc(r.System(), Trigger(OnEndOfTick))

	tick := 0
	engine.RegisterSystemFunc(func(ctx SystemContext) {
		tick++
		switch tick {
		case 1:
			ctx.Commands.CreateEntity(4, Player{}, Position{X: 8, Y: 9})
		case 2:
			RemoveComponentFor[Player](ctx.Commands, 4)
			ctx.Commands.AddComponent(4, Player{})
		}
	})
	engine.Init()

	engine.ExecuteTick(1)
	log.Flush()

	engine.ExecuteTick(1)
	got := log.Flush()
	if len(got) != 3 {
		t.Fatalf("Expected despawn, spawn and change, got %v", got)
	}
	if got[0].Kind != action.Despawn || got[1].Kind != action.Spawn || got[2].Kind != action.Change {
		t.Errorf("Unexpected record kinds %v", got)
	}
	if got[1].Type != playerType || got[2].Type != posType {
		t.Errorf("Unexpected record types %v", got)
	}

	payload, ok := log.Variant(4, posType)
	if !ok {
		t.Fatal("Expected position to survive the respawn")
	}
	var pos Position
	if err := sbin.Unmarshal(payload, &pos); err != nil || pos != (Position{X: 8, Y: 9}) {
		t.Errorf("Expected position {8 9}, got %v (%v)", pos, err)
	}
}

func TestReplicatorLateObject(t *testing.T) {
	w := NewWorld()
	log := snapshot.New(nil)
	r := NewReplicator(log, nil)

	ReplicateObject[Player](w, r)
	posType := ReplicateVariant[Position](w, r)

	cb := NewCommandBuffer()
	cb.CreateEntity(2, Position{X: 3})
	cb.Apply(w)
	r.Sync()
	w.resetTracking()

	if got := log.Flush(); len(got) != 0 {
		t.Fatalf("Expected nothing for an entity without object, got %v", got)
	}

	cb.AddComponent(2, Player{})
	cb.Apply(w)
	r.Sync()

	got := log.Flush()
	if len(got) != 2 || got[0].Kind != action.Spawn || got[1].Kind != action.Change {
		t.Fatalf("Expected spawn then change, got %v", got)
	}
	if _, ok := log.Variant(2, posType); !ok {
		t.Error("Expected position stored for entity 2")
	}
}

func BenchmarkQuery2(b *testing.B) {
	w := NewWorld()
	RegisterComponent[TestPosition](w)
	RegisterComponent[TestVelocity](w)

	cb := NewCommandBuffer()
	for i := 1; i <= 10000; i++ {
		cb.CreateEntity(EntityID(i), TestPosition{}, TestVelocity{X: 1, Y: 1})
	}
	cb.Apply(w)

	for b.Loop() {
		for row := range Query2[TestPosition, TestVelocity](w) {
			pos := row.GetMutable1()
			vel := row.Get2()
			pos.X += vel.X
			pos.Y += vel.Y
		}
	}
}
