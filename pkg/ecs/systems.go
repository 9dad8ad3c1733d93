package ecs

import (
	"reflect"
	"slices"
	"sync"
)

type SystemTrigger int

const (
	OnStartup SystemTrigger = iota
	OnUpdate
	// OnEndOfTick systems run after the commands of the tick were applied and
	// before change tracking is reset.
	OnEndOfTick
)

type SystemFunc func(ctx SystemContext)

type System interface {
	Run(ctx SystemContext)
}

type SystemContext struct {
	*World
	Dt       float64
	Commands *CommandBuffer
}

// access lists the component types a system touches.
type access struct {
	reads  []reflect.Type
	writes []reflect.Type
}

func (a access) conflicts(b access) bool {
	for _, t := range a.writes {
		if slices.Contains(b.writes, t) || slices.Contains(b.reads, t) {
			return true
		}
	}
	for _, t := range b.writes {
		if slices.Contains(a.reads, t) {
			return true
		}
	}
	return false
}

type systemNode struct {
	run      SystemFunc
	access   access
	commands *CommandBuffer
}

type SystemOption func(trigger *SystemTrigger, acc *access)

func Trigger(trigger SystemTrigger) SystemOption {
	return func(t *SystemTrigger, _ *access) {
		*t = trigger
	}
}

// Reads declares the component types a system reads, by example value.
// Update systems whose reads and writes do not overlap share a batch and run
// in parallel.
func Reads(comps ...any) SystemOption {
	return func(_ *SystemTrigger, acc *access) {
		for _, c := range comps {
			acc.reads = append(acc.reads, reflect.TypeOf(c))
		}
	}
}

func Writes(comps ...any) SystemOption {
	return func(_ *SystemTrigger, acc *access) {
		for _, c := range comps {
			acc.writes = append(acc.writes, reflect.TypeOf(c))
		}
	}
}

// Scheduler runs systems in three stages. Startup and end of tick systems run
// one after another; update systems run in batches.
type Scheduler struct {
	stages  map[SystemTrigger][]*systemNode
	batches [][]*systemNode
}

func NewScheduler() *Scheduler {
	return &Scheduler{stages: make(map[SystemTrigger][]*systemNode)}
}

func (s *Scheduler) AddSystemFunc(sys SystemFunc, opts ...SystemOption) {
	trigger := OnUpdate
	node := &systemNode{run: sys, commands: NewCommandBuffer()}
	for _, opt := range opts {
		opt(&trigger, &node.access)
	}
	s.stages[trigger] = append(s.stages[trigger], node)
}

func (s *Scheduler) AddSystem(sys System, opts ...SystemOption) {
	s.AddSystemFunc(sys.Run, opts...)
}

// Compile places every update system in the first batch after the last one
// holding a system it conflicts with, so conflicting systems keep their
// registration order. It must be called after the last system was added.
func (s *Scheduler) Compile() {
	s.batches = s.batches[:0]

	for i, node := range s.stages[OnUpdate] {
		level := 0
		for _, prev := range s.stages[OnUpdate][:i] {
			if node.access.conflicts(prev.access) {
				level = max(level, s.levelOf(prev)+1)
			}
		}
		for len(s.batches) <= level {
			s.batches = append(s.batches, nil)
		}
		s.batches[level] = append(s.batches[level], node)
	}
}

func (s *Scheduler) levelOf(node *systemNode) int {
	for i, batch := range s.batches {
		if slices.Contains(batch, node) {
			return i
		}
	}
	return 0
}

func (s *Scheduler) RunInit(w *World) {
	s.runSerial(w, 0, s.stages[OnStartup])
}

// RunUpdate runs one tick: update batches, then their commands in
// registration order, then end of tick systems, then resets change tracking.
func (s *Scheduler) RunUpdate(w *World, dt float64) {
	for _, batch := range s.batches {
		runBatch(w, dt, batch)
	}

	for _, node := range s.stages[OnUpdate] {
		node.commands.Apply(w)
	}

	s.runSerial(w, dt, s.stages[OnEndOfTick])
	w.resetTracking()
}

func (s *Scheduler) runSerial(w *World, dt float64, nodes []*systemNode) {
	for _, node := range nodes {
		node.run(SystemContext{World: w, Dt: dt, Commands: node.commands})
		node.commands.Apply(w)
	}
}

func runBatch(w *World, dt float64, batch []*systemNode) {
	if len(batch) == 1 {
		batch[0].run(SystemContext{World: w, Dt: dt, Commands: batch[0].commands})
		return
	}

	var wg sync.WaitGroup
	for _, node := range batch {
		wg.Go(func() {
			node.run(SystemContext{World: w, Dt: dt, Commands: node.commands})
		})
	}
	wg.Wait()
}
