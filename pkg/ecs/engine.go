package ecs

import (
	"context"
	"time"
)

type Plugin func(e *Engine)

// Engine ties a World to its Scheduler.
type Engine struct {
	world     *World
	scheduler *Scheduler
	compiled  bool
}

func NewEngine() *Engine {
	return &Engine{
		world:     NewWorld(),
		scheduler: NewScheduler(),
	}
}

func (e *Engine) World() *World {
	return e.world
}

func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

func (e *Engine) RegisterPlugin(plugin Plugin) {
	plugin(e)
}

func (e *Engine) RegisterSystemFunc(sys SystemFunc, opts ...SystemOption) {
	e.scheduler.AddSystemFunc(sys, opts...)
	e.compiled = false
}

func (e *Engine) RegisterSystem(sys System, opts ...SystemOption) {
	e.scheduler.AddSystem(sys, opts...)
	e.compiled = false
}

// Init compiles the schedule and runs startup systems.
func (e *Engine) Init() {
	e.scheduler.Compile()
	e.compiled = true
	e.scheduler.RunInit(e.world)
}

// ExecuteTick advances the world by dt seconds.
func (e *Engine) ExecuteTick(dt float64) {
	if !e.compiled {
		e.scheduler.Compile()
		e.compiled = true
	}
	e.scheduler.RunUpdate(e.world, dt)
}

// Run initializes the engine and ticks it every interval until ctx is done.
// afterTick, if set, runs on the same goroutine after every tick.
func (e *Engine) Run(ctx context.Context, interval time.Duration, afterTick func(ctx context.Context)) error {
	e.Init()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			e.ExecuteTick(now.Sub(last).Seconds())
			last = now
			if afterTick != nil {
				afterTick(ctx)
			}
		}
	}
}
