// Package game is the demo world served by axond: every connected client
// controls one Player whose Position is replicated to all observers.
package game

import (
	"math/rand/v2"

	"github.com/QYUbit/Axon/pkg/action"
	"github.com/QYUbit/Axon/pkg/axlog"
	"github.com/QYUbit/Axon/pkg/ecs"
	"github.com/QYUbit/Axon/pkg/replication"
	"github.com/QYUbit/Axon/pkg/sbin"
	"github.com/QYUbit/Axon/pkg/snapshot"
	"github.com/QYUbit/Axon/pkg/typeid"
)

// Player marks a replicated entity owned by a client.
type Player struct {
	ClientId string
}

type Position struct {
	X, Y, R float32
}

// MoveEvent is sent by clients to place their player.
type MoveEvent struct {
	X, Y, R float32
}

// Welcome is sent to a client right after it joined and names its player.
type Welcome struct {
	Entity uint64
}

// Wander jitters X every tick for entities that carry it.
type Wander struct {
	Range float32
}

var spawnPosition = Position{X: 5}

// Game owns the engine and the client to player mapping. Its methods must be
// called from the goroutine running the engine.
type Game struct {
	engine     *ecs.Engine
	replicator *ecs.Replicator
	commands   *ecs.CommandBuffer
	logger     axlog.Logger

	players map[string]ecs.EntityID
	invoke  func(entity action.EntityID, event typeid.ID, payload []byte, target string)
}

func New(notifier snapshot.Notifier, logger axlog.Logger) *Game {
	logger = axlog.OrNop(logger)

	g := &Game{
		engine:     ecs.NewEngine(),
		replicator: ecs.NewReplicator(notifier, logger),
		commands:   ecs.NewCommandBuffer(),
		logger:     logger,
		players:    make(map[string]ecs.EntityID),
	}
	g.engine.RegisterPlugin(g.plugin)
	return g
}

func (g *Game) plugin(e *ecs.Engine) {
	w := e.World()
	ecs.ReplicateObject[Player](w, g.replicator)
	ecs.ReplicateVariant[Position](w, g.replicator)
	ecs.RegisterComponent[Wander](w)

	e.RegisterSystemFunc(WanderSystem,
		ecs.Reads(Wander{}),
		ecs.Writes(Position{}),
	)
	e.RegisterSystemFunc(g.replicator.System(), ecs.Trigger(ecs.OnEndOfTick))
}

func (g *Game) Engine() *ecs.Engine {
	return g.engine
}

func (g *Game) Replicator() *ecs.Replicator {
	return g.replicator
}

// Claim reserves the ids of every type the game puts on the wire.
func Claim(t *typeid.Table) error {
	for _, claim := range []func(*typeid.Table) (typeid.ID, error){
		typeid.ClaimType[Player],
		typeid.ClaimType[Position],
		typeid.ClaimType[MoveEvent],
		typeid.ClaimType[Welcome],
	} {
		if _, err := claim(t); err != nil {
			return err
		}
	}
	return nil
}

// Install wires the game into s: joins spawn a player, leaves despawn it and
// MoveEvents move the sender's player.
func Install(s *replication.Server[*Game]) {
	s.OnConnect(func(clientId string, g *Game) { g.Join(clientId) })
	s.OnDisconnect(func(clientId string, g *Game) { g.Leave(clientId) })
	replication.Handle[MoveEvent](s, HandleMove)
}

// Attach lets the game send invokes through s.
func (g *Game) Attach(s *replication.Server[*Game]) {
	g.invoke = s.Invoke
}

func (g *Game) Join(clientId string) {
	id := g.engine.World().NewEntityID()
	g.commands.CreateEntity(id,
		Player{ClientId: clientId},
		spawnPosition,
		Wander{Range: 10},
	)
	g.commands.Apply(g.engine.World())
	g.players[clientId] = id

	g.logger.Info("player joined", "client", clientId, "entity", id)

	if g.invoke == nil {
		return
	}
	payload, err := sbin.Marshal(Welcome{Entity: uint64(id)})
	if err != nil {
		g.logger.Error("failed encoding welcome", "client", clientId, "error", err)
		return
	}
	g.invoke(action.EntityID(id), typeid.Of[Welcome](), payload, clientId)
}

func (g *Game) Leave(clientId string) {
	id, ok := g.players[clientId]
	if !ok {
		return
	}
	delete(g.players, clientId)

	g.commands.DestroyEntity(id)
	g.commands.Apply(g.engine.World())

	g.logger.Info("player left", "client", clientId, "entity", id)
}

// PlayerOf returns the entity controlled by clientId.
func (g *Game) PlayerOf(clientId string) (ecs.EntityID, bool) {
	id, ok := g.players[clientId]
	return id, ok
}

// HandleMove places the sender's player and stops it from wandering.
func HandleMove(c *replication.Context[*Game], ev MoveEvent) error {
	g := c.Host
	id, ok := g.players[c.ClientId]
	if !ok {
		return nil
	}

	w := g.engine.World()
	pos, ok := ecs.GetMutable[Position](w, id)
	if !ok {
		return nil
	}
	*pos = Position(ev)

	ecs.RemoveComponentFor[Wander](g.commands, id)
	g.commands.Apply(w)
	return nil
}

func WanderSystem(ctx ecs.SystemContext) {
	for row := range ecs.Query2[Position, Wander](ctx.World) {
		pos := row.GetMutable1()
		pos.X = rand.Float32() * row.Get2().Range
	}
}
