// Package replication connects a snapshot log and an event registry to a
// transport: it streams the log to observers and routes their invokes to
// handlers.
package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/QYUbit/Axon/pkg/action"
	"github.com/QYUbit/Axon/pkg/axlog"
	"github.com/QYUbit/Axon/pkg/registry"
	"github.com/QYUbit/Axon/pkg/snapshot"
	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/QYUbit/Axon/pkg/typeid"
	"golang.org/x/sync/errgroup"
)

// Context is handed to event handlers. H is the host value passed to Tick,
// typically a command buffer.
type Context[H any] struct {
	ClientId string
	Entity   action.EntityID
	Host     H
}

type Options struct {
	// SnapshotOnConnect sends the full log to a client before its first
	// live batch.
	SnapshotOnConnect bool
	// MaxMessagesPerTick bounds how many client messages one Tick
	// handles. Zero means 1024.
	MaxMessagesPerTick int
}

func DefaultOptions() Options {
	return Options{
		SnapshotOnConnect:  true,
		MaxMessagesPerTick: 1024,
	}
}

// Stats are cumulative counters since the server was created.
type Stats struct {
	Clients       int
	Messages      uint64
	Invokes       uint64
	Misses        uint64
	Malformed     uint64
	HandlerErrors uint64
	Batches       uint64
	BytesSent     uint64
}

// Server is driven by the host loop: the host mutates the log through its
// notifier, then calls Tick once per tick. Server is not safe for concurrent
// use; Tick and the log must be touched from the same goroutine.
type Server[H any] struct {
	transport transport.Transport
	log       *snapshot.Log
	events    *registry.Registry[*Context[H]]
	logger    axlog.Logger
	opts      Options

	clients map[string]struct{}
	stats   Stats

	onConnect    func(clientId string, host H)
	onDisconnect func(clientId string, host H)
}

func NewServer[H any](t transport.Transport, log *snapshot.Log, logger axlog.Logger, opts Options) *Server[H] {
	logger = axlog.OrNop(logger)
	if opts.MaxMessagesPerTick <= 0 {
		opts.MaxMessagesPerTick = 1024
	}

	return &Server[H]{
		transport: t,
		log:       log,
		events:    registry.New[*Context[H]](logger),
		logger:    logger,
		opts:      opts,
		clients:   make(map[string]struct{}),
	}
}

func (s *Server[H]) Log() *snapshot.Log {
	return s.log
}

func (s *Server[H]) Events() *registry.Registry[*Context[H]] {
	return s.events
}

// Handle registers handler for invokes of event type T and returns its id.
func Handle[T, H any](s *Server[H], handler registry.HandlerFunc[T, *Context[H]]) typeid.ID {
	return registry.RegisterEvent(s.events, handler)
}

// OnConnect sets a hook called from Tick after a client was admitted and its
// snapshot was sent.
func (s *Server[H]) OnConnect(fn func(clientId string, host H)) {
	s.onConnect = fn
}

// OnDisconnect sets a hook called from Tick once a client is gone.
func (s *Server[H]) OnDisconnect(fn func(clientId string, host H)) {
	s.onDisconnect = fn
}

func (s *Server[H]) Stats() Stats {
	st := s.stats
	st.Clients = len(s.clients)
	return st
}

// Invoke queues an event for every client, or for target alone when it is
// not empty. It goes out with the next batch.
func (s *Server[H]) Invoke(entity action.EntityID, event typeid.ID, payload []byte, target string) {
	s.log.OnInvoke(entity, event, payload, target)
}

// Tick flushes pending records to connected clients, admits new clients with
// a snapshot, applies client invokes with host and drains transport events.
// It never blocks on the transport's channels.
func (s *Server[H]) Tick(ctx context.Context, host H) {
	s.broadcast(s.log.Flush())

	s.drainConnections(host)
	s.drainMessages(ctx, host)
	s.drainDisconnections(host)
	s.drainErrors()
}

func (s *Server[H]) drainConnections(host H) {
	for {
		select {
		case conn := <-s.transport.Connections():
			s.admit(conn)
			if s.onConnect != nil {
				s.onConnect(conn.ClientId, host)
			}
		default:
			return
		}
	}
}

func (s *Server[H]) admit(conn transport.Connection) {
	s.clients[conn.ClientId] = struct{}{}
	s.logger.Info("client connected", "client", conn.ClientId, "remoteAddr", conn.RemoteAddr)

	if !s.opts.SnapshotOnConnect || s.log.Len() == 0 {
		return
	}

	stream := s.log.Stream()
	if err := s.transport.Send(conn.ClientId, stream, true); err != nil {
		s.logger.Warn("failed sending snapshot", "client", conn.ClientId, "error", err)
		return
	}
	s.stats.BytesSent += uint64(len(stream))
}

func (s *Server[H]) drainDisconnections(host H) {
	for {
		select {
		case id := <-s.transport.Disconnections():
			delete(s.clients, id)
			s.logger.Info("client disconnected", "client", id)
			if s.onDisconnect != nil {
				s.onDisconnect(id, host)
			}
		default:
			return
		}
	}
}

func (s *Server[H]) drainErrors() {
	for {
		select {
		case err := <-s.transport.Errors():
			s.logger.Warn("transport error", "error", err)
		default:
			return
		}
	}
}

func (s *Server[H]) drainMessages(ctx context.Context, host H) {
	for range s.opts.MaxMessagesPerTick {
		if ctx.Err() != nil {
			return
		}

		select {
		case msg := <-s.transport.Messages():
			s.handleMessage(msg, host)
		default:
			return
		}
	}
}

func (s *Server[H]) handleMessage(msg transport.Message, host H) {
	s.stats.Messages++

	records, err := action.Decode(msg.Data)
	if err != nil {
		s.stats.Malformed++
		s.logger.Debug("malformed message", "client", msg.ClientId, "error", err)
	}

	for _, rec := range records {
		if rec.Kind != action.Invoke {
			s.logger.Debug("ignoring non-invoke record from client", "client", msg.ClientId, "record", rec)
			continue
		}

		if !s.events.Has(rec.Type) {
			s.stats.Misses++
			s.logger.Debug("no handler for event", "client", msg.ClientId, "type", rec.Type)
			continue
		}

		s.stats.Invokes++
		c := &Context[H]{ClientId: msg.ClientId, Entity: rec.Entity, Host: host}
		if err := s.events.Invoke(rec.Type, rec.Payload, c); err != nil {
			s.stats.HandlerErrors++
			s.logger.Debug("event handler failed", "client", msg.ClientId, "type", rec.Type, "error", err)
		}
	}
}

// broadcast sends records to every admitted client. Records with a Target
// only reach that client; relative order is kept for everyone.
func (s *Server[H]) broadcast(records []action.Record) {
	if len(records) == 0 || len(s.clients) == 0 {
		return
	}
	s.stats.Batches++

	targeted := false
	for _, rec := range records {
		if rec.Target != "" {
			targeted = true
			break
		}
	}

	if !targeted {
		data := action.Encode(records...)
		ids := s.clientIds()
		if err := s.transport.Broadcast(ids, data, true); err != nil {
			s.logger.Warn("broadcast failed", "error", err)
		}
		s.stats.BytesSent += uint64(len(data) * len(ids))
		return
	}

	for id := range s.clients {
		var data []byte
		for _, rec := range records {
			if rec.Target == "" || rec.Target == id {
				data = action.AppendRecord(data, rec)
			}
		}
		if len(data) == 0 {
			continue
		}

		if err := s.transport.Send(id, data, true); err != nil {
			s.logger.Warn("send failed", "client", id, "error", err)
			continue
		}
		s.stats.BytesSent += uint64(len(data))
	}
}

func (s *Server[H]) clientIds() []string {
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// Run starts the transport and calls Tick every interval with host until ctx
// is done, then closes the transport. Hosts with their own loop call Tick
// directly instead.
func (s *Server[H]) Run(ctx context.Context, interval time.Duration, host H) error {
	if err := s.transport.Start(ctx); err != nil {
		return fmt.Errorf("replication: start transport: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.Tick(ctx, host)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		if err := s.transport.Close(); err != nil && !errors.Is(err, transport.ErrTransportClosed) {
			return fmt.Errorf("replication: close transport: %w", err)
		}
		return nil
	})

	return g.Wait()
}
