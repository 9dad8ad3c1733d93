// Package memory implements transport.Transport in process. Every peer is a
// pair of channels; it is meant for tests and for embedding an observer in
// the same binary as the server.
package memory

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/QYUbit/Axon/pkg/transport"
)

// Implements transport.Transport
type Transport struct {
	*transport.Hub
}

func NewTransport() *Transport {
	return &Transport{Hub: transport.NewHub()}
}

func (t *Transport) Start(ctx context.Context) error {
	t.Hub.Run(ctx)
	return nil
}

func (t *Transport) Close() error {
	t.Hub.Shutdown()
	return nil
}

// Connect attaches a new peer. It blocks until the connection event is
// buffered or consumed.
func (t *Transport) Connect(remoteAddr string) (*Peer, error) {
	p := &Peer{
		hub:   t.Hub,
		inbox: make(chan []byte, 256),
		done:  make(chan struct{}),
	}

	id, err := t.Hub.Admit(remoteAddr, (*link)(p))
	if err != nil {
		return nil, err
	}
	p.id = id
	return p, nil
}

// Peer is the client end of an in-process connection.
type Peer struct {
	id    string
	hub   *transport.Hub
	inbox chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// CloseCode and CloseReason are set once the server closed the peer.
	CloseCode   int
	CloseReason string
}

func (p *Peer) ID() string {
	return p.id
}

func (p *Peer) Send(data []byte, reliable bool) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}

	p.hub.Deliver(p.id, slices.Clone(data))
	return nil
}

func (p *Peer) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.inbox:
		return data, nil
	default:
	}

	select {
	case data := <-p.inbox:
		return data, nil
	case <-p.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Peer) Close() error {
	p.hub.Drop(p.id, "peer closed")
	return nil
}

// Closed is closed once the connection is gone.
func (p *Peer) Closed() <-chan struct{} {
	return p.done
}

type link Peer

func (l *link) WriteReliable(data []byte) error {
	select {
	case l.inbox <- slices.Clone(data):
		return nil
	case <-l.done:
		return io.ErrClosedPipe
	}
}

func (l *link) WriteUnreliable(data []byte) error {
	select {
	case l.inbox <- slices.Clone(data):
	default:
		// Dropped, like a datagram on a congested path.
	}
	return nil
}

func (l *link) Close(code int, reason string) error {
	l.closeOnce.Do(func() {
		l.CloseCode = code
		l.CloseReason = reason
		close(l.done)
	})
	return nil
}
