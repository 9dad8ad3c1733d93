// Package transport serves as a network abstraction at (not necessarily) transport level.
//
// Every transport carries two channels per client: a reliable, ordered one and
// an unreliable one. Transports without a native unreliable channel fall back
// to the reliable one.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const DefaultMaxMessageSize = 1 << 20

// Close codes passed to CloseClient and sent to peers.
const (
	CloseNormal        = 0
	CloseGoingAway     = 1
	CloseProtocolError = 2
	CloseRejected      = 0x0a
)

var ErrTransportClosed = errors.New("transport: closed")

type ErrClientNotFound struct {
	ClientId string
}

func (e ErrClientNotFound) Error() string {
	return fmt.Sprintf("client %s not found", e.ClientId)
}

type ErrRejected struct {
	RemoteAddr string
	Reason     string
}

func (e ErrRejected) Error() string {
	return fmt.Sprintf("connection from %s rejected: %s", e.RemoteAddr, e.Reason)
}

type Message struct {
	ClientId string
	Data     []byte
}

type Connection struct {
	ClientId   string
	RemoteAddr string
}

type IdGenerator func() string

type ConnectionValidator func(remoteAddr string) (accept bool, reason string)

// NewClientId is the default IdGenerator.
func NewClientId() string {
	return uuid.NewString()
}

// Transport is the server side of a connection oriented transport. Event
// channels are never closed; stop reading them once the context passed to
// Start is done.
type Transport interface {
	Start(ctx context.Context) error
	Close() error
	Send(clientId string, data []byte, reliable bool) error
	Broadcast(clientIds []string, data []byte, reliable bool) error
	CloseClient(clientId string, code int, reason string) error
	GetClients() (clientIds []string)
	Messages() <-chan Message
	Connections() <-chan Connection
	Disconnections() <-chan string
	Errors() <-chan error
	SetIdGenerator(idGenerator IdGenerator)
	SetValidator(validator ConnectionValidator)
}

// Peer is the client side of a transport.
type Peer interface {
	Send(data []byte, reliable bool) error
	// Receive returns the next message from either channel. It returns
	// io.EOF once the connection is gone.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}
