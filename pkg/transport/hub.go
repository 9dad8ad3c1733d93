package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Link is one accepted connection as seen by a Hub. Writes are only issued
// from the client's write pump and never concurrently.
type Link interface {
	WriteReliable(data []byte) error
	WriteUnreliable(data []byte) error
	Close(code int, reason string) error
}

type hubOperationType int

const (
	opRegisterClient hubOperationType = iota
	opUnregisterClient
	opSendMessage
)

type hubOperation struct {
	Type     hubOperationType
	ClientId string
	Client   *hubClient
	Message  []byte
	Reliable bool
	Code     int
	Response chan error
}

type outgoingMessage struct {
	Content  []byte
	Reliable bool
}

type hubClient struct {
	id   string
	link Link
	send chan outgoingMessage
}

// Hub owns the client table of a transport. Mutations go through a single
// operation loop; concrete transports accept connections, wrap them as Links
// and hand them to Admit.
//
// Hub implements every Transport method except Start and Close.
type Hub struct {
	clients  map[string]*hubClient
	clientMu sync.RWMutex

	operations chan hubOperation

	connectChan    chan Connection
	disconnectChan chan string
	messageChan    chan Message
	errorChan      chan error

	idGenerator IdGenerator
	validator   ConnectionValidator

	ctx           context.Context
	cancel        context.CancelFunc
	started       atomic.Bool
	closed        atomic.Bool
	closeOnce     sync.Once
	operationDone chan struct{}
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:        make(map[string]*hubClient),
		operations:     make(chan hubOperation, 100),
		connectChan:    make(chan Connection, 10),
		disconnectChan: make(chan string, 10),
		messageChan:    make(chan Message, 100),
		errorChan:      make(chan error, 5),
		idGenerator:    NewClientId,
		ctx:            ctx,
		cancel:         cancel,
		operationDone:  make(chan struct{}),
	}
}

// Run starts the operation loop. The hub stops when ctx is done or Shutdown
// is called.
func (h *Hub) Run(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	context.AfterFunc(ctx, h.cancel)
	go h.run()
}

// Context is done once the hub stops.
func (h *Hub) Context() context.Context {
	return h.ctx
}

func (h *Hub) run() {
	defer close(h.operationDone)

	for {
		select {
		case <-h.ctx.Done():
			return

		case op := <-h.operations:
			h.handleOperation(op)
		}
	}
}

func (h *Hub) handleOperation(op hubOperation) {
	var err error

	switch op.Type {
	case opRegisterClient:
		h.clientMu.Lock()
		h.clients[op.Client.id] = op.Client
		h.clientMu.Unlock()
		go h.writePump(op.Client)

	case opUnregisterClient:
		h.clientMu.Lock()
		client, ok := h.clients[op.ClientId]
		if ok {
			delete(h.clients, op.ClientId)
			close(client.send)
		}
		h.clientMu.Unlock()

		if !ok {
			err = ErrClientNotFound{op.ClientId}
			break
		}
		go h.closeLink(client, op.Code, string(op.Message))

	case opSendMessage:
		h.clientMu.RLock()
		client, exists := h.clients[op.ClientId]
		h.clientMu.RUnlock()

		if !exists {
			err = ErrClientNotFound{op.ClientId}
			break
		}

		select {
		case client.send <- outgoingMessage{Content: op.Message, Reliable: op.Reliable}:
		default:
			err = fmt.Errorf("send queue full for client %s", op.ClientId)
		}
	}

	if op.Response != nil {
		op.Response <- err
	}
}

func (h *Hub) closeLink(c *hubClient, code int, reason string) {
	if err := c.link.Close(code, reason); err != nil {
		h.ReportError(fmt.Errorf("failed closing client %s: %w", c.id, err))
	}

	select {
	case h.disconnectChan <- c.id:
	case <-h.ctx.Done():
	}
}

func (h *Hub) writePump(c *hubClient) {
	defer func() {
		if err := recover(); err != nil {
			h.ReportError(fmt.Errorf("writePump panic for client %s: %v", c.id, err))
		}
	}()

	for {
		select {
		case <-h.ctx.Done():
			return

		case message, ok := <-c.send:
			if !ok {
				return
			}

			var err error
			if message.Reliable {
				err = c.link.WriteReliable(message.Content)
			} else {
				err = c.link.WriteUnreliable(message.Content)
			}
			if err != nil {
				h.ReportError(fmt.Errorf("failed writing to client %s: %w", c.id, err))
			}
		}
	}
}

// do queues op and waits for the operation loop to answer it.
func (h *Hub) do(op hubOperation) error {
	if h.closed.Load() {
		return ErrTransportClosed
	}

	op.Response = make(chan error, 1)

	select {
	case h.operations <- op:
	case <-h.ctx.Done():
		return ErrTransportClosed
	}

	select {
	case err := <-op.Response:
		return err
	case <-h.ctx.Done():
		return ErrTransportClosed
	}
}

// Admit validates remoteAddr, registers link under a fresh id and announces
// the client on Connections. On failure link is closed.
func (h *Hub) Admit(remoteAddr string, link Link) (string, error) {
	if h.validator != nil {
		if accept, reason := h.validator(remoteAddr); !accept {
			link.Close(CloseRejected, reason)
			return "", ErrRejected{RemoteAddr: remoteAddr, Reason: reason}
		}
	}

	client := &hubClient{
		id:   h.idGenerator(),
		link: link,
		send: make(chan outgoingMessage, 256),
	}

	if err := h.do(hubOperation{Type: opRegisterClient, Client: client}); err != nil {
		link.Close(CloseGoingAway, "server closing")
		return "", err
	}

	select {
	case h.connectChan <- Connection{ClientId: client.id, RemoteAddr: remoteAddr}:
	case <-h.ctx.Done():
		return "", ErrTransportClosed
	}

	return client.id, nil
}

// Deliver publishes data received from a client on Messages. It blocks until
// the message is consumed or the hub stops.
func (h *Hub) Deliver(clientId string, data []byte) {
	select {
	case h.messageChan <- Message{ClientId: clientId, Data: data}:
	case <-h.ctx.Done():
	}
}

// Drop unregisters a client whose connection is gone.
func (h *Hub) Drop(clientId string, reason string) {
	err := h.CloseClient(clientId, CloseNormal, reason)

	var notFound ErrClientNotFound
	if err != nil && !errors.As(err, &notFound) && !errors.Is(err, ErrTransportClosed) {
		h.ReportError(err)
	}
}

func (h *Hub) ReportError(err error) {
	select {
	case h.errorChan <- err:
	case <-time.After(time.Second):
		// Consumer timeout
	}
}

// Shutdown stops the operation loop and closes every client link.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.cancel()

		if h.started.Load() {
			<-h.operationDone
		}

		h.clientMu.Lock()
		for id, client := range h.clients {
			delete(h.clients, id)
			close(client.send)
			client.link.Close(CloseGoingAway, "server closing")
		}
		h.clientMu.Unlock()
	})
}

func (h *Hub) IsClosed() bool {
	return h.closed.Load()
}

func (h *Hub) CloseClient(id string, code int, reason string) error {
	return h.do(hubOperation{
		Type:     opUnregisterClient,
		ClientId: id,
		Code:     code,
		Message:  []byte(reason),
	})
}

func (h *Hub) GetClients() []string {
	h.clientMu.RLock()
	defer h.clientMu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) Send(clientId string, message []byte, reliable bool) error {
	return h.do(hubOperation{
		Type:     opSendMessage,
		ClientId: clientId,
		Message:  message,
		Reliable: reliable,
	})
}

func (h *Hub) Broadcast(clientIds []string, message []byte, reliable bool) error {
	if len(clientIds) == 0 {
		return nil
	}
	if h.closed.Load() {
		return ErrTransportClosed
	}

	errChan := make(chan error, len(clientIds))
	for _, id := range clientIds {
		select {
		case h.operations <- hubOperation{
			Type:     opSendMessage,
			ClientId: id,
			Message:  message,
			Response: errChan,
			Reliable: reliable,
		}:
		case <-h.ctx.Done():
			errChan <- ErrTransportClosed
		}
	}

	var errs []error
	for range clientIds {
		select {
		case err := <-errChan:
			if err != nil {
				errs = append(errs, err)
			}
		case <-h.ctx.Done():
			return ErrTransportClosed
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("broadcast failed for %d/%d clients: %w", len(errs), len(clientIds), errs[0])
	}
	return nil
}

func (h *Hub) Connections() <-chan Connection {
	return h.connectChan
}

func (h *Hub) Disconnections() <-chan string {
	return h.disconnectChan
}

func (h *Hub) Messages() <-chan Message {
	return h.messageChan
}

func (h *Hub) Errors() <-chan error {
	return h.errorChan
}

func (h *Hub) SetIdGenerator(idGenerator IdGenerator) {
	if idGenerator == nil {
		idGenerator = NewClientId
	}
	h.idGenerator = idGenerator
}

func (h *Hub) SetValidator(validator ConnectionValidator) {
	h.validator = validator
}
