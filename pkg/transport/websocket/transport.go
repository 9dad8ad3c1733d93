// Package websockets implements transport.Transport over WebSocket using
// gorilla/websocket. Every binary message is one transport message; both
// channels map onto the same ordered connection.
package websockets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var closeCodeMap = map[int]int{
	transport.CloseNormal:        websocket.CloseNormalClosure,
	transport.CloseGoingAway:     websocket.CloseGoingAway,
	transport.CloseProtocolError: websocket.CloseProtocolError,
	transport.CloseRejected:      websocket.ClosePolicyViolation,
}

// Transport implements transport.Transport. It is an http.Handler; with an
// empty address Start only runs the client hub and the handler has to be
// mounted on an existing server.
type Transport struct {
	*transport.Hub

	address  string
	path     string
	upgrader websocket.Upgrader

	maxMessageSize int

	listener  net.Listener
	server    *http.Server
	serveDone chan struct{}
	closeOnce sync.Once
}

func NewTransport(address, path string) *Transport {
	if path == "" {
		path = "/"
	}

	return &Transport{
		Hub:     transport.NewHub(),
		address: address,
		path:    path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxMessageSize: transport.DefaultMaxMessageSize,
	}
}

func (t *Transport) SetMaxMessageSize(n int) {
	t.maxMessageSize = n
}

// SetCheckOrigin replaces the default, which accepts every origin.
func (t *Transport) SetCheckOrigin(check func(r *http.Request) bool) {
	t.upgrader.CheckOrigin = check
}

func (t *Transport) Start(ctx context.Context) error {
	t.Hub.Run(ctx)

	if t.address == "" {
		return nil
	}

	listener, err := net.Listen("tcp", t.address)
	if err != nil {
		return fmt.Errorf("websocket: listen on %s: %w", t.address, err)
	}
	t.listener = listener

	mux := http.NewServeMux()
	mux.Handle(t.path, t)
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.serveDone = make(chan struct{})

	go func() {
		defer close(t.serveDone)

		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.ReportError(fmt.Errorf("server error: %w", err))
		}
	}()

	return nil
}

// Addr is the bound address. It is nil unless Start listened itself.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.ReportError(fmt.Errorf("failed upgrading connection: %w", err))
		return
	}
	conn.SetReadLimit(int64(t.maxMessageSize))

	id, err := t.Admit(r.RemoteAddr, &link{conn: conn})
	if err != nil {
		var rejected transport.ErrRejected
		if !errors.As(err, &rejected) && !errors.Is(err, transport.ErrTransportClosed) {
			t.ReportError(err)
		}
		return
	}

	t.readPump(id, conn)
}

func (t *Transport) readPump(id string, conn *websocket.Conn) {
	defer t.Drop(id, "connection lost")

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				t.ReportError(fmt.Errorf("client %s: %w", id, transport.ErrFrameTooLarge))
			}
			return
		}
		if messageType != websocket.BinaryMessage || len(message) == 0 {
			continue
		}

		t.Deliver(id, message)
	}
}

func (t *Transport) Close() error {
	var lastError error

	t.closeOnce.Do(func() {
		t.Hub.Shutdown()

		if t.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			lastError = t.server.Shutdown(ctx)
			<-t.serveDone
		}
	})

	return lastError
}

type link struct {
	conn *websocket.Conn
}

func (l *link) WriteReliable(data []byte) error {
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (l *link) WriteUnreliable(data []byte) error {
	return l.WriteReliable(data)
}

func (l *link) Close(code int, reason string) error {
	return closeConn(l.conn, code, reason)
}

func closeConn(conn *websocket.Conn, code int, reason string) error {
	wsCode, ok := closeCodeMap[code]
	if !ok {
		wsCode = websocket.CloseNormalClosure
	}

	var lastErr error

	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(wsCode, reason),
		time.Now().Add(time.Second),
	)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		lastErr = err
	}

	if err := conn.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}
