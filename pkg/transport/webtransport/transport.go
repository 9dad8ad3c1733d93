// Package webtransport implements transport.Transport using WebTransport protocol.
//
// Sessions follow the same framing as the quic package: the client opens a
// main stream and writes an empty frame; reliable messages are uvarint length
// prefixed frames on it and unreliable ones are datagrams.
package webtransport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/quic-go/webtransport-go"
)

const mainStreamTimeout = 5 * time.Second

// WebTransport implements transport.Transport using WebTransport protocol.
// It is also the http.Handler performing the upgrade; mount it on the
// server's H3 handler.
type WebTransport struct {
	*transport.Hub

	server         *webtransport.Server
	packetConn     net.PacketConn
	maxMessageSize int

	connectionsDone chan struct{}
	closeOnce       sync.Once
}

// NewWebTransport creates a new WebTransport instance
func NewWebTransport(server *webtransport.Server) *WebTransport {
	return &WebTransport{
		Hub:            transport.NewHub(),
		server:         server,
		maxMessageSize: transport.DefaultMaxMessageSize,
	}
}

func (t *WebTransport) SetMaxMessageSize(n int) {
	t.maxMessageSize = n
}

// Start binds the UDP socket at server.H3.Addr and serves in the background.
func (t *WebTransport) Start(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", t.server.H3.Addr)
	if err != nil {
		return fmt.Errorf("webtransport: listen on %s: %w", t.server.H3.Addr, err)
	}
	t.packetConn = pc
	t.connectionsDone = make(chan struct{})
	t.Hub.Run(ctx)

	go func() {
		defer close(t.connectionsDone)

		if err := t.server.Serve(pc); err != nil && !errors.Is(err, http.ErrServerClosed) && !t.IsClosed() {
			t.ReportError(fmt.Errorf("server error: %w", err))
		}
	}()

	return nil
}

// Addr is the bound address. It is nil before Start.
func (t *WebTransport) Addr() net.Addr {
	if t.packetConn == nil {
		return nil
	}
	return t.packetConn.LocalAddr()
}

func getAddress(r *http.Request) string {
	xRealIP := r.Header.Get("X-Real-IP")
	if xRealIP != "" {
		if ip := net.ParseIP(xRealIP); ip != nil {
			return xRealIP
		}
	}

	return r.RemoteAddr
}

func (t *WebTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := t.server.Upgrade(w, r)
	if err != nil {
		t.ReportError(fmt.Errorf("failed upgrading connection: %w", err))
		return
	}

	go t.serveSession(t.Hub.Context(), getAddress(r), session)
}

func (t *WebTransport) serveSession(ctx context.Context, remoteAddr string, session *webtransport.Session) {
	acceptCtx, cancel := context.WithTimeout(ctx, mainStreamTimeout)
	stream, err := session.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		session.CloseWithError(webtransport.SessionErrorCode(transport.CloseProtocolError), "no main stream")
		return
	}

	reader := bufio.NewReader(stream)
	if _, err := transport.ReadFrame(reader, t.maxMessageSize); err != nil {
		session.CloseWithError(webtransport.SessionErrorCode(transport.CloseProtocolError), "bad hello")
		return
	}

	id, err := t.Admit(remoteAddr, &link{session: session, stream: stream})
	if err != nil {
		var rejected transport.ErrRejected
		if !errors.As(err, &rejected) && !errors.Is(err, transport.ErrTransportClosed) {
			t.ReportError(err)
		}
		return
	}

	go t.datagramPump(ctx, id, session)
	t.readPump(id, reader)
}

func (t *WebTransport) readPump(id string, reader *bufio.Reader) {
	defer t.Drop(id, "connection lost")

	for {
		message, err := transport.ReadFrame(reader, t.maxMessageSize)
		if err != nil {
			if errors.Is(err, transport.ErrFrameTooLarge) {
				t.ReportError(fmt.Errorf("client %s: %w", id, err))
			}
			return
		}
		if len(message) == 0 {
			continue
		}

		t.Deliver(id, message)
	}
}

func (t *WebTransport) datagramPump(ctx context.Context, id string, session *webtransport.Session) {
	for {
		message, err := session.ReceiveDatagram(ctx)
		if err != nil {
			return
		}

		t.Deliver(id, message)
	}
}

func (t *WebTransport) Close() error {
	var lastError error

	t.closeOnce.Do(func() {
		t.Hub.Shutdown()

		lastError = t.server.Close()
		if t.packetConn != nil {
			t.packetConn.Close()
			<-t.connectionsDone
		}
	})

	return lastError
}

type link struct {
	session *webtransport.Session
	stream  io.Writer
}

func (l *link) WriteReliable(data []byte) error {
	return transport.WriteFrame(l.stream, data)
}

func (l *link) WriteUnreliable(data []byte) error {
	return l.session.SendDatagram(data)
}

func (l *link) Close(code int, reason string) error {
	return l.session.CloseWithError(webtransport.SessionErrorCode(code), reason)
}
