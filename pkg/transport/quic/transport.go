// Package quic implements transport.Transport using quic-go.
//
// A client opens one bidirectional main stream right after the handshake and
// writes an empty frame on it. The main stream carries reliable messages in
// both directions as uvarint length prefixed frames. Unreliable messages are
// QUIC datagrams when enabled in the quic.Config.
package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/quic-go/quic-go"
)

// NextProto is the ALPN protocol negotiated by server and peers.
const NextProto = "axon"

const mainStreamTimeout = 5 * time.Second

// Implements transport.Transport
type QuicTransport struct {
	*transport.Hub

	address    string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	maxMessageSize int

	listener        *quic.Listener
	connectionsDone chan struct{}
	closeOnce       sync.Once
}

func NewQuicTransport(address string, tlsConf *tls.Config, config *quic.Config) *QuicTransport {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{NextProto}
	}

	return &QuicTransport{
		Hub:            transport.NewHub(),
		address:        address,
		tlsConfig:      tlsConf,
		quicConfig:     config,
		maxMessageSize: transport.DefaultMaxMessageSize,
	}
}

func (t *QuicTransport) SetMaxMessageSize(n int) {
	t.maxMessageSize = n
}

func (t *QuicTransport) Start(ctx context.Context) error {
	listener, err := quic.ListenAddr(t.address, t.tlsConfig, t.quicConfig)
	if err != nil {
		return fmt.Errorf("quic: listen on %s: %w", t.address, err)
	}
	t.listener = listener
	t.connectionsDone = make(chan struct{})

	t.Hub.Run(ctx)
	go t.acceptConnections(t.Hub.Context())
	return nil
}

// Addr is the bound address. It is nil before Start.
func (t *QuicTransport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *QuicTransport) datagrams() bool {
	return t.quicConfig != nil && t.quicConfig.EnableDatagrams
}

func (t *QuicTransport) acceptConnections(ctx context.Context) {
	defer close(t.connectionsDone)

	for {
		conn, err := t.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !t.IsClosed() {
				t.ReportError(fmt.Errorf("failed accepting connection: %w", err))
			}
			return
		}

		go t.handleConn(ctx, conn)
	}
}

func (t *QuicTransport) handleConn(ctx context.Context, conn *quic.Conn) {
	acceptCtx, cancel := context.WithTimeout(ctx, mainStreamTimeout)
	stream, err := conn.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		conn.CloseWithError(quic.ApplicationErrorCode(transport.CloseProtocolError), "no main stream")
		return
	}

	reader := bufio.NewReader(stream)
	if _, err := transport.ReadFrame(reader, t.maxMessageSize); err != nil {
		conn.CloseWithError(quic.ApplicationErrorCode(transport.CloseProtocolError), "bad hello")
		return
	}

	l := &link{conn: conn, stream: stream, datagrams: t.datagrams()}
	id, err := t.Admit(conn.RemoteAddr().String(), l)
	if err != nil {
		var rejected transport.ErrRejected
		if !errors.As(err, &rejected) && !errors.Is(err, transport.ErrTransportClosed) {
			t.ReportError(err)
		}
		return
	}

	if l.datagrams {
		go t.datagramPump(ctx, id, conn)
	}
	t.readPump(id, reader)
}

func (t *QuicTransport) readPump(id string, reader *bufio.Reader) {
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

func (t *QuicTransport) datagramPump(ctx context.Context, id string, conn *quic.Conn) {
	for {
		message, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}

		t.Deliver(id, message)
	}
}

func (t *QuicTransport) Close() error {
	var lastError error

	t.closeOnce.Do(func() {
		t.Hub.Shutdown()

		if t.listener != nil {
			lastError = t.listener.Close()
			<-t.connectionsDone
		}
	})

	return lastError
}

type link struct {
	conn      *quic.Conn
	stream    *quic.Stream
	datagrams bool
}

func (l *link) WriteReliable(data []byte) error {
	return transport.WriteFrame(l.stream, data)
}

func (l *link) WriteUnreliable(data []byte) error {
	if !l.datagrams {
		return l.WriteReliable(data)
	}
	return l.conn.SendDatagram(data)
}

func (l *link) Close(code int, reason string) error {
	return l.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}
