package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"

	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/quic-go/quic-go"
)

// Peer is a client connection to a QuicTransport.
type Peer struct {
	conn   *quic.Conn
	stream *quic.Stream

	inbox chan []byte
	done  chan struct{}
	err   error

	writeMu   sync.Mutex
	datagrams bool
	closeOnce sync.Once
}

// Dial connects to a QuicTransport at address and opens the main stream.
// A nil config dials without datagram support.
func Dial(ctx context.Context, address string, tlsConf *tls.Config, config *quic.Config) (*Peer, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{NextProto}
	}

	conn, err := quic.DialAddr(ctx, address, tlsConf, config)
	if err != nil {
		return nil, fmt.Errorf("quic: dial %s: %w", address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(quic.ApplicationErrorCode(transport.CloseProtocolError), "no main stream")
		return nil, fmt.Errorf("quic: open main stream: %w", err)
	}

	// The server only sees the stream once something was written to it.
	if err := transport.WriteFrame(stream, nil); err != nil {
		conn.CloseWithError(quic.ApplicationErrorCode(transport.CloseProtocolError), "hello failed")
		return nil, fmt.Errorf("quic: write hello: %w", err)
	}

	p := &Peer{
		conn:      conn,
		stream:    stream,
		inbox:     make(chan []byte, 256),
		done:      make(chan struct{}),
		datagrams: config != nil && config.EnableDatagrams,
	}

	go p.readPump()
	if p.datagrams {
		go p.datagramPump()
	}
	return p, nil
}

func (p *Peer) readPump() {
	reader := bufio.NewReader(p.stream)

	for {
		message, err := transport.ReadFrame(reader, 0)
		if err != nil {
			p.finish(err)
			return
		}

		select {
		case p.inbox <- message:
		case <-p.done:
			return
		}
	}
}

func (p *Peer) datagramPump() {
	for {
		message, err := p.conn.ReceiveDatagram(p.conn.Context())
		if err != nil {
			return
		}

		select {
		case p.inbox <- message:
		default:
		}
	}
}

func (p *Peer) finish(err error) {
	p.closeOnce.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *Peer) Send(data []byte, reliable bool) error {
	if !reliable && p.datagrams {
		return p.conn.SendDatagram(data)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return transport.WriteFrame(p.stream, data)
}

// Receive returns the next message. Once the connection is gone it returns
// io.EOF, or the error that ended it.
func (p *Peer) Receive(ctx context.Context) ([]byte, error) {
	select {
	case message := <-p.inbox:
		return message, nil
	default:
	}

	select {
	case message := <-p.inbox:
		return message, nil
	case <-p.done:
		if p.err == nil {
			return nil, io.EOF
		}
		return nil, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Peer) Close() error {
	p.finish(io.EOF)
	return p.conn.CloseWithError(quic.ApplicationErrorCode(transport.CloseNormal), "bye")
}
