package webtransport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"

	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// Peer is a client session to a WebTransport server.
type Peer struct {
	dialer  *webtransport.Dialer
	session *webtransport.Session
	stream  *webtransport.Stream

	inbox chan []byte
	done  chan struct{}
	err   error

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial opens a session to url, for example https://localhost:4433/axon.
func Dial(ctx context.Context, url string, tlsConf *tls.Config) (*Peer, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{http3.NextProtoH3}

	d := &webtransport.Dialer{
		TLSClientConfig: tlsConf,
		QUICConfig:      &quic.Config{EnableDatagrams: true},
	}

	_, session, err := d.Dial(ctx, url, nil)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("webtransport: dial %s: %w", url, err)
	}

	stream, err := session.OpenStreamSync(ctx)
	if err != nil {
		session.CloseWithError(webtransport.SessionErrorCode(transport.CloseProtocolError), "no main stream")
		d.Close()
		return nil, fmt.Errorf("webtransport: open main stream: %w", err)
	}

	if err := transport.WriteFrame(stream, nil); err != nil {
		session.CloseWithError(webtransport.SessionErrorCode(transport.CloseProtocolError), "hello failed")
		d.Close()
		return nil, fmt.Errorf("webtransport: write hello: %w", err)
	}

	p := &Peer{
		dialer:  d,
		session: session,
		stream:  stream,
		inbox:   make(chan []byte, 256),
		done:    make(chan struct{}),
	}

	go p.readPump()
	go p.datagramPump()
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
		message, err := p.session.ReceiveDatagram(p.session.Context())
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
	if !reliable {
		return p.session.SendDatagram(data)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return transport.WriteFrame(p.stream, data)
}

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
	err := p.session.CloseWithError(webtransport.SessionErrorCode(transport.CloseNormal), "bye")
	p.dialer.Close()
	return err
}
