package websockets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/gorilla/websocket"
)

// Peer is a client connection to a websocket Transport.
type Peer struct {
	conn *websocket.Conn

	inbox chan []byte
	done  chan struct{}
	err   error

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to url, for example ws://localhost:8080/axon.
func Dial(ctx context.Context, url string) (*Peer, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", url, err)
	}
	conn.SetReadLimit(transport.DefaultMaxMessageSize)

	p := &Peer{
		conn:  conn,
		inbox: make(chan []byte, 256),
		done:  make(chan struct{}),
	}

	go p.readPump()
	return p, nil
}

func (p *Peer) readPump() {
	for {
		messageType, message, err := p.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				err = io.EOF
			}
			p.finish(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case p.inbox <- message:
		case <-p.done:
			return
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
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.BinaryMessage, data)
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

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return closeConn(p.conn, transport.CloseNormal, "bye")
}
