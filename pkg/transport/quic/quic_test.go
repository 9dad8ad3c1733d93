package quic

import (
	"context"
	"testing"
	"time"

	"github.com/QYUbit/Axon/internal/tlsutil"
	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/quic-go/quic-go"
)

var _ transport.Transport = (*QuicTransport)(nil)
var _ transport.Peer = (*Peer)(nil)

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	var zero T
	return zero
}

func TestLoopback(t *testing.T) {
	tlsConf, err := tlsutil.SelfSigned("localhost", "127.0.0.1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	quicConf := &quic.Config{EnableDatagrams: true}
	server := NewQuicTransport("127.0.0.1:0", tlsConf, quicConf)
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer server.Close()

	peer, err := Dial(ctx, server.Addr().String(), tlsutil.ClientConfig(true), quicConf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer peer.Close()

	conn := waitFor(t, server.Connections())

	if err := peer.Send([]byte("hello server"), true); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	msg := waitFor(t, server.Messages())
	if msg.ClientId != conn.ClientId || string(msg.Data) != "hello server" {
		t.Errorf("Unexpected message %+v", msg)
	}

	for _, text := range []string{"one", "two", "three"} {
		if err := server.Send(conn.ClientId, []byte(text), true); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := peer.Receive(ctx)
		if err != nil || string(got) != want {
			t.Errorf("Expected %q in order, got %q (%v)", want, got, err)
		}
	}

	peer.Close()
	if gone := waitFor(t, server.Disconnections()); gone != conn.ClientId {
		t.Errorf("Expected disconnect of %s, got %s", conn.ClientId, gone)
	}
}
