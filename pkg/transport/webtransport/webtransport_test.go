package webtransport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/QYUbit/Axon/internal/tlsutil"
	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

var _ transport.Transport = (*WebTransport)(nil)
var _ transport.Peer = (*Peer)(nil)

func TestLoopback(t *testing.T) {
	tlsConf, err := tlsutil.SelfSigned("localhost", "127.0.0.1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	mux := http.NewServeMux()
	server := &webtransport.Server{
		H3: http3.Server{
			Addr:      "127.0.0.1:0",
			TLSConfig: tlsConf,
			Handler:   mux,
		},
		CheckOrigin: func(*http.Request) bool { return true },
	}
	wt := NewWebTransport(server)
	mux.Handle("/axon", wt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wt.Start(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer wt.Close()

	peer, err := Dial(ctx, "https://"+wt.Addr().String()+"/axon", tlsutil.ClientConfig(true))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer peer.Close()

	var conn transport.Connection
	select {
	case conn = <-wt.Connections():
	case <-ctx.Done():
		t.Fatal("Timed out waiting for connection")
	}

	if err := wt.Send(conn.ClientId, []byte("welcome"), true); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got, err := peer.Receive(ctx)
	if err != nil || string(got) != "welcome" {
		t.Errorf("Expected welcome, got %q (%v)", got, err)
	}

	if err := peer.Send([]byte("thanks"), true); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	select {
	case msg := <-wt.Messages():
		if msg.ClientId != conn.ClientId || string(msg.Data) != "thanks" {
			t.Errorf("Unexpected message %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("Timed out waiting for message")
	}
}
