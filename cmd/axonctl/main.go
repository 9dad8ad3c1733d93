// Command axonctl connects to an axon server as an observer, prints every
// record it receives and can send a MoveEvent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/QYUbit/Axon/internal/game"
	"github.com/QYUbit/Axon/internal/tlsutil"
	"github.com/QYUbit/Axon/pkg/axlog/slogadapter"
	"github.com/QYUbit/Axon/pkg/replication"
	"github.com/QYUbit/Axon/pkg/transport"
	quictransport "github.com/QYUbit/Axon/pkg/transport/quic"
	websockets "github.com/QYUbit/Axon/pkg/transport/websocket"
	wttransport "github.com/QYUbit/Axon/pkg/transport/webtransport"
	"github.com/QYUbit/Axon/pkg/typeid"
	"github.com/quic-go/quic-go"
)

type options struct {
	transport string
	addr      string
	path      string
	insecure  bool
	datagrams bool
	move      string
	timeout   time.Duration
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "axonctl:", err)
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	fs.StringVar(&opts.transport, "transport", "quic", "transport: quic | webtransport | websocket")
	fs.StringVar(&opts.addr, "addr", "127.0.0.1:4433", "server address")
	fs.StringVar(&opts.path, "path", "/axon", "http path for webtransport and websocket")
	fs.BoolVar(&opts.insecure, "insecure", false, "skip server certificate verification (needed for self-signed dev certificates)")
	fs.BoolVar(&opts.datagrams, "datagrams", true, "accept quic datagrams")
	fs.StringVar(&opts.move, "move", "", "send a MoveEvent \"x,y,r\" after connecting")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "dial timeout")
	err := fs.Parse(args)
	return opts, err
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	names := typeid.NewTable()
	if err := game.Claim(names); err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	peer, err := dial(dialCtx, opts)
	cancel()
	if err != nil {
		return err
	}
	defer peer.Close()

	if opts.move != "" {
		var ev game.MoveEvent
		if _, err := fmt.Sscanf(opts.move, "%g,%g,%g", &ev.X, &ev.Y, &ev.R); err != nil {
			return fmt.Errorf("parse -move: %w", err)
		}
		if err := replication.SendInvoke(peer, ev); err != nil {
			return fmt.Errorf("send move: %w", err)
		}
	}

	logger := slogadapter.New(nil)
	p := &printer{out: os.Stdout, names: names}
	m := replication.NewMirror(logger)

	err = replication.Observe(ctx, peer, m, p.printBatch, func(err error) {
		logger.Warn("malformed batch", "error", err)
	})

	fmt.Fprintf(os.Stdout, "mirrored %d entities\n", m.Len())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func dial(ctx context.Context, opts options) (transport.Peer, error) {
	switch opts.transport {
	case "quic":
		var conf *quic.Config
		if opts.datagrams {
			conf = &quic.Config{EnableDatagrams: true}
		}
		return quictransport.Dial(ctx, opts.addr, tlsutil.ClientConfig(opts.insecure), conf)
	case "webtransport":
		return wttransport.Dial(ctx, "https://"+opts.addr+opts.path, tlsutil.ClientConfig(opts.insecure))
	case "websocket":
		return websockets.Dial(ctx, "ws://"+opts.addr+opts.path)
	}
	return nil, fmt.Errorf("unknown transport %q", opts.transport)
}
