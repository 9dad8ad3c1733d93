// Command axond serves the demo game over QUIC, WebTransport or WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/QYUbit/Axon/internal/config"
	"github.com/QYUbit/Axon/internal/game"
	"github.com/QYUbit/Axon/pkg/replication"
	"github.com/QYUbit/Axon/pkg/snapshot"
	"github.com/QYUbit/Axon/pkg/transport"
	"github.com/QYUbit/Axon/pkg/typeid"
	"github.com/pkg/profile"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "axond:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file")
	profileMode := flag.String("profile", "", "write a profile to the working directory: cpu | mem")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		return fmt.Errorf("unknown profile mode %q", *profileMode)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	if err := game.Claim(typeid.NewTable()); err != nil {
		return fmt.Errorf("claim type ids: %w", err)
	}

	tr, err := newTransport(cfg)
	if err != nil {
		return err
	}

	log := snapshot.New(logger)
	g := game.New(log, logger)

	opts := replication.DefaultOptions()
	opts.SnapshotOnConnect = cfg.SnapshotOnConnect
	server := replication.NewServer[*game.Game](tr, log, logger, opts)
	game.Install(server)
	g.Attach(server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tr.Start(ctx); err != nil {
		return err
	}
	logger.Info("axond listening",
		"transport", cfg.Transport,
		"addr", listenAddr(tr, cfg),
		"tickRate", cfg.TickRate,
	)

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		err := g.Engine().Run(ctx, cfg.TickInterval(), func(ctx context.Context) {
			server.Tick(ctx, g)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	grp.Go(func() error {
		<-ctx.Done()
		if err := tr.Close(); err != nil && !errors.Is(err, transport.ErrTransportClosed) {
			return fmt.Errorf("close transport: %w", err)
		}
		return nil
	})

	err = grp.Wait()

	st := server.Stats()
	logger.Info("axond stopped",
		"messages", st.Messages,
		"invokes", st.Invokes,
		"misses", st.Misses,
		"malformed", st.Malformed,
		"batches", st.Batches,
		"bytesSent", st.BytesSent,
	)
	return err
}
