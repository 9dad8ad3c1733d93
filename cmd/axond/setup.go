package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/QYUbit/Axon/internal/config"
	"github.com/QYUbit/Axon/internal/tlsutil"
	"github.com/QYUbit/Axon/pkg/axlog"
	"github.com/QYUbit/Axon/pkg/axlog/slogadapter"
	"github.com/QYUbit/Axon/pkg/axlog/zerologadapter"
	"github.com/QYUbit/Axon/pkg/transport"
	quictransport "github.com/QYUbit/Axon/pkg/transport/quic"
	websockets "github.com/QYUbit/Axon/pkg/transport/websocket"
	wttransport "github.com/QYUbit/Axon/pkg/transport/webtransport"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"github.com/rs/zerolog"
)

// serverTransport is what every concrete transport offers beyond
// transport.Transport.
type serverTransport interface {
	transport.Transport
	Addr() net.Addr
	SetMaxMessageSize(n int)
}

func newLogger(cfg config.Config) (axlog.Logger, error) {
	switch cfg.LogFormat {
	case "json":
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		return zerologadapter.New(zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()), nil

	default:
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		return slogadapter.NewText(os.Stderr, level), nil
	}
}

func newTransport(cfg config.Config) (serverTransport, error) {
	var tr serverTransport

	switch cfg.Transport {
	case config.TransportQUIC:
		tlsConf, err := tlsutil.Load(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		tr = quictransport.NewQuicTransport(cfg.Listen, tlsConf, &quic.Config{
			EnableDatagrams: cfg.Datagrams,
			KeepAlivePeriod: 10 * time.Second,
		})

	case config.TransportWebTransport:
		tlsConf, err := tlsutil.Load(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		mux := http.NewServeMux()
		wt := wttransport.NewWebTransport(&webtransport.Server{
			H3: http3.Server{
				Addr:      cfg.Listen,
				TLSConfig: tlsConf,
				Handler:   mux,
			},
		})
		mux.Handle(cfg.Path, wt)
		tr = wt

	case config.TransportWebSocket:
		tr = websockets.NewTransport(cfg.Listen, cfg.Path)

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	tr.SetMaxMessageSize(cfg.MaxMessageSize)
	return tr, nil
}

func listenAddr(tr serverTransport, cfg config.Config) string {
	if addr := tr.Addr(); addr != nil {
		return addr.String()
	}
	return cfg.Listen
}
