// Package config loads the daemon configuration from an optional TOML file
// and AXON_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	TransportQUIC         = "quic"
	TransportWebTransport = "webtransport"
	TransportWebSocket    = "websocket"
)

type Config struct {
	Listen    string `toml:"listen" env:"AXON_LISTEN"`
	Transport string `toml:"transport" env:"AXON_TRANSPORT"`
	// Path is the HTTP path for the webtransport and websocket transports.
	Path string `toml:"path" env:"AXON_PATH"`

	TickRate int `toml:"tick_rate" env:"AXON_TICK_RATE"`

	// Empty CertFile and KeyFile mean a self-signed certificate.
	CertFile string `toml:"cert_file" env:"AXON_CERT_FILE"`
	KeyFile  string `toml:"key_file" env:"AXON_KEY_FILE"`

	LogLevel  string `toml:"log_level" env:"AXON_LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"AXON_LOG_FORMAT"`

	SnapshotOnConnect bool `toml:"snapshot_on_connect" env:"AXON_SNAPSHOT_ON_CONNECT"`
	Datagrams         bool `toml:"datagrams" env:"AXON_DATAGRAMS"`
	MaxMessageSize    int  `toml:"max_message_size" env:"AXON_MAX_MESSAGE_SIZE"`
}

func Default() Config {
	return Config{
		Listen:            "127.0.0.1:4433",
		Transport:         TransportQUIC,
		Path:              "/axon",
		TickRate:          30,
		LogLevel:          "info",
		LogFormat:         "text",
		SnapshotOnConnect: true,
		Datagrams:         true,
		MaxMessageSize:    1 << 20,
	}
}

// Load starts from Default, applies the TOML file at path when path is not
// empty, then the environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("load config: unknown keys %s", strings.Join(keys, ", "))
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Listen = strings.TrimSpace(c.Listen)
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

func (c Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}

	switch c.Transport {
	case TransportQUIC, TransportWebTransport, TransportWebSocket:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}

	if c.Transport != TransportQUIC && !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("path must start with /, got %q", c.Path))
	}

	if c.TickRate <= 0 || c.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate must be in 1..1000, got %d", c.TickRate))
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("cert_file and key_file must be set together"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}

	if c.MaxMessageSize < 64 {
		errs = append(errs, fmt.Errorf("max_message_size must be at least 64, got %d", c.MaxMessageSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
