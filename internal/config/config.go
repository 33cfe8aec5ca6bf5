// Package config loads the daemon TOML file onto the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/vectord/internal/daemon"
)

var (
	ErrInvalidDuration = errors.New("config: invalid duration")
	ErrInvalidLogLevel = errors.New("config: invalid log level")
)

// Config is everything vectord reads from its config file.
type Config struct {
	Service daemon.ServiceConfig
	// LogLevel overrides the logging profile and VECTORD_LOG_LEVEL. Empty
	// leaves both in effect.
	LogLevel string
}

type fileConfig struct {
	DataDir         string        `toml:"data_dir"`
	SocketPath      string        `toml:"socket_path"`
	RingEnabled     bool          `toml:"ring_enabled"`
	RingCapacity    int           `toml:"ring_capacity"`
	RingBacklog     int           `toml:"ring_backlog"`
	MaxPayloadBytes uint64        `toml:"max_payload_bytes"`
	MetricsAddr     string        `toml:"metrics_addr"`
	LogLevel        string        `toml:"log_level"`
	AcceptBackoff   backoffConfig `toml:"accept_backoff"`
}

type backoffConfig struct {
	Initial    string  `toml:"initial"`
	Max        string  `toml:"max"`
	Multiplier float64 `toml:"multiplier"`
	Jitter     bool    `toml:"jitter"`
}

func Default() Config {
	return Config{Service: daemon.DefaultServiceConfig()}
}

// Load decodes path and applies every key it defines onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load vectord config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load vectord config: unknown key %q", undecoded[0].String())
	}

	svc := &cfg.Service
	if meta.IsDefined("data_dir") {
		svc.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("socket_path") {
		svc.SocketPath = strings.TrimSpace(raw.SocketPath)
	}
	if meta.IsDefined("ring_enabled") {
		svc.RingEnabled = raw.RingEnabled
	}
	if meta.IsDefined("ring_capacity") {
		svc.RingCapacity = raw.RingCapacity
	}
	if meta.IsDefined("ring_backlog") {
		svc.RingBacklog = raw.RingBacklog
	}
	if meta.IsDefined("max_payload_bytes") {
		svc.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("metrics_addr") {
		svc.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}

	if meta.IsDefined("accept_backoff", "initial") {
		d, err := parseDuration("accept_backoff.initial", raw.AcceptBackoff.Initial)
		if err != nil {
			return Config{}, err
		}
		svc.AcceptBackoff.InitialDelay = d
	}
	if meta.IsDefined("accept_backoff", "max") {
		d, err := parseDuration("accept_backoff.max", raw.AcceptBackoff.Max)
		if err != nil {
			return Config{}, err
		}
		svc.AcceptBackoff.MaxDelay = d
	}
	if meta.IsDefined("accept_backoff", "multiplier") {
		svc.AcceptBackoff.Multiplier = raw.AcceptBackoff.Multiplier
	}
	if meta.IsDefined("accept_backoff", "jitter") {
		svc.AcceptBackoff.Jitter = raw.AcceptBackoff.Jitter
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return c.Service.Validate()
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidDuration, key, err)
	}
	return d, nil
}
