package daemon

import (
	"errors"
	"strings"

	"github.com/danmuck/vectord/internal/protocol/frame"
	"github.com/danmuck/vectord/internal/transport/ring"
)

var (
	ErrNoTransport        = errors.New("daemon: no transport enabled")
	ErrInvalidRingSize    = errors.New("daemon: ring capacity must be positive")
	ErrInvalidPayloadSize = errors.New("daemon: max payload bytes must be positive")
	ErrInvalidBackoff     = errors.New("daemon: invalid accept backoff")
)

// ServiceConfig configures the daemon runtime.
type ServiceConfig struct {
	// DataDir holds the index catalog. Empty keeps every index in memory.
	DataDir         string
	SocketPath      string
	RingEnabled     bool
	RingName        string
	RingCapacity    int
	RingBacklog     int
	MaxPayloadBytes uint64
	MetricsAddr     string
	AcceptBackoff   BackoffConfig
	// Version is reported by /health.
	Version string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DataDir:         "pg_vectors",
		SocketPath:      "vectord.sock",
		RingEnabled:     true,
		RingName:        "vectord",
		RingCapacity:    ring.DefaultCapacity,
		RingBacklog:     16,
		MaxPayloadBytes: frame.DefaultLimits().MaxPayloadBytes,
		AcceptBackoff:   DefaultBackoffConfig(),
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.SocketPath) == "" && !c.RingEnabled {
		return ErrNoTransport
	}
	if c.RingEnabled && (c.RingCapacity <= 0 || c.RingBacklog <= 0) {
		return ErrInvalidRingSize
	}
	if c.MaxPayloadBytes == 0 {
		return ErrInvalidPayloadSize
	}
	b := c.AcceptBackoff
	if b.InitialDelay < 0 || b.MaxDelay < 0 || (b.MaxDelay > 0 && b.MaxDelay < b.InitialDelay) {
		return ErrInvalidBackoff
	}
	return nil
}

func (c ServiceConfig) limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
}
