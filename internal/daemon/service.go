package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/vectord/internal/observability"
	"github.com/danmuck/vectord/internal/storage"
	"github.com/danmuck/vectord/internal/transport"
	"github.com/danmuck/vectord/internal/transport/ring"
	"github.com/danmuck/vectord/internal/transport/unixsock"
	"github.com/danmuck/vectord/internal/worker"
	"github.com/rs/zerolog/log"
)

var (
	ErrRingDisabled = errors.New("daemon: ring transport disabled")
	ErrNotRunning   = errors.New("daemon: service not running")
	ErrRunning      = errors.New("daemon: service already started")
)

// CatalogFile is the catalog database name inside DataDir.
const CatalogFile = "catalog.db"

// Service runs the daemon: one worker shared by every session on every
// enabled transport.
type Service struct {
	cfg ServiceConfig

	mu          sync.Mutex
	started     bool
	ring        *ring.Listener
	metricsAddr string
	ready       chan struct{}
	sessions    *registry
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		cfg:      cfg,
		ready:    make(chan struct{}),
		sessions: newRegistry(),
	}
}

// Run serves until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Ready is closed once every transport is accepting.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// DialRing opens an in-process session over the ring transport.
func (s *Service) DialRing() (transport.Conn, error) {
	s.mu.Lock()
	l, started := s.ring, s.started
	s.mu.Unlock()
	if !started {
		return nil, ErrNotRunning
	}
	if l == nil {
		return nil, ErrRingDisabled
	}
	return l.Dial()
}

// MetricsAddr returns the bound metrics address, or "" when metrics are off.
func (s *Service) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// Serve opens the worker, starts every enabled source and blocks until ctx
// is done or a source fails. Live sessions are closed before it returns.
func (s *Service) Serve(ctx context.Context) (err error) {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrRunning
	}
	s.started = true
	s.mu.Unlock()

	serving := false
	defer func() {
		if !serving {
			s.mu.Lock()
			s.started = false
			s.ring = nil
			s.metricsAddr = ""
			s.mu.Unlock()
		}
	}()

	w, closeStore, err := openWorker(ctx, s.cfg.DataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	var sources []transport.Source
	defer func() {
		for _, src := range sources {
			_ = src.Close()
		}
	}()
	limits := s.cfg.limits()
	if path := strings.TrimSpace(s.cfg.SocketPath); path != "" {
		ln, err := unixsock.Listen(path, limits)
		if err != nil {
			return err
		}
		sources = append(sources, ln)
	}
	if s.cfg.RingEnabled {
		ln := ring.NewListener(s.cfg.RingName, s.cfg.RingCapacity, s.cfg.RingBacklog, limits)
		s.mu.Lock()
		s.ring = ln
		s.mu.Unlock()
		sources = append(sources, ln)
	}

	var metrics *http.Server
	if addr := strings.TrimSpace(s.cfg.MetricsAddr); addr != "" {
		ml, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("daemon: metrics listen %s: %w", addr, err)
		}
		metrics = &http.Server{Handler: observability.NewRouter(s.cfg.Version), ReadHeaderTimeout: 5 * time.Second}
		s.mu.Lock()
		s.metricsAddr = ml.Addr().String()
		s.mu.Unlock()
		go func() {
			if err := metrics.Serve(ml); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("daemon.Service metrics server failed")
			}
		}()
		log.Info().Str("addr", ml.Addr().String()).Msg("daemon.Service metrics enabled")
	}

	listenErr := make(chan error, len(sources))
	var listeners sync.WaitGroup
	for _, src := range sources {
		listeners.Add(1)
		go func() {
			defer listeners.Done()
			listenErr <- listen(src, w, s.cfg.AcceptBackoff, s.sessions)
		}()
	}
	serving = true
	close(s.ready)
	log.Info().
		Str("data_dir", s.cfg.DataDir).
		Int("transports", len(sources)).
		Msg("daemon.Service ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("daemon.Service shutdown")
	case err = <-listenErr:
		log.Error().Err(err).Msg("daemon.Service listener stopped")
	}

	for _, src := range sources {
		_ = src.Close()
	}
	sources = nil
	listeners.Wait()
	s.sessions.shutdown()
	if metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	}
	return err
}

// openWorker opens the catalog under dir, creating it when missing. An empty
// dir gives a memory-only worker.
func openWorker(ctx context.Context, dir string) (worker.Worker, func(), error) {
	if strings.TrimSpace(dir) == "" {
		log.Warn().Msg("daemon.Service no data_dir, indexes are kept in memory only")
		return worker.NewLocal(), func() {}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("daemon: create data dir: %w", err)
	}
	store, err := storage.Open(ctx, filepath.Join(dir, CatalogFile))
	if err != nil {
		return nil, nil, err
	}
	w, err := worker.Open(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return w, func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("daemon.Service closing catalog")
		}
	}, nil
}
