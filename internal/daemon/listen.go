package daemon

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/vectord/internal/observability"
	"github.com/danmuck/vectord/internal/transport"
	"github.com/danmuck/vectord/internal/worker"
	"github.com/rs/zerolog/log"
)

// registry tracks live sessions so shutdown can close and wait for them.
type registry struct {
	mu     sync.Mutex
	conns  map[transport.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func newRegistry() *registry {
	return &registry{conns: make(map[transport.Conn]struct{})}
}

func (r *registry) add(c transport.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conns[c] = struct{}{}
	r.wg.Add(1)
	return true
}

func (r *registry) remove(c transport.Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	r.wg.Done()
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// shutdown refuses new sessions, closes live ones and waits for their
// goroutines to exit.
func (r *registry) shutdown() {
	r.mu.Lock()
	r.closed = true
	for c := range r.conns {
		_ = c.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Listen accepts connections from src until it is closed and serves each
// one on its own goroutine. Accept failures are retried with backoff.
func Listen(src transport.Source, w worker.Worker, backoff BackoffConfig) error {
	return listen(src, w, backoff, newRegistry())
}

func listen(src transport.Source, w worker.Worker, backoff BackoffConfig, reg *registry) error {
	name := transportName(src)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	log.Info().Str("addr", src.Addr()).Msg("daemon.Listen accepting")
	for {
		conn, err := src.Accept()
		if errors.Is(err, transport.ErrSourceClosed) {
			log.Info().Str("addr", src.Addr()).Msg("daemon.Listen closed")
			return nil
		}
		if err != nil {
			attempt++
			observability.RecordAcceptError(name)
			delay := NextBackoffDelay(backoff, attempt, rng)
			log.Warn().Err(err).Str("addr", src.Addr()).Int("attempt", attempt).Dur("retry_in", delay).
				Msg("daemon.Listen accept failed")
			time.Sleep(delay)
			continue
		}
		attempt = 0
		if !reg.add(conn) {
			_ = conn.Close()
			continue
		}
		log.Debug().Str("peer", conn.Peer()).Int("active_sessions", reg.count()).Msg("daemon.Listen client connected")
		go func() {
			defer reg.remove(conn)
			serveSession(w, conn, name)
		}()
	}
}

func transportName(src transport.Source) string {
	if strings.HasPrefix(src.Addr(), "ring:") {
		return "ring"
	}
	return "unix"
}
