// Package daemon hosts the session driver and the service that feeds it
// connections from every enabled transport.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/danmuck/vectord/internal/observability"
	"github.com/danmuck/vectord/internal/rpc"
	"github.com/danmuck/vectord/internal/transport"
	"github.com/danmuck/vectord/internal/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session serves requests from conn against w until the client disconnects
// between requests, which returns nil, or the session fails.
func Session(w worker.Worker, conn transport.Conn) error {
	return drive(w, conn, log.Logger)
}

func drive(w worker.Worker, conn transport.Conn, lg zerolog.Logger) error {
	h := rpc.NewHandler(conn)
	for {
		req, err := h.Handle()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		start := time.Now()
		var kind string
		var opErr error

		switch r := req.(type) {
		case rpc.Create:
			kind = "create"
			if opErr = w.Create(r.ID, r.Options); opErr != nil {
				lg.Warn().Err(opErr).Uint64("index_id", uint64(r.ID)).Msg("daemon.Session create failed")
			}
			h, err = r.X.Leave()
		case rpc.Insert:
			kind = "insert"
			opErr = w.Insert(r.ID, r.Insert)
			h, err = r.X.Leave(opErr)
		case rpc.Delete:
			kind = "delete"
			var n uint64
			n, opErr = w.Delete(r.ID, counted(kind, r.X.Next))
			h, err = r.X.Leave(n, opErr)
		case rpc.Search:
			kind = "search"
			var filter worker.Decider = worker.AcceptAll
			if r.Prefilter {
				filter = counted(kind, r.X.Check)
			}
			var res []worker.Neighbor
			res, opErr = w.Search(r.ID, r.Search, filter)
			h, err = r.X.Leave(res, opErr)
		case rpc.Flush:
			kind = "flush"
			opErr = w.Flush(r.ID)
			h, err = r.X.Leave(opErr)
		case rpc.Destroy:
			kind = "destroy"
			w.Destroy(r.IDs)
			h, err = r.X.Leave()
		case rpc.Stat:
			kind = "stat"
			var st worker.Stat
			st, opErr = w.Stat(r.ID)
			h, err = r.X.Leave(st, opErr)
		case rpc.Vbase:
			kind = "vbase"
			var it worker.Iterator
			if it, opErr = openStream(w, r.ID, r.Vector); opErr != nil {
				// the session goes back to waiting for requests
				h, err = r.X.Reject(opErr)
				break
			}
			h, err = stream(it, r.X)
		default:
			return fmt.Errorf("daemon: unhandled request %T", req)
		}

		observability.RecordRequest(kind, time.Since(start), opErr == nil)
		if opErr != nil {
			lg.Debug().Err(opErr).Str("kind", kind).Msg("daemon.Session request failed")
		}
		if err != nil {
			return err
		}
	}
}

func counted(kind string, ask func(worker.Payload) (bool, error)) worker.Decider {
	return func(p worker.Payload) (bool, error) {
		observability.RecordCallback(kind)
		return ask(p)
	}
}

// stream answers Next steps from it until the client leaves.
func stream(it worker.Iterator, x rpc.VbaseHandle) (rpc.Handler, error) {
	loop, err := x.Accept()
	if err != nil {
		return rpc.Handler{}, err
	}
	for {
		st, err := loop.Handle()
		if errors.Is(err, io.EOF) {
			return rpc.Handler{}, io.ErrUnexpectedEOF
		}
		if err != nil {
			return rpc.Handler{}, err
		}
		switch s := st.(type) {
		case rpc.VbaseNext:
			n, ok := it.Next()
			if loop, err = s.X.Leave(n, ok); err != nil {
				return rpc.Handler{}, err
			}
		case rpc.VbaseLeave:
			return s.X, nil
		}
	}
}

func openStream(w worker.Worker, id worker.IndexID, q []float32) (worker.Iterator, error) {
	inst, err := w.Instance(id)
	if err != nil {
		return nil, err
	}
	return inst.View().Vbase(q)
}

// serveSession runs one session to completion and always closes conn. A
// panic ends this session only.
func serveSession(w worker.Worker, conn transport.Conn, transportName string) {
	id := uuid.NewString()
	lg := observability.SessionLogger(id, transportName, conn.Peer())
	done := observability.RecordSessionStart(transportName)
	cause := "eof"
	defer func() {
		if r := recover(); r != nil {
			cause = "panic"
			lg.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("daemon.session panicked")
		}
		_ = conn.Close()
		done(cause)
		lg.Debug().Str("cause", cause).Msg("daemon.session closed")
	}()

	lg.Info().Msg("daemon.session started")
	err := drive(w, conn, lg)
	cause = terminationCause(err)
	switch cause {
	case "eof":
	case "desync":
		lg.Warn().Err(err).Msg("daemon.session protocol error")
	case "error":
		lg.Warn().Err(err).Msg("daemon.session failed")
	default:
		lg.Debug().Err(err).Str("cause", cause).Msg("daemon.session ended")
	}
}

// terminationCause labels why drive returned.
func terminationCause(err error) string {
	switch {
	case err == nil:
		return "eof"
	case errors.Is(err, rpc.ErrDesync):
		return "desync"
	case errors.Is(err, net.ErrClosed):
		// closed on our side, by shutdown
		return "shutdown"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return "disconnect"
	default:
		return "error"
	}
}
