// Package transport carries frames between a client and a session.
//
// Two transports exist: unixsock streams frames over a local socket and ring
// passes them through bounded lock-free queues inside one process. Sessions
// see only Conn and never learn which one they run on.
package transport

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/danmuck/vectord/internal/protocol/frame"
)

// ErrSourceClosed is returned by Source.Accept once the source is closed.
var ErrSourceClosed = errors.New("transport: source closed")

// Conn is one bidirectional, ordered, reliable frame channel. Recv returns
// io.EOF when the peer has gone away cleanly.
type Conn interface {
	Send(f frame.Frame) error
	Recv() (frame.Frame, error)
	Close() error
	// Peer labels the remote end for logs.
	Peer() string
}

// Source yields accepted connections.
type Source interface {
	Accept() (Conn, error)
	Addr() string
	Close() error
}

// StreamConn frames messages over a byte stream.
type StreamConn struct {
	rwc    io.ReadWriteCloser
	r      *bufio.Reader
	w      *bufio.Writer
	limits frame.Limits
	peer   string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewStreamConn(rwc io.ReadWriteCloser, limits frame.Limits, peer string) *StreamConn {
	return &StreamConn{
		rwc:    rwc,
		r:      bufio.NewReader(rwc),
		w:      bufio.NewWriter(rwc),
		limits: limits,
		peer:   peer,
	}
}

func (c *StreamConn) Send(f frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := frame.WriteFrame(c.w, f, c.limits); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *StreamConn) Recv() (frame.Frame, error) {
	return frame.ReadFrame(c.r, c.limits)
}

func (c *StreamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

func (c *StreamConn) Peer() string { return c.peer }
