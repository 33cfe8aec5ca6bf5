// Package unixsock serves frames over a unix domain socket.
package unixsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/danmuck/vectord/internal/protocol/frame"
	"github.com/danmuck/vectord/internal/transport"
	"github.com/rs/zerolog/log"
)

type Listener struct {
	ln     *net.UnixListener
	path   string
	limits frame.Limits
}

var _ transport.Source = (*Listener)(nil)

// Listen binds path. A stale socket file left behind by a previous process
// is removed first; anything else at path is an error.
func Listen(path string, limits frame.Limits) (*Listener, error) {
	if err := removeStale(path); err != nil {
		return nil, err
	}
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("unixsock: listen %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)
	// The socket is shared with every local client process.
	if err := os.Chmod(path, 0o666); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("unixsock: chmod %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("unixsock.Listen")
	return &Listener{ln: ln, path: path, limits: limits}, nil
}

func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unixsock: stat %s: %w", path, err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("unixsock: %s exists and is not a socket", path)
	}
	conn, err := net.Dial("unix", path)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("unixsock: %s is in use", path)
	}
	log.Warn().Str("path", path).Msg("unixsock removing stale socket")
	return os.Remove(path)
}

func (l *Listener) Accept() (transport.Conn, error) {
	c, err := l.ln.AcceptUnix()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, transport.ErrSourceClosed
		}
		return nil, err
	}
	return transport.NewStreamConn(c, l.limits, peerLabel(c)), nil
}

func (l *Listener) Addr() string { return l.path }

func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial connects to the socket at path.
func Dial(ctx context.Context, path string, limits frame.Limits) (transport.Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("unixsock: dial %s: %w", path, err)
	}
	return transport.NewStreamConn(c, limits, "unix:"+path), nil
}
