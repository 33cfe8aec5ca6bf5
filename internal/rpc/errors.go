package rpc

import (
	"errors"
	"fmt"

	"github.com/danmuck/vectord/internal/protocol/message"
)

var (
	// ErrHandleSpent is returned when a handle that already advanced is used
	// again. The transport is not touched.
	ErrHandleSpent = errors.New("rpc: protocol handle already used")
	// ErrInvalidHandle is returned by zero-value handles.
	ErrInvalidHandle = errors.New("rpc: invalid protocol handle")
	// ErrDesync means the peer sent a frame the protocol state does not
	// allow. The session cannot continue.
	ErrDesync = errors.New("rpc: protocol desynchronized")
	// ErrStreamOpen is returned by Client calls made while a Stream is open.
	ErrStreamOpen = errors.New("rpc: vbase stream is open")
	// ErrStreamClosed is returned by a Stream after Leave.
	ErrStreamClosed = errors.New("rpc: vbase stream is closed")
)

// RemoteError is an operation error reported by the server.
type RemoteError = message.RemoteError

func desync(err error) error {
	if errors.Is(err, ErrDesync) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDesync, err)
}
