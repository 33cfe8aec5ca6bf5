// Package ring passes frames between two endpoints in one process through
// bounded lock-free SPSC queues, one per direction.
//
// Frames are marshalled with the same codec as the socket transport, so a
// session behaves identically on either. Blocking is done by polling with
// adaptive backoff; no goroutines or channels sit on the data path.
package ring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/danmuck/vectord/internal/protocol/frame"
	"github.com/danmuck/vectord/internal/transport"
)

const DefaultCapacity = 64

// pair is both directions plus the shared close counter in one allocation.
type pair struct {
	closed atomix.Uint32
	ab     lfq.SPSC[[]byte]
	ba     lfq.SPSC[[]byte]
}

// Conn is one end of a ring pair. Send and Recv may each be used by one
// goroutine at a time.
type Conn struct {
	p      *pair
	sendQ  *lfq.SPSC[[]byte]
	recvQ  *lfq.SPSC[[]byte]
	limits frame.Limits
	peer   string

	sendMu    sync.Mutex
	recvMu    sync.Mutex
	closeOnce sync.Once
}

var _ transport.Conn = (*Conn)(nil)

// Pair returns two connected ends. capacity is the number of frames each
// direction can buffer before Send waits.
func Pair(capacity int, limits frame.Limits, label string) (*Conn, *Conn) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &pair{}
	p.ab.Init(capacity)
	p.ba.Init(capacity)
	a := &Conn{p: p, sendQ: &p.ab, recvQ: &p.ba, limits: limits, peer: label + "/client"}
	b := &Conn{p: p, sendQ: &p.ba, recvQ: &p.ab, limits: limits, peer: label + "/server"}
	return a, b
}

func (c *Conn) isClosed() bool {
	return c.p.closed.Load() != 0
}

func (c *Conn) Send(f frame.Frame) error {
	buf, err := frame.Marshal(f, c.limits)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var bo iox.Backoff
	for {
		if c.isClosed() {
			return io.ErrClosedPipe
		}
		err := c.sendQ.Enqueue(&buf)
		if err == nil {
			return nil
		}
		if !iox.IsWouldBlock(err) {
			return fmt.Errorf("ring: enqueue: %w", err)
		}
		bo.Wait()
	}
}

// Recv waits for the next frame. After either end closes, frames already
// queued are still delivered, then io.EOF.
func (c *Conn) Recv() (frame.Frame, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	var bo iox.Backoff
	for {
		buf, err := c.recvQ.Dequeue()
		if err == nil {
			return frame.ReadFrame(bytes.NewReader(buf), c.limits)
		}
		if !iox.IsWouldBlock(err) {
			return frame.Frame{}, fmt.Errorf("ring: dequeue: %w", err)
		}
		if c.isClosed() {
			// The peer may have enqueued just before closing.
			if buf, err := c.recvQ.Dequeue(); err == nil {
				return frame.ReadFrame(bytes.NewReader(buf), c.limits)
			}
			return frame.Frame{}, io.EOF
		}
		bo.Wait()
	}
}

// Close marks the pair closed for both ends.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.p.closed.Add(1)
	})
	return nil
}

func (c *Conn) Peer() string { return c.peer }

// Listener hands server ends of freshly dialed pairs to Accept.
type Listener struct {
	name     string
	capacity int
	limits   frame.Limits
	pending  chan *Conn
	done     chan struct{}
	once     sync.Once

	mu     sync.Mutex
	serial uint64
}

var _ transport.Source = (*Listener)(nil)

var ErrBacklogFull = errors.New("ring: accept backlog full")

func NewListener(name string, capacity, backlog int, limits frame.Limits) *Listener {
	if backlog <= 0 {
		backlog = 16
	}
	return &Listener{
		name:     name,
		capacity: capacity,
		limits:   limits,
		pending:  make(chan *Conn, backlog),
		done:     make(chan struct{}),
	}
}

// Dial creates a pair, queues the server end for Accept and returns the
// client end.
func (l *Listener) Dial() (transport.Conn, error) {
	select {
	case <-l.done:
		return nil, transport.ErrSourceClosed
	default:
	}
	l.mu.Lock()
	l.serial++
	label := fmt.Sprintf("ring:%s#%d", l.name, l.serial)
	l.mu.Unlock()

	client, server := Pair(l.capacity, l.limits, label)
	select {
	case l.pending <- server:
		select {
		case <-l.done:
			// Close may have drained the backlog before our send landed.
			_ = client.Close()
			return nil, transport.ErrSourceClosed
		default:
		}
		return client, nil
	case <-l.done:
		return nil, transport.ErrSourceClosed
	default:
		return nil, ErrBacklogFull
	}
}

func (l *Listener) Accept() (transport.Conn, error) {
	select {
	case c := <-l.pending:
		return c, nil
	case <-l.done:
		return nil, transport.ErrSourceClosed
	}
}

func (l *Listener) Addr() string { return "ring:" + l.name }

// Close stops Accept and Dial. Pairs never accepted are closed so their
// client ends see io.EOF.
func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.done)
		for {
			select {
			case c := <-l.pending:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return nil
}
