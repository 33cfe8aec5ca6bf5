package rpc

import (
	"errors"

	"github.com/danmuck/vectord/internal/protocol/message"
	"github.com/danmuck/vectord/internal/protocol/schema"
	"github.com/danmuck/vectord/internal/protocol/tlv"
	"github.com/danmuck/vectord/internal/transport"
	"github.com/danmuck/vectord/internal/worker"
)

// Client drives one session from the client side. Calls are sequential; a
// Client must not be shared between goroutines without external locking.
//
// Operation failures come back as *RemoteError and leave the client usable.
// Transport and protocol failures are sticky: every later call returns the
// same error.
type Client struct {
	conn   transport.Conn
	nextID uint64
	stream *Stream
	err    error
}

func NewClient(conn transport.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) broke(err error) error {
	if c.err == nil {
		c.err = err
	}
	return c.err
}

func (c *Client) ready() error {
	if c.err != nil {
		return c.err
	}
	if c.stream != nil {
		return ErrStreamOpen
	}
	return nil
}

func (c *Client) id() uint64 {
	c.nextID++
	return c.nextID
}

// call sends req and waits for its reply, answering candidates with decide
// along the way.
func (c *Client) call(req message.Request, decide func(worker.Payload) bool) ([]tlv.Field, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	id := c.id()
	f, err := message.EncodeRequest(id, req)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(f); err != nil {
		return nil, c.broke(err)
	}
	for {
		in, err := c.conn.Recv()
		if err != nil {
			return nil, c.broke(err)
		}
		if in.Header.MessageType == schema.MsgCandidate && !in.Header.IsResponse() {
			if decide == nil {
				return nil, c.broke(desync(message.ErrUnexpectedMessage))
			}
			seq, p, err := message.DecodeCandidate(in)
			if err != nil {
				return nil, c.broke(desync(err))
			}
			if err := c.conn.Send(message.Decision(seq, decide(p))); err != nil {
				return nil, c.broke(err)
			}
			continue
		}
		fields, err := message.OpenReply(in, req.MessageType(), id)
		var remote *RemoteError
		if errors.As(err, &remote) {
			return nil, err
		}
		if err != nil {
			return nil, c.broke(desync(err))
		}
		return fields, nil
	}
}

// Create asks the server to create an index. The acknowledgement carries no
// outcome; use Stat to confirm the index exists.
func (c *Client) Create(id worker.IndexID, opts worker.IndexOptions) error {
	_, err := c.call(message.Create{ID: id, Options: opts}, nil)
	return err
}

func (c *Client) Insert(id worker.IndexID, ins worker.Insert) error {
	_, err := c.call(message.Insert{ID: id, Insert: ins}, nil)
	return err
}

// Delete removes every record decide accepts. decide is called once per
// record the server visits.
func (c *Client) Delete(id worker.IndexID, decide func(worker.Payload) bool) (uint64, error) {
	fields, err := c.call(message.Delete{ID: id}, decide)
	if err != nil {
		return 0, err
	}
	n, err := message.DecodeDeleted(fields)
	if err != nil {
		return 0, c.broke(desync(err))
	}
	return n, nil
}

// Search returns up to s.K nearest neighbours. With prefilter set, check is
// consulted for each visited candidate; otherwise it is never called and
// may be nil.
func (c *Client) Search(id worker.IndexID, s worker.Search, prefilter bool, check func(worker.Payload) bool) ([]worker.Neighbor, error) {
	if !prefilter {
		check = nil
	}
	fields, err := c.call(message.Search{ID: id, Search: s, Prefilter: prefilter}, check)
	if err != nil {
		return nil, err
	}
	res, err := message.DecodeNeighbors(fields)
	if err != nil {
		return nil, c.broke(desync(err))
	}
	return res, nil
}

func (c *Client) Flush(id worker.IndexID) error {
	_, err := c.call(message.Flush{ID: id}, nil)
	return err
}

func (c *Client) Destroy(ids []worker.IndexID) error {
	_, err := c.call(message.Destroy{IDs: ids}, nil)
	return err
}

func (c *Client) Stat(id worker.IndexID) (worker.Stat, error) {
	fields, err := c.call(message.Stat{ID: id}, nil)
	if err != nil {
		return worker.Stat{}, err
	}
	st, err := message.DecodeStat(fields)
	if err != nil {
		return worker.Stat{}, c.broke(desync(err))
	}
	return st, nil
}

// Vbase opens a nearest-first traversal from q. The client is reserved for
// the stream until Stream.Leave.
func (c *Client) Vbase(id worker.IndexID, q []float32) (*Stream, error) {
	if _, err := c.call(message.Vbase{ID: id, Vector: q}, nil); err != nil {
		return nil, err
	}
	c.stream = &Stream{c: c}
	return c.stream, nil
}

// Stream is an open Vbase traversal.
type Stream struct {
	c      *Client
	closed bool
}

// Next pulls one neighbour. ok=false means the traversal is exhausted; the
// stream stays open until Leave.
func (s *Stream) Next() (worker.Neighbor, bool, error) {
	if s.closed {
		return worker.Neighbor{}, false, ErrStreamClosed
	}
	c := s.c
	if c.err != nil {
		return worker.Neighbor{}, false, c.err
	}
	id := c.id()
	if err := c.conn.Send(message.VbaseStep(id, true)); err != nil {
		return worker.Neighbor{}, false, c.broke(err)
	}
	in, err := c.conn.Recv()
	if err != nil {
		return worker.Neighbor{}, false, c.broke(err)
	}
	fields, err := message.OpenReply(in, schema.MsgVbaseNext, id)
	if err != nil {
		return worker.Neighbor{}, false, c.broke(desync(err))
	}
	n, ok, err := message.DecodeVbaseItem(fields)
	if err != nil {
		return worker.Neighbor{}, false, c.broke(desync(err))
	}
	return n, ok, nil
}

// Leave closes the stream and frees the client for other calls. Leaving
// twice is a no-op.
func (s *Stream) Leave() error {
	if s.closed {
		return nil
	}
	s.closed = true
	c := s.c
	c.stream = nil
	if c.err != nil {
		return c.err
	}
	if err := c.conn.Send(message.VbaseStep(c.id(), false)); err != nil {
		return c.broke(err)
	}
	return nil
}
