// Package rpc implements both ends of the session protocol.
//
// The server side is a chain of single-use handles. Each handle is the right
// to perform exactly one protocol step; performing it returns the handle for
// the next state. Holding a handle of the wrong type is how the protocol
// state is encoded, so a session loop cannot reply twice, skip a reply, or
// answer a callback that was never asked.
//
// Handles are small values and may be copied, but every copy shares one
// token: once any copy advances, all of them return ErrHandleSpent.
package rpc

import (
	"github.com/danmuck/vectord/internal/protocol/frame"
	"github.com/danmuck/vectord/internal/protocol/message"
	"github.com/danmuck/vectord/internal/protocol/schema"
	"github.com/danmuck/vectord/internal/protocol/tlv"
	"github.com/danmuck/vectord/internal/transport"
	"github.com/danmuck/vectord/internal/worker"
	"github.com/rs/zerolog/log"
)

// link is the per-session state every handle of that session shares.
type link struct {
	conn transport.Conn
	seq  uint64
	err  error
}

func (l *link) broke(err error) error {
	if l.err == nil {
		l.err = err
	}
	return l.err
}

func (l *link) send(f frame.Frame) error {
	if l.err != nil {
		return l.err
	}
	if err := l.conn.Send(f); err != nil {
		return l.broke(err)
	}
	return nil
}

func (l *link) recv() (frame.Frame, error) {
	if l.err != nil {
		return frame.Frame{}, l.err
	}
	f, err := l.conn.Recv()
	if err != nil {
		return frame.Frame{}, l.broke(err)
	}
	return f, nil
}

// ask runs one candidate round trip.
func (l *link) ask(p worker.Payload) (bool, error) {
	l.seq++
	seq := l.seq
	if err := l.send(message.Candidate(seq, p)); err != nil {
		return false, err
	}
	f, err := l.recv()
	if err != nil {
		return false, err
	}
	accept, err := message.DecodeDecision(f, seq)
	if err != nil {
		return false, l.broke(desync(err))
	}
	return accept, nil
}

type step struct {
	spent bool
}

func (s *step) use() error {
	if s == nil {
		return ErrInvalidHandle
	}
	if s.spent {
		return ErrHandleSpent
	}
	s.spent = true
	return nil
}

func (s *step) live() error {
	if s == nil {
		return ErrInvalidHandle
	}
	if s.spent {
		return ErrHandleSpent
	}
	return nil
}

// call is the state shared by every handle that answers one request.
type call struct {
	l   *link
	s   *step
	req frame.Header
}

func (c call) finish(fields []tlv.Field, err error) (Handler, error) {
	if e := c.s.use(); e != nil {
		return Handler{}, e
	}
	reply := message.Reply(c.req, fields)
	if err != nil {
		reply = message.ErrorReply(c.req, err)
	}
	if e := c.l.send(reply); e != nil {
		return Handler{}, e
	}
	return Handler{l: c.l, s: &step{}}, nil
}

// Handler is the top-level state: waiting for the next request.
type Handler struct {
	l *link
	s *step
}

// NewHandler starts the protocol on conn.
func NewHandler(conn transport.Conn) Handler {
	return Handler{l: &link{conn: conn}, s: &step{}}
}

// Request is one received request together with the handle that answers it.
type Request interface {
	isRequest()
}

// Create asks for a new index under ID.
type Create struct {
	ID      worker.IndexID
	Options worker.IndexOptions
	X       CreateHandle
}

// Insert buffers one record into index ID.
type Insert struct {
	ID     worker.IndexID
	Insert worker.Insert
	X      InsertHandle
}

// Delete removes the records of index ID the client accepts.
type Delete struct {
	ID worker.IndexID
	X  DeleteHandle
}

// Search asks for the nearest records of index ID. Prefilter is set when
// the client filters candidates through X.Check.
type Search struct {
	ID        worker.IndexID
	Search    worker.Search
	Prefilter bool
	X         SearchHandle
}

// Flush persists the buffered records of index ID.
type Flush struct {
	ID worker.IndexID
	X  FlushHandle
}

// Destroy drops every listed index.
type Destroy struct {
	IDs []worker.IndexID
	X   DestroyHandle
}

// Stat asks for the counters of index ID.
type Stat struct {
	ID worker.IndexID
	X  StatHandle
}

// Vbase asks to open a distance-ordered stream over index ID.
type Vbase struct {
	ID     worker.IndexID
	Vector []float32
	X      VbaseHandle
}

func (Create) isRequest()  {}
func (Insert) isRequest()  {}
func (Delete) isRequest()  {}
func (Search) isRequest()  {}
func (Flush) isRequest()   {}
func (Destroy) isRequest() {}
func (Stat) isRequest()    {}
func (Vbase) isRequest()   {}

// Handle waits for the next request. io.EOF means the client disconnected
// between requests.
func (h Handler) Handle() (Request, error) {
	if err := h.s.use(); err != nil {
		return nil, err
	}
	f, err := h.l.recv()
	if err != nil {
		return nil, err
	}
	decoded, err := message.DecodeRequest(f)
	if err != nil {
		return nil, h.l.broke(desync(err))
	}
	c := call{l: h.l, s: &step{}, req: f.Header}
	log.Trace().
		Str("peer", h.l.conn.Peer()).
		Str("message", schema.Name(f.Header.MessageType)).
		Uint64("message_id", f.Header.MessageID).
		Msg("rpc.Handle")

	switch m := decoded.(type) {
	case message.Create:
		return Create{ID: m.ID, Options: m.Options, X: CreateHandle{c}}, nil
	case message.Insert:
		return Insert{ID: m.ID, Insert: m.Insert, X: InsertHandle{c}}, nil
	case message.Delete:
		return Delete{ID: m.ID, X: DeleteHandle{c}}, nil
	case message.Search:
		return Search{ID: m.ID, Search: m.Search, Prefilter: m.Prefilter, X: SearchHandle{c}}, nil
	case message.Flush:
		return Flush{ID: m.ID, X: FlushHandle{c}}, nil
	case message.Destroy:
		return Destroy{IDs: m.IDs, X: DestroyHandle{c}}, nil
	case message.Stat:
		return Stat{ID: m.ID, X: StatHandle{c}}, nil
	case message.Vbase:
		return Vbase{ID: m.ID, Vector: m.Vector, X: VbaseHandle{c}}, nil
	}
	return nil, h.l.broke(desync(message.ErrUnexpectedMessage))
}

// CreateHandle answers a Create.
type CreateHandle struct{ c call }

// Leave acknowledges the create. Creation failures are not reported to the
// client.
func (x CreateHandle) Leave() (Handler, error) {
	return x.c.finish(nil, nil)
}

// InsertHandle answers an Insert.
type InsertHandle struct{ c call }

// Leave replies with the insert outcome.
func (x InsertHandle) Leave(err error) (Handler, error) {
	return x.c.finish(nil, err)
}

// DeleteHandle answers a Delete, asking about candidates first.
type DeleteHandle struct{ c call }

// Next asks the client about one candidate. It may be called any number of
// times before Leave.
func (x DeleteHandle) Next(p worker.Payload) (bool, error) {
	if err := x.c.s.live(); err != nil {
		return false, err
	}
	return x.c.l.ask(p)
}

// Leave replies with the number of records removed.
func (x DeleteHandle) Leave(n uint64, err error) (Handler, error) {
	if err != nil {
		return x.c.finish(nil, err)
	}
	return x.c.finish(message.DeleteFields(n), nil)
}

// SearchHandle answers a Search.
type SearchHandle struct{ c call }

// Check asks the client whether candidate p may appear in the result.
func (x SearchHandle) Check(p worker.Payload) (bool, error) {
	if err := x.c.s.live(); err != nil {
		return false, err
	}
	return x.c.l.ask(p)
}

// Leave replies with the neighbors, nearest first.
func (x SearchHandle) Leave(res []worker.Neighbor, err error) (Handler, error) {
	if err != nil {
		return x.c.finish(nil, err)
	}
	return x.c.finish(message.SearchFields(res), nil)
}

// FlushHandle answers a Flush.
type FlushHandle struct{ c call }

// Leave replies with the flush outcome.
func (x FlushHandle) Leave(err error) (Handler, error) {
	return x.c.finish(nil, err)
}

// DestroyHandle answers a Destroy.
type DestroyHandle struct{ c call }

// Leave acknowledges the destroy.
func (x DestroyHandle) Leave() (Handler, error) {
	return x.c.finish(nil, nil)
}

// StatHandle answers a Stat.
type StatHandle struct{ c call }

// Leave replies with the counters or the lookup error.
func (x StatHandle) Leave(st worker.Stat, err error) (Handler, error) {
	if err != nil {
		return x.c.finish(nil, err)
	}
	return x.c.finish(message.StatFields(st), nil)
}

// VbaseHandle accepts or rejects a Vbase.
type VbaseHandle struct{ c call }

// Reject refuses to open the stream and returns to the top level.
func (x VbaseHandle) Reject(err error) (Handler, error) {
	return x.c.finish(nil, err)
}

// Accept opens the stream.
func (x VbaseHandle) Accept() (VbaseLoop, error) {
	h, err := x.c.finish(nil, nil)
	if err != nil {
		return VbaseLoop{}, err
	}
	return VbaseLoop{l: h.l, s: h.s}, nil
}

// VbaseLoop waits for the client's next stream step.
type VbaseLoop struct {
	l *link
	s *step
}

// VbaseStep is either VbaseNext or VbaseLeave.
type VbaseStep interface {
	isVbaseStep()
}

// VbaseNext asks for the next stream item; X sends it.
type VbaseNext struct {
	X VbaseNextHandle
}

// VbaseLeave ends the stream. No reply is sent; X is the top-level handle.
type VbaseLeave struct {
	X Handler
}

func (VbaseNext) isVbaseStep()  {}
func (VbaseLeave) isVbaseStep() {}

// Handle waits for the client's next stream step.
func (v VbaseLoop) Handle() (VbaseStep, error) {
	if err := v.s.use(); err != nil {
		return nil, err
	}
	f, err := v.l.recv()
	if err != nil {
		return nil, err
	}
	next, err := message.DecodeVbaseStep(f)
	if err != nil {
		return nil, v.l.broke(desync(err))
	}
	if !next {
		return VbaseLeave{X: Handler{l: v.l, s: &step{}}}, nil
	}
	return VbaseNext{X: VbaseNextHandle{c: call{l: v.l, s: &step{}, req: f.Header}}}, nil
}

// VbaseNextHandle answers one VbaseNext.
type VbaseNextHandle struct{ c call }

// Leave sends one stream item; ok=false tells the client the traversal is
// exhausted. The stream stays open either way until the client leaves.
func (x VbaseNextHandle) Leave(n worker.Neighbor, ok bool) (VbaseLoop, error) {
	h, err := x.c.finish(message.VbaseItemFields(n, ok), nil)
	if err != nil {
		return VbaseLoop{}, err
	}
	return VbaseLoop{l: h.l, s: h.s}, nil
}
