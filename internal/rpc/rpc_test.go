package rpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/danmuck/vectord/internal/protocol/frame"
	"github.com/danmuck/vectord/internal/protocol/message"
	"github.com/danmuck/vectord/internal/testutil/testlog"
	"github.com/danmuck/vectord/internal/transport"
	"github.com/danmuck/vectord/internal/transport/ring"
	"github.com/danmuck/vectord/internal/worker"
)

func pipe(t *testing.T) (transport.Conn, transport.Conn) {
	t.Helper()
	skipRace(t)
	testlog.Start(t)
	a, b := ring.Pair(8, frame.DefaultLimits(), t.Name())
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// serve runs fn as the server side and reports its error on the channel.
func serve(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func sendRequest(t *testing.T, c transport.Conn, id uint64, req message.Request) {
	t.Helper()
	f, err := message.EncodeRequest(id, req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.Send(f); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestZeroHandlerIsInvalid(t *testing.T) {
	testlog.Start(t)
	if _, err := (Handler{}).Handle(); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
	if _, err := (FlushHandle{}).Leave(nil); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestHandleReuseIsRejectedWithoutTouchingTransport(t *testing.T) {
	client, server := pipe(t)
	sendRequest(t, client, 1, message.Flush{ID: 3})
	sendRequest(t, client, 2, message.Stat{ID: 3})

	h := NewHandler(server)
	req, err := h.Handle()
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	flush, ok := req.(Flush)
	if !ok || flush.ID != 3 {
		t.Fatalf("unexpected request %#v", req)
	}
	if _, err := h.Handle(); !errors.Is(err, ErrHandleSpent) {
		t.Fatalf("reused handler: %v", err)
	}

	copied := flush.X
	next, err := flush.X.Leave(nil)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := copied.Leave(errors.New("again")); !errors.Is(err, ErrHandleSpent) {
		t.Fatalf("copied handle reused: %v", err)
	}

	req, err = next.Handle()
	if err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if _, err := req.(Stat).X.Leave(worker.Stat{}, worker.ErrNotExist); err != nil {
		t.Fatalf("stat leave: %v", err)
	}

	// exactly one reply per request, in order
	for _, want := range []uint64{1, 2} {
		f, err := client.Recv()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if f.Header.MessageID != want || !f.Header.IsResponse() {
			t.Fatalf("want reply #%d, got %+v", want, f.Header)
		}
	}
}

func TestDecisionForWrongCandidateIsDesync(t *testing.T) {
	client, server := pipe(t)
	sendRequest(t, client, 1, message.Delete{ID: 1})

	done := serve(func() error {
		req, err := NewHandler(server).Handle()
		if err != nil {
			return err
		}
		del := req.(Delete)
		if _, err := del.X.Next(42); !errors.Is(err, ErrDesync) {
			return fmt.Errorf("next: expected desync, got %v", err)
		}
		if _, err := del.X.Next(43); !errors.Is(err, ErrDesync) {
			return fmt.Errorf("broken session must stay broken, got %v", err)
		}
		if _, err := del.X.Leave(0, nil); !errors.Is(err, ErrDesync) {
			return fmt.Errorf("leave after desync: %v", err)
		}
		return nil
	})

	f, err := client.Recv()
	if err != nil {
		t.Fatalf("recv candidate: %v", err)
	}
	seq, p, err := message.DecodeCandidate(f)
	if err != nil || p != 42 {
		t.Fatalf("candidate: %d %v", p, err)
	}
	if err := client.Send(message.Decision(seq+1, true)); err != nil {
		t.Fatalf("send decision: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestStrayRequestDuringCallbackIsDesync(t *testing.T) {
	client, server := pipe(t)
	sendRequest(t, client, 1, message.Search{ID: 1, Search: worker.Search{Vector: []float32{1}, K: 1}, Prefilter: true})

	done := serve(func() error {
		req, err := NewHandler(server).Handle()
		if err != nil {
			return err
		}
		_, err = req.(Search).X.Check(7)
		return err
	})

	if _, err := client.Recv(); err != nil {
		t.Fatalf("recv candidate: %v", err)
	}
	sendRequest(t, client, 2, message.Stat{ID: 1})
	if err := <-done; !errors.Is(err, ErrDesync) {
		t.Fatalf("expected desync, got %v", err)
	}
}

func TestClientDeleteAnswersEveryCandidate(t *testing.T) {
	clientConn, server := pipe(t)
	c := NewClient(clientConn)

	done := serve(func() error {
		req, err := NewHandler(server).Handle()
		if err != nil {
			return err
		}
		del := req.(Delete)
		var removed uint64
		for _, p := range []worker.Payload{1, 2, 3, 4} {
			ok, err := del.X.Next(p)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		_, err = del.X.Leave(removed, nil)
		return err
	})

	var asked []worker.Payload
	n, err := c.Delete(9, func(p worker.Payload) bool {
		asked = append(asked, p)
		return p%2 == 0
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 || len(asked) != 4 {
		t.Fatalf("deleted=%d asked=%v", n, asked)
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}

func TestClientRemoteErrorKeepsSession(t *testing.T) {
	clientConn, server := pipe(t)
	c := NewClient(clientConn)

	done := serve(func() error {
		h := NewHandler(server)
		req, err := h.Handle()
		if err != nil {
			return err
		}
		h, err = req.(Insert).X.Leave(fmt.Errorf("%w: id=5", worker.ErrNotExist))
		if err != nil {
			return err
		}
		req, err = h.Handle()
		if err != nil {
			return err
		}
		_, err = req.(Flush).X.Leave(nil)
		return err
	})

	err := c.Insert(5, worker.Insert{Vector: []float32{1}, Payload: 1})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != worker.CodeNotExist {
		t.Fatalf("expected remote not-exist, got %v", err)
	}
	if !errors.Is(err, worker.ErrNotExist) {
		t.Fatalf("remote error should match worker sentinel")
	}
	if err := c.Flush(5); err != nil {
		t.Fatalf("flush after remote error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}

func TestVbaseStreamLifecycle(t *testing.T) {
	clientConn, server := pipe(t)
	c := NewClient(clientConn)
	items := []worker.Neighbor{{Distance: 0.5, Payload: 10}, {Distance: 1, Payload: 11}}

	done := serve(func() error {
		req, err := NewHandler(server).Handle()
		if err != nil {
			return err
		}
		loop, err := req.(Vbase).X.Accept()
		if err != nil {
			return err
		}
		i := 0
		for {
			st, err := loop.Handle()
			if err != nil {
				return err
			}
			switch s := st.(type) {
			case VbaseNext:
				if i < len(items) {
					loop, err = s.X.Leave(items[i], true)
					i++
				} else {
					loop, err = s.X.Leave(worker.Neighbor{}, false)
				}
				if err != nil {
					return err
				}
			case VbaseLeave:
				req, err := s.X.Handle()
				if err != nil {
					return err
				}
				_, err = req.(Flush).X.Leave(nil)
				return err
			}
		}
	})

	stream, err := c.Vbase(1, []float32{0})
	if err != nil {
		t.Fatalf("vbase: %v", err)
	}
	if err := c.Flush(1); !errors.Is(err, ErrStreamOpen) {
		t.Fatalf("call during stream: %v", err)
	}
	for i := range items {
		n, ok, err := stream.Next()
		if err != nil || !ok || n != items[i] {
			t.Fatalf("item %d: %+v %t %v", i, n, ok, err)
		}
	}
	for range 2 {
		if _, ok, err := stream.Next(); err != nil || ok {
			t.Fatalf("exhausted stream: %t %v", ok, err)
		}
	}
	if err := stream.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, _, err := stream.Next(); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("next after leave: %v", err)
	}
	if err := c.Flush(1); err != nil {
		t.Fatalf("flush after leave: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}

func TestVbaseRejectReturnsToTopLevel(t *testing.T) {
	clientConn, server := pipe(t)
	c := NewClient(clientConn)

	done := serve(func() error {
		req, err := NewHandler(server).Handle()
		if err != nil {
			return err
		}
		h, err := req.(Vbase).X.Reject(worker.ErrNotExist)
		if err != nil {
			return err
		}
		req, err = h.Handle()
		if err != nil {
			return err
		}
		_, err = req.(Destroy).X.Leave()
		return err
	})

	if _, err := c.Vbase(1, []float32{0}); !errors.Is(err, worker.ErrNotExist) {
		t.Fatalf("expected rejected stream, got %v", err)
	}
	if err := c.Destroy([]worker.IndexID{1}); err != nil {
		t.Fatalf("destroy after reject: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}

func TestClientDesyncIsSticky(t *testing.T) {
	clientConn, server := pipe(t)
	c := NewClient(clientConn)

	done := serve(func() error {
		f, err := server.Recv()
		if err != nil {
			return err
		}
		// answer with the wrong message id
		h := f.Header
		h.MessageID++
		return server.Send(message.Reply(h, nil))
	})

	if err := c.Flush(1); !errors.Is(err, ErrDesync) {
		t.Fatalf("expected desync, got %v", err)
	}
	if err := c.Flush(1); !errors.Is(err, ErrDesync) {
		t.Fatalf("desync should be sticky, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}

func TestVbaseLeaveBeforeAnyNext(t *testing.T) {
	clientConn, server := pipe(t)
	c := NewClient(clientConn)

	done := serve(func() error {
		req, err := NewHandler(server).Handle()
		if err != nil {
			return err
		}
		loop, err := req.(Vbase).X.Accept()
		if err != nil {
			return err
		}
		st, err := loop.Handle()
		if err != nil {
			return err
		}
		leave, ok := st.(VbaseLeave)
		if !ok {
			return fmt.Errorf("expected leave, got %T", st)
		}
		req, err = leave.X.Handle()
		if err != nil {
			return err
		}
		_, err = req.(Stat).X.Leave(worker.Stat{Records: 4}, nil)
		return err
	})

	stream, err := c.Vbase(1, []float32{0})
	if err != nil {
		t.Fatalf("vbase: %v", err)
	}
	if err := stream.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	st, err := c.Stat(1)
	if err != nil || st.Records != 4 {
		t.Fatalf("stat after leave: %+v %v", st, err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}
