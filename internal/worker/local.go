package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Local is the in-process Worker. With a nil Store it is memory only and
// Flush just marks buffered records as flushed.
type Local struct {
	mu      sync.RWMutex
	indexes map[IndexID]*index
	store   Store
}

var _ Worker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{indexes: make(map[IndexID]*index)}
}

// Open rebuilds every index the store knows about.
func Open(ctx context.Context, store Store) (*Local, error) {
	l := NewLocal()
	l.store = store
	if store == nil {
		return l, nil
	}
	stored, err := store.LoadIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load indexes: %v", ErrStorage, err)
	}
	for _, s := range stored {
		x := newIndex(s.ID, s.Options)
		x.restore(s.Records)
		l.indexes[s.ID] = x
		log.Debug().
			Uint64("index_id", uint64(s.ID)).
			Int("records", len(s.Records)).
			Msg("worker.Open restored index")
	}
	log.Info().Int("indexes", len(stored)).Msg("worker.Open")
	return l, nil
}

func (l *Local) lookup(id IndexID) (*index, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	x, ok := l.indexes[id]
	if !ok {
		return nil, notExist(id)
	}
	return x, nil
}

func (l *Local) Create(id IndexID, opts IndexOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.indexes[id]; ok {
		return fmt.Errorf("%w: id=%d", ErrExist, id)
	}
	if l.store != nil {
		if err := l.store.CreateIndex(context.Background(), id, opts); err != nil {
			return fmt.Errorf("%w: create index %d: %v", ErrStorage, id, err)
		}
	}
	l.indexes[id] = newIndex(id, opts)
	log.Info().
		Uint64("index_id", uint64(id)).
		Uint32("dims", opts.Dims).
		Str("distance", string(opts.Distance)).
		Msg("worker.Create")
	return nil
}

func (l *Local) Insert(id IndexID, ins Insert) error {
	x, err := l.lookup(id)
	if err != nil {
		return err
	}
	return x.insert(ins)
}

// Delete consults decide for every record before removing anything, so a
// traversal stopped by a decider error leaves the index untouched.
func (l *Local) Delete(id IndexID, decide Decider) (uint64, error) {
	x, err := l.lookup(id)
	if err != nil {
		return 0, err
	}
	recs, err := x.snapshot()
	if err != nil {
		return 0, err
	}
	var accepted []uint64
	for _, r := range recs {
		ok, err := decide(r.Payload)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		if ok {
			accepted = append(accepted, r.No)
		}
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dropped {
		return 0, notExist(id)
	}
	var live, stored []uint64
	for _, no := range accepted {
		if _, ok := x.records[no]; !ok {
			continue
		}
		live = append(live, no)
		if _, buffered := x.pending[no]; !buffered {
			stored = append(stored, no)
		}
	}
	if l.store != nil && len(stored) > 0 {
		if err := l.store.DeleteRecords(context.Background(), id, stored); err != nil {
			return 0, fmt.Errorf("%w: delete records: %v", ErrStorage, err)
		}
	}
	for _, no := range live {
		delete(x.records, no)
		delete(x.pending, no)
	}
	return uint64(len(live)), nil
}

func (l *Local) Search(id IndexID, s Search, filter Decider) ([]Neighbor, error) {
	x, err := l.lookup(id)
	if err != nil {
		return nil, err
	}
	it, err := x.View().Vbase(s.Vector)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, 0, min(int(s.K), 64))
	for uint32(len(out)) < s.K {
		n, ok := it.Next()
		if !ok {
			break
		}
		accept, err := filter(n.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		if accept {
			out = append(out, n)
		}
	}
	return out, nil
}

func (l *Local) Flush(id IndexID) error {
	x, err := l.lookup(id)
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dropped {
		return notExist(id)
	}
	if len(x.pending) == 0 {
		return nil
	}
	if l.store != nil {
		recs := make([]Record, 0, len(x.pending))
		for no := range x.pending {
			e := x.records[no]
			recs = append(recs, Record{No: no, Vector: e.vector, Payload: e.payload})
		}
		if err := l.store.AppendRecords(context.Background(), id, recs); err != nil {
			return fmt.Errorf("%w: flush index %d: %v", ErrStorage, id, err)
		}
	}
	log.Debug().Uint64("index_id", uint64(id)).Int("records", len(x.pending)).Msg("worker.Flush")
	clear(x.pending)
	return nil
}

// Destroy removes every listed index. Missing ids are ignored; store
// failures are logged since destroy has no error reply.
func (l *Local) Destroy(ids []IndexID) {
	for _, id := range ids {
		l.destroy(id)
	}
}

// destroy holds l.mu until the stored row is gone so a Create racing with it
// never finds the id free in memory but still present in the store.
func (l *Local) destroy(id IndexID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	x, ok := l.indexes[id]
	if !ok {
		return
	}
	if l.store != nil {
		if err := l.store.DropIndex(context.Background(), id); err != nil {
			log.Error().Err(err).Uint64("index_id", uint64(id)).Msg("worker.Destroy store drop failed")
		}
	}
	delete(l.indexes, id)
	x.mu.Lock()
	x.dropped = true
	x.mu.Unlock()
	log.Info().Uint64("index_id", uint64(id)).Msg("worker.Destroy")
}

func (l *Local) Stat(id IndexID) (Stat, error) {
	x, err := l.lookup(id)
	if err != nil {
		return Stat{}, err
	}
	return x.stat()
}

func (l *Local) Instance(id IndexID) (Instance, error) {
	x, err := l.lookup(id)
	if err != nil {
		return nil, err
	}
	return x, nil
}

// Len reports how many indexes are open.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.indexes)
}
