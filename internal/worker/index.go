package worker

import (
	"container/heap"
	"slices"
	"sync"
)

type entry struct {
	vector  []float32
	payload Payload
}

// index is a brute-force exact index. Records live in memory whether or not
// they have been flushed; pending tracks which ones the store has not seen.
type index struct {
	mu      sync.RWMutex
	id      IndexID
	opts    IndexOptions
	dist    distFunc
	records map[uint64]entry
	pending map[uint64]struct{}
	nextNo  uint64
	dropped bool
}

func newIndex(id IndexID, opts IndexOptions) *index {
	return &index{
		id:      id,
		opts:    opts,
		dist:    distanceFunc(opts.Distance),
		records: make(map[uint64]entry),
		pending: make(map[uint64]struct{}),
		nextNo:  1,
	}
}

func (x *index) restore(recs []Record) {
	for _, r := range recs {
		x.records[r.No] = entry{vector: r.Vector, payload: r.Payload}
		if r.No >= x.nextNo {
			x.nextNo = r.No + 1
		}
	}
}

func (x *index) insert(ins Insert) error {
	if err := checkVector(ins.Vector, x.opts.Dims); err != nil {
		return err
	}
	v := make([]float32, len(ins.Vector))
	copy(v, ins.Vector)

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dropped {
		return notExist(x.id)
	}
	no := x.nextNo
	x.nextNo++
	x.records[no] = entry{vector: v, payload: ins.Payload}
	x.pending[no] = struct{}{}
	return nil
}

// snapshot returns every live record ordered by record number. Vectors are
// shared with the index; callers must not mutate them.
func (x *index) snapshot() ([]Record, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.dropped {
		return nil, notExist(x.id)
	}
	out := make([]Record, 0, len(x.records))
	for no, e := range x.records {
		out = append(out, Record{No: no, Vector: e.vector, Payload: e.payload})
	}
	slices.SortFunc(out, func(a, b Record) int {
		switch {
		case a.No < b.No:
			return -1
		case a.No > b.No:
			return 1
		}
		return 0
	})
	return out, nil
}

func (x *index) stat() (Stat, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.dropped {
		return Stat{}, notExist(x.id)
	}
	records := uint64(len(x.records))
	buffered := uint64(len(x.pending))
	return Stat{
		Options:  x.opts,
		Records:  records,
		Buffered: buffered,
		Flushed:  records - buffered,
	}, nil
}

// View snapshots the index for read-only traversal.
func (x *index) View() View {
	recs, err := x.snapshot()
	return &view{opts: x.opts, dist: x.dist, records: recs, err: err}
}

type view struct {
	opts    IndexOptions
	dist    distFunc
	records []Record
	err     error
}

func (v *view) Vbase(q []float32) (Iterator, error) {
	if v.err != nil {
		return nil, v.err
	}
	if err := checkVector(q, v.opts.Dims); err != nil {
		return nil, err
	}
	return newRanking(q, v.records, v.dist), nil
}

type ranked struct {
	no       uint64
	distance float32
	payload  Payload
}

// ranking pops records nearest first. Ties break on record number so the
// order is deterministic.
type ranking []ranked

func (r ranking) Len() int { return len(r) }
func (r ranking) Less(i, j int) bool {
	if r[i].distance != r[j].distance {
		return r[i].distance < r[j].distance
	}
	return r[i].no < r[j].no
}
func (r ranking) Swap(i, j int) { r[i], r[j] = r[j], r[i] }

func (r *ranking) Push(x any) {
	*r = append(*r, x.(ranked))
}

func (r *ranking) Pop() any {
	old := *r
	n := len(old)
	item := old[n-1]
	*r = old[:n-1]
	return item
}

func newRanking(q []float32, recs []Record, dist distFunc) *ranking {
	r := make(ranking, 0, len(recs))
	for _, rec := range recs {
		r = append(r, ranked{no: rec.No, distance: dist(q, rec.Vector), payload: rec.Payload})
	}
	heap.Init(&r)
	return &r
}

func (r *ranking) Next() (Neighbor, bool) {
	if r.Len() == 0 {
		return Neighbor{}, false
	}
	item := heap.Pop(r).(ranked)
	return Neighbor{Distance: item.distance, Payload: item.payload}, true
}
