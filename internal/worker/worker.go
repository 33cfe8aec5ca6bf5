// Package worker owns index state behind a thread-safe dispatch facade.
//
// Ownership boundary:
// - index lifecycle (create, destroy, reopen from storage)
// - record insert/delete and top-k search
// - per-index serialization of conflicting access
//
// Sessions consume the Worker interface only; they never hold locks of
// their own and never see index internals.
package worker

// Worker is the dispatcher every session shares.
type Worker interface {
	Create(id IndexID, opts IndexOptions) error
	Insert(id IndexID, ins Insert) error
	// Delete offers every record of the index to decide and removes the
	// accepted ones. It returns how many records were removed.
	Delete(id IndexID, decide Decider) (uint64, error)
	// Search ranks records by distance to s.Vector and offers them to filter
	// nearest first until s.K have been accepted.
	Search(id IndexID, s Search, filter Decider) ([]Neighbor, error)
	Flush(id IndexID) error
	Destroy(ids []IndexID)
	Stat(id IndexID) (Stat, error)
	Instance(id IndexID) (Instance, error)
}

// Instance is a resolved index.
type Instance interface {
	View() View
}

// View is a read-only snapshot of one index.
type View interface {
	// Vbase opens a lazy traversal of the snapshot in ascending distance
	// order from q.
	Vbase(q []float32) (Iterator, error)
}

// Iterator yields neighbours one at a time. Once it returns false it keeps
// returning false.
type Iterator interface {
	Next() (Neighbor, bool)
}
