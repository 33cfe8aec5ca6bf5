package worker

import "context"

// Record is one stored vector. No is assigned by the index and is unique
// within it for the index's lifetime.
type Record struct {
	No      uint64
	Vector  []float32
	Payload Payload
}

// StoredIndex is everything needed to rebuild an index on startup.
type StoredIndex struct {
	ID      IndexID
	Options IndexOptions
	Records []Record
}

// Store persists index catalogs and flushed records. Buffered inserts never
// reach it until Flush.
type Store interface {
	LoadIndexes(ctx context.Context) ([]StoredIndex, error)
	CreateIndex(ctx context.Context, id IndexID, opts IndexOptions) error
	DropIndex(ctx context.Context, id IndexID) error
	AppendRecords(ctx context.Context, id IndexID, records []Record) error
	DeleteRecords(ctx context.Context, id IndexID, nos []uint64) error
}
