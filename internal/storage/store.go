// Package storage persists index catalogs and flushed records in SQLite.
package storage

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/vectord/internal/worker"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var ErrStoreClosed = errors.New("storage: store is closed")

// Store is a worker.Store backed by one SQLite file.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ worker.Store = (*Store)(nil)

// Open opens (or creates) the database at path and migrates it to the
// current schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers; the worker already serializes per
	// index so contention stays low.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	log.Info().Str("path", path).Msg("storage.Open")
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.db, nil
}

func (s *Store) LoadIndexes(ctx context.Context) ([]worker.StoredIndex, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, dims, distance, kind FROM indexes`)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	var out []worker.StoredIndex
	for rows.Next() {
		var (
			id             int64
			dims           int64
			distance, kind string
		)
		if err := rows.Scan(&id, &dims, &distance, &kind); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan index: %w", err)
		}
		out = append(out, worker.StoredIndex{
			ID: worker.IndexID(uint64(id)),
			Options: worker.IndexOptions{
				Dims:     uint32(dims),
				Distance: worker.Distance(distance),
				Kind:     worker.Kind(kind),
			},
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	rows.Close()

	// ids are stored as signed integers; order them as the worker sees them.
	slices.SortFunc(out, func(a, b worker.StoredIndex) int {
		return cmp.Compare(a.ID, b.ID)
	})
	for i := range out {
		recs, err := s.loadRecords(ctx, db, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Records = recs
	}
	return out, nil
}

func (s *Store) loadRecords(ctx context.Context, db *sql.DB, id worker.IndexID) ([]worker.Record, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT no, payload, vector FROM records WHERE index_id = ? ORDER BY no`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("query records of %d: %w", id, err)
	}
	defer rows.Close()

	var out []worker.Record
	for rows.Next() {
		var (
			no, payload int64
			blob        []byte
		)
		if err := rows.Scan(&no, &payload, &blob); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("record %d/%d: %w", id, no, err)
		}
		out = append(out, worker.Record{
			No:      uint64(no),
			Vector:  vec,
			Payload: worker.Payload(uint64(payload)),
		})
	}
	return out, rows.Err()
}

func (s *Store) CreateIndex(ctx context.Context, id worker.IndexID, opts worker.IndexOptions) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO indexes (id, dims, distance, kind) VALUES (?, ?, ?, ?)`,
		int64(id), int64(opts.Dims), string(opts.Distance), string(opts.Kind))
	if err != nil {
		return fmt.Errorf("insert index %d: %w", id, err)
	}
	return nil
}

func (s *Store) DropIndex(ctx context.Context, id worker.IndexID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE index_id = ?`, int64(id)); err != nil {
			return fmt.Errorf("delete records of %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE id = ?`, int64(id)); err != nil {
			return fmt.Errorf("delete index %d: %w", id, err)
		}
		return nil
	})
}

func (s *Store) AppendRecords(ctx context.Context, id worker.IndexID, records []worker.Record) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO records (index_id, no, payload, vector) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, int64(id), int64(r.No), int64(r.Payload), EncodeVector(r.Vector)); err != nil {
				return fmt.Errorf("insert record %d/%d: %w", id, r.No, err)
			}
		}
		return nil
	})
}

func (s *Store) DeleteRecords(ctx context.Context, id worker.IndexID, nos []uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM records WHERE index_id = ? AND no = ?`)
		if err != nil {
			return fmt.Errorf("prepare delete: %w", err)
		}
		defer stmt.Close()
		for _, no := range nos {
			if _, err := stmt.ExecContext(ctx, int64(id), int64(no)); err != nil {
				return fmt.Errorf("delete record %d/%d: %w", id, no, err)
			}
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
