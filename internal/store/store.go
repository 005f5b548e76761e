// Package store implements the durable SQLite-backed Store described by the
// driver design: the single source of truth for requests, responses,
// results, errors, estimates, speculation state, and rate limiter state.
// All public operations are safe for concurrent use; operations that must
// serialise the queue_counter generator take the Store's coarse mutex, while
// reads and per-row updates run without it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/waylight/kestrel/internal/types"
)

// Store is the durable backing store for a single run.
type Store struct {
	db *sql.DB

	// mu serialises the queue_counter generator, dequeue, and dictionary
	// version assignment.
	// Reads and single-row updates do not take it.
	mu sync.Mutex

	queueCounter int64
}

// Open opens (creating if absent) the SQLite database at path, applies any
// pending migrations, and — if resume is true — converts every in_progress
// request back to pending. This is the only mechanism that recovers a run
// from a crash mid-request.
func Open(ctx context.Context, path string, resume bool) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer; BEGIN IMMEDIATE below serialises writes anyway.

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadQueueCounter(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if resume {
		if err := s.resetInProgress(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("store: reading schema version: %w", err)
	}
	if current > schemaVersion {
		return types.ErrSchemaTooNew
	}
	for v := current; v < schemaVersion; v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: migration %d: begin: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: migration %d: set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: migration %d: commit: %w", v+1, err)
		}
	}
	return nil
}

func (s *Store) loadQueueCounter(ctx context.Context) error {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(queue_counter) FROM requests").Scan(&max); err != nil {
		return fmt.Errorf("store: loading queue counter: %w", err)
	}
	s.queueCounter = max.Int64
	return nil
}

func (s *Store) resetInProgress(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ?, started_at_ns = NULL
		WHERE status = ?`, types.StatusPending, types.StatusInProgress)
	if err != nil {
		return fmt.Errorf("store: resetting in_progress requests: %w", err)
	}
	return nil
}

func nowNS() int64 { return time.Now().UnixNano() }

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSONMap(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	m := map[string]any{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullTimeNS(p *time.Time) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.UnixNano(), Valid: true}
}

func timeFromNS(ns int64) time.Time { return time.Unix(0, ns) }

func timePtrFromNullNS(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := timeFromNS(n.Int64)
	return &t
}
