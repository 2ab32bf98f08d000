// Package graph implements the versioned append-only edge table and its
// current-snapshot view (component B): commits, triple-revision storage,
// node metadata, and generated-artifact bookkeeping. See spec section 4.B.
package graph

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/weftgraph/weft/internal/werr"
)

// Store is the graph store: a single SQLite database holding the edge
// log, commit log, node metadata (with FTS5 index), and generated
// artifact records. One Store instance owns the database connection pool
// for the lifetime of the server process.
type Store struct {
	db *sql.DB

	// enqueue is called (outside any transaction) once per distinct file
	// node touched by a commit, to hand off to the derivation worker
	// (component F). Nil in tests that do not exercise derivation.
	enqueue func(ctx context.Context, hash string) error
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDeriveEnqueue wires the derivation worker's enqueue hook: Commit
// calls it once per distinct file node referenced by the commit's
// add/remove/files, after the commit transaction succeeds.
func WithDeriveEnqueue(fn func(ctx context.Context, hash string) error) Option {
	return func(s *Store) { s.enqueue = fn }
}

// Open opens (creating if absent) the graph database at dbPath, applying
// the base schema and any pending migrations.
func Open(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, werr.Transient(fmt.Errorf("failed to open graph database: %w", err))
	}
	// A single writer at a time is the concurrency model spec section 5
	// assumes ("in practice, one writer at a time"); SQLite itself
	// serialises writers, but capping the pool avoids SQLITE_BUSY churn
	// under concurrent readers during a writer's transaction.
	db.SetMaxOpenConns(8)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA synchronous = NORMAL`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, werr.Transient(fmt.Errorf("failed to set %q: %w", pragma, err))
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, werr.Integrityf("failed to apply base schema: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, werr.Integrityf("failed to apply migrations: %w", err)
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for the query compiler/executor
// (component D/E), which runs compiled SQL directly against the current-
// edges projection rather than through Store methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Mirrors the withTx(ctx, func(tx *sql.Tx) error)
// idiom used throughout internal/storage/sqlite/events.go.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return werr.Transient(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}
