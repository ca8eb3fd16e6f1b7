// Package storage is the embedded SQL source of truth (spec §"Data store").
// It wraps a single-connection, WAL-mode SQLite database (pure Go, via
// ncruces/go-sqlite3 over wazero — no cgo) loaded with the sqlite-vec
// extension for the embedded ANN backend used by internal/vectorstore.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mnemex/mnemex/internal/writelock"
)

// Store is the shared handle to a project's database file. All mutating
// access is expected to go through WriteLock (spec §4.1); reads may use
// the pool directly since SQLite WAL allows concurrent readers.
type Store struct {
	db        *sql.DB
	path      string
	WriteLock *writelock.Lock
}

// Open creates the directory for path if needed, opens (or creates) the
// database in WAL mode with a single connection, and brings the schema up
// to date. A single connection is intentional: SQLite serializes writers
// regardless, and funneling every statement through one *sql.DB connection
// means the write lock's FIFO ordering is the only queueing discipline in
// play, instead of also racing against database/sql's own pool.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("storage: create db dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	s := &Store{db: db, path: path, WriteLock: writelock.New()}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close drains the write lock and closes the underlying connection.
func (s *Store) Close() error {
	s.WriteLock.Drain()
	return s.db.Close()
}

// Checkpoint runs a WAL checkpoint, folding the write-ahead log back into
// the main database file and truncating it. Used on graceful shutdown
// (spec §4.8) so a crash right after exit can't leave an oversized WAL.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("storage: wal checkpoint: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for packages (vectorstore, search) that
// need to compose ad hoc queries outside the entity-specific accessors.
func (s *Store) DB() *sql.DB { return s.db }

// IntegrityCheck runs SQLite's own consistency checker, used by the
// operator CLI's doctor command and by crash-recovery on startup.
func (s *Store) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("storage: integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("storage: integrity check failed: %s", result)
	}
	return nil
}

// migrate applies schema.go's baseline, then every migrations.go entry
// whose version is not yet recorded in schema_migrations, in order.
func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w\nSQL: %s", err, stmt)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	applied := make(map[int]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		mtx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := m.apply(ctx, mtx); err != nil {
			_ = mtx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := mtx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			_ = mtx.Rollback()
			return err
		}
		if err := mtx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// beginImmediate starts a write transaction on a dedicated connection with
// an IMMEDIATE lock, retrying briefly on SQLITE_BUSY. Raw SQL is required
// here because database/sql's BeginTx has no transaction-mode option and
// the driver's default is DEFERRED, which would let two writers both start
// before either discovers the conflict.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	const maxAttempts = 5
	backoff := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "SQLITE_BUSY") && !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("begin immediate: %w", err)
}
