package modestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS mode_state (
    scope      TEXT PRIMARY KEY,
    open       INTEGER NOT NULL,
    bits       INTEGER NOT NULL,
    updated_ns INTEGER NOT NULL
);
`

// SQLiteStore keeps the host-visible mode in a SQLite database so that
// several processes of one desktop session share it. Rows are keyed by
// scope, typically the desktop session name.
type SQLiteStore struct {
	db    *sql.DB
	scope string
	// initial is returned by Get until the first Set.
	initial State
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path, scope string, initial State) (*SQLiteStore, error) {
	if scope == "" {
		return nil, errors.New("mode store scope is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, scope: scope, initial: initial}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context) (State, error) {
	var open int
	var bits int64
	err := s.db.QueryRowContext(ctx,
		`SELECT open, bits FROM mode_state WHERE scope = ?`, s.scope,
	).Scan(&open, &bits)
	if errors.Is(err, sql.ErrNoRows) {
		return s.initial, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get mode state: %w", err)
	}
	return State{Open: open != 0, Bits: uint32(bits)}, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, st State) error {
	open := 0
	if st.Open {
		open = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mode_state (scope, open, bits, updated_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			open = excluded.open,
			bits = excluded.bits,
			updated_ns = excluded.updated_ns`,
		s.scope, open, int64(st.Bits), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set mode state: %w", err)
	}
	return nil
}

// UpdatedAt returns when the scope was last written, or the zero time.
func (s *SQLiteStore) UpdatedAt(ctx context.Context) (time.Time, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_ns FROM mode_state WHERE scope = ?`, s.scope,
	).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get mode state time: %w", err)
	}
	return time.Unix(0, ns), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
