package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zmcp/tap-aptem/internal/singer"
)

// Dialect selects the SQL driver and placeholder style
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS tap_state (
		tap        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`

// SQLStore keeps state in the tap_state table, one row per tap
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	tap     string
}

// OpenSQL connects and creates the state table if needed
func OpenSQL(ctx context.Context, dialect Dialect, dsn, tapName string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s state backend needs a state_uri", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s state store: %w", dialect, err)
	}
	return NewSQLStore(ctx, db, dialect, tapName)
}

// NewSQLStore wraps an open database
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, tapName string) (*SQLStore, error) {
	if dialect == DialectSQLite {
		// every connection to ":memory:" is a separate database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tap_state table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, tap: tapName}, nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Load implements Store
func (s *SQLStore) Load(ctx context.Context) (*singer.State, error) {
	query := fmt.Sprintf(`SELECT value FROM tap_state WHERE tap = %s`, s.placeholder(1))

	var value string
	err := s.db.QueryRowContext(ctx, query, s.tap).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return singer.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return singer.ParseState([]byte(value))
}

// Save implements Store
func (s *SQLStore) Save(ctx context.Context, st *singer.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO tap_state (tap, value, updated_at)
		VALUES (%s, %s, %s)
		ON CONFLICT (tap) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3))

	if _, err := s.db.ExecContext(ctx, query, s.tap, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Close implements Store
func (s *SQLStore) Close() error {
	return s.db.Close()
}
