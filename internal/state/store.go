// Package state persists the Singer state document between runs.
package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/zmcp/tap-aptem/internal/singer"
)

// Backend names
const (
	BackendNone     = "none"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Store loads and saves state
type Store interface {
	// Load returns the saved state, or an empty state when none was saved.
	Load(ctx context.Context) (*singer.State, error)
	Save(ctx context.Context, state *singer.State) error
	Close() error
}

// Open returns the store for backend. uri is a file path for the file and
// sqlite backends and a connection string for postgres. tapName keys the
// row in SQL backends.
func Open(ctx context.Context, backend, uri, tapName string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendNone:
		return NopStore{}, nil
	case BackendFile:
		return NewFileStore(uri)
	case BackendSQLite:
		return OpenSQL(ctx, DialectSQLite, uri, tapName)
	case BackendPostgres:
		return OpenSQL(ctx, DialectPostgres, uri, tapName)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// NopStore keeps nothing between runs
type NopStore struct{}

// Load implements Store
func (NopStore) Load(context.Context) (*singer.State, error) { return singer.NewState(), nil }

// Save implements Store
func (NopStore) Save(context.Context, *singer.State) error { return nil }

// Close implements Store
func (NopStore) Close() error { return nil }
