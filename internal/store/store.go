// Package store persists the session collection as a single namespaced snapshot.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/jonathan/brigade/internal/types"
)

// DefaultNamespace is the versioned key the session collection is stored under
const DefaultNamespace = "brigade_sessions_v2"

// Store loads and saves the whole session collection. Implementations must tolerate
// concurrent SaveAll calls; the last write wins.
type Store interface {
	LoadAll(ctx context.Context) ([]types.Session, error)
	SaveAll(ctx context.Context, sessions []types.Session) error
	Close() error
}

// Kind names a store backend
type Kind string

// Store backends
const (
	KindFile     Kind = "file"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindMemory   Kind = "memory"
)

// Options selects and configures a backend
type Options struct {
	Kind        Kind
	Namespace   string
	DataDir     string // file and sqlite backends
	DatabaseURL string // postgres backend
}

// Open creates the backend described by opts
func Open(ctx context.Context, opts Options) (Store, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}

	switch opts.Kind {
	case KindFile, "":
		return NewFileStore(opts.DataDir, ns)
	case KindSQLite:
		return NewSQLiteStore(filepath.Join(opts.DataDir, "brigade.db"), ns)
	case KindPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres store requires a database URL")
		}
		return NewPostgresStore(ctx, opts.DatabaseURL, ns)
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store kind: %q", opts.Kind)
	}
}

func encode(sessions []types.Session) ([]byte, error) {
	if sessions == nil {
		sessions = []types.Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sessions: %w", err)
	}
	return data, nil
}

func decode(data []byte) ([]types.Session, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var sessions []types.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions: %w", err)
	}
	return sessions, nil
}
