// Package docstore persists the built documents as JSON, keyed by their
// natural identifier, in one of two backends (SQLite or PostgreSQL).
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/transitdocs/schedule-builder/internal/config"
)

// Collection names a document family
type Collection string

const (
	Lines  Collection = "lines"
	Stops  Collection = "stops"
	Shapes Collection = "shapes"
)

// ErrNotFound is returned when no document exists under a key
var ErrNotFound = errors.New("document not found")

// Document is one stored JSON body with its key
type Document struct {
	Key  string
	Body []byte
}

// Backend is the storage engine behind a Store
type Backend interface {
	EnsureSchema(ctx context.Context) error

	Put(ctx context.Context, coll Collection, key string, body []byte) error
	Get(ctx context.Context, coll Collection, key string) ([]byte, error)
	List(ctx context.Context, coll Collection) ([]Document, error)
	// DeleteExcept removes every document of coll whose key is not in keep
	// and reports how many were removed.
	DeleteExcept(ctx context.Context, coll Collection, keep []string) (int64, error)

	InsertRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
	PruneRuns(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

var (
	_ Backend = (*SQLite)(nil)
	_ Backend = (*Postgres)(nil)
)

// Store encodes documents to JSON and hands them to a Backend
type Store struct {
	backend Backend
}

// New wraps an open backend
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Open connects the backend selected by cfg.DocStoreDriver and ensures its
// schema exists.
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.DocStoreDriver {
	case config.DriverSQLite:
		backend, err = OpenSQLite(cfg.DocStoreSQLitePath, log)
	case config.DriverPostgres:
		backend, err = OpenPostgres(ctx, cfg.DocStorePostgresURL, log)
	default:
		return nil, fmt.Errorf("unknown document store driver %q", cfg.DocStoreDriver)
	}
	if err != nil {
		return nil, err
	}

	if err := backend.EnsureSchema(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return New(backend), nil
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// Put inserts or replaces the document stored under key
func (s *Store) Put(ctx context.Context, coll Collection, key string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", coll, key, err)
	}
	if err := s.backend.Put(ctx, coll, key, body); err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", coll, key, err)
	}
	return nil
}

// Get decodes the document stored under key into dst. It returns
// ErrNotFound when the key is absent.
func (s *Store) Get(ctx context.Context, coll Collection, key string, dst any) error {
	body, err := s.backend.Get(ctx, coll, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", coll, key, err)
	}
	return nil
}

// Raw returns the stored JSON body under key, or ErrNotFound
func (s *Store) Raw(ctx context.Context, coll Collection, key string) ([]byte, error) {
	return s.backend.Get(ctx, coll, key)
}

// List returns every raw document of coll ordered by key (byte order).
func (s *Store) List(ctx context.Context, coll Collection) ([]Document, error) {
	docs, err := s.backend.List(ctx, coll)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", coll, err)
	}
	return docs, nil
}

// DeleteExcept removes every document of coll not named in keep
func (s *Store) DeleteExcept(ctx context.Context, coll Collection, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	n, err := s.backend.DeleteExcept(ctx, coll, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale %s: %w", coll, err)
	}
	return n, nil
}

// Load decodes one document into a fresh T
func Load[T any](ctx context.Context, s *Store, coll Collection, key string) (*T, error) {
	var doc T
	if err := s.Get(ctx, coll, key, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadAll decodes every document of coll, in key order
func LoadAll[T any](ctx context.Context, s *Store, coll Collection) ([]T, error) {
	docs, err := s.List(ctx, coll)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var doc T
		if err := json.Unmarshal(d.Body, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", coll, d.Key, err)
		}
		out = append(out, doc)
	}
	return out, nil
}
