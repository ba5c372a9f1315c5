// Package memory provides an in-memory state store for tests and for
// single-node deployments that do not need durability.
package memory

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/gannet-search/gannet/pkg/storage"
)

var tracer = otel.Tracer("gannet/pkg/storage/memory")

// Store is an in-memory implementation of [storage.StateStore].
type Store struct {
	mu  sync.RWMutex
	doc *storage.StateDocument
}

var _ storage.StateStore = (*Store)(nil)

// New constructs an empty in-memory state store.
func New() *Store {
	return &Store{}
}

// Load implements storage.StateStore.
func (s *Store) Load(ctx context.Context) (*storage.StateDocument, error) {
	_, span := tracer.Start(ctx, "memory.Load")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc == nil {
		return nil, storage.ErrNotFound
	}

	return copyDocument(s.doc), nil
}

// Save implements storage.StateStore.
func (s *Store) Save(ctx context.Context, doc *storage.StateDocument) error {
	_, span := tracer.Start(ctx, "memory.Save")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc != nil && doc.Version <= s.doc.Version {
		return storage.ErrStaleVersion
	}

	s.doc = copyDocument(doc)

	return nil
}

// Close implements storage.StateStore.
func (s *Store) Close() {}

func copyDocument(doc *storage.StateDocument) *storage.StateDocument {
	cp := *doc
	cp.Body = append([]byte(nil), doc.Body...)
	return &cp
}
