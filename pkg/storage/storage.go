//go:generate mockgen -source storage.go -destination ../../internal/mocks/mock_storage.go -package mocks

// Package storage defines the persistence interface for the replicated
// cluster state and the migration plumbing shared by its SQL drivers.
package storage

import (
	"context"
)

// StateDocument is the persisted form of the cluster state: an opaque
// encoded body plus the version it carries. The body is encoded and
// decoded by the cluster package; stores never look inside it.
type StateDocument struct {
	Version int64
	Body    []byte
}

// StateStore persists the single cluster state document of a node.
type StateStore interface {
	// Load returns the most recently saved document. It returns
	// ErrNotFound when no document has ever been saved.
	Load(ctx context.Context) (*StateDocument, error)

	// Save persists doc. The document version must be strictly greater
	// than the stored one; Save returns ErrStaleVersion otherwise.
	Save(ctx context.Context, doc *StateDocument) error

	// Close releases resources held by the store.
	Close()
}
