package repository

import (
	"context"
	"errors"

	"contentgraph/internal/domain"
)

// ErrNotFound is returned by GetNode for unknown ids
var ErrNotFound = errors.New("node not found")

// Store persists graph nodes. Implementations return copies: mutating a
// returned node never changes the store until it is committed.
type Store interface {
	// GetNode returns the node or ErrNotFound
	GetNode(ctx context.Context, id string) (*domain.Node, error)

	// CommitNodes upserts all nodes as one batch: either every node is
	// written or none is
	CommitNodes(ctx context.Context, nodes []*domain.Node) error

	// ListNodes returns nodes of one remote resource type ("" for all),
	// ordered by id
	ListNodes(ctx context.Context, resourceType string) ([]*domain.Node, error)

	// Close releases resources
	Close() error
}
