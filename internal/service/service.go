package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"contentgraph/internal/codec"
	"contentgraph/internal/domain"
	"contentgraph/internal/repository"
)

// ErrNodeNotFound is returned by GetNode for unknown ids
var ErrNodeNotFound = repository.ErrNotFound

// GraphService is the read side of the store: lookups, the derived
// node/edge view and exports
type GraphService struct {
	store repository.Store
}

// NewGraphService creates a new graph service
func NewGraphService(store repository.Store) *GraphService {
	return &GraphService{store: store}
}

// GetNode retrieves a single node by id
func (s *GraphService) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	if id == "" {
		return nil, fmt.Errorf("node id required")
	}
	node, err := s.store.GetNode(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
	}
	return node, err
}

// ListNodes returns nodes of one remote type, or all nodes for ""
func (s *GraphService) ListNodes(ctx context.Context, resourceType string) ([]*domain.Node, error) {
	return s.store.ListNodes(ctx, resourceType)
}

// GetGraph returns the node/edge view of one remote type, or of everything
func (s *GraphService) GetGraph(ctx context.Context, resourceType string) (*domain.Graph, error) {
	nodes, err := s.store.ListNodes(ctx, resourceType)
	if err != nil {
		return nil, err
	}
	return domain.DeriveGraph(nodes), nil
}

// Snapshot reads every stored node
func (s *GraphService) Snapshot(ctx context.Context) (*codec.Snapshot, error) {
	nodes, err := s.store.ListNodes(ctx, "")
	if err != nil {
		return nil, err
	}
	return &codec.Snapshot{GeneratedAt: time.Now().UTC(), Nodes: nodes}, nil
}

// Export writes a snapshot in the named format ("json", "yaml", "graph")
func (s *GraphService) Export(ctx context.Context, format string, w io.Writer) error {
	exporter, err := codec.ForFormat(format)
	if err != nil {
		return err
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	return exporter.Export(snap, w)
}
