package memory

import (
	"context"
	"sort"
	"sync"

	"contentgraph/internal/domain"
	"contentgraph/internal/repository"
)

// Store keeps nodes in memory
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*domain.Node
}

// New creates an empty store
func New() *Store {
	return &Store{nodes: make(map[string]*domain.Node)}
}

// GetNode returns a copy of the node
func (s *Store) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return n.Clone(), nil
}

// CommitNodes stores copies of all nodes
func (s *Store) CommitNodes(ctx context.Context, nodes []*domain.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	copies := make([]*domain.Node, len(nodes))
	for i, n := range nodes {
		copies[i] = n.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range copies {
		s.nodes[n.ID] = n
	}
	return nil
}

// ListNodes returns copies ordered by id
func (s *Store) ListNodes(ctx context.Context, resourceType string) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if resourceType == "" || n.ResourceType == resourceType {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of stored nodes
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *Store) Close() error { return nil }
