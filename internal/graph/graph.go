// Package graph is the working set of a sync run. A Graph owns the nodes a
// run touches, loads the rest lazily from the store and writes everything it
// changed back in one batch. Back-references are only ever edited through
// ApplyForward and RemoveAllFrom.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"contentgraph/internal/domain"
	"contentgraph/internal/metrics"
	"contentgraph/internal/repository"
)

// Graph maps node ids to nodes for the duration of one run
type Graph struct {
	store   repository.Store
	logger  *zap.Logger
	metrics *metrics.Collector

	nodes map[string]*domain.Node
	dirty map[string]struct{}
}

// New creates an empty arena over store
func New(store repository.Store, logger *zap.Logger, m *metrics.Collector) *Graph {
	return &Graph{
		store:   store,
		logger:  logger.Named("graph"),
		metrics: m,
		nodes:   make(map[string]*domain.Node),
		dirty:   make(map[string]struct{}),
	}
}

// Put adds or replaces a node and marks it for commit
func (g *Graph) Put(n *domain.Node) {
	g.nodes[n.ID] = n
	g.dirty[n.ID] = struct{}{}
}

// Get returns the arena's node, loading a copy from the store on first use.
// Unknown ids return repository.ErrNotFound.
func (g *Graph) Get(ctx context.Context, id string) (*domain.Node, error) {
	if n, ok := g.nodes[id]; ok {
		return n, nil
	}
	n, err := g.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	g.nodes[id] = n
	return n, nil
}

// Lookup reports whether id exists in the arena or the store
func (g *Graph) Lookup(ctx context.Context, id string) (bool, error) {
	_, err := g.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Len returns the number of nodes held by the arena
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dirty returns the ids waiting for commit, sorted
func (g *Graph) Dirty() []string {
	ids := make([]string, 0, len(g.dirty))
	for id := range g.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Nodes returns the dirty nodes in id order
func (g *Graph) Nodes() []*domain.Node {
	ids := g.Dirty()
	out := make([]*domain.Node, len(ids))
	for i, id := range ids {
		out[i] = g.nodes[id]
	}
	return out
}

func (g *Graph) markDirty(id string) {
	g.dirty[id] = struct{}{}
}

// Commit writes every dirty node in one store batch. Nothing is written when
// ctx is already done.
func (g *Graph) Commit(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return 0, nil
	}
	if err := g.store.CommitNodes(ctx, nodes); err != nil {
		return 0, fmt.Errorf("commit %d nodes: %w", len(nodes), err)
	}
	g.metrics.Committed(len(nodes))
	g.logger.Debug("committed", zap.Int("nodes", len(nodes)))
	g.dirty = make(map[string]struct{})
	return len(nodes), nil
}
