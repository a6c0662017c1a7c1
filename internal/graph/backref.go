package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"contentgraph/internal/domain"
	"contentgraph/internal/repository"
)

// ApplyForward brings the back-references of src's targets in line with a
// change of src's forward fields from prev to next. A target keeps its entry
// while any field of next still points at it. Every target is loaded before
// the first edit, so a failed load leaves the arena unchanged. Targets that
// exist nowhere are skipped.
//
// Returns the ids of the nodes whose back-references changed, sorted.
func (g *Graph) ApplyForward(ctx context.Context, src *domain.Node, prev, next domain.Relationships) ([]string, error) {
	before := prev.Targets()
	after := next.Targets()

	ids := make([]string, 0, len(before)+len(after))
	for id := range after {
		ids = append(ids, id)
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	targets := make(map[string]*domain.Node, len(ids))
	for _, id := range ids {
		t, err := g.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			g.logger.Debug("back-reference target missing",
				zap.String("source", src.ID),
				zap.String("target", id),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load target %s: %w", id, err)
		}
		targets[id] = t
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := domain.BackRefKey(src.InternalType)
	var touched []string
	added, removed := 0, 0
	for _, id := range ids {
		t, ok := targets[id]
		if !ok {
			continue
		}
		var changed bool
		if _, keep := after[id]; keep {
			changed = t.AddBackRef(key, src.ID)
			if changed {
				added++
			}
		} else {
			changed = t.RemoveBackRef(key, src.ID)
			if changed {
				removed++
			}
		}
		if changed {
			g.markDirty(id)
			touched = append(touched, id)
		}
	}

	g.metrics.BackRefs(added, removed)
	return touched, nil
}

// RemoveAllFrom takes src out of the graph's edge set: its id is removed
// from the back-references of every node it points at and its own forward
// fields are cleared. Only src's previous targets are visited.
func (g *Graph) RemoveAllFrom(ctx context.Context, src *domain.Node) ([]string, error) {
	touched, err := g.ApplyForward(ctx, src, src.Relationships, nil)
	if err != nil {
		return nil, err
	}
	if len(src.Relationships) > 0 {
		src.Relationships = make(domain.Relationships)
		g.Put(src)
	}
	return touched, nil
}
