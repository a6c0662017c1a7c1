package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contentgraph/internal/attach"
	"contentgraph/internal/config"
	"contentgraph/internal/domain"
	"contentgraph/internal/jsonapi"
)

// ImportResult summarizes a full import
type ImportResult struct {
	Types       []string      `json:"types"`
	Entities    int           `json:"entities"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Unchanged   int           `json:"unchanged"`
	Committed   int           `json:"committed"`
	Detached    int           `json:"detached"`
	Unresolved  int           `json:"unresolved"`
	FilesFailed int           `json:"files_failed"`
	FailedTypes []string      `json:"failed_types,omitempty"`
	Errors      []string      `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration"`
	FinishedAt  time.Time     `json:"finished_at"`

	// FetchErrors aggregates the collection failures skipped under the
	// "skip" policy
	FetchErrors error `json:"-"`
}

// collection is the outcome of fetching one entity type
type collection struct {
	resourceType string
	entities     []domain.RawEntity
	err          error
}

// RunFullImport fetches every allowed collection, rebuilds their nodes and
// back-references from scratch and commits them in one batch. Nothing is
// written unless every collection was fetched, or, under the "skip"
// policy, the failed types are left out.
func (s *SyncService) RunFullImport(ctx context.Context) (result *ImportResult, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "sync.full_import")
	activity := s.reporter.Activity("full import")
	activity.Start()
	defer func() {
		s.setState(StateIdle)
		activity.End()
		endSpan(span, err)
		s.metrics.ObserveSync("full", time.Since(start))
		s.finishImport(result, err)
	}()

	s.setState(StateFetching)
	activity.SetStatus("fetching")
	types, collections, err := s.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	result = &ImportResult{Types: types}
	failed := make(map[string]bool)
	var fetchErrs *multierror.Error
	for _, c := range collections {
		if c.err != nil {
			failed[c.resourceType] = true
			result.FailedTypes = append(result.FailedTypes, c.resourceType)
			result.Errors = append(result.Errors, c.err.Error())
			fetchErrs = multierror.Append(fetchErrs, c.err)
		}
	}
	result.FetchErrors = fetchErrs.ErrorOrNil()
	if result.FetchErrors != nil {
		s.logger.Warn("skipping failed collections",
			zap.Strings("types", result.FailedTypes),
			zap.Error(result.FetchErrors),
		)
	}

	s.setState(StateResolving)
	activity.SetStatus("resolving")
	entities := s.mergeCollections(collections, failed)
	result.Entities = len(entities)

	stored, err := s.store.ListNodes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load stored nodes: %w", err)
	}
	previous := make(map[string]*domain.Node, len(stored))
	for _, n := range stored {
		previous[n.ID] = n
		if s.filter.Allows(n.ResourceType) {
			s.resolver.Observe(n.ResourceType, n.Relationships)
		}
	}

	g := s.newGraph()
	nodes := make([]*domain.Node, len(entities))
	byRemote := make(map[string]string, len(entities)+len(stored))
	for i, e := range entities {
		nodes[i] = s.builder.Build(e)
		byRemote[e.ID] = nodes[i].ID
		g.Put(nodes[i])
	}

	// nodes kept from earlier runs: not fetched this time, still allowed
	var retained, excluded []*domain.Node
	for _, n := range stored {
		if _, fetched := byRemote[n.RemoteID]; fetched {
			continue
		}
		if !s.filter.Allows(n.ResourceType) {
			excluded = append(excluded, n)
			continue
		}
		retained = append(retained, n)
		byRemote[n.RemoteID] = n.ID
	}
	lookup := func(remoteID string) (string, bool) {
		id, ok := byRemote[remoteID]
		return id, ok
	}

	// back-references of kept nodes are rebuilt along with everything else
	for _, n := range append(append([]*domain.Node{}, retained...), excluded...) {
		src, err := g.Get(ctx, n.ID)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", n.ID, err)
		}
		if len(src.BackRefs) > 0 {
			src.BackRefs = make(map[string][]string)
			g.Put(src)
		}
	}

	for i, e := range entities {
		rels, unresolved := s.resolver.Resolve(e, lookup)
		for _, u := range unresolved {
			s.logger.Debug("reference dropped", zap.Error(u))
		}
		result.Unresolved += len(unresolved)
		nodes[i].Relationships = rels
	}
	if result.Unresolved > 0 {
		s.logger.Warn("unresolved references dropped", zap.Int("count", result.Unresolved))
	}

	// back-references, rebuilt in id order so the result does not depend
	// on fetch order
	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return nodes[order[a]].ID < nodes[order[b]].ID })
	for _, i := range order {
		if _, err := g.ApplyForward(ctx, nodes[i], nil, nodes[i].Relationships); err != nil {
			return nil, fmt.Errorf("back-references of %s: %w", nodes[i].ID, err)
		}
	}
	excludedIDs := make(map[string]bool, len(excluded))
	for _, n := range excluded {
		excludedIDs[n.ID] = true
		src, err := g.Get(ctx, n.ID)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", n.ID, err)
		}
		if len(src.Relationships) == 0 {
			continue
		}
		if _, err := s.detach(ctx, g, src); err != nil {
			return nil, err
		}
		result.Detached++
	}
	for _, n := range retained {
		src, err := g.Get(ctx, n.ID)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", n.ID, err)
		}
		// fields pointing at nodes of types that are no longer allowed go
		if rels, dropped := withoutTargets(src.Relationships, excludedIDs); dropped {
			src.Relationships = rels
			if err := s.stamp(src); err != nil {
				return nil, fmt.Errorf("digest %s: %w", n.ID, err)
			}
			g.Put(src)
		}
		if _, err := g.ApplyForward(ctx, src, nil, src.Relationships); err != nil {
			return nil, fmt.Errorf("back-references of %s: %w", n.ID, err)
		}
	}

	var jobs []attach.Job
	for i, n := range nodes {
		if err := s.stamp(n); err != nil {
			return nil, fmt.Errorf("digest %s: %w", n.ID, err)
		}
		prev := previous[n.ID]
		switch {
		case prev == nil:
			result.Created++
		case prev.Digest != n.Digest:
			result.Updated++
		default:
			result.Unchanged++
		}
		if n.IsFile() {
			jobs = append(jobs, attach.Job{Node: n, Previous: prev, SelfLink: selfLink(entities[i])})
		}
	}

	if s.attacher != nil && len(jobs) > 0 {
		activity.SetStatus(fmt.Sprintf("materializing %d files", len(jobs)))
		result.FilesFailed = len(s.attacher.AttachAll(ctx, jobs))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.setState(StateCommitting)
	activity.SetStatus("committing")
	committed, err := g.Commit(ctx)
	if err != nil {
		return nil, err
	}
	result.Committed = committed

	seen := make([]string, 0, len(types))
	seen = append(seen, types...)
	for _, e := range entities {
		seen = append(seen, e.Type)
	}
	s.rememberTypes(seen...)

	result.Duration = since(start)
	result.FinishedAt = time.Now().UTC()
	span.SetAttributes(
		attribute.Int("entities", result.Entities),
		attribute.Int("committed", result.Committed),
		attribute.StringSlice("failed_types", result.FailedTypes),
	)
	s.logger.Info("full import complete",
		zap.Int("entities", result.Entities),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("committed", result.Committed),
		zap.Strings("failed_types", result.FailedTypes),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// fetchAll reads the API index and fetches every allowed collection, at
// most concurrency.collections at a time. Under the "abort" policy the
// first failure cancels the rest and is returned; under "skip" failures
// are recorded per collection.
func (s *SyncService) fetchAll(ctx context.Context) ([]string, []collection, error) {
	index, err := s.client.Index(ctx)
	if err != nil {
		return nil, nil, err
	}
	plan := s.filter.Plan(index)
	types := make([]string, 0, len(plan))
	for t := range plan {
		types = append(types, t)
	}
	sort.Strings(types)
	s.logger.Info("fetch plan",
		zap.Strings("types", types),
		zap.Strings("disallowed", s.filter.Disallowed()),
	)

	collections := make([]collection, len(types))
	limit := s.cfg.Concurrency.Collections
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	fetched := 0
	for i, typ := range types {
		g.Go(func() error {
			c := collection{resourceType: typ}
			opts := jsonapi.FetchOptions{
				Filter:  s.cfg.Filters[typ],
				Include: s.cfg.Includes[typ],
			}
			for e, err := range s.client.FetchCollection(gctx, typ, plan[typ], opts) {
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					if s.cfg.OnFetchError != config.FetchErrorSkip {
						return fmt.Errorf("fetch %s: %w", typ, err)
					}
					c.err = fmt.Errorf("fetch %s: %w", typ, err)
					c.entities = nil
					break
				}
				c.entities = append(c.entities, e)
			}
			collections[i] = c

			mu.Lock()
			fetched += len(c.entities)
			mu.Unlock()
			s.logger.Debug("collection fetched", zap.String("type", typ), zap.Int("entities", len(c.entities)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.logger.Info("fetched collections", zap.Int("types", len(types)), zap.Int("entities", fetched))
	return types, collections, nil
}

// mergeCollections flattens the fetched collections in type order, keeping
// the first copy of every entity. Entities of disallowed or failed types
// are dropped, including those that arrived as included resources.
func (s *SyncService) mergeCollections(collections []collection, failed map[string]bool) []domain.RawEntity {
	seen := make(map[string]bool)
	var out []domain.RawEntity
	for _, c := range collections {
		for _, e := range c.entities {
			if seen[e.ID] || failed[e.Type] || !s.filter.Allows(e.Type) {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out
}

// withoutTargets returns rels minus every id in drop. A field left without
// targets is removed. The second result reports whether anything was dropped.
func withoutTargets(rels domain.Relationships, drop map[string]bool) (domain.Relationships, bool) {
	if len(drop) == 0 {
		return rels, false
	}
	out := make(domain.Relationships, len(rels))
	dropped := false
	for key, ref := range rels {
		var keep []string
		for _, id := range ref.IDs() {
			if drop[id] {
				dropped = true
				continue
			}
			keep = append(keep, id)
		}
		switch {
		case len(keep) == 0:
		case ref.IsSingle():
			out.Set(key, domain.Single(keep[0]))
		default:
			out.Set(key, domain.Many(keep...))
		}
	}
	if !dropped {
		return rels, false
	}
	return out, true
}

// finishImport records the outcome and publishes it
func (s *SyncService) finishImport(result *ImportResult, err error) {
	s.mu.Lock()
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastImport = result
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("full import failed", zap.Error(err))
		s.events.Publish(Event{Type: EventImportFailed, Payload: map[string]string{"error": err.Error()}})
		return
	}
	s.events.Publish(Event{Type: EventImportCompleted, Payload: result})
}
