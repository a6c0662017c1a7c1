package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"contentgraph/internal/attach"
	"contentgraph/internal/builder"
	"contentgraph/internal/config"
	"contentgraph/internal/domain"
	"contentgraph/internal/graph"
	"contentgraph/internal/jsonapi"
	"contentgraph/internal/logging"
	"contentgraph/internal/metrics"
	"contentgraph/internal/repository"
)

// State is the phase a sync run is in
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateResolving  State = "resolving"
	StateDiffing    State = "diffing"
	StateCommitting State = "committing"
)

// Deps are the collaborators of a SyncService. Client and Store are
// required; without an Attacher no files are materialized.
type Deps struct {
	Client   *jsonapi.Client
	Store    repository.Store
	Attacher *attach.Orchestrator
	IDs      builder.IDGenerator
	Digester graph.Digester
	Events   *EventBus
	Reporter logging.Reporter
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// SyncService mirrors the remote repository into the store. Full imports
// and incremental updates share one write lock, so at most one of them
// mutates the graph at a time.
type SyncService struct {
	cfg      *config.Config
	client   *jsonapi.Client
	store    repository.Store
	attacher *attach.Orchestrator
	filter   *builder.LinkFilter
	builder  *builder.Builder
	resolver *builder.Resolver
	digester graph.Digester
	events   *EventBus
	reporter logging.Reporter
	logger   *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer

	writeMu sync.Mutex

	mu         sync.RWMutex
	state      State
	knownTypes map[string]struct{}
	lastImport *ImportResult
	lastError  string
}

// NewSyncService wires a sync service from cfg and deps
func NewSyncService(cfg *config.Config, deps Deps) *SyncService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := deps.IDs
	if ids == nil {
		ids = builder.NewUUIDGenerator(cfg.BaseURL)
	}
	digester := deps.Digester
	if digester == nil {
		digester = graph.Blake2bDigester{}
	}
	events := deps.Events
	if events == nil {
		events = NewEventBus()
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = logging.NewReporter(logger)
	}

	filter := builder.NewLinkFilter(cfg.DisallowedLinkTypes)
	return &SyncService{
		cfg:        cfg,
		client:     deps.Client,
		store:      deps.Store,
		attacher:   deps.Attacher,
		filter:     filter,
		builder:    builder.New(ids),
		resolver:   builder.NewResolver(filter, logger),
		digester:   digester,
		events:     events,
		reporter:   reporter,
		logger:     logger.Named("sync"),
		metrics:    deps.Metrics,
		tracer:     otel.Tracer("contentgraph/service"),
		state:      StateIdle,
		knownTypes: make(map[string]struct{}),
	}
}

// Events returns the bus sync events are published on
func (s *SyncService) Events() *EventBus {
	return s.events
}

// State returns the current phase
func (s *SyncService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *SyncService) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		s.logger.Debug("state", zap.String("from", string(prev)), zap.String("to", string(state)))
	}
}

// Status is a snapshot for the status endpoint
type Status struct {
	State      State         `json:"state"`
	LastImport *ImportResult `json:"last_import,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	KnownTypes []string      `json:"known_types"`
}

// Status reports the current state and the outcome of the last full import
func (s *SyncService) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.knownTypes))
	for t := range s.knownTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return Status{
		State:      s.state,
		LastImport: s.lastImport,
		LastError:  s.lastError,
		KnownTypes: types,
	}
}

func (s *SyncService) rememberTypes(types ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		s.knownTypes[t] = struct{}{}
	}
}

// isKnownType reports whether an import saw the type or the store holds
// nodes of it
func (s *SyncService) isKnownType(ctx context.Context, resourceType string) (bool, error) {
	s.mu.RLock()
	_, ok := s.knownTypes[resourceType]
	s.mu.RUnlock()
	if ok {
		return true, nil
	}
	nodes, err := s.store.ListNodes(ctx, resourceType)
	if err != nil {
		return false, err
	}
	if len(nodes) > 0 {
		s.rememberTypes(resourceType)
		return true, nil
	}
	return false, nil
}

func (s *SyncService) newGraph() *graph.Graph {
	return graph.New(s.store, s.logger, s.metrics)
}

func (s *SyncService) stamp(n *domain.Node) error {
	return graph.Stamp(s.digester, n)
}

// detach clears src's forward fields, drops src from its targets'
// back-references and restamps src to match what is left
func (s *SyncService) detach(ctx context.Context, g *graph.Graph, src *domain.Node) ([]string, error) {
	if len(src.Relationships) == 0 {
		return nil, nil
	}
	touched, err := g.RemoveAllFrom(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("detach %s: %w", src.ID, err)
	}
	if err := s.stamp(src); err != nil {
		return nil, fmt.Errorf("digest %s: %w", src.ID, err)
	}
	return touched, nil
}

// attachFile runs the orchestrator for one node, logging failures
func (s *SyncService) attachFile(ctx context.Context, job attach.Job) bool {
	if s.attacher == nil || !job.Node.IsFile() {
		return true
	}
	err := s.attacher.Attach(ctx, job)
	var merr *attach.MaterializationError
	if errors.As(err, &merr) {
		s.logger.Warn("file not materialized", zap.Error(merr))
		return false
	}
	return err == nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func selfLink(e domain.RawEntity) string {
	if l, ok := e.Links["self"]; ok {
		return l.Href
	}
	return ""
}

// mergeIDs unions two sorted id lists
func mergeIDs(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range append(append([]string{}, a...), b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
