package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"contentgraph/internal/attach"
	"contentgraph/internal/domain"
	"contentgraph/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// UpdateResult describes what one incremental update did
type UpdateResult struct {
	NodeID      string   `json:"node_id"`
	RemoteID    string   `json:"remote_id"`
	Type        string   `json:"type"`
	Created     bool     `json:"created"`
	Changed     bool     `json:"changed"`
	Excluded    bool     `json:"excluded,omitempty"`
	UnknownType bool     `json:"unknown_type,omitempty"`
	Touched     []string `json:"touched,omitempty"`
	Unresolved  int      `json:"unresolved,omitempty"`
	FileFailed  bool     `json:"file_failed,omitempty"`
}

// DecodePayload reads a webhook body: either {"data": resource} or a bare
// resource object
func DecodePayload(payload []byte) (domain.RawEntity, error) {
	var doc struct {
		Data jsoniter.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.RawEntity{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	raw := []byte(doc.Data)
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = payload
	}

	var e domain.RawEntity
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.RawEntity{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if e.Type == "" || e.ID == "" {
		return domain.RawEntity{}, fmt.Errorf("%w: resource needs type and id", ErrInvalidPayload)
	}
	return e, nil
}

// ApplyIncrementalUpdate decodes a webhook payload and applies it
func (s *SyncService) ApplyIncrementalUpdate(ctx context.Context, payload []byte) (*UpdateResult, error) {
	e, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return s.ApplyEntity(ctx, e)
}

// ApplyEntity inserts or updates one entity against the stored graph. Only
// the entity's node and the nodes whose back-references change are
// written. An entity of a disallowed type is not stored; if an earlier
// node exists it is detached from everything it pointed at.
func (s *SyncService) ApplyEntity(ctx context.Context, e domain.RawEntity) (result *UpdateResult, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "sync.incremental")
	span.SetAttributes(attribute.String("type", e.Type), attribute.String("remote_id", e.ID))
	defer func() {
		s.setState(StateIdle)
		endSpan(span, err)
		s.metrics.ObserveSync("incremental", time.Since(start))
	}()

	s.setState(StateDiffing)
	g := s.newGraph()
	id := s.builder.NodeID(e.ID)
	result = &UpdateResult{NodeID: id, RemoteID: e.ID, Type: e.Type}

	prev, err := g.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}

	if !s.filter.Allows(e.Type) {
		result.Excluded = true
		if prev == nil {
			s.logger.Info("ignoring update for disallowed type", zap.String("type", e.Type), zap.String("remote_id", e.ID))
			return result, nil
		}
		touched, err := s.detach(ctx, g, prev)
		if err != nil {
			return nil, err
		}
		s.setState(StateCommitting)
		if _, err := g.Commit(ctx); err != nil {
			return nil, err
		}
		result.Touched = touched
		result.Changed = len(touched) > 0
		s.publishBackRefs(id, touched)
		return result, nil
	}

	known, err := s.isKnownType(ctx, e.Type)
	if err != nil {
		return nil, fmt.Errorf("check type %s: %w", e.Type, err)
	}
	if !known {
		result.UnknownType = true
		s.logger.Warn("update for unseen type, relationships may be incomplete until the next full import",
			zap.String("type", e.Type),
			zap.String("remote_id", e.ID),
			zap.Error(ErrUnknownEntityType),
		)
	}

	node := s.builder.Build(e)
	var prevRels domain.Relationships
	if prev != nil {
		prevRels = prev.Relationships
		s.resolver.Observe(prev.ResourceType, prevRels)
	}

	var lookupErr error
	lookup := func(remoteID string) (string, bool) {
		target := s.builder.NodeID(remoteID)
		if target == id {
			return id, true
		}
		ok, err := g.Lookup(ctx, target)
		if err != nil && lookupErr == nil {
			lookupErr = err
		}
		return target, ok
	}
	rels, unresolved := s.resolver.Resolve(e, lookup)
	if lookupErr != nil {
		return nil, fmt.Errorf("resolve %s: %w", id, lookupErr)
	}
	for _, u := range unresolved {
		s.logger.Warn("reference dropped", zap.Error(u))
	}
	result.Unresolved = len(unresolved)
	node.Relationships = rels

	if err := s.stamp(node); err != nil {
		return nil, fmt.Errorf("digest %s: %w", id, err)
	}
	if prev != nil && prev.Digest == node.Digest {
		s.logger.Debug("entity unchanged", zap.String("node", id))
		return result, nil
	}

	var touched []string
	if prev != nil && prev.InternalType != node.InternalType {
		// the old edges are keyed by the old type
		s.logger.Info("entity changed type",
			zap.String("node", id),
			zap.String("from", prev.ResourceType),
			zap.String("to", e.Type),
		)
		if touched, err = s.detach(ctx, g, prev); err != nil {
			return nil, err
		}
		prevRels = nil
	}
	if prev != nil {
		node.BackRefs = prev.BackRefs
	}
	g.Put(node)
	applied, err := g.ApplyForward(ctx, node, prevRels, rels)
	if err != nil {
		return nil, fmt.Errorf("back-references of %s: %w", id, err)
	}
	touched = mergeIDs(touched, applied)

	if !s.attachFile(ctx, attach.Job{Node: node, Previous: prev, SelfLink: selfLink(e)}) {
		result.FileFailed = true
	}

	s.setState(StateCommitting)
	if _, err := g.Commit(ctx); err != nil {
		return nil, err
	}
	s.rememberTypes(e.Type)

	result.Created = prev == nil
	result.Changed = true
	result.Touched = touched
	s.logger.Info("applied update",
		zap.String("node", id),
		zap.String("type", e.Type),
		zap.Bool("created", result.Created),
		zap.Strings("touched", touched),
	)

	eventType := EventNodeUpdated
	if result.Created {
		eventType = EventNodeCreated
	}
	s.events.Publish(Event{Type: eventType, Payload: node})
	s.publishBackRefs(id, touched)
	return result, nil
}

func (s *SyncService) publishBackRefs(source string, touched []string) {
	if len(touched) == 0 {
		return
	}
	s.events.Publish(Event{
		Type:    EventBackRefsUpdated,
		Payload: BackRefsPayload{Source: source, Touched: touched},
	})
}
