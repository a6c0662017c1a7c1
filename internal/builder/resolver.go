package builder

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"contentgraph/internal/domain"
)

// Lookup maps a remote id to a node id when the target is known
type Lookup func(remoteID string) (nodeID string, ok bool)

// Reasons a reference is left out
const (
	ReasonDisallowed = "disallowed"
	ReasonMissing    = "missing"
)

// UnresolvedReference is a reference entry that was dropped. It is a
// warning, not a failure.
type UnresolvedReference struct {
	Source string // remote id of the entity holding the reference
	Field  string
	Ref    domain.RawRef
	Reason string
}

func (u UnresolvedReference) Error() string {
	return fmt.Sprintf("%s.%s -> %s %s: %s", u.Source, u.Field, u.Ref.Type, u.Ref.ID, u.Reason)
}

type fieldKey struct {
	resourceType string
	field        string
}

// Resolver resolves relationship fields. It remembers the first shape seen
// for every (type, field) and coerces later payloads to it, so a field's
// cardinality never changes for the lifetime of the resolver.
type Resolver struct {
	filter *LinkFilter
	logger *zap.Logger

	mu    sync.Mutex
	cards map[fieldKey]domain.Cardinality
}

// NewResolver creates a resolver
func NewResolver(filter *LinkFilter, logger *zap.Logger) *Resolver {
	return &Resolver{
		filter: filter,
		logger: logger.Named("resolver"),
		cards:  make(map[fieldKey]domain.Cardinality),
	}
}

// Cardinality returns the registered shape of a field
func (r *Resolver) Cardinality(resourceType, field string) domain.Cardinality {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cards[fieldKey{resourceType, field}]
}

// Resolve turns the entity's relationships into references. Null fields,
// disallowed targets and targets unknown to lookup are left out; a field
// with nothing left is absent from the result.
func (r *Resolver) Resolve(e domain.RawEntity, lookup Lookup) (domain.Relationships, []UnresolvedReference) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := make([]string, 0, len(e.Relationships))
	for field := range e.Relationships {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	rels := make(domain.Relationships)
	var unresolved []UnresolvedReference

	for _, field := range fields {
		raw := e.Relationships[field]
		if raw.IsNull() {
			continue
		}

		key := fieldKey{e.Type, field}
		card, known := r.cards[key]
		if !known {
			card = raw.Cardinality()
			r.cards[key] = card
		}

		seen := make(map[string]bool)
		var ids []string
		for _, ref := range raw.Refs() {
			if !r.filter.AllowsRef(ref) {
				unresolved = append(unresolved, UnresolvedReference{e.ID, field, ref, ReasonDisallowed})
				continue
			}
			id, ok := lookup(ref.ID)
			if !ok {
				unresolved = append(unresolved, UnresolvedReference{e.ID, field, ref, ReasonMissing})
				continue
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			continue
		}

		if card == domain.CardinalitySingle {
			if raw.Cardinality() == domain.CardinalityMany && len(ids) > 1 {
				r.logger.Warn("list payload for single-valued field, keeping first entry",
					zap.String("type", e.Type),
					zap.String("field", field),
					zap.String("entity", e.ID),
					zap.String("kept", ids[0]),
					zap.Strings("dropped", ids[1:]),
				)
			}
			rels.Set(domain.FieldKey(field), domain.Single(ids[0]))
			continue
		}
		rels.Set(domain.FieldKey(field), domain.Many(ids...))
	}

	return rels, unresolved
}

// Observe registers the shapes of an existing node's resolved fields for
// any field not seen yet, so a restart does not let a payload flip a
// field's cardinality
func (r *Resolver) Observe(resourceType string, rels domain.Relationships) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, ref := range rels {
		field, ok := strings.CutSuffix(key, domain.LinkSuffix)
		if !ok {
			continue
		}
		k := fieldKey{resourceType, field}
		if _, known := r.cards[k]; !known {
			r.cards[k] = ref.Cardinality()
		}
	}
}
