// Package builder turns raw JSON:API resources into graph nodes and
// resolves their relationship fields into references.
package builder

import (
	"github.com/google/uuid"

	"contentgraph/internal/domain"
)

// IDGenerator derives node ids from remote ids
type IDGenerator interface {
	NodeID(remoteID string) string
}

// UUIDGenerator derives name-based (SHA-1) UUIDs inside a namespace, so the
// same remote id always maps to the same node id
type UUIDGenerator struct {
	namespace uuid.UUID
}

// NewUUIDGenerator scopes ids to a source, usually its base URL
func NewUUIDGenerator(source string) *UUIDGenerator {
	return &UUIDGenerator{namespace: uuid.NewSHA1(uuid.NameSpaceURL, []byte(source))}
}

func (g *UUIDGenerator) NodeID(remoteID string) string {
	return uuid.NewSHA1(g.namespace, []byte(remoteID)).String()
}

// Builder creates nodes without relationships
type Builder struct {
	ids IDGenerator
}

// New creates a builder
func New(ids IDGenerator) *Builder {
	return &Builder{ids: ids}
}

// NodeID exposes the id derivation for lookups
func (b *Builder) NodeID(remoteID string) string {
	return b.ids.NodeID(remoteID)
}

// Build copies attributes verbatim except "id", which would collide with the
// node id and is kept under domain.AttributesIDKey
func (b *Builder) Build(e domain.RawEntity) *domain.Node {
	node := domain.NewNode(b.ids.NodeID(e.ID), e.ID, e.Type)
	for k, v := range domain.CloneAttributes(e.Attributes) {
		if k == "id" {
			node.Attributes[domain.AttributesIDKey] = v
			continue
		}
		node.Attributes[k] = v
	}
	return node
}
