// Package domain defines the core types for mirroring a remote JSON:API
// content repository into a local graph.
//
// # Raw payloads
//
// RawEntity is a resource object as the remote delivers it. Its
// relationships are RawRelationship values whose data member is null, a
// single resource identifier, or an array of identifiers; the shape is kept
// so the graph can infer field cardinality.
//
// # Nodes
//
// Node is an entity in the local graph. Forward fields live in
// Relationships, keyed by the field name plus LinkSuffix, and hold a
// Reference: either Single(id) or Many(ids...). Fields without resolved
// targets are absent.
//
// Back-references live in BackRefs, keyed by the source node's internal type
// plus LinkSuffix ("node__article___NODE"). They are maintained by the graph
// package, never by callers, and are merged into the relationships object
// when a node is rendered.
//
// # Derived view
//
// DeriveGraph flattens a node set into nodes and directed edges for
// visualization and export.
//
// # Design Principles
//
// - No database or external dependencies
// - Pure domain logic without infrastructure concerns
package domain
