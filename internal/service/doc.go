// Package service keeps the local content graph in step with the remote
// JSON:API repository.
//
// # Services
//
// SyncService owns every write. RunFullImport fetches all allowed
// collections and rebuilds their nodes and back-references in one batch;
// ApplyIncrementalUpdate applies one webhook payload, touching only the
// entity's node and the targets whose back-references change. Both take
// the same write lock.
//
// GraphService is the read side: node lookups, the derived node/edge view
// and exports via the codec package.
//
// Scheduler runs full imports on an interval and on demand.
//
// # Event System
//
// SyncService publishes node, back-reference and import events on an
// EventBus; the hub package fans them out to SSE clients.
package service
