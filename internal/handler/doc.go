// Package handler implements the HTTP surface of the sync service.
//
// # Routes
//
//	POST /webhook/update   apply one incremental update (X-Webhook-Secret)
//	POST /api/sync         schedule a full import
//	GET  /api/status       sync state and the last import result
//	GET  /api/nodes        list nodes, ?type= filters by remote type
//	GET  /api/nodes/{id}   one node with merged back-references
//	GET  /api/graph        derived node/edge view, ?type= filters
//	GET  /api/export       snapshot, ?format=json|yaml|graph
//	GET  /api/events       Server-Sent Events stream
//	GET  /metrics          Prometheus metrics
//
// Errors are returned as JSON with an {error, details} structure.
package handler
