package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"contentgraph/internal/codec"
	"contentgraph/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// GraphHandler serves the read side of the store
type GraphHandler struct {
	svc    *service.GraphService
	logger *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(svc *service.GraphService, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{svc: svc, logger: logger}
}

// GetGraph returns the node/edge view
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	graph, err := h.svc.GetGraph(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		h.logger.Error("failed to get graph", zap.Error(err))
		writeError(w, h.logger, "Failed to get graph", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, graph, http.StatusOK)
}

// ListNodes returns all nodes, or those of one remote type
func (h *GraphHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.ListNodes(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		h.logger.Error("failed to list nodes", zap.Error(err))
		writeError(w, h.logger, "Failed to list nodes", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, nodes, http.StatusOK)
}

// GetNode returns a single node
func (h *GraphHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.svc.GetNode(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, service.ErrNodeNotFound) {
		writeError(w, h.logger, "Not found", err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get node", zap.Error(err))
		writeError(w, h.logger, "Failed to get node", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, node, http.StatusOK)
}

var exportContentTypes = map[string]string{
	"json":  "application/json",
	"yaml":  "application/x-yaml",
	"graph": "application/json",
}

// Export streams a snapshot of the store
func (h *GraphHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	exporter, err := codec.ForFormat(format)
	if err != nil {
		writeError(w, h.logger, "Unknown format", err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := h.svc.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to read snapshot", zap.Error(err))
		writeError(w, h.logger, "Failed to export", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", exportContentTypes[format])
	w.Header().Set("Content-Disposition", "attachment; filename=contentgraph."+extension(format))
	if err := exporter.Export(snap, w); err != nil {
		// headers are already sent
		h.logger.Error("failed to export", zap.String("format", format), zap.Error(err))
	}
}

func extension(format string) string {
	if format == "yaml" {
		return "yml"
	}
	return "json"
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, error, details string, statusCode int) {
	writeJSON(w, logger, ErrorResponse{Error: error, Details: details}, statusCode)
}
