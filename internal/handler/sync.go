package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"contentgraph/internal/service"
)

// MaxPayloadBytes bounds webhook bodies
const MaxPayloadBytes = 10 << 20

// SecretHeader carries the shared webhook secret
const SecretHeader = "X-Webhook-Secret"

// Updater applies incremental updates and reports sync status
type Updater interface {
	ApplyIncrementalUpdate(ctx context.Context, payload []byte) (*service.UpdateResult, error)
	Status() service.Status
}

// Trigger schedules a full import
type Trigger interface {
	Trigger()
}

// SyncHandler handles webhook deliveries and sync control
type SyncHandler struct {
	updater Updater
	trigger Trigger
	secret  string
	logger  *zap.Logger
}

// NewSyncHandler creates a sync handler. An empty secret accepts every
// delivery; a nil trigger disables POST /api/sync.
func NewSyncHandler(updater Updater, trigger Trigger, secret string, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{updater: updater, trigger: trigger, secret: secret, logger: logger}
}

// Update applies one webhook payload
func (h *SyncHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.secret)) != 1 {
		writeError(w, h.logger, "Unauthorized", "missing or wrong "+SecretHeader, http.StatusUnauthorized)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		writeError(w, h.logger, "Invalid request body", err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	result, err := h.updater.ApplyIncrementalUpdate(r.Context(), payload)
	if errors.Is(err, service.ErrInvalidPayload) {
		writeError(w, h.logger, "Invalid payload", err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("incremental update failed", zap.Error(err))
		writeError(w, h.logger, "Update failed", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, result, http.StatusOK)
}

// Sync schedules a full import and returns immediately
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, h.logger, "Sync not configured", "no scheduler is running", http.StatusServiceUnavailable)
		return
	}
	h.trigger.Trigger()
	writeJSON(w, h.logger, map[string]string{"status": "sync_triggered"}, http.StatusAccepted)
}

// Status reports the sync state
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, h.updater.Status(), http.StatusOK)
}
