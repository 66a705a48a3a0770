package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/logger"
)

// IndexHandler handles HNSW index maintenance
type IndexHandler struct {
	rebuilder database.HNSWRebuilder
	onChange  func()
}

// NewIndexHandler creates a new index handler
func NewIndexHandler(rebuilder database.HNSWRebuilder, onChange func()) *IndexHandler {
	return &IndexHandler{rebuilder: rebuilder, onChange: onChange}
}

// RebuildIndexResponse represents the response from rebuilding the HNSW index
type RebuildIndexResponse struct {
	Success    bool  `json:"success"`
	FaceCount  int   `json:"face_count"`
	Saved      bool  `json:"saved"`
	DurationMs int64 `json:"duration_ms"`
}

// Rebuild rebuilds the in-memory index from the store and persists it when a
// path is configured.
func (h *IndexHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	startTime := time.Now()

	if err := h.rebuilder.RebuildHNSW(r.Context()); err != nil {
		log.Error("failed to rebuild face index", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to rebuild face index")
		return
	}

	// The rebuilt index is usable in memory even if it cannot be written out.
	saved := true
	if err := h.rebuilder.SaveHNSWIndex(); err != nil {
		log.Warn("failed to save face index to disk", zap.Error(err))
		saved = false
	}
	if h.onChange != nil {
		h.onChange()
	}

	respondJSON(w, http.StatusOK, RebuildIndexResponse{
		Success:    true,
		FaceCount:  h.rebuilder.HNSWCount(),
		Saved:      saved,
		DurationMs: time.Since(startTime).Milliseconds(),
	})
}
