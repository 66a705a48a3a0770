package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/logger"
)

const statsCacheTTL = 30 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *database.Stats
	expiresAt time.Time
}

func (c *statsCache) get() (*database.Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *database.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsProvider reports store-wide counters.
type StatsProvider interface {
	Stats(ctx context.Context) (database.Stats, error)
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	store StatsProvider
	cache statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(store StatsProvider) *StatsHandler {
	return &StatsHandler{store: store}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// Get returns the store statistics
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to get stats", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	h.cache.set(&stats)
	respondJSON(w, http.StatusOK, stats)
}
