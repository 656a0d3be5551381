package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const pingTimeout = 2 * time.Second

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store     Pinger
	cache     Pinger
	version   string
	startTime time.Time
}

// NewHealthHandler checks store and cache. A nil cache is reported as
// disabled rather than unhealthy.
func NewHealthHandler(store, cache Pinger, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		cache:     cache,
		version:   version,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Store         string `json:"store"`
	Cache         string `json:"cache"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Store:         "ok",
		Cache:         "disabled",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	status := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health check: store ping failed")
		resp.Store = "unavailable"
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	// Quota fails open, so a cache outage degrades rather than fails.
	if h.cache != nil {
		resp.Cache = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check: cache ping failed")
			resp.Cache = "unavailable"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	RespondJSON(w, status, resp)
}
