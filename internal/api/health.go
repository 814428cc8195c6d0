package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	database Pinger
	redis    Pinger
}

// NewHealthHandler checks database and, when non-nil, redis.
func NewHealthHandler(database, redis Pinger) *HealthHandler {
	return &HealthHandler{database: database, redis: redis}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status := http.StatusOK

	if err := h.database.PingContext(ctx); err != nil {
		checks["database"] = "error"
		status = http.StatusServiceUnavailable
	}
	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.PingContext(ctx); err != nil {
			checks["redis"] = "error"
			status = http.StatusServiceUnavailable
		}
	}

	result := "ok"
	if status != http.StatusOK {
		result = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status": result,
		"checks": checks,
	})
}
