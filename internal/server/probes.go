package server

import (
	"context"
	"net/http"
	"time"

	"github.com/HerbHall/counsellor/internal/version"
	"github.com/HerbHall/counsellor/pkg/models"
)

// ReadinessChecker returns nil when the process can take traffic.
type ReadinessChecker func(ctx context.Context) error

// readinessTimeout bounds a single readiness check.
const readinessTimeout = 2 * time.Second

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		models.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := s.ready(ctx); err != nil {
		models.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status    string            `json:"status" example:"ok"`
	Service   string            `json:"service" example:"counsellor"`
	Timestamp time.Time         `json:"timestamp"`
	Version   map[string]string `json:"version"`
}

// handleHealth reports service status and build information.
//
//	@Summary		Health check
//	@Description	Returns service health status with version information.
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "counsellor",
		Timestamp: time.Now().UTC(),
		Version:   version.Map(),
	})
}
