package llm

import (
	"net/http"

	"github.com/HerbHall/counsellor/pkg/models"
)

// ModelsResponse is the response for GET /models.
type ModelsResponse struct {
	DefaultModel string              `json:"default_model"`
	Models       []ModelAvailability `json:"models"`
}

// RegisterRoutes adds the model listing endpoint to mux.
func (r *Router) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/models", r.handleListModels)
}

// handleListModels returns the model catalog with availability flags.
//
//	@Summary		List models
//	@Description	Returns every known model with its context budget, pricing and availability.
//	@Tags			llm
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200 {object} ModelsResponse
//	@Router			/models [get]
func (r *Router) handleListModels(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, ModelsResponse{
		DefaultModel: r.cfg.DefaultModel,
		Models:       r.Available(),
	})
}
