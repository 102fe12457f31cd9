package profile

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HerbHall/counsellor/internal/auth"
	"github.com/HerbHall/counsellor/internal/details"
	"github.com/HerbHall/counsellor/pkg/models"
	"go.uber.org/zap"
)

// Handler serves the profile and brain endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a profile Handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers profile routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/profile", h.handleGet)
	mux.HandleFunc("POST /api/v1/profile", h.handleUpsert)
	mux.HandleFunc("GET /api/v1/profile/brain", h.handleGetBrain)
	mux.HandleFunc("POST /api/v1/profile/brain", h.handleSetBrainField)
}

// BrainFieldRequest is a manual edit of one learned detail.
type BrainFieldRequest struct {
	Category string          `json:"category" example:"relationships"`
	Field    string          `json:"field" example:"partner"`
	Value    json.RawMessage `json:"value" swaggertype:"object"`
}

// BrainResponse wraps the learned details.
type BrainResponse struct {
	PersonalDetails details.Details `json:"personal_details" swaggertype:"object"`
	Categories      []string        `json:"categories"`
}

// handleGet returns the caller's profile.
//
//	@Summary		Get profile
//	@Tags			profile
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	Profile
//	@Failure		401	{object}	models.APIProblem
//	@Failure		404	{object}	models.APIProblem
//	@Router			/profile [get]
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), userID)
	if errors.Is(err, ErrNotFound) {
		models.Problem(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		h.logger.Error("get profile", zap.String("user_id", userID), zap.Error(err))
		models.Problem(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	models.WriteJSON(w, http.StatusOK, p)
}

// handleUpsert creates or updates the caller's profile.
//
//	@Summary		Save profile
//	@Description	Create or replace the intake sections. Learned personal details are never overwritten here.
//	@Tags			profile
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		Profile	true	"Profile"
//	@Success		200		{object}	Profile
//	@Failure		400		{object}	models.APIProblem
//	@Failure		401		{object}	models.APIProblem
//	@Router			/profile [post]
func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in Profile
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := h.service.Upsert(r.Context(), userID, &in)
	if errors.Is(err, ErrInvalidInput) {
		models.Problem(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("save profile", zap.String("user_id", userID), zap.Error(err))
		models.Problem(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	models.WriteJSON(w, http.StatusOK, p)
}

// handleGetBrain returns everything learned about the caller.
//
//	@Summary		Get learned details
//	@Tags			profile
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	BrainResponse
//	@Failure		401	{object}	models.APIProblem
//	@Router			/profile/brain [get]
func (h *Handler) handleGetBrain(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	d, err := h.service.GetDetails(r.Context(), userID)
	if err != nil {
		h.logger.Error("get details", zap.String("user_id", userID), zap.Error(err))
		models.Problem(w, http.StatusInternalServerError, "failed to load details")
		return
	}
	models.WriteJSON(w, http.StatusOK, brainResponse(d))
}

// handleSetBrainField edits one learned detail.
//
//	@Summary		Edit learned detail
//	@Description	Set a single field. Values may be a string, a list of strings or an object.
//	@Tags			profile
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		BrainFieldRequest	true	"Field edit"
//	@Success		200		{object}	BrainResponse
//	@Failure		400		{object}	models.APIProblem
//	@Failure		401		{object}	models.APIProblem
//	@Router			/profile/brain [post]
func (h *Handler) handleSetBrainField(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req BrainFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Value) == 0 {
		models.Problem(w, http.StatusBadRequest, "value is required")
		return
	}
	var v details.Value
	if err := json.Unmarshal(req.Value, &v); err != nil {
		models.Problem(w, http.StatusBadRequest, "value must be a string, list or object")
		return
	}

	d, err := h.service.SetDetailField(r.Context(), userID, req.Category, req.Field, v)
	if errors.Is(err, ErrInvalidInput) {
		models.Problem(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("set detail", zap.String("user_id", userID), zap.Error(err))
		models.Problem(w, http.StatusInternalServerError, "failed to save detail")
		return
	}
	models.WriteJSON(w, http.StatusOK, brainResponse(d))
}

func brainResponse(d details.Details) BrainResponse {
	cats := make([]string, len(details.Categories))
	for i, c := range details.Categories {
		cats[i] = string(c)
	}
	return BrainResponse{PersonalDetails: d, Categories: cats}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := auth.UserFromContext(r.Context())
	if claims == nil || claims.UserID == "" {
		models.Problem(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return claims.UserID, true
}
