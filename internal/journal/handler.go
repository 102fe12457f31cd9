package journal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/HerbHall/counsellor/internal/auth"
	"github.com/HerbHall/counsellor/pkg/llm"
	"github.com/HerbHall/counsellor/pkg/models"
	"go.uber.org/zap"
)

// Handler serves the session endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a journal Handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers session routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sessions", h.handleList)
	mux.HandleFunc("GET /api/v1/sessions/recent", h.handleRecent)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.handleGet)
	mux.HandleFunc("POST /api/v1/sessions", h.handleStart)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", h.handleSend)
	mux.HandleFunc("POST /api/v1/sessions/{id}/end", h.handleEnd)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.handleDelete)
}

// SendRequest is a user message.
type SendRequest struct {
	Content string `json:"content" example:"I slept badly again."`
}

// handleList returns every session of the caller.
//
//	@Summary		List sessions
//	@Tags			sessions
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}		Conversation
//	@Failure		401	{object}	models.APIProblem
//	@Router			/sessions [get]
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}
	models.WriteJSON(w, http.StatusOK, list)
}

// handleRecent returns the latest sessions.
//
//	@Summary		Recent sessions
//	@Tags			sessions
//	@Produce		json
//	@Security		BearerAuth
//	@Param			limit	query		int	false	"Number of sessions (1-100)"	default(5)
//	@Success		200		{array}		Conversation
//	@Failure		400		{object}	models.APIProblem
//	@Router			/sessions/recent [get]
func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			models.Problem(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}
	list, err := h.service.Recent(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, "recent sessions", err)
		return
	}
	models.WriteJSON(w, http.StatusOK, list)
}

// handleGet returns one session with its messages.
//
//	@Summary		Get session
//	@Tags			sessions
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	Conversation
//	@Failure		404	{object}	models.APIProblem
//	@Router			/sessions/{id} [get]
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.fail(w, "get session", err)
		return
	}
	models.WriteJSON(w, http.StatusOK, c)
}

// handleStart opens a session and returns the model's greeting.
//
//	@Summary		Start session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		StartRequest	true	"Session options"
//	@Success		201		{object}	Conversation
//	@Failure		400		{object}	models.APIProblem
//	@Failure		429		{object}	models.APIProblem
//	@Router			/sessions [post]
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := h.service.Start(r.Context(), userID, req)
	if err != nil {
		h.fail(w, "start session", err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, c)
}

// handleSend posts a user message and returns the assistant reply.
//
//	@Summary		Send message
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string		true	"Session ID"
//	@Param			request	body		SendRequest	true	"Message"
//	@Success		200		{object}	Reply
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		409		{object}	models.APIProblem
//	@Failure		502		{object}	models.APIProblem
//	@Router			/sessions/{id}/messages [post]
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply, err := h.service.Send(r.Context(), userID, r.PathValue("id"), req.Content)
	if err != nil {
		h.fail(w, "send message", err)
		return
	}
	models.WriteJSON(w, http.StatusOK, reply)
}

// handleEnd closes a session with a summary and learned details.
//
//	@Summary		End session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string		true	"Session ID"
//	@Param			request	body		EndRequest	true	"End-of-session values"
//	@Success		200		{object}	Conversation
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		409		{object}	models.APIProblem
//	@Router			/sessions/{id}/end [post]
func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := h.service.End(r.Context(), userID, r.PathValue("id"), req)
	if err != nil {
		h.fail(w, "end session", err)
		return
	}
	models.WriteJSON(w, http.StatusOK, c)
}

// handleDelete removes a session.
//
//	@Summary		Delete session
//	@Tags			sessions
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Session ID"
//	@Success		204
//	@Failure		404	{object}	models.APIProblem
//	@Router			/sessions/{id} [delete]
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		h.fail(w, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps service errors onto problem responses.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		models.Problem(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		models.Problem(w, http.StatusNotFound, "session not found")
	case errors.Is(err, ErrNotActive):
		models.Problem(w, http.StatusConflict, "session is not active")
	case llm.IsRateLimitError(err):
		models.Problem(w, http.StatusServiceUnavailable, "the AI provider is rate limiting requests, try again shortly")
	case llm.HTTPStatus(err) != 0:
		h.logger.Warn(op+" failed upstream", zap.Error(err))
		models.Problem(w, llm.HTTPStatus(err), "the AI provider could not complete the request")
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		models.Problem(w, http.StatusInternalServerError, "internal error")
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := auth.UserFromContext(r.Context())
	if claims == nil || claims.UserID == "" {
		models.Problem(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return claims.UserID, true
}
