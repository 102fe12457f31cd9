package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/HerbHall/counsellor/internal/auth"
	"github.com/HerbHall/counsellor/pkg/models"
	"go.uber.org/zap"
)

// Handler serves the export and erase endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an export Handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers export routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/export/json", h.download("json", "application/json", WriteJSON))
	mux.HandleFunc("GET /api/v1/export/text", h.download("txt", "text/plain; charset=utf-8", WriteText))
	mux.HandleFunc("GET /api/v1/export/yaml", h.download("yaml", "application/yaml", WriteYAML))
	mux.HandleFunc("GET /api/v1/export/archive", h.download("zip", "application/zip", WriteArchive))
	mux.HandleFunc("DELETE /api/v1/export/delete-all", h.handleDeleteAll)
}

// DeleteAllRequest confirms erasure.
type DeleteAllRequest struct {
	Confirmation string `json:"confirmation" example:"DELETE_ALL_MY_DATA"`
}

// DeleteAllResponse reports what was erased.
type DeleteAllResponse struct {
	Message              string `json:"message"`
	DeletedConversations int    `json:"deletedConversations"`
}

// download renders the export into memory first so a failure can still be
// reported as a problem response.
//
//	@Summary		Export data
//	@Description	Download every stored profile field and session. Formats: json, text, yaml, archive (zip).
//	@Tags			export
//	@Produce		json
//	@Produce		plain
//	@Produce		application/zip
//	@Security		BearerAuth
//	@Param			format	path		string	true	"Export format"	Enums(json, text, yaml, archive)
//	@Success		200		{object}	Document
//	@Failure		401		{object}	models.APIProblem
//	@Router			/export/{format} [get]
func (h *Handler) download(ext, contentType string, render func(io.Writer, *Document) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		doc, err := h.service.Build(r.Context(), userID)
		if err != nil {
			h.logger.Error("build export", zap.String("user_id", userID), zap.Error(err))
			models.Problem(w, http.StatusInternalServerError, "failed to export data")
			return
		}
		var buf bytes.Buffer
		if err := render(&buf, doc); err != nil {
			h.logger.Error("render export", zap.String("format", ext), zap.Error(err))
			models.Problem(w, http.StatusInternalServerError, "failed to export data")
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", "attachment; filename=counsellor-export."+ext)
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
		h.logger.Info("data exported", zap.String("user_id", userID), zap.String("format", ext))
	}
}

// handleDeleteAll erases every conversation and the profile.
//
//	@Summary		Delete all data
//	@Description	Permanently erase every session and the profile. The account itself is kept.
//	@Tags			export
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		DeleteAllRequest	true	"Confirmation"
//	@Success		200		{object}	DeleteAllResponse
//	@Failure		400		{object}	models.APIProblem
//	@Router			/export/delete-all [delete]
func (h *Handler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req DeleteAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := h.service.DeleteAll(r.Context(), userID, req.Confirmation)
	if errors.Is(err, ErrConfirmation) {
		models.Problem(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("delete all data", zap.String("user_id", userID), zap.Error(err))
		models.Problem(w, http.StatusInternalServerError, "failed to delete data")
		return
	}
	models.WriteJSON(w, http.StatusOK, DeleteAllResponse{
		Message:              "All your data has been permanently deleted",
		DeletedConversations: n,
	})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := auth.UserFromContext(r.Context())
	if claims == nil || claims.UserID == "" {
		models.Problem(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return claims.UserID, true
}
