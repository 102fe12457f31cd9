package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/HerbHall/counsellor/pkg/models"
	"go.uber.org/zap"
)

// maxBodyBytes bounds auth request bodies; they carry two short strings.
const maxBodyBytes = 16 << 10

// Handler serves the /api/v1/auth routes.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler returns a Handler backed by service.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the auth routes. The first four are reachable
// without an access token.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/logout", h.handleLogout)

	mux.HandleFunc("GET /api/v1/auth/me", h.authed(h.handleMe))
	mux.HandleFunc("POST /api/v1/auth/change-password", h.authed(h.handleChangePassword))
	mux.HandleFunc("DELETE /api/v1/auth/account", h.authed(h.handleDeleteAccount))
}

// Middleware returns the access-token middleware for the whole API.
func (h *Handler) Middleware() func(http.Handler) http.Handler {
	return AuthMiddleware(h.service.Tokens())
}

type authedFunc func(w http.ResponseWriter, r *http.Request, c *Claims)

// authed hands the caller's claims to fn, answering 401 when there are none.
func (h *Handler) authed(fn authedFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := UserFromContext(r.Context())
		if c == nil {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		fn(w, r, c)
	}
}

// handleRegister creates a new account.
//
//	@Summary		Register
//	@Description	Create an account. Usernames are 3-50 letters, digits, underscores or hyphens; passwords 8-100 characters.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		Credentials	true	"Account details"
//	@Success		201		{object}	User
//	@Failure		400		{object}	models.APIProblem
//	@Failure		409		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/auth/register [post]
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := h.service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, user)
}

// handleLogin exchanges credentials for a token pair.
//
//	@Summary		Login
//	@Description	Authenticate with username and password to receive a JWT token pair. Five consecutive failures lock the account for fifteen minutes.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		Credentials	true	"Login credentials"
//	@Success		200		{object}	TokenPair
//	@Failure		400		{object}	models.APIProblem
//	@Failure		401		{object}	models.APIProblem
//	@Failure		423		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/auth/login [post]
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeAuthError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	pair, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	models.WriteJSON(w, http.StatusOK, pair)
}

// handleRefresh rotates a refresh token.
//
//	@Summary		Refresh tokens
//	@Description	Exchange a valid refresh token for a new token pair. The old refresh token stops working.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		TokenRequest	true	"Refresh token"
//	@Success		200		{object}	TokenPair
//	@Failure		400		{object}	models.APIProblem
//	@Failure		401		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/auth/refresh [post]
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decodeBody(w, r, &req) || !requireRefreshToken(w, req.RefreshToken) {
		return
	}
	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	models.WriteJSON(w, http.StatusOK, pair)
}

// handleLogout revokes a refresh token.
//
//	@Summary		Logout
//	@Description	Revoke a refresh token to end a session.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body	TokenRequest	true	"Refresh token to revoke"
//	@Success		204		"No Content"
//	@Failure		400		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/auth/logout [post]
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decodeBody(w, r, &req) || !requireRefreshToken(w, req.RefreshToken) {
		return
	}
	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		h.fail(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the authenticated account.
//
//	@Summary		Current user
//	@Tags			auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	User
//	@Failure		401	{object}	models.APIProblem
//	@Failure		404	{object}	models.APIProblem
//	@Router			/auth/me [get]
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request, c *Claims) {
	user, err := h.service.GetUser(r.Context(), c.UserID)
	if errors.Is(err, ErrUserNotFound) {
		// The token outlived its account.
		writeAuthError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	models.WriteJSON(w, http.StatusOK, user)
}

// handleChangePassword replaces the caller's password.
//
//	@Summary		Change password
//	@Description	Verify the current password and set a new one. All refresh tokens are revoked.
//	@Tags			auth
//	@Accept			json
//	@Security		BearerAuth
//	@Param			request	body	PasswordChange	true	"Current and new password"
//	@Success		204		"No Content"
//	@Failure		400		{object}	models.APIProblem
//	@Failure		401		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/auth/change-password [post]
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request, c *Claims) {
	var req PasswordChange
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.ChangePassword(r.Context(), c.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, "change password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAccount removes the caller's account and all their data.
//
//	@Summary		Delete account
//	@Description	Permanently delete the account, its sessions and profile. The body must confirm with DELETE_MY_ACCOUNT.
//	@Tags			auth
//	@Accept			json
//	@Security		BearerAuth
//	@Param			request	body	AccountDeletion	true	"Confirmation"
//	@Success		204		"No Content"
//	@Failure		400		{object}	models.APIProblem
//	@Failure		401		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/auth/account [delete]
func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request, c *Claims) {
	var req AccountDeletion
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if err != nil || req.Confirmation != DeleteConfirmation {
		writeAuthError(w, http.StatusBadRequest, `invalid confirmation, send {"confirmation": "`+DeleteConfirmation+`"}`)
		return
	}
	if err := h.service.DeleteAccount(r.Context(), c.UserID); err != nil {
		h.fail(w, "delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authFailures maps service errors to client-facing responses. An empty
// detail means the error text itself is safe to show.
var authFailures = []struct {
	err    error
	status int
	detail string
}{
	{ErrInvalidInput, http.StatusBadRequest, ""},
	{ErrUserExists, http.StatusConflict, "username already exists"},
	{ErrInvalidCredentials, http.StatusUnauthorized, "invalid username or password"},
	{ErrAccountLocked, http.StatusLocked, "account temporarily locked after repeated failed logins"},
	{ErrInvalidToken, http.StatusUnauthorized, "invalid or expired refresh token"},
	{ErrWrongPassword, http.StatusUnauthorized, "current password is incorrect"},
	{ErrUserNotFound, http.StatusUnauthorized, "authentication required"},
}

// fail answers with the mapped problem for err, or logs it and answers 500.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	for _, f := range authFailures {
		if errors.Is(err, f.err) {
			detail := f.detail
			if detail == "" {
				detail = err.Error()
			}
			writeAuthError(w, f.status, detail)
			return
		}
	}
	h.logger.Error(op+" failed", zap.Error(err))
	writeAuthError(w, http.StatusInternalServerError, op+" failed")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeAuthError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func requireRefreshToken(w http.ResponseWriter, tok string) bool {
	if tok == "" {
		writeAuthError(w, http.StatusBadRequest, "refresh_token is required")
		return false
	}
	return true
}

// writeAuthError writes an auth-error problem document.
func writeAuthError(w http.ResponseWriter, status int, detail string) {
	models.WriteProblem(w, models.APIProblem{
		Type:   models.ProblemTypeAuth,
		Status: status,
		Detail: detail,
	})
}
