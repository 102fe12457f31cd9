package server

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/HerbHall/counsellor/internal/auth"
	"github.com/HerbHall/counsellor/internal/config"
	"github.com/HerbHall/counsellor/pkg/models"
	"go.uber.org/zap"
)

// CSRFHeader carries the token on unsafe requests.
const CSRFHeader = "X-CSRF-Token"

// csrfExempt lists unsafe endpoints reachable before a session exists.
var csrfExempt = map[string]bool{
	"/api/v1/auth/register": true,
	"/api/v1/auth/login":    true,
	"/api/v1/auth/refresh":  true,
	"/api/v1/auth/logout":   true,
}

// CSRF implements double-submit cookie protection with tokens signed by
// HMAC-SHA256 and bound to the caller's session identifier.
type CSRF struct {
	secret     []byte
	cookieName string
	secure     bool
	logger     *zap.Logger
}

// NewCSRF creates the CSRF guard. An empty secret is replaced by a random
// one, which invalidates outstanding tokens on every restart.
func NewCSRF(cfg config.CSRFConfig, logger *zap.Logger) *CSRF {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
		logger.Warn("csrf.secret not set, using an ephemeral secret")
	}
	name := cfg.CookieName
	if name == "" {
		name = "csrf-token"
	}
	return &CSRF{secret: secret, cookieName: name, secure: cfg.Secure, logger: logger}
}

// Token issues a new token for the session identifier.
func (c *CSRF) Token(session string) string {
	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	n := hex.EncodeToString(nonce)
	return n + "." + c.sign(session, n)
}

// Valid reports whether token was issued by Token for session.
func (c *CSRF) Valid(token, session string) bool {
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" || sig == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(c.sign(session, nonce)))
}

func (c *CSRF) sign(session, nonce string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(session))
	mac.Write([]byte{0})
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// sessionID binds tokens to the authenticated user, else the client IP.
func sessionID(r *http.Request) string {
	if claims := auth.UserFromContext(r.Context()); claims != nil {
		return "user-" + claims.UserID
	}
	return clientIP(r)
}

// CSRFTokenResponse is the response for GET /csrf-token.
type CSRFTokenResponse struct {
	CSRFToken string `json:"csrfToken" example:"9f86d081884c7d65.5e884898da2804715..."`
}

// handleToken issues a token as both cookie and JSON body.
//
//	@Summary		CSRF token
//	@Description	Issue a CSRF token. Send it back in the X-CSRF-Token header on state-changing requests.
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	CSRFTokenResponse
//	@Router			/csrf-token [get]
func (c *CSRF) handleToken(w http.ResponseWriter, r *http.Request) {
	token := c.Token(sessionID(r))
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
	models.WriteJSON(w, http.StatusOK, CSRFTokenResponse{CSRFToken: token})
}

// Middleware rejects unsafe API requests without a matching token pair.
func (c *CSRF) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !c.protected(r) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(CSRFHeader)
			cookie, err := r.Cookie(c.cookieName)
			if header == "" || err != nil ||
				subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 ||
				!c.Valid(header, sessionID(r)) {
				c.logger.Warn("csrf token validation failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote", clientIP(r)),
					zap.String("request_id", RequestID(r.Context())),
				)
				models.WriteProblem(w, models.APIProblem{
					Type:     models.ProblemTypeForbidden,
					Status:   http.StatusForbidden,
					Detail:   "invalid CSRF token",
					Instance: r.URL.Path,
					Code:     "CSRF_VALIDATION_FAILED",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (c *CSRF) protected(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/") && !csrfExempt[r.URL.Path]
}
