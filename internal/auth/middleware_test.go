package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/counsellor/internal/testutil"
	"github.com/HerbHall/counsellor/pkg/models"
)

var middlewareSecret = []byte("middleware-secret-at-least-32-bytes")

// serve runs one request through the middleware and reports whether the
// wrapped handler ran and with which claims.
func serve(t *testing.T, ts *TokenService, method, path, authz string) (*httptest.ResponseRecorder, bool, *Claims) {
	t.Helper()

	var (
		ran    bool
		claims *Claims
	)
	h := AuthMiddleware(ts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		claims = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, ran, claims
}

func TestAuthMiddleware(t *testing.T) {
	ts := NewTokenService(middlewareSecret, 15*time.Minute, 24*time.Hour)
	valid, err := ts.IssueAccessToken(&User{ID: "user-1", Username: "alice"})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		authz      string
		wantRun    bool
		wantUserID string
		wantDetail string
	}{
		{name: "probe path untouched", method: "GET", path: "/healthz", wantRun: true},
		{name: "metrics untouched", method: "GET", path: "/metrics", authz: "Bearer junk", wantRun: true},
		{name: "websocket untouched", method: "GET", path: "/api/v1/ws/notifications?token=abc", wantRun: true},
		{name: "register anonymous", method: "POST", path: "/api/v1/auth/register", wantRun: true},
		{name: "login ignores bad token", method: "POST", path: "/api/v1/auth/login", authz: "Bearer junk", wantRun: true},
		{name: "refresh anonymous", method: "POST", path: "/api/v1/auth/refresh", wantRun: true},
		{name: "logout anonymous", method: "POST", path: "/api/v1/auth/logout", wantRun: true},
		{name: "csrf attaches claims", method: "GET", path: "/api/v1/csrf-token", authz: "Bearer " + valid, wantRun: true, wantUserID: "user-1"},
		{name: "protected without header", method: "GET", path: "/api/v1/sessions", wantDetail: "missing or invalid authorization header"},
		{name: "protected with basic scheme", method: "GET", path: "/api/v1/sessions", authz: "Basic dXNlcjpwYXNz", wantDetail: "missing or invalid authorization header"},
		{name: "protected with empty bearer", method: "GET", path: "/api/v1/sessions", authz: "Bearer ", wantDetail: "missing or invalid authorization header"},
		{name: "protected with garbage", method: "GET", path: "/api/v1/sessions", authz: "Bearer invalid.jwt.token", wantDetail: "invalid access token"},
		{name: "protected with valid token", method: "GET", path: "/api/v1/sessions", authz: "Bearer " + valid, wantRun: true, wantUserID: "user-1"},
		{name: "scheme is case-insensitive", method: "GET", path: "/api/v1/profile", authz: "bearer " + valid, wantRun: true, wantUserID: "user-1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, ran, claims := serve(t, ts, tc.method, tc.path, tc.authz)

			if ran != tc.wantRun {
				t.Fatalf("handler ran = %v, want %v (status %d)", ran, tc.wantRun, rec.Code)
			}
			if tc.wantRun {
				got := ""
				if claims != nil {
					got = claims.UserID
				}
				if got != tc.wantUserID {
					t.Errorf("claims user = %q, want %q", got, tc.wantUserID)
				}
				return
			}

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate challenge")
			}
			var p models.APIProblem
			if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
				t.Fatalf("decode problem: %v", err)
			}
			if p.Detail != tc.wantDetail {
				t.Errorf("detail = %q, want %q", p.Detail, tc.wantDetail)
			}
		})
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	clock := testutil.NewClock(time.Now())
	ts := NewTokenService(middlewareSecret, time.Minute, time.Hour)
	ts.now = clock.Now

	token, err := ts.IssueAccessToken(&User{ID: "u-1", Username: "river"})
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)

	rec, ran, _ := serve(t, ts, "GET", "/api/v1/profile", "Bearer "+token)
	if ran {
		t.Fatal("handler ran for an expired token")
	}
	var p models.APIProblem
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Detail != "access token expired" {
		t.Errorf("detail = %q, want %q", p.Detail, "access token expired")
	}
}

func TestIsPublicPath(t *testing.T) {
	for path, want := range map[string]bool{
		"/api/v1/auth/login":    true,
		"/api/v1/health":        true,
		"/healthz":              true,
		"/api/v1/ws/journal":    true,
		"/api/v1/sessions":      false,
		"/api/v1/profile":       false,
		"/api/v1/auth/me":       false,
		"/api/v1/auth/password": false,
	} {
		if got := IsPublicPath(path); got != want {
			t.Errorf("IsPublicPath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestUserFromContext_Anonymous(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if c := UserFromContext(req.Context()); c != nil {
		t.Errorf("claims = %+v, want nil", c)
	}
}
