package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/counsellor/internal/auth"
	"github.com/HerbHall/counsellor/internal/config"
	"github.com/HerbHall/counsellor/internal/testutil"
	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{
		Server:    config.ServerConfig{Host: "127.0.0.1", Port: 3001, AllowedOrigins: []string{"http://localhost:5173"}},
		RateLimit: config.RateLimitConfig{RPS: 1000, Burst: 1000, AIRPS: 1000, AIBurst: 1000},
	}
}

func newTestServer(ready ReadinessChecker) *Server {
	opts := testOptions()
	opts.Ready = ready
	return New(opts, zap.NewNop())
}

// newAuthServer wires a real auth handler and CSRF guard into a server.
func newAuthServer(t *testing.T, logger *zap.Logger) (*Server, *auth.Service) {
	t.Helper()

	db := testutil.NewStore(t)

	userStore, err := auth.NewUserStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewUserStore: %v", err)
	}
	tokens := auth.NewTokenService([]byte("test-secret-key-32bytes-long!!"), 15*time.Minute, 7*24*time.Hour)
	svc := auth.NewService(userStore, tokens, auth.LockoutPolicy{}, logger)

	opts := testOptions()
	opts.Auth = auth.NewHandler(svc, logger)
	opts.CSRF = NewCSRF(config.CSRFConfig{Secret: "csrf-test-secret"}, logger)
	return New(opts, logger), svc
}

func serve(h http.Handler, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestProbes(t *testing.T) {
	down := func(context.Context) error { return errors.New("database unreachable") }
	up := func(context.Context) error { return nil }

	tests := []struct {
		name       string
		ready      ReadinessChecker
		path       string
		wantCode   int
		wantStatus string
		wantError  string
	}{
		{"liveness", down, "/healthz", http.StatusOK, "alive", ""},
		{"ready without checker", nil, "/readyz", http.StatusOK, "ready", ""},
		{"ready", up, "/readyz", http.StatusOK, "ready", ""},
		{"not ready", down, "/readyz", http.StatusServiceUnavailable, "not ready", "database unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newTestServer(tt.ready).Handler(), "GET", tt.path, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}

			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantStatus)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error field = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestReadyz_BoundsCheckDuration(t *testing.T) {
	var deadline time.Time
	srv := newTestServer(func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	})
	serve(srv.Handler(), "GET", "/readyz", nil)
	if deadline.IsZero() {
		t.Fatal("readiness check ran without a deadline")
	}
	if d := time.Until(deadline); d > readinessTimeout || d < readinessTimeout-time.Second {
		t.Errorf("deadline in %v, want about %v", d, readinessTimeout)
	}
}

func TestHandleHealth(t *testing.T) {
	w := serve(newTestServer(nil).Handler(), "GET", "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Service != "counsellor" {
		t.Errorf("body = %+v", body)
	}
	if body.Version["version"] == "" {
		t.Error("expected version info")
	}
	if body.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestServe_DrainsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	hungUp := make(chan struct{})
	opts := testOptions()
	opts.Server.ShutdownTimeout = time.Second
	opts.OnShutdown = []func(){func() { close(hungUp) }}
	srv := New(opts, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	select {
	case <-hungUp:
	case <-time.After(time.Second):
		t.Error("shutdown hook did not run")
	}
}

func TestRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	opts := testOptions()
	opts.Server.Port = port
	err = New(opts, zap.NewNop()).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "listen on") {
		t.Errorf("Run() error = %v, want listen failure", err)
	}
}

func TestHandleMetrics(t *testing.T) {
	srv := newTestServer(nil)

	// Generate one request so the HTTP counters have a sample.
	serve(srv.Handler(), "GET", "/api/v1/health", nil)

	w := serve(srv.Handler(), "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "counsellor_http_requests_total") {
		t.Error("expected counsellor_http_requests_total in metrics output")
	}
}

func TestMiddlewareChain_Integration(t *testing.T) {
	srv := newTestServer(nil)

	w := serve(srv.Handler(), "GET", "/api/v1/health", nil, func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:5173")
	})

	for _, h := range []string{"X-Request-ID", "X-Counsellor-Version", "X-Content-Type-Options", "Access-Control-Allow-Origin"} {
		if w.Header().Get(h) == "" {
			t.Errorf("expected %s header", h)
		}
	}
}

func TestSwagger_OnlyInDevMode(t *testing.T) {
	srv := newTestServer(nil)
	if w := serve(srv.Handler(), "GET", "/swagger/index.html", nil); w.Code != http.StatusNotFound {
		t.Errorf("swagger without dev mode: status = %d, want 404", w.Code)
	}

	opts := testOptions()
	opts.Server.DevMode = true
	dev := New(opts, zap.NewNop())
	if w := serve(dev.Handler(), "GET", "/swagger/index.html", nil); w.Code != http.StatusOK {
		t.Errorf("swagger in dev mode: status = %d, want 200", w.Code)
	}
}

func TestAuthAndCSRF_EndToEnd(t *testing.T) {
	srv, _ := newAuthServer(t, zap.NewNop())
	h := srv.Handler()
	creds := map[string]string{"username": "river", "password": "securepassword"}

	// Registration and login are CSRF-exempt.
	if w := serve(h, "POST", "/api/v1/auth/register", creds); w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	w := serve(h, "POST", "/api/v1/auth/login", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d", w.Code)
	}
	var pair auth.TokenPair
	_ = json.NewDecoder(w.Body).Decode(&pair)
	bearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+pair.AccessToken) }

	// Protected GET works with the token alone.
	if w := serve(h, "GET", "/api/v1/auth/me", nil, bearer); w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}

	// Unsafe request without CSRF is rejected.
	change := map[string]string{"currentPassword": "securepassword", "newPassword": "newpassword1"}
	if w := serve(h, "POST", "/api/v1/auth/change-password", change, bearer); w.Code != http.StatusForbidden {
		t.Fatalf("change-password without csrf status = %d, want 403", w.Code)
	}

	// Fetch a user-bound token and retry.
	w = serve(h, "GET", "/api/v1/csrf-token", nil, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("csrf-token status = %d", w.Code)
	}
	var tok CSRFTokenResponse
	_ = json.NewDecoder(w.Body).Decode(&tok)
	cookie := w.Result().Cookies()[0]

	w = serve(h, "POST", "/api/v1/auth/change-password", change, bearer, func(r *http.Request) {
		r.Header.Set(CSRFHeader, tok.CSRFToken)
		r.AddCookie(cookie)
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("change-password status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestProtectedRoute_RequiresToken(t *testing.T) {
	srv, _ := newAuthServer(t, zap.NewNop())

	w := serve(srv.Handler(), "GET", "/api/v1/auth/me", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestNew_InvalidTrustedProxiesIgnored(t *testing.T) {
	opts := testOptions()
	opts.Server.TrustedProxies = []string{"not-a-cidr"}
	opts.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1, AIRPS: 1000, AIBurst: 1000}
	h := New(opts, zap.NewNop()).Handler()

	forwarded := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Forwarded-For", ip) }
	}
	if w := serve(h, "GET", "/api/v1/health", nil, forwarded("203.0.113.1")); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	if w := serve(h, "GET", "/api/v1/health", nil, forwarded("203.0.113.2")); w.Code != http.StatusTooManyRequests {
		t.Errorf("spoofed client status = %d, want 429", w.Code)
	}
}
