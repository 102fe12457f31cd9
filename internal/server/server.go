// Package server assembles the Counsellor HTTP surface: the middleware
// stack, operational probes and every feature's routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/counsellor/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
	idleTimeout            = time.Minute
)

// RouteRegistrar mounts a feature's routes on the shared mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Authenticator mounts the auth routes and supplies the middleware that
// guards every other route.
type Authenticator interface {
	RouteRegistrar
	Middleware() func(http.Handler) http.Handler
}

// Options configures New. Zero-valued optional fields disable the feature.
type Options struct {
	Server    config.ServerConfig
	RateLimit config.RateLimitConfig
	CSRF      *CSRF
	Auth      Authenticator
	Ready     ReadinessChecker
	// OnShutdown runs when draining starts. Long-lived connections such as
	// WebSockets use it to hang up.
	OnShutdown []func()
}

// Server owns the http.Server and its routing.
type Server struct {
	srv    *http.Server
	ready  ReadinessChecker
	grace  time.Duration
	logger *zap.Logger
}

// operationalPaths skip rate limiting and per-request logs.
var operationalPaths = []string{"/healthz", "/readyz", "/metrics"}

// New wires routes and middleware. Swagger UI is mounted at /swagger/ in
// dev mode only.
func New(opts Options, logger *zap.Logger, features ...RouteRegistrar) *Server {
	s := &Server{
		ready:  opts.Ready,
		grace:  orDefault(opts.Server.ShutdownTimeout, defaultShutdownTimeout),
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	trusted, err := opts.Server.TrustedProxyPrefixes()
	if err != nil {
		logger.Warn("ignoring trusted proxies", zap.Error(err))
		trusted = nil
	}

	stack := []Middleware{
		RecoveryMiddleware(logger),
		ClientIPMiddleware(trusted),
		RequestIDMiddleware,
		LoggingMiddleware(logger, operationalPaths),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		CORSMiddleware(opts.Server.AllowedOrigins),
		RateLimitMiddleware(rateLimitTiers(opts.RateLimit)...),
	}
	if opts.Auth != nil {
		opts.Auth.RegisterRoutes(mux)
		stack = append(stack, opts.Auth.Middleware())
	}
	if opts.CSRF != nil {
		mux.HandleFunc("GET /api/v1/csrf-token", opts.CSRF.handleToken)
		stack = append(stack, opts.CSRF.Middleware())
	}
	for _, f := range features {
		f.RegisterRoutes(mux)
	}
	if opts.Server.DevMode {
		mux.Handle("GET /swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
		logger.Info("swagger UI enabled", zap.String("path", "/swagger/"))
	}

	s.srv = &http.Server{
		Addr:         opts.Server.Addr(),
		Handler:      Chain(mux, stack...),
		ReadTimeout:  orDefault(opts.Server.ReadTimeout, defaultReadTimeout),
		WriteTimeout: orDefault(opts.Server.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:  idleTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}
	for _, fn := range opts.OnShutdown {
		s.srv.RegisterOnShutdown(fn)
	}
	return s
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Handler returns the routed handler wrapped in the middleware stack.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then stops accepting and
// gives in-flight requests the shutdown timeout to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("http server listening", zap.Stringer("addr", ln.Addr()))

	served := make(chan error, 1)
	go func() { served <- s.srv.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("http server draining", zap.Duration("timeout", s.grace))
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()
	if err := s.srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

// rateLimitTiers returns the global tier and the stricter tier for
// requests that reach a model. A tier with a zero rate is left out.
func rateLimitTiers(cfg config.RateLimitConfig) []RateLimitTier {
	var tiers []RateLimitTier
	if cfg.RPS > 0 && cfg.Burst > 0 {
		tiers = append(tiers, RateLimitTier{
			Name: "global", RPS: cfg.RPS, Burst: cfg.Burst,
			Match: ExceptPaths(operationalPaths...),
		})
	}
	if cfg.AIRPS > 0 && cfg.AIBurst > 0 {
		tiers = append(tiers, RateLimitTier{
			Name: "ai", RPS: cfg.AIRPS, Burst: cfg.AIBurst,
			Match: IsAIRequest,
		})
	}
	return tiers
}

// IsAIRequest reports whether r starts, continues or ends a session, all
// of which call a model.
func IsAIRequest(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/v1/sessions")
}
