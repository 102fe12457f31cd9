package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/HerbHall/counsellor/internal/auth"
	"github.com/HerbHall/counsellor/internal/config"
	"github.com/HerbHall/counsellor/internal/event"
	"github.com/HerbHall/counsellor/internal/export"
	"github.com/HerbHall/counsellor/internal/journal"
	"github.com/HerbHall/counsellor/internal/llm"
	"github.com/HerbHall/counsellor/internal/profile"
	"github.com/HerbHall/counsellor/internal/server"
	"github.com/HerbHall/counsellor/internal/store"
	"github.com/HerbHall/counsellor/internal/version"
	"github.com/HerbHall/counsellor/internal/ws"
	"go.uber.org/zap"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	v, cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("counsellor starting", zap.String("version", version.Short()))
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", zap.String("path", cfg.Database.Path))

	bus := event.NewBus(logger.Named("event"))
	srv, err := assemble(ctx, cfg, db, bus, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n  Counsellor %s is ready!\n  Listening on http://localhost:%d\n\n", version.Short(), cfg.Server.Port)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := bus.Wait(drainCtx); err != nil {
		logger.Warn("event deliveries still running at shutdown", zap.Error(err))
	}
	logger.Info("counsellor stopped")
	return nil
}

func openDatabase(ctx context.Context, path string) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// signingKey returns the configured JWT secret, or a random one that dies
// with the process.
func signingKey(cfg config.AuthConfig, logger *zap.Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate JWT secret: %w", err)
	}
	logger.Warn("auth.jwt_secret is unset; sessions will not survive a restart")
	return []byte(hex.EncodeToString(b)), nil
}

// assemble builds every feature on top of db and mounts it on a server.
func assemble(ctx context.Context, cfg *config.Config, db *store.SQLiteStore, bus *event.Bus, logger *zap.Logger) (*server.Server, error) {
	users, err := auth.NewUserStore(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("initialize auth store: %w", err)
	}
	key, err := signingKey(cfg.Auth, logger.Named("auth"))
	if err != nil {
		return nil, err
	}
	tokens := auth.NewTokenService(key, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	accounts := auth.NewService(users, tokens, auth.LockoutPolicy{
		MaxAttempts: cfg.Auth.MaxFailedLogins,
		Duration:    cfg.Auth.LockoutDuration,
	}, logger.Named("auth"))

	router, err := llm.NewRouter(cfg.LLM, llm.KeysFromEnv(), logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("initialize llm router: %w", err)
	}
	logger.Info("llm router ready", zap.String("default_model", router.DefaultModel()))

	profileStore, err := profile.NewProfileStore(ctx, db, logger.Named("profile"))
	if err != nil {
		return nil, fmt.Errorf("initialize profile store: %w", err)
	}
	profiles := profile.NewService(profileStore, logger.Named("profile"))

	conversations, err := journal.NewConversationStore(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("initialize journal store: %w", err)
	}
	sessions := journal.NewService(conversations, router, profiles, bus,
		journal.Config{DefaultModel: cfg.LLM.DefaultModel}, logger.Named("journal"))
	exports := export.NewService(profiles, sessions, logger.Named("export"))

	accounts.AddEraser(sessions)
	accounts.AddEraser(profiles)

	notifications := ws.NewHandler(tokens, bus, cfg.Server.AllowedOrigins, logger.Named("ws"))

	return server.New(server.Options{
		Server:     cfg.Server,
		RateLimit:  cfg.RateLimit,
		CSRF:       server.NewCSRF(cfg.CSRF, logger.Named("csrf")),
		Auth:       auth.NewHandler(accounts, logger.Named("auth")),
		Ready:      db.Ping,
		OnShutdown: []func(){notifications.Close},
	}, logger,
		router,
		profile.NewHandler(profiles, logger.Named("profile")),
		journal.NewHandler(sessions, logger.Named("journal")),
		export.NewHandler(exports, logger.Named("export")),
		notifications,
	), nil
}
