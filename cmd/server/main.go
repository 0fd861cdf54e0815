// WeChat Relay - Official Account to LLM bridge
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/wechat-relay/internal/api"
	"github.com/ashureev/wechat-relay/internal/bot"
	"github.com/ashureev/wechat-relay/internal/chat"
	"github.com/ashureev/wechat-relay/internal/config"
	"github.com/ashureev/wechat-relay/internal/pending"
	"github.com/ashureev/wechat-relay/internal/session"
	"github.com/ashureev/wechat-relay/internal/store"
	"github.com/ashureev/wechat-relay/internal/usage"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.Model)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Seed the ledger from config, then overlay the persisted policy so
	// admin mutations from previous runs survive.
	ledgerCfg := usage.Config{
		AdminUsers:   cfg.AdminUserIDs,
		WhiteList:    cfg.WhiteListUserIDs,
		Limits:       make(map[string]int),
		DefaultLimit: cfg.DefaultDailyLimit,
		CommandToken: cfg.CommandToken,
	}
	snap, err := repo.LoadPolicy(context.Background())
	if err != nil {
		slog.Error("Failed to load usage policy", "error", err)
		os.Exit(1)
	}
	if snap != nil {
		ledgerCfg.WhiteList = append(ledgerCfg.WhiteList, snap.WhiteList...)
		for u, n := range snap.Limits {
			ledgerCfg.Limits[u] = n
		}
		if snap.DefaultLimit > 0 {
			ledgerCfg.DefaultLimit = snap.DefaultLimit
		}
		if snap.Token != "" {
			ledgerCfg.CommandToken = snap.Token
		}
		slog.Info("Usage policy restored",
			"white_list_size", len(snap.WhiteList),
			"override_count", len(snap.Limits))
	}
	ledger := usage.NewLedger(ledgerCfg)

	// Initialize services.
	llm, err := bot.NewOpenAIBot(bot.OpenAIConfig{
		Token:     cfg.OpenAIToken,
		Model:     cfg.Model,
		BaseURL:   cfg.OpenAIBaseURL,
		ProxyURL:  cfg.OpenAIProxyURL,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	sessions := session.NewStore(cfg.SessionWindow, nil)
	coord := pending.NewCoordinator()
	orch := chat.NewOrchestrator(llm, sessions, ledger, coord, cfg.AdminEmail)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	api.NewHandler(orch, cfg.WechatToken).RegisterRoutes(r)

	// Create server. Duplicate-delivery waits block for a few seconds,
	// well within these timeouts.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start background policy saver.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartPolicySaver(ctx, repo, ledger, cfg.PolicySaveInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
