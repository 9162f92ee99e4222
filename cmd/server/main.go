// Package main is the entrypoint for the anomaly report gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/anomalyreport/internal/api"
	"github.com/kiranshivaraju/anomalyreport/internal/api/handler"
	mw "github.com/kiranshivaraju/anomalyreport/internal/api/middleware"
	"github.com/kiranshivaraju/anomalyreport/internal/auth"
	"github.com/kiranshivaraju/anomalyreport/internal/cache"
	"github.com/kiranshivaraju/anomalyreport/internal/config"
	"github.com/kiranshivaraju/anomalyreport/internal/detection"
	"github.com/kiranshivaraju/anomalyreport/internal/notify"
	"github.com/kiranshivaraju/anomalyreport/internal/poller"
	"github.com/kiranshivaraju/anomalyreport/internal/report"
	"github.com/kiranshivaraju/anomalyreport/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("config loaded", "env", cfg.Server.Env, "detection_base_url", cfg.Detection.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	// 5. Upstream clients and sessions
	pgStore := store.NewPostgresStore(pool)
	detectionClient := detection.NewHTTPClient(cfg.Detection)
	users := auth.NewClient(cfg.Detection, nil)
	sessions := auth.NewSessions(redisCache, cfg.Session.TTL)

	// 6. Notification fan-out
	hub := notify.NewHub(logger, cfg.Server.CORSOrigins)
	go hub.Run(ctx)

	history := notify.NewHistory(pgStore, logger)
	go history.Run(ctx)

	notifier, closeNotifier, err := buildNotifier(ctx, cfg.NATS, hub, history, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// 7. Report pages, one per session
	pages := report.NewManager(newPageFactory(cfg.Report, detectionClient, notifier, logger),
		report.WithManagerLogger(logger))
	defer pages.CloseAll()
	go pages.Run(ctx, cfg.Report.SweepInterval)

	// 8. Build router with dependencies
	detections := handler.NewDetections(detectionClient, pgStore, logger,
		handler.WithMaxUploadBytes(cfg.Server.MaxUploadBytes))
	reports := handler.NewReports(pages, hub)

	router := api.NewRouter(api.Dependencies{
		Auth:        mw.NewAuth(sessions),
		RateLimit:   mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),
		CORSOrigins: cfg.Server.CORSOrigins,

		HealthHandler:   handler.NewHealthHandler(pgStore, redisCache),
		LoginHandler:    handler.NewLoginHandler(users, sessions),
		RegisterHandler: handler.NewRegisterHandler(users, sessions),
		LogoutHandler:   handler.NewLogoutHandler(sessions, pages),
		MeHandler:       handler.NewMeHandler(),

		SubmitStream:    detections.SubmitStream,
		SubmitVideo:     detections.SubmitVideo,
		SubmitArchive:   detections.SubmitArchive,
		ListSubmissions: detections.List,

		OpenReport:      reports.Open,
		GetReport:       reports.Get,
		CloseReport:     reports.Close,
		ReportEvents:    reports.Events,
		GetJobReport:    reports.Snapshot,
		CancelJob:       reports.Cancel,
		JobChart:        reports.Chart,
		ExportJobCSV:    reports.Export,
		SetSelection:    reports.SetSelection,
		ToggleSelection: reports.ToggleSelection,
		ClearSelection:  reports.ClearSelection,
	})

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Uploads are streamed upstream within the request.
		WriteTimeout: cfg.Detection.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// newLogger returns a JSON logger in production and a text logger otherwise.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Server.LogLevel}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// buildNotifier wires the notifier views report to. Without NATS, views
// notify the local hub directly. With NATS, they publish and every instance
// feeds its hub from the subscription.
func buildNotifier(ctx context.Context, cfg config.NATSConfig, hub *notify.Hub, history *notify.History, logger *slog.Logger) (notify.Notifier, func(), error) {
	if cfg.URL == "" {
		return notify.Multi{hub, history}, func() {}, nil
	}

	bus, err := notify.ConnectNATS(cfg.URL, cfg.Subject, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	if err := bus.Subscribe(ctx, hub); err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("subscribe nats: %w", err)
	}
	logger.Info("nats connected", "subject", cfg.Subject)
	return notify.Multi{bus, history}, bus.Close, nil
}

// newPageFactory builds the report page of a session.
func newPageFactory(cfg config.ReportConfig, backend report.Backend, notifier notify.Notifier, logger *slog.Logger) func(sessionID string) *report.Page {
	return func(sessionID string) *report.Page {
		pageLogger := logger.With("session_id", sessionID)
		return report.NewPage(func() *report.View {
			return report.NewView(backend, notifier,
				report.WithSessionID(sessionID),
				report.WithRefetchOnCancel(cfg.RefetchOnCancel),
				report.WithLogger(pageLogger),
				report.WithPollerOptions(poller.WithInterval(cfg.PollInterval)),
			)
		})
	}
}
