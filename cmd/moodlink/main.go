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

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	faladapter "github.com/ericfisherdev/moodlink/internal/adapter/driven/fal"
	metricsadapter "github.com/ericfisherdev/moodlink/internal/adapter/driven/metrics"
	pinterestadapter "github.com/ericfisherdev/moodlink/internal/adapter/driven/pinterest"
	postgresadapter "github.com/ericfisherdev/moodlink/internal/adapter/driven/postgres"
	"github.com/ericfisherdev/moodlink/internal/adapter/driven/secretbox"
	sqliteadapter "github.com/ericfisherdev/moodlink/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/moodlink/internal/adapter/driven/staging"
	httphandler "github.com/ericfisherdev/moodlink/internal/adapter/driving/http"
	"github.com/ericfisherdev/moodlink/internal/application"
	"github.com/ericfisherdev/moodlink/internal/config"
	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
	"github.com/ericfisherdev/moodlink/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"postgres", cfg.DatabaseURL != "",
		"fal_configured", cfg.HasFal(),
		"s3_staging", cfg.S3Bucket != "",
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	// 3. Secret cipher for credentials at rest.
	var cipher driven.SecretCipher = secretbox.Noop{}
	if cfg.SecretKey != "" {
		box, err := secretbox.FromHex(cfg.SecretKey)
		if err != nil {
			return err
		}
		cipher = box
	} else {
		logger.Warn("MOODLINK_SECRET_KEY not set, pinterest passwords are stored in cleartext")
	}

	// 4. Open the credential store and run migrations.
	var (
		store driven.CredentialStore
		db    httphandler.Pinger
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgresadapter.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgresadapter.Migrate(pool); err != nil {
			return err
		}
		store = postgresadapter.NewCredentialRepo(pool, cipher, clock)
		db = pool
	} else {
		sqlDB, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := sqlDB.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		if err := sqlDB.Migrate(); err != nil {
			return err
		}
		logger.Info("database opened", "path", sqlDB.Path())
		store = sqliteadapter.NewCredentialRepo(sqlDB, cipher, clock)
		db = sqlDB
	}
	logger.Info("migrations complete")

	// 5. Metrics.
	reg := metricsadapter.NewRegistry()
	telemetry := metricsadapter.NewTelemetry(reg)
	httpMetrics := metricsadapter.NewHTTPMetrics(reg)

	// 6. Pinterest account provider and session manager.
	pinterest, err := pinterestadapter.NewClient(pinterestadapter.Config{
		BaseURL:    cfg.PinterestBaseURL,
		AuthURL:    cfg.PinterestAuthURL,
		RPS:        cfg.PinterestRPS,
		SessionDir: cfg.SessionDir,
		Cipher:     cipher,
	}, logger.With("component", "pinterest"))
	if err != nil {
		return err
	}
	if cfg.PinterestAuthURL == "" {
		logger.Warn("MOODLINK_PINTEREST_AUTH_URL not set, pinterest logins will fail")
	}

	sessions := application.NewSessionManager(store, pinterest, logger.With("component", "sessions"),
		application.WithSessionTelemetry(telemetry),
		application.WithProbeClassifier(application.NetworkAwareClassifier),
		application.WithFeedLimits(application.FeedLimits{MaxPages: cfg.FeedMaxPages, MaxDuration: cfg.FeedTimeout}),
		application.WithSessionClock(clock),
	)

	// 7. Edit orchestrator (nil when fal is not configured).
	edits, err := newEditOrchestrator(cfg, clock, telemetry, logger)
	if err != nil {
		return err
	}

	// 8. HTTP server.
	apiHandler := httphandler.NewHandler(sessions, edits, logger,
		httphandler.WithReadiness(db),
		httphandler.WithMetricsHandler(metricsadapter.Handler(reg)),
	)
	handler := httphandler.NewServeMux(apiHandler, logger, httpMetrics.Middleware)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Edit jobs block until the remote job finishes.
		WriteTimeout: cfg.EditTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	logger.Info("moodlink started", "listen_addr", cfg.ListenAddr)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func newEditOrchestrator(cfg *config.Config, clock clockwork.Clock, telemetry *metricsadapter.Telemetry, logger *slog.Logger) (*application.EditOrchestrator, error) {
	if !cfg.HasFal() {
		logger.Warn("MOODLINK_FAL_KEY not set, image editing disabled")
		return nil, nil
	}

	var area driven.StagingArea
	if cfg.S3Bucket != "" {
		s3, err := staging.NewS3(staging.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		area = s3
	} else {
		dir, err := staging.NewDir(cfg.StagingDir)
		if err != nil {
			return nil, err
		}
		area = dir
	}

	editor, err := faladapter.NewClient(faladapter.Config{
		Key:             cfg.FalKey,
		QueueURL:        cfg.FalQueueURL,
		StorageURL:      cfg.FalStorageURL,
		Model:           cfg.FalModel,
		PollInterval:    cfg.FalPollInterval,
		Clock:           clock,
		OnBreakerChange: func(name string, to gobreaker.State) { telemetry.BreakerChanged(name, to) },
	}, logger.With("component", "fal"))
	if err != nil {
		return nil, fmt.Errorf("create fal client: %w", err)
	}

	return application.NewEditOrchestrator(area, editor, logger.With("component", "edits"),
		application.WithEditTelemetry(telemetry),
		application.WithDefaultMaxWait(cfg.EditTimeout),
		application.WithEditClock(clock),
	), nil
}
