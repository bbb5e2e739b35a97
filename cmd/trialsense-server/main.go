package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/trialsense/trialsense/internal/config"
	"github.com/trialsense/trialsense/internal/domain/matching"
	"github.com/trialsense/trialsense/internal/domain/patient"
	"github.com/trialsense/trialsense/internal/domain/radar"
	"github.com/trialsense/trialsense/internal/domain/trial"
	"github.com/trialsense/trialsense/internal/platform/ai"
	"github.com/trialsense/trialsense/internal/platform/audiostore"
	"github.com/trialsense/trialsense/internal/platform/auth"
	"github.com/trialsense/trialsense/internal/platform/db"
	"github.com/trialsense/trialsense/internal/platform/middleware"
	"github.com/trialsense/trialsense/internal/platform/registry"
	"github.com/trialsense/trialsense/internal/platform/speech"
	"github.com/trialsense/trialsense/internal/platform/telemetry"
)

const version = "0.1.0"

// speechEngine is the slice of the speech API the server wires: voice-note
// transcription for pipeline input and script synthesis for briefings. The
// live client and the stub both satisfy it.
type speechEngine interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "trialsense-server",
		Short: "Clinical trial matching and drug safety radar API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(radarCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

func radarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "radar",
		Short: "Drug safety radar operations",
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan over the monitored treatments",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			aiClient, err := buildAIClient(cfg, logger)
			if err != nil {
				return err
			}
			assistant := ai.NewAssistant(aiClient, logger)

			speechSvc, err := buildSpeech(cfg, logger)
			if err != nil {
				return err
			}
			audioStore, err := audiostore.NewDiskStore(cfg.AudioDir)
			if err != nil {
				return err
			}

			// Monitored targets come from stored patients; a one-off scan
			// never runs the matcher.
			patientSvc := patient.NewService(patient.NewRepo(pool), trial.NewRepo(pool), nil)

			briefer := radar.NewBriefer(assistant, speechSvc, audioStore, logger)
			radarSvc := radar.NewService(radar.NewRepo(pool), patientSvc, assistant, briefer,
				nil, cfg.RadarScanConcurrency, logger)

			res, err := radarSvc.ScanAndBrief(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Scan complete: %d new alert(s).\n", len(res.NewAlerts))
			for _, a := range res.NewAlerts {
				fmt.Printf("  [%s/%s] %s: %s\n", a.Category, a.Severity, a.Drug, a.Title)
			}
			for _, w := range res.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			if res.PodcastURL != "" {
				fmt.Printf("Briefing artifact: %s\n", res.PodcastURL)
			}
			return nil
		},
	}
	cmd.AddCommand(scanCmd)

	return cmd
}

// buildAIClient returns the model client for the resolved AI mode. Stub mode
// serves canned responses and never touches the network.
func buildAIClient(cfg *config.Config, logger zerolog.Logger) (ai.Client, error) {
	if cfg.ResolvedAIMode() == "live" {
		return ai.NewClient(ai.Config{
			BaseURL:    cfg.AIBaseURL,
			APIKey:     cfg.AIAPIKey,
			Model:      cfg.AIModel,
			MaxRetries: cfg.AIMaxRetries,
		}, logger)
	}
	logger.Warn().Msg("AI_MODE=stub: clinical reasoning responses are canned")
	return ai.NewStub(), nil
}

// buildSpeech returns the audio client for the resolved AI mode. The live
// client shares the AI credential.
func buildSpeech(cfg *config.Config, logger zerolog.Logger) (speechEngine, error) {
	if cfg.ResolvedAIMode() == "live" {
		client, err := speech.NewClient(speech.Config{
			BaseURL:         cfg.AIBaseURL,
			APIKey:          cfg.AIAPIKey,
			TranscribeModel: cfg.TranscribeModel,
			TTSModel:        cfg.TTSModel,
			TTSVoice:        cfg.TTSVoice,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return speech.NewStub(), nil
}

// rateLimitSettings maps config onto the limiter, falling back to defaults
// when the configured rate is unset.
func rateLimitSettings(cfg *config.Config) middleware.RateLimitConfig {
	out := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if out.RequestsPerSecond <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	if out.BurstSize <= 0 {
		out.BurstSize = int(out.RequestsPerSecond) * 2
	}
	return out
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Telemetry
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "trialsense",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(tp.TracingMiddleware())
	e.Use(tp.MetricsMiddleware())

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Access audit runs after auth so entries carry the caller identity.
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitSettings(cfg)))

	// Health checks + metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tp.PrometheusHandler())

	// AI collaborators
	aiClient, err := buildAIClient(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create AI client")
	}
	assistant := ai.NewAssistant(ai.NewInstrumentedClient(aiClient, tp), logger)

	speechSvc, err := buildSpeech(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create speech client")
	}

	// Trial registry gateway
	registryClient := registry.NewClient(registry.Config{
		BaseURL:  cfg.RegistryBaseURL,
		PageSize: cfg.RegistryPageSize,
		RPS:      cfg.RegistryRPS,
	}, logger)

	// Briefing audio artifacts
	audioStore, err := audiostore.NewDiskStore(cfg.AudioDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create audio store")
	}
	audioHandler := audiostore.NewHandler(audioStore)
	audioHandler.RegisterRoutes(e.Group("/static"))

	// -- Register domain handlers --

	// Trial domain
	trialRepo := trial.NewRepo(pool)
	trialSvc := trial.NewService(trialRepo, registryClient, logger)
	trialHandler := trial.NewHandler(trialSvc)
	trialHandler.RegisterRoutes(apiV1)

	// Matching domain
	matchingSvc := matching.NewService(assistant, assistant, assistant, trialSvc, tp, logger)
	runner := matching.NewRunner(matchingSvc)

	// Patient domain
	patientRepo := patient.NewRepo(pool)
	patientSvc := patient.NewService(patientRepo, trialRepo, matchingSvc)
	patientHandler := patient.NewHandler(patientSvc)
	patientHandler.RegisterRoutes(apiV1)

	matchingHandler := matching.NewHandler(matchingSvc, runner, speechSvc, patientSvc, trialSvc)
	matchingHandler.RegisterRoutes(apiV1)

	// Radar domain
	radarRepo := radar.NewRepo(pool)
	briefer := radar.NewBriefer(assistant, speechSvc, audioStore, logger)
	radarSvc := radar.NewService(radarRepo, patientSvc, assistant, briefer, tp,
		cfg.RadarScanConcurrency, logger)
	radarHandler := radar.NewHandler(radarSvc)
	radarHandler.RegisterRoutes(apiV1)

	// Background loops: scheduled radar scans, run store pruning, gauges.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	scheduler := radar.NewScheduler(radarSvc, cfg.RadarScanInterval, logger)
	go scheduler.Start(bgCtx)
	go runner.StartCleanup(bgCtx)
	go refreshHealthGauges(bgCtx, pool, radarSvc, tp.HealthMetrics())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("ai_mode", cfg.ResolvedAIMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// refreshHealthGauges keeps the pool and unread-alert gauges current for the
// metrics endpoint.
func refreshHealthGauges(ctx context.Context, pool *pgxpool.Pool, radarSvc *radar.Service, rec *telemetry.HealthMetricsRecorder) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			rec.SetDBPoolActive(int64(stat.AcquiredConns()))
			rec.SetDBPoolIdle(int64(stat.IdleConns()))
			if n, err := radarSvc.CountUnread(ctx); err == nil {
				rec.SetNewAlerts(int64(n))
			}
		}
	}
}
