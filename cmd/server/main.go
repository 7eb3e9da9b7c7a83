// Command server runs the story generation backend: an HTTP API that turns
// uploaded images into short illustrated stories via a two-stage language
// model pipeline and keeps the results per user.
//
// Startup order: env → config → logging → tracing → database → adapters →
// router → HTTP server with graceful shutdown. The database is opened
// lazily through repo.Handle, so a temporarily missing database does not
// prevent the process from serving /health and /metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	_ "github.com/tbourn/go-story-backend/docs"
	"github.com/tbourn/go-story-backend/internal/config"
	httpapi "github.com/tbourn/go-story-backend/internal/http"
	"github.com/tbourn/go-story-backend/internal/llm"
	"github.com/tbourn/go-story-backend/internal/observability"
	"github.com/tbourn/go-story-backend/internal/repo"
	"github.com/tbourn/go-story-backend/internal/storage"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// @title           Story Backend API
// @version         1.0
// @description     Image-to-story generation service. Upload an image, run the generation pipeline, and manage the resulting stories.
// @BasePath        /api/v1
//
// @securityDefinitions.apikey UserIDHeader
// @in   header
// @name X-User-ID
func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db := repo.NewHandle(func() (*gorm.DB, error) {
		gdb, err := repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if cfg.OTEL.Enabled {
			if err := gdb.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
				return nil, err
			}
		}
		if err := repo.AutoMigrate(gdb); err != nil {
			return nil, err
		}
		return gdb, nil
	})
	// First touch at startup; a failure is logged, not fatal, and retried on
	// the next request.
	if _, err := db.DB(); err != nil {
		log.Warn().Err(err).Str("path", cfg.DBPath).Msg("database not ready at startup")
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("llm client init failed")
	}
	extractor := &llm.OpenAIExtractor{Client: client, Model: cfg.LLM.VisionModel}
	writer := &llm.OpenAIWriter{
		Client:      client,
		Model:       cfg.LLM.StoryModel,
		Temperature: float32(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
	}

	store, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("object store init failed")
	}
	bctx, bcancel := context.WithTimeout(ctx, 10*time.Second)
	if err := store.EnsureBucket(bctx); err != nil {
		log.Warn().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("bucket not ready at startup")
	}
	bcancel()

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, extractor, writer, store, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Block until SIGINT/SIGTERM, then drain in-flight requests. The grace
	// period must cover a full pipeline run.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.WriteTimeout+5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("bye")
}

// setupLogging configures the global zerolog logger from configuration.
func setupLogging(cfg config.Config) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
