// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, compression,
// CORS, security headers, authentication, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-story-backend/internal/config"
	"github.com/tbourn/go-story-backend/internal/domain"
	"github.com/tbourn/go-story-backend/internal/http/handlers"
	"github.com/tbourn/go-story-backend/internal/http/middleware"
	"github.com/tbourn/go-story-backend/internal/llm"
	"github.com/tbourn/go-story-backend/internal/repo"
	"github.com/tbourn/go-story-backend/internal/services"
	"github.com/tbourn/go-story-backend/internal/storage"
)

// storyRepoShim adapts the repository free functions to the
// services.StoryRepo interface expected by the StoryService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type storyRepoShim struct{}

// CreateStory proxies repo.CreateStory.
func (storyRepoShim) CreateStory(ctx context.Context, db *gorm.DB, s *domain.Story) error {
	return repo.CreateStory(ctx, db, s)
}

// ListStories proxies repo.ListStories.
func (storyRepoShim) ListStories(ctx context.Context, db *gorm.DB, userID string) ([]domain.Story, error) {
	return repo.ListStories(ctx, db, userID)
}

// CountStories proxies repo.CountStories (pagination support).
func (storyRepoShim) CountStories(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountStories(ctx, db, userID)
}

// ListStoriesPage proxies repo.ListStoriesPage (pagination support).
func (storyRepoShim) ListStoriesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Story, error) {
	return repo.ListStoriesPage(ctx, db, userID, offset, limit)
}

// GetStory proxies repo.GetStory.
func (storyRepoShim) GetStory(ctx context.Context, db *gorm.DB, id string) (*domain.Story, error) {
	return repo.GetStory(ctx, db, id)
}

// DeleteStory proxies repo.DeleteStory.
func (storyRepoShim) DeleteStory(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteStory(ctx, db, id)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured logs with header masking
//  4. Recovery: capture panics after logger
//  5. Body size limiter (sized for base64 image payloads)
//  6. Metrics
//  7. Rate limiter (per user/IP)
//  8. Gzip compression
//  9. CORS and security headers
//
// The authenticated API group additionally runs RequireUser.
func RegisterRoutes(r *gin.Engine, db *repo.Handle, extractor llm.Extractor, writer llm.Writer, store storage.BlobStore, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with header masking
	r.Use(middleware.Logger(middleware.LogOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit. Base64 inflates the payload by 4/3, so the
	// transport cap is derived from the decoded-image cap plus JSON overhead.
	r.Use(limitBody(cfg.MaxUploadBytes*4/3 + 64<<10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) Compression. Story text and list pages are highly compressible;
	// uploads are already base64 of compressed images, so gains are small
	// but harmless.
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 9) CORS posture (safe defaults: allow all if none configured)
	corsHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "If-None-Match"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (off by default; enable for dev/staging)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/adapters
	storySvc := services.NewStoryService(db, storyRepoShim{}, extractor, writer)
	uploadSvc := services.NewUploadService(store, cfg.MaxUploadBytes)
	h := handlers.New(storySvc, uploadSvc)

	// Public API (all story routes require an authenticated principal)
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.RequireUser())
	api.Use(recordPrincipal(db))
	{
		api.POST("/images", h.UploadImage)
		api.POST("/stories/generate", h.GenerateStory)
		api.GET("/stories", h.ListStories)
		api.GET("/stories/:id", h.GetStory)
		api.DELETE("/stories/:id", h.DeleteStory)
	}
}

// recordPrincipal mirrors the authenticated principal into the users table,
// touching last_signed_in and optional profile headers forwarded by the
// gateway. Best effort: a failed upsert (or unreachable database) never
// blocks the request, stories reference the owner by id regardless.
func recordPrincipal(h *repo.Handle) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, _ := c.Get(middleware.ContextUserKey)
		id, _ := uid.(string)
		if id != "" {
			if db, err := h.DB(); err == nil {
				u := domain.User{
					ID:          id,
					Name:        c.GetHeader("X-User-Name"),
					Email:       c.GetHeader("X-User-Email"),
					LoginMethod: c.GetHeader("X-Login-Method"),
				}
				if err := repo.UpsertUser(c.Request.Context(), db, &u); err != nil {
					middleware.LoggerFrom(c).Warn().Err(err).Msg("principal upsert failed")
				}
			}
		}
		c.Next()
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
