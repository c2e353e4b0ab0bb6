// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
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

	"github.com/driftline/livechat-backend/internal/config"
	"github.com/driftline/livechat-backend/internal/http/handlers"
	"github.com/driftline/livechat-backend/internal/http/middleware"
	"github.com/driftline/livechat-backend/internal/notify"
	"github.com/driftline/livechat-backend/internal/ratelimit"
	"github.com/driftline/livechat-backend/internal/realtime"
	"github.com/driftline/livechat-backend/internal/repo"
	"github.com/driftline/livechat-backend/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), identity, idempotency and rate
// limiting, CORS and security headers, health/metrics endpoints, and the
// versioned public and admin APIs.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. VisitorIdentity: read the widget cookie (before limiter keying)
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Edge rate limiter (per visitor/IP, bypass on replay)
//  10. Gzip, CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, limiter *ratelimit.Limiter, hub *realtime.Hub, notifier *notify.Telegram, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Visitor identity from the widget cookie
	r.Use(middleware.VisitorIdentity())

	// 4) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (64 KiB; chat payloads are small)
	r.Use(limitBody(64 << 10))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, visitorID, conversationID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, visitorID, conversationID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Edge token-bucket rate limiter per visitor/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByVisitorOrIP())
	r.Use(rl.Handler())

	// 10) Response compression. The stream endpoint is excluded: compression
	// must not interfere with the WebSocket upgrade.
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`.*/stream$`})))

	// CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// The widget authenticates with a cookie, so credentialed CORS with an
		// explicit allowlist is required in production.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, isAllowed := allowed[origin]; isAllowed {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: true,
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

	// Swagger UI (opt-in; never expose in production by default)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/limiter/hub/notifier
	convSvc := services.NewConversationService(db, limiter)
	convSvc.CreateLimit = ratelimit.Config{
		Scope:       "conversation-create",
		MaxRequests: cfg.Limits.ConversationMax,
		Window:      cfg.Limits.ConversationWindow,
	}
	convSvc.ReuseWindow = cfg.Limits.ReuseWindow

	msgSvc := services.NewMessageService(db, hub, notifier, limiter)
	msgSvc.SendLimit = ratelimit.Config{
		Scope:       "message-send",
		MaxRequests: cfg.Limits.MessageMax,
		Window:      cfg.Limits.MessageWindow,
	}
	msgSvc.MaxBodyRunes = cfg.Limits.MaxBodyRunes

	h := handlers.New(convSvc, msgSvc, hub, handlers.AdminAccess{
		JWTSecret: cfg.Admin.JWTSecret,
		Password:  cfg.Admin.Password,
		TokenTTL:  cfg.Admin.TokenTTL,
	})
	h.CookieSecure = cfg.Security.EnableHSTS
	h.IdempotencyTTL = cfg.IdempotencyTTL

	// Public widget API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/session", h.StartSession)

		api.POST("/conversations", middleware.RequireVisitor(), h.StartConversation)
		api.GET("/conversations/:id/messages", middleware.RequireVisitor(), h.GetTranscript)
		api.POST("/conversations/:id/messages", middleware.RequireVisitor(), h.PostMessage)
		api.GET("/conversations/:id/stream", middleware.RequireVisitor(), h.StreamConversation)
	}

	// Admin console API
	api.POST("/admin/login", h.AdminLogin)
	admin := api.Group("/admin", middleware.AdminAuth(cfg.Admin.JWTSecret))
	{
		admin.GET("/conversations", h.ListConversations)
		admin.GET("/conversations/:id/messages", h.AdminTranscript)
		admin.POST("/conversations/:id/messages", h.AdminReply)
		admin.POST("/conversations/:id/assign", h.AssignConversation)
		admin.POST("/conversations/:id/close", h.CloseConversation)
		admin.GET("/conversations/:id/stream", h.StreamConversation)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized bodies error on read.
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
