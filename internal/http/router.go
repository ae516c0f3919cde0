// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
//
// @title                      Canteen API
// @version                    1.0
// @description                Meal ordering with closing times, subsidies, quotas and prepaid balances.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/canteen-backend/docs"
	"github.com/tbourn/canteen-backend/internal/config"
	"github.com/tbourn/canteen-backend/internal/http/handlers"
	"github.com/tbourn/canteen-backend/internal/http/middleware"
	"github.com/tbourn/canteen-backend/internal/repo"
	"github.com/tbourn/canteen-backend/internal/services"
)

const maxBodyBytes = 1 << 20

var corsAllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}

// exposedHeaders are readable by browser clients.
var exposedHeaders = []string{"X-Request-ID", "ETag", "Idempotency-Replayed"}

// idempotencyLookup reports whether a live record exists for the key.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID uint, scope, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
}

// NewServices builds the application services over db from configuration.
func NewServices(db *gorm.DB, cfg config.Config) (handlers.Services, *time.Location, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return handlers.Services{}, nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	engine := services.NewEligibilityEngine(db,
		services.NewCutoffResolver(loc),
		services.NewMessages(language.Make(cfg.MessageLocale)),
		cfg.OrderMaxQuantity,
	)
	return handlers.Services{
		Menu:     services.NewMenuService(engine),
		Eligible: engine,
		Orders:   services.NewOrderService(engine),
		Bulk:     services.NewBulkOrderService(engine),
		Accounts: services.NewAccountService(db),
		Recalc:   services.NewRecalcService(db),
		Sweeps:   services.NewSweepService(db),
	}, loc, nil
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health, metrics and Swagger endpoints, and then mounts the
// versioned API under cfg.APIBasePath.
//
// Global middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. ContextLogger: request-scoped logger for handlers and services
//  4. RedactingLogger: structured access logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter and gzip
//  7. Metrics
//  8. CORS and Security headers
//
// Per group, under the API prefix:
//  1. Authenticate (every API route)
//  2. StaffOnly (admin routes)
//  3. Idempotency validator, scoped (before rate limiting to allow bypass on replay)
//  4. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) error {
	svc, loc, err := NewServices(db, cfg)
	if err != nil {
		return err
	}
	h := handlers.New(svc, handlers.Options{Location: loc, IdempotencyTTL: cfg.IdempotencyTTL})

	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.ContextLogger())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderUserID},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", "/swagger"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    exposedHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
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
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    exposedHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		EnablePolicy:  true,
		ExposeHeaders: exposedHeaders,
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

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	lookup := idempotencyLookup(db)
	idem := func(scope string) gin.HandlerFunc {
		return middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200, Scope: scope}, lookup)
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Authenticate(middleware.AuthOptions{
		Secret:      []byte(cfg.Auth.JWTSecret),
		AllowHeader: cfg.Auth.AllowHeader,
	}))

	// Menu, verdicts, account
	public := api.Group("", rl.Handler())
	{
		public.GET("/menu", h.GetMenu)
		public.GET("/eligibility", h.GetEligibility)
		public.GET("/account", h.GetAccount)
	}

	// Self-service orders
	orders := api.Group("/orders", idem(handlers.ScopeOrders), rl.Handler())
	{
		orders.POST("", h.PlaceOrder)
		orders.GET("", h.ListOrders)
		orders.DELETE("/items", h.CancelOrderItem)
	}

	// Staff
	admin := api.Group("/admin", h.StaffOnly())
	{
		general := admin.Group("", rl.Handler())
		general.POST("/menus", h.CreateMenu)
		general.POST("/orders/bulk", h.BulkOrder)
		general.POST("/orders/:id/cancel", h.StaffCancelOrder)
		general.POST("/orders/:id/issue", h.IssueOrder)
		general.POST("/order-items/:id/issue", h.IssueOrderItem)
		general.POST("/recalculations", h.Recalculate)
		general.POST("/sweeps/unclaimed", h.SweepUnclaimed)
		general.POST("/sweeps/zero-balances", h.ZeroBalances)

		users := admin.Group("/users", idem(handlers.ScopeDeposits), rl.Handler())
		users.POST("/:id/deposits", h.CreateDeposit)
	}
	return nil
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
