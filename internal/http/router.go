// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/config"
	"github.com/tbourn/go-wazo-bridge/internal/domain"
	"github.com/tbourn/go-wazo-bridge/internal/http/handlers"
	"github.com/tbourn/go-wazo-bridge/internal/http/middleware"
	"github.com/tbourn/go-wazo-bridge/internal/matrix"
	"github.com/tbourn/go-wazo-bridge/internal/repo"
	"github.com/tbourn/go-wazo-bridge/internal/services"
	"github.com/tbourn/go-wazo-bridge/internal/wazo"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// portalRepoShim adapts the repository free functions to the
// services.PortalRepo interface expected by the PortalService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type portalRepoShim struct{}

// CreatePortal proxies repo.CreatePortal.
func (portalRepoShim) CreatePortal(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Portal, error) {
	return repo.CreatePortal(ctx, db, wazoUUID)
}

// GetPortalByWazoUUID proxies repo.GetPortalByWazoUUID.
func (portalRepoShim) GetPortalByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Portal, error) {
	return repo.GetPortalByWazoUUID(ctx, db, wazoUUID)
}

// GetPortalByMXID proxies repo.GetPortalByMXID.
func (portalRepoShim) GetPortalByMXID(ctx context.Context, db *gorm.DB, mxid string) (*domain.Portal, error) {
	return repo.GetPortalByMXID(ctx, db, mxid)
}

// SetPortalMXID proxies repo.SetPortalMXID.
func (portalRepoShim) SetPortalMXID(ctx context.Context, db *gorm.DB, wazoUUID, mxid string) error {
	return repo.SetPortalMXID(ctx, db, wazoUUID, mxid)
}

// puppetRepoShim adapts the repository free functions to services.PuppetRepo.
type puppetRepoShim struct{}

// CreatePuppet proxies repo.CreatePuppet.
func (puppetRepoShim) CreatePuppet(ctx context.Context, db *gorm.DB, p *domain.Puppet) error {
	return repo.CreatePuppet(ctx, db, p)
}

// GetPuppetByWazoUUID proxies repo.GetPuppetByWazoUUID.
func (puppetRepoShim) GetPuppetByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Puppet, error) {
	return repo.GetPuppetByWazoUUID(ctx, db, wazoUUID)
}

// MarkPuppetRegistered proxies repo.MarkPuppetRegistered.
func (puppetRepoShim) MarkPuppetRegistered(ctx context.Context, db *gorm.DB, wazoUUID, customMXID, accessToken, baseURL string) error {
	return repo.MarkPuppetRegistered(ctx, db, wazoUUID, customMXID, accessToken, baseURL)
}

// UpdatePuppetNames proxies repo.UpdatePuppetNames.
func (puppetRepoShim) UpdatePuppetNames(ctx context.Context, db *gorm.DB, wazoUUID, firstName, lastName, username string) error {
	return repo.UpdatePuppetNames(ctx, db, wazoUUID, firstName, lastName, username)
}

// userRepoShim adapts the repository free functions to services.UserRepo.
type userRepoShim struct{}

// CreateUser proxies repo.CreateUser.
func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, mxid string, wazoUUID *string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, mxid, wazoUUID)
}

// GetUserByMXID proxies repo.GetUserByMXID.
func (userRepoShim) GetUserByMXID(ctx context.Context, db *gorm.DB, mxid string) (*domain.User, error) {
	return repo.GetUserByMXID(ctx, db, mxid)
}

// GetUserByWazoUUID proxies repo.GetUserByWazoUUID.
func (userRepoShim) GetUserByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.User, error) {
	return repo.GetUserByWazoUUID(ctx, db, wazoUUID)
}

// messageRepoShim adapts the repository free functions to services.MessageRepo.
type messageRepoShim struct{}

// CreateMessage proxies repo.CreateMessage.
func (messageRepoShim) CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return repo.CreateMessage(ctx, db, m)
}

// GetMessageByWazoUUID proxies repo.GetMessageByWazoUUID.
func (messageRepoShim) GetMessageByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Message, error) {
	return repo.GetMessageByWazoUUID(ctx, db, wazoUUID)
}

// BuildWebhookService performs the dependency injection of the full
// routing pipeline: HTTP clients from config, repo shims, and the four
// services layered on top. Exposed separately from RegisterRoutes so an
// entrypoint (or test) can swap the collaborator clients.
func BuildWebhookService(db *gorm.DB, mx matrix.Client, wz wazo.Client, cfg config.Config) *services.WebhookService {
	logger := log.Logger

	bot := &matrix.Intent{Client: mx, UserID: cfg.Matrix.BotMXID, AccessToken: cfg.Matrix.ASToken}

	puppetSvc := services.NewPuppetService(db, puppetRepoShim{}, mx,
		cfg.Matrix.UserPrefix, cfg.Matrix.HomeserverDomain, logger)
	userSvc := services.NewUserService(db, userRepoShim{}, puppetSvc, logger)
	portalSvc := services.NewPortalService(db, portalRepoShim{}, messageRepoShim{}, mx, wz,
		bot, cfg.Matrix.BotAvatarURL, logger)
	return services.NewWebhookService(db, portalSvc, puppetSvc, userSvc, messageRepoShim{}, logger)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// CORS and security headers, health and metrics endpoints, and then mounts
// the versioned webhook API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per IP)
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, mx matrix.Client, wz wazo.Client, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction; chatd deliveries carry the
	// platform auth token in X-Auth-Token.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-Auth-Token",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Auth-Token"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
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
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Auth-Token"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
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

	// Dependency injection: services ← repo/db/clients
	webhookSvc := BuildWebhookService(db, mx, wz, cfg)
	h := handlers.New(webhookSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Inbound Wazo deliveries. The second route matches webhookd
		// subscriptions configured with the raw event name.
		api.POST("/webhooks/wazo/messages", h.ReceiveWazoMessage)
		api.POST("/webhooks/wazo/user_room_message_created", h.ReceiveWazoMessage)
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
