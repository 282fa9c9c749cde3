// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wablast/blast-core/app/dto"
	"github.com/wablast/blast-core/app/handlers"
	"github.com/wablast/blast-core/app/middleware"
	"github.com/wablast/blast-core/config"
	"github.com/wablast/blast-core/utils"
	"go.uber.org/zap"
)

const healthPath = "/api/v1/health"

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	Shutdown(ctx context.Context) error
	GetApp() *fiber.App
}

// Handlers groups the HTTP handlers the router mounts
type Handlers struct {
	Wallet   handlers.WalletHandlerInterface
	Campaign handlers.CampaignHandlerInterface
	Webhook  handlers.WebhookHandlerInterface
	Admin    handlers.AdminHandlerInterface
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Options configures the router
type Options struct {
	Server     config.ServerConfig
	Metrics    config.MetricsConfig
	Deployment config.DeploymentConfig
	// Checks are run by the health endpoint, keyed by dependency name
	Checks map[string]HealthCheck
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	handlers Handlers
	auth     *middleware.AuthMiddleware
	opts     Options
	logger   *zap.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(h Handlers, auth *middleware.AuthMiddleware, opts Options, logger *zap.Logger) *FiberRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	bodyLimit := opts.Server.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 4 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		AppName:      "WA Blast Core",
		ServerHeader: "wablast",
		ErrorHandler: errorHandler(logger),
		BodyLimit:    bodyLimit,
		ReadTimeout:  opts.Server.ReadTimeout,
		WriteTimeout: opts.Server.WriteTimeout,
		IdleTimeout:  opts.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		TrustProxy:   len(opts.Server.TrustedProxies) > 0,
		TrustProxyConfig: fiber.TrustProxyConfig{
			Proxies: opts.Server.TrustedProxies,
		},
		ProxyHeader: opts.Server.ProxyHeader,
	})

	return &FiberRouter{
		app:      app,
		handlers: h,
		auth:     auth,
		opts:     opts,
		logger:   logger,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	if r.opts.Metrics.Enabled {
		path := r.opts.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.app.Get(path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")
	api.Get("/health", r.healthCheck)

	// Webhooks are authenticated by signature, not by token, and are not rate limited:
	// a rejected callback would only be retried by the sender.
	webhooks := api.Group("/webhooks")
	webhooks.Post("/payment", r.handlers.Webhook.PaymentCallback)
	webhooks.Post("/whatsapp", r.handlers.Webhook.DeliveryCallback)

	api.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: func(c fiber.Ctx) bool {
			return c.Path() == healthPath
		},
	}))

	// Tenant routes
	wallet := api.Group("/wallet", r.auth.Authenticate())
	wallet.Get("/", r.handlers.Wallet.GetBalance)
	wallet.Get("/check", r.handlers.Wallet.CheckBalance)
	wallet.Get("/statement", r.handlers.Wallet.GetStatement)
	wallet.Get("/statement/export", r.handlers.Wallet.ExportStatement)

	campaigns := api.Group("/campaigns", r.auth.Authenticate())
	campaigns.Post("/", r.handlers.Campaign.CreateCampaign)
	campaigns.Get("/", r.handlers.Campaign.ListCampaigns)
	campaigns.Get("/:id", r.handlers.Campaign.GetCampaign)
	campaigns.Post("/:id/targets", r.handlers.Campaign.AddTargets)
	campaigns.Put("/:id/template", r.handlers.Campaign.SelectTemplate)
	campaigns.Post("/:id/start", r.handlers.Campaign.StartCampaign)
	campaigns.Post("/:id/pause", r.handlers.Campaign.PauseCampaign)
	campaigns.Post("/:id/resume", r.handlers.Campaign.ResumeCampaign)
	campaigns.Post("/:id/cancel", r.handlers.Campaign.CancelCampaign)

	// Admin routes
	admin := api.Group("/admin", r.auth.Authenticate(), r.auth.RequireAdmin())
	admin.Post("/wallets", r.handlers.Admin.ProvisionWallet)
	admin.Get("/wallets/:klien_id", r.handlers.Admin.GetWallet)
	admin.Post("/wallets/:klien_id/reconcile", r.handlers.Admin.ReconcileWallet)
	admin.Get("/campaigns/stale", r.handlers.Admin.ListStaleCampaigns)
	admin.Post("/kliens/:klien_id/campaigns/:id/fail", r.handlers.Admin.FailCampaign)
	admin.Put("/kliens/:klien_id/campaigns/:id/price", r.handlers.Admin.OverrideCampaignPrice)

	r.app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
			Success: false,
			Message: "Route not found",
			Error:   dto.ErrorDetail{Code: "NOT_FOUND"},
		})
	})
}

func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Error("panic",
				zap.String("request_id", requestid.FromContext(c)),
				zap.Any("error", e),
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
				zap.String("ip", c.IP()),
			)
		},
	}))

	r.app.Use(helmet.New())

	if r.opts.Metrics.Enabled {
		r.app.Use(middleware.Metrics())
	}

	r.app.Use(r.requestLogger)
}

// requestLogger writes one structured line per request
func (r *FiberRouter) requestLogger(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if c.Path() == healthPath {
		return err
	}
	r.logger.Info("request",
		zap.String("request_id", requestid.FromContext(c)),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("latency", time.Since(start)),
		zap.String("ip", c.IP()),
		zap.Int("bytes_in", len(c.Body())),
	)
	return err
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.Info("starting server", zap.String("address", address))
	return r.app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests
func (r *FiberRouter) Shutdown(ctx context.Context) error {
	return r.app.ShutdownWithContext(ctx)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// Health check endpoint
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	checks := make(fiber.Map, len(r.opts.Checks))
	healthy := true
	for name, check := range r.opts.Checks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	data := fiber.Map{
		"status":      "ok",
		"timestamp":   utils.UTCNow().Unix(),
		"version":     r.opts.Deployment.Version,
		"commit":      r.opts.Deployment.CommitHash,
		"environment": r.opts.Deployment.Environment,
		"service":     "wablast-core",
		"checks":      checks,
	}
	if !healthy {
		data["status"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.APIResponse{
			Success: false,
			Message: "Service is degraded",
			Data:    data,
		})
	}
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data:    data,
	})
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		requestID := requestid.FromContext(c)
		logger.Error("unhandled error", zap.Int("status", code), zap.String("request_id", requestID), zap.Error(err))

		message := "An internal server error occurred"
		if code < fiber.StatusInternalServerError && fe != nil {
			message = fe.Message
		}
		return c.Status(code).JSON(dto.APIResponse{
			Success: false,
			Message: message,
			Error: dto.ErrorDetail{
				Code: "INTERNAL_ERROR",
				Details: fiber.Map{
					"timestamp":  utils.UTCNow().Unix(),
					"request_id": requestID,
				},
			},
		})
	}
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
