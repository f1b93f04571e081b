package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/api/handler"
	"github.com/open-apime/crmhub/internal/api/middleware"
	"github.com/open-apime/crmhub/internal/metrics"
)

type Options struct {
	Env                string
	AuthSecret         string
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
	MediaDir           string
	HealthHandler      *handler.HealthHandler
	WebhookHandler     *handler.WebhookHandler
	MessageHandler     *handler.MessageHandler
	IntegrationHandler *handler.IntegrationHandler
	DeadLetterHandler  *handler.DeadLetterHandler
	RateLimit          middleware.RateLimitOption
	IPRateLimit        middleware.IPRateLimitOption
}

func NewRouter(opts Options) *gin.Engine {
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(opts.Logger))
	router.Use(opts.Metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/metrics", opts.Metrics.Handler())

	// mídia local; com S3 as URLs apontam direto para o bucket
	if opts.MediaDir != "" {
		router.Static("/media", opts.MediaDir)
	}

	if opts.WebhookHandler != nil {
		ingress := router.Group("")
		ingress.Use(middleware.IPRateLimit(opts.IPRateLimit))
		opts.WebhookHandler.Register(ingress)
	}

	api := router.Group("/api")
	if opts.HealthHandler != nil {
		opts.HealthHandler.Register(api)
	}

	protected := api.Group("")
	protected.Use(middleware.RateLimit(opts.RateLimit))
	protected.Use(middleware.Auth(opts.AuthSecret))

	if opts.MessageHandler != nil {
		tenant := protected.Group("")
		tenant.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleService))
		tenant.Use(middleware.RequireTenant("tenantId"))
		opts.MessageHandler.Register(tenant)
	}

	operator := protected.Group("")
	operator.Use(middleware.RequireRole(middleware.RoleAdmin))
	if opts.IntegrationHandler != nil {
		opts.IntegrationHandler.Register(operator)
	}
	if opts.DeadLetterHandler != nil {
		opts.DeadLetterHandler.Register(operator)
	}

	return router
}
