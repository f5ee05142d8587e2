package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/smallbiznis/accessflow/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/accessflow/internal/audit/domain"
	"github.com/smallbiznis/accessflow/internal/billing/adapters"
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/config"
	"github.com/smallbiznis/accessflow/internal/observability/errorreport"
	obslogger "github.com/smallbiznis/accessflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/accessflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/accessflow/internal/observability/tracing"
	pipelinedomain "github.com/smallbiznis/accessflow/internal/pipeline/domain"
	"github.com/smallbiznis/accessflow/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type EngineParams struct {
	fx.In

	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
	Reporter    *errorreport.Reporter   `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(p.HTTPMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware(p.Reporter))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	clock           clock.Clock
	apiKeySvc       apikeydomain.Service
	tenantSvc       tenantdomain.Service
	pipelineSvc     pipelinedomain.Service
	usageSvc        usagedomain.Service
	subscriptionSvc subscriptiondomain.Service
	billing         *adapters.Registry
	audit           auditdomain.Service
	limiter         *ratelimit.TokenBucket
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Clock           clock.Clock
	APIKeySvc       apikeydomain.Service
	TenantSvc       tenantdomain.Service
	PipelineSvc     pipelinedomain.Service
	UsageSvc        usagedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Billing         *adapters.Registry     `optional:"true"`
	Audit           auditdomain.Service    `optional:"true"`
	Limiter         *ratelimit.TokenBucket `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		clock:           p.Clock,
		apiKeySvc:       p.APIKeySvc,
		tenantSvc:       p.TenantSvc,
		pipelineSvc:     p.PipelineSvc,
		usageSvc:        p.UsageSvc,
		subscriptionSvc: p.SubscriptionSvc,
		billing:         p.Billing,
		audit:           p.Audit,
		limiter:         p.Limiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.APIKeyRequired(), s.RateLimit())

	// -------- Jobs --------
	api.POST("/jobs", s.CreateJob)
	api.GET("/jobs/:id", s.GetJob)

	// -------- Tenant --------
	api.GET("/me/usage", s.GetUsage)
	api.GET("/me/subscription", s.GetSubscription)

	// -------- Billing --------
	api.POST("/billing/subscribe", s.Subscribe)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleBillingWebhook)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.AdminTokenRequired())
	internal.POST("/tenants", s.ProvisionTenant)
	internal.GET("/tenants/:id/audit-logs", s.ListAuditLogs)
}
