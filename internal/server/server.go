package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/clock"
	"github.com/smallbiznis/entitlementd/internal/config"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/observability"
	obsmiddleware "github.com/smallbiznis/entitlementd/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/entitlementd/internal/observability/metrics"
	obstracing "github.com/smallbiznis/entitlementd/internal/observability/tracing"
	"github.com/smallbiznis/entitlementd/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/entitlementd/internal/webhook/domain"
)

const maxWebhookBodyBytes = 1 << 20

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
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
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	engine       *gin.Engine
	cfg          config.Config
	clock        clock.Clock
	log          *zap.Logger
	entitlements entdomain.Service
	webhooks     webhookdomain.Service
	limiter      *ratelimit.ReconcileLimiter
	metrics      *obsmetrics.EntitlementMetrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Clock        clock.Clock
	Log          *zap.Logger
	Entitlements entdomain.Service
	Webhooks     webhookdomain.Service
	Limiter      *ratelimit.ReconcileLimiter     `optional:"true"`
	Metrics      *obsmetrics.EntitlementMetrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		clock:        p.Clock,
		log:          log.Named("http"),
		entitlements: p.Entitlements,
		webhooks:     p.Webhooks,
		limiter:      p.Limiter,
		metrics:      p.Metrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleWebhook)
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	users := v1.Group("/users/:user_id")
	{
		users.GET("/entitlement", s.GetEntitlement)
		users.POST("/entitlement/reconcile", s.ReconcileRateLimit(), s.ReconcileEntitlement)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
