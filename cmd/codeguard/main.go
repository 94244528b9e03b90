package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"codeguard/config"
	"codeguard/internal/app"
	"codeguard/internal/archive"
	"codeguard/internal/handlers"
	"codeguard/internal/service"

	"github.com/gin-gonic/gin"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sweepInterval      = 30 * time.Second
	cancelPollInterval = 5 * time.Second
)

func asAnalysisAPI(s *service.AnalysisService) handlers.AnalysisService { return s }

func asCanceller(s *service.AnalysisService) archive.Canceller { return s }

func NewRouter(h *handlers.Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	h.Register(r)
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)))
	}
}

func serverLifecycle(lc fx.Lifecycle, cfg *config.AppConfig, router *gin.Engine, logger *zap.Logger) {
	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() { // non-blocking server start
				logger.Info("listening", zap.String("addr", cfg.ListenAddr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed to start", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

type backgroundParams struct {
	fx.In

	Lc      fx.Lifecycle
	Logger  *zap.Logger
	Service *service.AnalysisService
	Poller  *archive.CancelPoller `optional:"true"`
}

// backgroundLifecycle runs the session sweeper and, with Redis, the
// cancellation poller. Running sessions are cancelled on shutdown.
func backgroundLifecycle(p backgroundParams) {
	ctx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go p.Service.RunSweeper(ctx, sweepInterval)
			if p.Poller != nil {
				go p.Poller.Run(ctx, cancelPollInterval)
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := p.Service.Shutdown(stopCtx); err != nil {
				p.Logger.Warn("shutdown incomplete", zap.Error(err))
			}
			return nil
		},
	})
}

func main() {
	fxApp := fx.New(
		app.Module,
		fx.Provide(
			asAnalysisAPI,
			asCanceller,
			archive.NewCancelPoller,
			handlers.NewHandler,
			NewRouter,
		),
		fx.Invoke(
			serverLifecycle,
			backgroundLifecycle,
		),
		fx.WithLogger(app.EventLogger),
	)
	fxApp.Run()
}
