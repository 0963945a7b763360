package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-attendance-sync/internal/handler"
	"github.com/noah-isme/sma-attendance-sync/internal/middleware"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	"github.com/noah-isme/sma-attendance-sync/internal/outbox"
	"github.com/noah-isme/sma-attendance-sync/internal/service"
	"github.com/noah-isme/sma-attendance-sync/internal/syncer"
	"github.com/noah-isme/sma-attendance-sync/pkg/cache"
	"github.com/noah-isme/sma-attendance-sync/pkg/config"
	"github.com/noah-isme/sma-attendance-sync/pkg/jobs"
	"github.com/noah-isme/sma-attendance-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-attendance-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-attendance-sync/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := service.NewMetricsService()

	backend, closeBackend := openBackend(ctx, cfg, logr)
	defer closeBackend()
	store := outbox.Open(ctx, backend, logr)
	unsubscribe := store.Subscribe(metrics.SetOutboxPending)
	defer unsubscribe()

	auth := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	remoteCfg := syncer.RemoteConfig{
		BaseURL:     cfg.Sync.APIBaseURL,
		Token:       cfg.Sync.APIToken,
		ActorTokens: auth.IssueActorToken,
		Timeout:     cfg.Sync.RequestTimeout,
	}
	if remoteCfg.Token == "" {
		remoteCfg.TokenSource = auth.ServiceTokenSource(cfg.Sync.AgentID)
	}
	remote := syncer.NewRemoteReconciler(remoteCfg, logr)

	monitor := syncer.NewMonitor(syncer.MonitorConfig{
		ProbeURL: cfg.Sync.ProbeURL,
		Interval: cfg.Sync.ProbeInterval,
		Timeout:  cfg.Sync.RequestTimeout,
	}, logr)
	engine := syncer.NewEngine(store, remote, logr, syncer.WithConnectivity(monitor), syncer.WithMetrics(metrics))
	runner := syncer.NewRunner(engine, logr)

	queue := jobs.NewQueue("outbox-sync", runner.HandleJob, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 1,
		MaxRetries: cfg.Sync.MaxRetries,
		RetryDelay: cfg.Sync.RetryDelay,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()
	runner.UseQueue(queue)
	monitor.OnReconnect(func() { runner.Trigger(ctx, "reconnect") })

	submitter := syncer.NewSubmitter(remote, store, monitor, logr)
	outboxHandler := handler.NewOutboxHandler(submitter, store, runner)
	metricsHandler := handler.NewMetricsHandler(metrics, handler.ReadinessCheck{
		Name: "outbox",
		Check: func(context.Context) error {
			if store.Degraded() {
				return errors.New("outbox storage degraded, pending batches are held in memory only")
			}
			return nil
		},
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health", "/ready", "/local/outbox/stream"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	staff := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin)
	local := r.Group("/local")
	local.GET("/outbox/stream", middleware.JWTQuery(auth), staff, outboxHandler.Stream)

	authed := local.Group("", middleware.JWT(auth), staff)
	authed.POST("/attendance", outboxHandler.Submit)
	authed.GET("/outbox", outboxHandler.Status)
	authed.DELETE("/outbox", outboxHandler.Clear)
	authed.POST("/outbox/sync", outboxHandler.Sync)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Sync.AgentPort)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logr.Sugar().Infow("sync agent starting", "addr", addr, "outbox_backend", backend.Name(), "pending", store.Count())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("agent server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if store.Count() > 0 {
		runner.Trigger(ctx, "startup")
	}

	if err := g.Wait(); err != nil {
		logr.Sugar().Errorw("sync agent stopped with error", "error", err)
		return
	}
	logr.Sugar().Infow("sync agent stopped", "pending", store.Count())
}

func openBackend(ctx context.Context, cfg *config.Config, logr *zap.Logger) (outbox.Backend, func()) {
	switch cfg.Outbox.Backend {
	case config.OutboxBackendRedis:
		redisCfg := cfg.Redis
		redisCfg.Enabled = true
		client, err := cache.NewRedis(ctx, redisCfg)
		if err != nil {
			logr.Sugar().Warnw("redis outbox unavailable, falling back to memory", "error", err)
			return outbox.NewMemoryBackend(), func() {}
		}
		return outbox.NewRedisBackend(client, cfg.Outbox.RedisKey), func() { _ = client.Close() }
	case config.OutboxBackendMemory:
		return outbox.NewMemoryBackend(), func() {}
	default:
		return outbox.NewFileBackend(cfg.Outbox.FilePath), func() {}
	}
}
