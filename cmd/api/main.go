package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/config"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/dnc"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/readiness"
	"dialer-platform/internal/slots"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Repositories and services
	broadcasts := broadcast.NewPostgresRepo(db)
	items := queue.NewPostgresRepo(db)
	stats := pacing.NewPostgresStatsRepo(db)
	registry := dnc.NewRedisRegistry(rdb)
	auditSvc := audit.NewService(audit.NewMemoryRepo())

	checker := readiness.NewChecker(
		broadcasts,
		items,
		readiness.NewPostgresNumberInventory(db),
		readiness.NewPostgresAlertSource(db, time.Hour),
	)
	broadcastSvc := broadcast.NewService(broadcasts, checker.Preflight)
	queueSvc := queue.NewService(items, broadcasts, registry)

	provider := telephony.NewTwilioProvider(cfg.Provider)
	recorder := pacing.NewRecorder(stats)

	// Tenant dial cap is optional. The slot TTL is only a crash backstop;
	// webhook resolution and sweeper reclaims release slots explicitly.
	var dialSlots slots.Slots
	if cfg.Engine.TenantDialCap > 0 {
		dialSlots = slots.NewRedisSlots(rdb, cfg.Engine.TenantDialCap, 2*cfg.Engine.StaleThreshold)
	}

	dispatcher := dialer.NewDispatcher(broadcasts, items, stats, recorder, provider, log, dialer.DispatcherOpts{
		Slots:       dialSlots,
		StatsWindow: cfg.Engine.StatsWindow,
	})
	sweeper := dialer.NewSweeper(broadcasts, items, dialSlots, cfg.Engine.StaleThreshold, log)
	webhooks := telephony.NewWebhookHandler(items, registry, recorder, dialSlots, cfg.Provider.WebhookSecret)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		auth:        authManager,
		queue:       queueSvc,
		broadcasts:  broadcastSvc,
		bcRepo:      broadcasts,
		items:       items,
		stats:       stats,
		statsWindow: cfg.Engine.StatsWindow,
		readiness:   checker,
		audit:       auditSvc,
		webhooks:    webhooks,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	clk := dialer.NewRealClock()
	g, gCtx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := dialer.RunEvery(gCtx, clk, cfg.Engine.DispatchInterval, "dispatcher", log, dispatcher.Tick)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := dialer.RunEvery(gCtx, clk, cfg.Engine.SweepInterval, "sweeper", log, sweeper.Tick)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := dialer.RunEvery(gCtx, clk, cfg.Engine.DispatchInterval, "stats-recorder", log, func(ctx context.Context) error {
			return recorder.Flush(ctx, items.CountActive)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("engine stopped", "err", err)
	}
	_ = logger.ShutdownFlush(context.Background(), 2*time.Second)
}
