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

	"voip-billing-platform/internal/alert"
	"voip-billing-platform/internal/auth"
	"voip-billing-platform/internal/batch"
	"voip-billing-platform/internal/billing"
	"voip-billing-platform/internal/calls"
	"voip-billing-platform/internal/config"
	"voip-billing-platform/internal/httpapi"
	"voip-billing-platform/internal/ledger"
	"voip-billing-platform/internal/rates"
	"voip-billing-platform/internal/session"
	"voip-billing-platform/internal/telephony"
	"voip-billing-platform/internal/termination"
	"voip-billing-platform/pkg/logger"
	"voip-billing-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
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

	settings := billing.StaticSource(settingsFrom(cfg.Billing, log))
	alerts := alert.SlogSink{Log: log}

	rateRepo := rates.NewPostgresRepo(db)
	resolver := rates.NewResolver(rateRepo, func(ctx context.Context) rates.IncrementPolicy {
		return settings.Current(ctx).DefaultIncrement
	})

	ledgerSvc := ledger.NewService(ledger.NewPostgresRepo(db))
	callRepo := calls.NewPostgresRepo(db)
	store := session.NewRedisStore(rdb)

	tracker := session.NewTracker(session.TrackerDeps{
		Rates:    resolver,
		Ledger:   ledgerSvc,
		Calls:    callRepo,
		Store:    store,
		Settings: settings,
		Alerts:   alerts,
		Locker:   session.NewRedisLocker(rdb),
		Log:      logger.Component(log, "tracker"),
	})

	control := telephony.NewFreePBXProvider(cfg.PBX.BaseURL, cfg.PBX.APIToken, cfg.PBX.RequestTimeout)

	coordinator := termination.NewCoordinator(termination.CoordinatorDeps{
		Calls:    callRepo,
		Ledger:   ledgerSvc,
		Control:  control,
		Sessions: tracker,
		Settings: settings,
		Alerts:   alerts,
		Log:      logger.Component(log, "termination"),
	})
	tracker.SetTerminator(coordinator)

	sweeper := batch.NewProcessor(batch.ProcessorDeps{
		Calls:      callRepo,
		Store:      store,
		Finalizer:  tracker,
		Terminator: coordinator,
		Settings:   settings,
		Alerts:     alerts,
		Log:        logger.Component(log, "sweep"),
	})

	scheduler := batch.NewScheduler(log)
	if _, err := scheduler.Add(sweepSchedule(cfg.Billing), sweeper); err != nil {
		log.Error("sweep schedule invalid", "err", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Per-call billing loops live on their own context so HTTP shutdown
	// does not cut them off before they finalize.
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Tracker:     tracker,
		Coordinator: coordinator,
		Ledger:      ledgerSvc,
		Calls:       callRepo,
		Sweeper:     sweeper,
		LoopCtx:     loopCtx,
	}
	registerRoutes(r, h, authManager, db, rdb)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Cancel billing loops last; each finalizes its call on the way out.
	stopLoops()
	time.Sleep(2 * time.Second)
}

func settingsFrom(b config.BillingConfig, log *slog.Logger) billing.Settings {
	s := billing.Settings{
		TickInterval:      b.TickInterval,
		SessionTTL:        b.SessionTTL,
		GracePeriod:       time.Duration(b.GracePeriodSeconds) * time.Second,
		AutoTerminate:     b.AutoTerminate,
		MaxBillingRetries: b.MaxBillingRetries,
	}
	if b.DefaultIncrement != "" {
		p, err := rates.ParsePolicy(b.DefaultIncrement)
		if err != nil {
			log.Warn("unusable default increment, falling back to 60/60", "value", b.DefaultIncrement, "err", err)
		} else {
			s.DefaultIncrement = p
		}
	}
	if b.LowBalanceThreshold != "" {
		d, err := decimal.NewFromString(b.LowBalanceThreshold)
		if err != nil {
			log.Warn("unusable low balance threshold, alerts disabled", "value", b.LowBalanceThreshold, "err", err)
		} else {
			s.LowBalanceThreshold = d
		}
	}
	return s
}

func sweepSchedule(b config.BillingConfig) string {
	if b.SweepSchedule != "" {
		return b.SweepSchedule
	}
	return "0 */5 * * * *" // every five minutes
}
