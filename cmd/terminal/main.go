package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tillpoint/terminal-core/internal/api"
	"github.com/tillpoint/terminal-core/internal/cron"
	"github.com/tillpoint/terminal-core/internal/employees"
	"github.com/tillpoint/terminal-core/internal/intents"
	"github.com/tillpoint/terminal-core/internal/payments"
	"github.com/tillpoint/terminal-core/internal/reader"
	"github.com/tillpoint/terminal-core/internal/reconcile"
	syncworker "github.com/tillpoint/terminal-core/internal/sync"
	"github.com/tillpoint/terminal-core/internal/transport"
	"github.com/tillpoint/terminal-core/pkg/config"
	"github.com/tillpoint/terminal-core/pkg/db"
	"github.com/tillpoint/terminal-core/pkg/logger"
	"github.com/tillpoint/terminal-core/pkg/metrics"
	"github.com/tillpoint/terminal-core/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "terminal"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "terminal",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local, err := db.NewLocal(ctx, cfg.LocalDB, logg)
	if err != nil {
		logg.Error(ctx, "failed to open local store", err)
		os.Exit(1)
	}
	defer func() {
		if err := local.Close(); err != nil {
			logg.Error(ctx, "error closing local store", err)
		}
	}()

	if err := migrate.MaybeRun(ctx, cfg, logg, local); err != nil {
		logg.Error(ctx, "failed to run local migrations", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	paymentMetrics := metrics.NewPaymentMetrics(registry)
	syncMetrics := metrics.NewSyncMetrics(registry)
	cronMetrics := metrics.NewCronJobMetrics(registry)

	gate := reader.NewGate()
	channel, err := buildChannel(cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to build payment transport", err)
		os.Exit(1)
	}
	gated, err := transport.NewGated(transport.GatedParams{
		Inner:   channel,
		Gate:    gate,
		Logger:  logg,
		Metrics: paymentMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to wrap payment transport", err)
		os.Exit(1)
	}

	intentRepo := intents.NewRepository(local.DB())

	var submitter reconcile.Submitter
	if cfg.Payments.ReconcileEnabled() {
		client, err := reconcile.NewClient(reconcile.ClientParams{
			Config:     cfg.Payments,
			TerminalID: cfg.App.TerminalID,
			Logger:     logg,
		})
		if err != nil {
			logg.Error(ctx, "failed to build reconciliation client", err)
			os.Exit(1)
		}
		submitter = client
	} else {
		logg.Warn(ctx, "reconcile endpoint not configured; pending intents will accumulate")
	}

	manager, err := intents.NewManager(intents.ManagerParams{
		Logger:     logg,
		Store:      intentRepo,
		Reconciler: submitter,
		Metrics:    paymentMetrics,
		BatchSize:  cfg.Sync.IntentBatchSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to build intent manager", err)
		os.Exit(1)
	}

	processor, err := payments.NewProcessor(payments.ProcessorParams{
		Logger:    logg,
		Intents:   manager,
		Transport: gated,
		Store:     intentRepo,
	})
	if err != nil {
		logg.Error(ctx, "failed to build payment processor", err)
		os.Exit(1)
	}

	employeeService, err := employees.NewService(employees.ServiceParams{
		DB:       local.DB(),
		Logger:   logg,
		Security: cfg.Security,
	})
	if err != nil {
		logg.Error(ctx, "failed to build employee service", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup

	// The cloud store is the activation gate for replication: no DSN, no
	// sync workers. Payments keep working either way.
	var downstream *syncworker.Downstream
	if cfg.CloudDB.Enabled() {
		cloud, err := db.NewCloud(ctx, cfg.CloudDB, logg)
		if err != nil {
			logg.Error(ctx, "failed to open cloud store", err)
			os.Exit(1)
		}
		defer func() {
			if err := cloud.Close(); err != nil {
				logg.Error(ctx, "error closing cloud store", err)
			}
		}()

		upstream, err := syncworker.NewUpstream(syncworker.UpstreamParams{
			Local:     local.DB(),
			Cloud:     cloud.DB(),
			Logger:    logg,
			Metrics:   syncMetrics,
			BatchSize: cfg.Sync.UpstreamBatchSize,
		})
		if err != nil {
			logg.Error(ctx, "failed to build upstream worker", err)
			os.Exit(1)
		}
		downstream, err = syncworker.NewDownstream(syncworker.DownstreamParams{
			Local:     local.DB(),
			Cloud:     cloud.DB(),
			Logger:    logg,
			Metrics:   syncMetrics,
			BatchSize: cfg.Sync.DownstreamBatchSize,
		})
		if err != nil {
			logg.Error(ctx, "failed to build downstream worker", err)
			os.Exit(1)
		}

		wg.Add(2)
		go func() {
			defer wg.Done()
			upstream.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			downstream.Run(ctx)
		}()
	} else {
		logg.Info(ctx, "cloud store not configured; running offline-only")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.Run(ctx)
	}()

	intentRetention, err := cron.NewIntentRetentionJob(cron.IntentRetentionJobParams{
		Logger:     logg,
		Repository: intentRepo,
	})
	if err != nil {
		logg.Error(ctx, "failed to build intent retention job", err)
		os.Exit(1)
	}
	syncLogRetention, err := cron.NewSyncLogRetentionJob(cron.SyncLogRetentionJobParams{
		Logger: logg,
		DB:     local.DB(),
	})
	if err != nil {
		logg.Error(ctx, "failed to build sync log retention job", err)
		os.Exit(1)
	}
	maintenance, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(intentRetention, syncLogRetention),
		Lock:     cron.NewLocalLock(),
		Metrics:  cronMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to build maintenance service", err)
		os.Exit(1)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = maintenance.Run(ctx)
	}()

	routerParams := api.RouterParams{
		Logger:     logg,
		TerminalID: cfg.App.TerminalID,
		Gate:       gate,
		Transport:  gated,
		Intents:    intentRepo,
		Processor:  manager,
		Charger:    processor,
		Employees:  employeeService,
		Gatherer:   registry,
	}
	if downstream != nil {
		routerParams.Downstream = downstream
	}
	handler, err := api.NewRouter(routerParams)
	if err != nil {
		logg.Error(ctx, "failed to build admin router", err)
		os.Exit(1)
	}

	addr := ":" + cfg.Admin.Port
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	bootCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"terminal": cfg.App.TerminalID,
		"addr":     addr,
	})
	logg.Info(bootCtx, "terminal core started")

	select {
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "admin server stopped unexpectedly", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "admin server shutdown failed", err)
	}
	wg.Wait()
	logg.Info(context.Background(), "terminal core stopped")
}

func buildChannel(cfg *config.Config, logg *logger.Logger) (transport.Transport, error) {
	if strings.EqualFold(cfg.Transport.Channel, "cloud") {
		return transport.NewSquareChannel(cfg.Transport, logg)
	}
	return transport.NewLocalChannel(cfg.Transport, logg)
}
