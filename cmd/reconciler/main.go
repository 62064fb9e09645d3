package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/consult-escrow/cmd/mainconfig"
	"github.com/wolfman30/consult-escrow/internal/app/bootstrap"
	appconfig "github.com/wolfman30/consult-escrow/internal/config"
	"github.com/wolfman30/consult-escrow/internal/events"
	"github.com/wolfman30/consult-escrow/internal/notify"
	"github.com/wolfman30/consult-escrow/internal/observability/metrics"
	"github.com/wolfman30/consult-escrow/internal/saga"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// The reconciler repairs stale booking sagas and delivers queued
// notifications. Run exactly one replica per database.
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("reconciler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.BuildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	reg := prometheus.NewRegistry()
	core := bootstrap.BuildCore(cfg, stores, metrics.NewBookingMetrics(reg), logger)

	worker := saga.NewWorker(stores.Sagas, core.Repairer, logger).
		WithBatchSize(cfg.ReconcileBatchSize).
		WithInterval(cfg.ReconcileInterval).
		WithStaleAfter(cfg.ReconcileStaleAfter)
	go worker.Start(ctx)

	if stores.Outbox != nil {
		fanout := buildFanout(ctx, cfg, stores, logger)
		deliverer := events.NewDeliverer(stores.Outbox, notify.NewDispatcher(fanout, logger), logger).
			WithInterval(cfg.OutboxInterval).
			WithMaxAttempts(cfg.OutboxMaxAttempts)
		go deliverer.Start(ctx)
	} else {
		logger.Info("no outbox configured; notification delivery disabled")
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("reconciler running",
		"interval", cfg.ReconcileInterval,
		"stale_after", cfg.ReconcileStaleAfter,
		"batch_size", cfg.ReconcileBatchSize,
	)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info("reconciler stopped")
}

func buildFanout(ctx context.Context, cfg *appconfig.Config, stores *bootstrap.Stores, logger *logging.Logger) notify.Fanout {
	queue, email, err := mainconfig.NotificationClients(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config; notifications will only be logged", "error", err)
	}
	return bootstrap.BuildNotificationFanout(cfg, stores, queue, email, logger)
}
