package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/consult-escrow/internal/api/router"
	"github.com/wolfman30/consult-escrow/internal/app/bootstrap"
	appconfig "github.com/wolfman30/consult-escrow/internal/config"
	"github.com/wolfman30/consult-escrow/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/consult-escrow/internal/http/middleware"
	"github.com/wolfman30/consult-escrow/internal/observability/metrics"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

func main() {
	// Load .env when present; real environment variables win.
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting consult-escrow API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_backend", cfg.UseMemoryBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.BuildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	metricsHandler, bookingMetrics := setupMetrics()
	core := bootstrap.BuildCore(cfg, stores, bookingMetrics, logger)

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		Doctors:            handlers.NewDoctorsHandler(stores.Directory, core.Calculator, logger),
		Bookings:           handlers.NewBookingsHandler(core.Booker, core.Canceller, stores.Backend, logger),
		Wallet:             handlers.NewWalletHandler(core.Ledger, logger),
		Calls:              handlers.NewCallsHandler(core.Calls, logger),
		Signals:            handlers.NewSignalsHandler(core.Watcher, httpmiddleware.NewOriginPolicy(cfg.CORSAllowedOrigins), logger),
		AuthSecret:         cfg.AuthJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Cache:              stores.Cache,
		BookingLimiter:     bookingLimiter(ctx, cfg, stores),
		Ready:              stores.Ready,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics registers the booking collectors plus the Go runtime
// collectors on a private registry.
func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

// bookingLimiter shares the booking rate limit across instances through Redis
// when it is configured, and keeps it per process otherwise.
func bookingLimiter(ctx context.Context, cfg *appconfig.Config, stores *bootstrap.Stores) httpmiddleware.Limiter {
	if cfg.BookingRateLimit <= 0 {
		return nil
	}
	if stores != nil && stores.Redis != nil {
		return httpmiddleware.NewRedisLimiter(stores.Redis, "bookings", cfg.BookingRateLimit, cfg.BookingRateWindow)
	}
	window := cfg.BookingRateWindow
	if window <= 0 {
		window = time.Minute
	}
	rate := float64(cfg.BookingRateLimit) / window.Seconds()
	return httpmiddleware.NewRateLimiter(ctx, rate, cfg.BookingRateLimit)
}
