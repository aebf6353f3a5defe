package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	appLogger "github.com/FACorreiaa/worldwise-cities/app/logger"
	"github.com/FACorreiaa/worldwise-cities/app/observability/metrics"
	"github.com/FACorreiaa/worldwise-cities/app/tracer"
	"github.com/FACorreiaa/worldwise-cities/config"
	"github.com/FACorreiaa/worldwise-cities/internal/container"
	"github.com/FACorreiaa/worldwise-cities/internal/router"
)

// @title        WorldWise Cities API
// @version      1.0
// @description  CRUD over the list of visited cities.
// @host         localhost:9000
// @BasePath     /
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := appLogger.New(os.Stdout, cfg.Mode)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, &cfg, logger); err != nil {
		logger.Error("Application stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down complete.")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	providers, err := tracer.InitTracingAndMetrics()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
		}
	}()
	metrics.InitAppMetrics()

	c, err := container.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build dependencies: %w", err)
	}
	defer c.Close()

	timeout := cfg.Server.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	mux := newMux(logger, c.CityHandler, timeout)

	errorLog := slog.NewLogLogger(logger.Handler(), slog.LevelError)
	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     errorLog,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Handlers.Prometheus.Port),
		Handler:           providers.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          errorLog,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{apiServer, metricsServer} {
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, starting graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

// newMux applies the server-wide middleware around the application router.
func newMux(logger *slog.Logger, cities router.Routes, timeout time.Duration) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(appLogger.StructuredLogger(logger))
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.StripSlashes)
	mux.Use(middleware.Timeout(timeout))
	mux.Use(middleware.Compress(5, "application/json"))
	mux.Mount("/", router.SetupRouter(&router.Config{CityHandler: cities}))
	return mux
}
