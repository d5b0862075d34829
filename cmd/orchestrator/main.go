// Package main is the entry point for the bot pool orchestrator daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/config"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/logger"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/observability"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/orchestrator"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/reconcile"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/runtime"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "bot-pool-orchestrator", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slogger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slogger.Error("failed to shutdown metrics", "error", err)
		}
	}()

	// Container runtime
	var rt runtime.ContainerRuntime
	switch cfg.Runtime {
	case "kubernetes":
		rt, err = runtime.NewKubernetesRuntime(runtime.KubernetesConfig{}, slogger)
	default:
		rt, err = runtime.NewDockerRuntime()
	}
	if err != nil {
		log.Fatalf("Failed to create %s runtime: %v", cfg.Runtime, err)
	}

	source := reconcile.NewHTTPSource(cfg.AuthorityURL)
	svc, err := orchestrator.New(cfg, rt, source, slogger)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	// Observable gauges read pool state only when scraped.
	meter := otel.Meter("orchestrator")
	_, err = meter.Int64ObservableGauge("pool.active",
		metric.WithDescription("Number of pools currently recorded"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			pools, _ := svc.Store().Counts()
			obs.Observe(int64(pools))
			return nil
		}),
	)
	if err != nil {
		slogger.Warn("failed to register pool gauge", "error", err)
	}
	_, err = meter.Int64ObservableGauge("pool.slots.assigned",
		metric.WithDescription("Number of bot slots currently assigned"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			_, bots := svc.Store().Counts()
			obs.Observe(int64(bots))
			return nil
		}),
	)
	if err != nil {
		slogger.Warn("failed to register slot gauge", "error", err)
	}

	// Control loops (startup reconcile, then scheduled sweeps/reconciles).
	go func() {
		if err := svc.Run(ctx); err != nil && err != context.Canceled {
			slogger.Error("control loops stopped", "error", err)
		}
	}()

	// Admin API
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := server.New(addr, svc, metricsHandler, cfg.AdminKeyHash)
	go func() {
		slogger.Info("orchestrator admin API starting", "addr", addr, "pool_mode", cfg.PoolModeEnabled)
		if err := srv.Run(ctx); err != nil {
			slogger.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slogger.Info("shutting down orchestrator")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	slogger.Info("orchestrator exited")
}
