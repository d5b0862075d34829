package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/config"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/runtime"
)

// legacyPortOffset separates the legacy per-bot port block from the pooled
// ranges, which grow upward from the configured base port.
const legacyPortOffset = 10000

// FallbackController gates whether pooled allocation is attempted at all.
// When pooling is disabled or the allocator fails, it transparently
// provisions the bot through the legacy one-container-per-bot path. A
// fallback is recorded for observability but is not a failure of the
// provisioning request.
type FallbackController struct {
	allocator *Allocator
	runtime   runtime.ContainerRuntime
	cfg       *config.Config
	logger    *slog.Logger

	nextLegacyPort atomic.Int64
	fallbacks      metric.Int64Counter
}

// NewFallbackController creates the provisioning entry point.
func NewFallbackController(alloc *Allocator, rt runtime.ContainerRuntime, cfg *config.Config, logger *slog.Logger) *FallbackController {
	counter, err := otel.Meter("orchestrator").Int64Counter("pool.fallback.provisions",
		metric.WithDescription("Provisions that fell back to the one-container-per-bot path"))
	if err != nil {
		logger.Warn("failed to register fallback counter", "error", err)
	}

	f := &FallbackController{
		allocator: alloc,
		runtime:   rt,
		cfg:       cfg,
		logger:    logger,
		fallbacks: counter,
	}
	f.nextLegacyPort.Store(int64(cfg.BasePort + legacyPortOffset))
	return f
}

// IsPoolModeActive reports whether pooled allocation is attempted.
func (f *FallbackController) IsPoolModeActive() bool {
	return f.cfg.PoolModeEnabled
}

// Provision places the bot in a pool when possible and falls back to a
// dedicated container when allocation fails. An error here means either
// the request was rejected outright or both paths failed.
func (f *FallbackController) Provision(ctx context.Context, tenantID, botID string, botCfg BotConfig) (Placement, error) {
	if f.IsPoolModeActive() {
		placement, err := f.allocator.Allocate(ctx, tenantID, botID, botCfg)
		if err == nil {
			return placement, nil
		}
		// Only genuine allocation failures fall through to the legacy
		// path. Request errors such as an already placed bot must reach
		// the caller, or a retry would spawn a duplicate container.
		var allocErr *AllocationError
		if !errors.As(err, &allocErr) {
			return Placement{}, err
		}
		f.logger.Warn("pooled allocation failed, falling back to legacy path",
			"tenant_id", tenantID, "bot_id", botID, "error", err)
		f.recordFallback(ctx, tenantID, "allocation_failed")
	} else {
		f.recordFallback(ctx, tenantID, "pool_mode_disabled")
	}

	return f.provisionLegacy(ctx, tenantID, botID, botCfg)
}

// provisionLegacy creates a dedicated container for the bot.
func (f *FallbackController) provisionLegacy(ctx context.Context, tenantID, botID string, botCfg BotConfig) (Placement, error) {
	port := int(f.nextLegacyPort.Add(1) - 1)

	env := map[string]string{
		"BOT_ID":    botID,
		"TENANT_ID": tenantID,
		"API_PORT":  strconv.Itoa(port),
	}
	if botCfg.Strategy != "" {
		env["STRATEGY"] = botCfg.Strategy
	}
	if botCfg.Exchange != "" {
		env["EXCHANGE"] = botCfg.Exchange
	}
	for k, v := range botCfg.Env {
		env[k] = v
	}

	containerID, err := f.runtime.Create(ctx, runtime.ContainerSpec{
		Name:  fmt.Sprintf("bot-%s", botID),
		Image: f.cfg.BotImage,
		Env:   env,
		Ports: []int{port},
		Labels: map[string]string{
			"orchestrator.tenant": tenantID,
			"orchestrator.kind":   "legacy-bot",
		},
	})
	if err != nil {
		return Placement{}, fmt.Errorf("legacy provisioning failed for bot %s: %w", botID, err)
	}
	if err := f.runtime.Start(ctx, containerID); err != nil {
		return Placement{}, fmt.Errorf("legacy container failed to start for bot %s: %w", botID, err)
	}

	f.logger.Info("bot provisioned via legacy path",
		"bot_id", botID, "tenant_id", tenantID, "container_id", containerID, "port", port)
	return Placement{
		BotID:       botID,
		Port:        port,
		ContainerID: containerID,
		Legacy:      true,
	}, nil
}

func (f *FallbackController) recordFallback(ctx context.Context, tenantID, reason string) {
	if f.fallbacks == nil {
		return
	}
	f.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("reason", reason),
	))
}
