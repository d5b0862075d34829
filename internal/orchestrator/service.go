// Package orchestrator wires the pool store, allocator, mapper, health
// monitor, reconciler, and fallback controller into the operation surface
// consumed by the surrounding service layer.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/config"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/health"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/logger"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/pool"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/reconcile"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/runtime"
)

// Service exposes the orchestrator's core operations. All components share
// one pool state store, constructed here and passed down; there are no
// ambient globals.
type Service struct {
	store     *pool.Store
	allocator *pool.Allocator
	mapper    *pool.Mapper
	fallback  *pool.FallbackController

	monitor    *health.Monitor
	reconciler *reconcile.Reconciler

	cfg    *config.Config
	logger *slog.Logger
}

// New builds the full orchestrator over the given runtime and provisioning
// authority.
func New(cfg *config.Config, rt runtime.ContainerRuntime, source reconcile.ActiveBotSource, log *slog.Logger) (*Service, error) {
	store, err := pool.NewStore(cfg.SnapshotPath, cfg.BasePort, cfg.MaxBotsPerPool, logger.Component(log, "store"))
	if err != nil {
		return nil, err
	}

	allocator := pool.NewAllocator(store, rt, cfg, logger.Component(log, "allocator"))
	mapper := pool.NewMapper(store)
	fallback := pool.NewFallbackController(allocator, rt, cfg, logger.Component(log, "fallback"))
	prober := health.NewHTTPProber(cfg.ProbeTimeout)
	monitor := health.NewMonitor(store, rt, prober, cfg, logger.Component(log, "health"))
	reconciler := reconcile.NewReconciler(store, rt, source, cfg, logger.Component(log, "reconciler"))

	return &Service{
		store:      store,
		allocator:  allocator,
		mapper:     mapper,
		fallback:   fallback,
		monitor:    monitor,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     log,
	}, nil
}

// Store exposes the underlying state store for metric gauges.
func (s *Service) Store() *pool.Store { return s.store }

// AllocateBotSlot provisions a bot, preferring pooled placement and falling
// back to the legacy per-bot path. An error here means both paths failed.
func (s *Service) AllocateBotSlot(ctx context.Context, tenantID, botID string, botCfg pool.BotConfig) (pool.Placement, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "provision")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.String("bot.id", botID))

	return s.fallback.Provision(ctx, tenantID, botID, botCfg)
}

// ReleaseBotSlot stops the bot's process and frees its slot.
func (s *Service) ReleaseBotSlot(ctx context.Context, botID string) error {
	return s.allocator.Release(ctx, botID)
}

// ResolveBot returns the bot's physical location for request routing.
func (s *Service) ResolveBot(botID string) (pool.Placement, error) {
	return s.mapper.Resolve(botID)
}

// RunHealthSweep runs one on-demand health sweep.
func (s *Service) RunHealthSweep(ctx context.Context) *health.Result {
	return s.monitor.RunSweep(ctx)
}

// Reconcile runs one on-demand reconciliation pass.
func (s *Service) Reconcile(ctx context.Context) (*reconcile.Report, error) {
	return s.reconciler.Reconcile(ctx)
}

// ListPoolsForTenant returns operator-facing summaries of the tenant's
// pools.
func (s *Service) ListPoolsForTenant(tenantID string) []pool.Summary {
	pools := s.store.PoolsForTenant(tenantID)
	out := make([]pool.Summary, 0, len(pools))
	for _, p := range pools {
		out = append(out, pool.Summary{
			ID:          p.ID,
			TenantID:    p.TenantID,
			ContainerID: p.ContainerID,
			Capacity:    p.Capacity,
			Assigned:    s.store.AssignedCount(p.ID),
			Status:      p.Status,
			Ports:       p.Ports,
		})
	}
	return out
}

// Run executes the control loops until the context is cancelled: one
// reconciliation at startup (restored state is not allocatable before it),
// then health sweeps and reconciliation passes on their intervals.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		// Startup reconciliation failing leaves allocation gated on a
		// restored store; keep running, the scheduled pass will retry.
		s.logger.Error("startup reconciliation failed", "error", err)
	}

	sweepTicker := time.NewTicker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()
	reconcileTicker := time.NewTicker(s.cfg.ReconcileInterval)
	defer reconcileTicker.Stop()

	s.logger.Info("control loops started",
		"sweep_interval", s.cfg.SweepInterval,
		"reconcile_interval", s.cfg.ReconcileInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("control loops stopping")
			return ctx.Err()
		case <-sweepTicker.C:
			s.monitor.RunSweep(ctx)
		case <-reconcileTicker.C:
			if _, err := s.reconciler.Reconcile(ctx); err != nil {
				s.logger.Error("scheduled reconciliation failed", "error", err)
			}
		}
	}
}
