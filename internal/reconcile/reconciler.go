// Package reconcile compares declared intent, stored placement, and runtime
// reality, and repairs drift between them.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/config"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/pool"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/runtime"
)

// ActiveBotSource is the external provisioning authority: the set of bots
// that should exist right now.
type ActiveBotSource interface {
	ActiveBots(ctx context.Context) (map[string]bool, error)
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	Timestamp time.Time `json:"timestamp"`

	// OrphansRemoved lists bots that were recorded in pool state but are
	// no longer active: their slots were released.
	OrphansRemoved []string `json:"orphans_removed"`

	// MissingBots lists active bots with no placement. They are not
	// pool-repairable here and are surfaced for re-provisioning.
	MissingBots []string `json:"missing_bots"`

	// PoolsTornDown lists pools removed after sitting empty past the
	// grace period.
	PoolsTornDown []string `json:"pools_torn_down"`

	// UnreachablePools lists pools whose container no longer exists at
	// runtime; their bots were marked failed.
	UnreachablePools []string `json:"unreachable_pools"`

	Duration time.Duration `json:"duration"`
}

// Changed reports whether the pass repaired anything. A second pass right
// after a first one must report no change.
func (r *Report) Changed() bool {
	return len(r.OrphansRemoved) > 0 || len(r.PoolsTornDown) > 0 || len(r.UnreachablePools) > 0
}

// Reconciler repairs drift between the provisioning authority, the pool
// state store, and the container runtime. It runs at startup, on a
// schedule, and on demand; every pass is idempotent.
type Reconciler struct {
	store   *pool.Store
	runtime runtime.ContainerRuntime
	source  ActiveBotSource
	cfg     *config.Config
	logger  *slog.Logger

	repairs metric.Int64Counter
}

// NewReconciler creates a reconciler.
func NewReconciler(store *pool.Store, rt runtime.ContainerRuntime, source ActiveBotSource, cfg *config.Config, logger *slog.Logger) *Reconciler {
	counter, err := otel.Meter("orchestrator").Int64Counter("reconcile.repairs",
		metric.WithDescription("Drift repairs applied by the reconciler"))
	if err != nil {
		logger.Warn("failed to register repair counter", "error", err)
	}
	return &Reconciler{store: store, runtime: rt, source: source, cfg: cfg, logger: logger, repairs: counter}
}

// Reconcile runs one pass. It fails only when the provisioning authority
// cannot be read; individual repairs are logged as consistency findings
// and never abort the pass.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "reconcile")
	defer span.End()

	start := time.Now()
	report := &Report{
		Timestamp:        start.UTC(),
		OrphansRemoved:   []string{},
		MissingBots:      []string{},
		PoolsTornDown:    []string{},
		UnreachablePools: []string{},
	}

	active, err := r.source.ActiveBots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read active bot set: %w", err)
	}

	stored := r.store.Assignments()
	reachable := r.inspectPools(ctx)

	// (b) minus (a): orphaned mappings. The common drift: deleted through
	// an external control path that never updated pool state.
	for botID, a := range stored {
		if active[botID] {
			continue
		}
		r.stopBotProcess(ctx, a, reachable)
		removed, err := r.store.RemoveOrphan(botID)
		if err != nil {
			r.logger.Error("failed to remove orphan", "bot_id", botID, "error", err)
			continue
		}
		cerr := &pool.ConsistencyError{BotID: botID, PoolID: removed.PoolID,
			Reason: "not in active set, slot released"}
		r.logger.Warn("repaired drift", "finding", cerr.Error())
		report.OrphansRemoved = append(report.OrphansRemoved, botID)
	}

	// (a) minus (b): not pool-repairable here; surfaced for the external
	// layer to re-provision.
	for botID := range active {
		if _, ok := stored[botID]; !ok {
			report.MissingBots = append(report.MissingBots, botID)
		}
	}

	// (b) minus (c): pools whose container vanished. Their bots cannot be
	// running; mark everything failed so the pool stops receiving work.
	for _, p := range r.store.AllPools() {
		if reachable[p.ID] {
			continue
		}
		if p.Status == pool.PoolFailed || p.Status == pool.PoolTerminated {
			continue
		}
		for _, a := range r.store.AssignmentsForPool(p.ID) {
			if a.Status != pool.BotFailed {
				if err := r.store.SetBotStatus(a.BotID, pool.BotFailed); err != nil {
					r.logger.Error("failed to fail bot on unreachable pool",
						"bot_id", a.BotID, "error", err)
				}
			}
		}
		if err := r.store.SetPoolStatus(p.ID, pool.PoolFailed); err != nil {
			r.logger.Error("failed to mark pool failed", "pool_id", p.ID, "error", err)
			continue
		}
		report.UnreachablePools = append(report.UnreachablePools, p.ID)
	}

	report.PoolsTornDown = r.tearDownEmptyPools(ctx)

	r.store.MarkReconciled()

	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("orphans_removed", len(report.OrphansRemoved)),
		attribute.Int("pools_torn_down", len(report.PoolsTornDown)),
		attribute.Int("missing_bots", len(report.MissingBots)),
	)
	if r.repairs != nil && report.Changed() {
		r.repairs.Add(ctx, int64(len(report.OrphansRemoved)+len(report.PoolsTornDown)+len(report.UnreachablePools)))
	}
	r.logger.Info("reconciliation finished",
		"orphans_removed", len(report.OrphansRemoved),
		"missing_bots", len(report.MissingBots),
		"pools_torn_down", len(report.PoolsTornDown),
		"unreachable_pools", len(report.UnreachablePools),
		"duration", report.Duration)
	return report, nil
}

// inspectPools checks which pool containers still exist and run.
func (r *Reconciler) inspectPools(ctx context.Context) map[string]bool {
	reachable := make(map[string]bool)
	for _, p := range r.store.AllPools() {
		inspectCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		info, err := r.runtime.Inspect(inspectCtx, p.ContainerID)
		cancel()
		reachable[p.ID] = err == nil && info.State == runtime.StateRunning
	}
	return reachable
}

// stopBotProcess best-effort stops an orphan's process before its slot is
// released, so the supervisor does not keep trading on a deleted bot.
func (r *Reconciler) stopBotProcess(ctx context.Context, a pool.BotAssignment, reachable map[string]bool) {
	if !reachable[a.PoolID] {
		return
	}
	p, ok := r.store.GetPool(a.PoolID)
	if !ok {
		return
	}
	execCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout*2)
	defer cancel()
	if _, err := r.runtime.Exec(execCtx, p.ContainerID, []string{"botctl", "stop", fmt.Sprintf("bot-%d", a.Slot)}); err != nil {
		r.logger.Warn("failed to stop orphaned bot process",
			"bot_id", a.BotID, "pool_id", a.PoolID, "error", err)
	}
}

// tearDownEmptyPools removes pools that have been empty past the grace
// period: container stopped and removed, record deleted.
func (r *Reconciler) tearDownEmptyPools(ctx context.Context) []string {
	tornDown := []string{}
	cutoff := time.Now().Add(-r.cfg.TeardownGrace)

	for _, p := range r.store.AllPools() {
		if p.EmptySince == nil || p.EmptySince.After(cutoff) {
			continue
		}
		if r.store.AssignedCount(p.ID) > 0 {
			continue
		}

		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := r.runtime.Stop(stopCtx, p.ContainerID); err != nil {
			r.logger.Warn("failed to stop pool container during teardown",
				"pool_id", p.ID, "error", err)
		}
		if err := r.runtime.Remove(stopCtx, p.ContainerID); err != nil {
			r.logger.Warn("failed to remove pool container during teardown",
				"pool_id", p.ID, "error", err)
		}
		cancel()

		if err := r.store.SetPoolStatus(p.ID, pool.PoolTerminated); err != nil {
			r.logger.Error("failed to mark pool terminated", "pool_id", p.ID, "error", err)
		}
		if err := r.store.RemovePool(p.ID); err != nil {
			r.logger.Error("failed to remove pool record", "pool_id", p.ID, "error", err)
			continue
		}
		r.logger.Info("tore down empty pool", "pool_id", p.ID, "tenant_id", p.TenantID)
		tornDown = append(tornDown, p.ID)
	}
	return tornDown
}
