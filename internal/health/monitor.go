package health

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

// defaultParallelism bounds how many pools one sweep probes concurrently.
const defaultParallelism = 4

// Monitor is the periodic health control loop. Each sweep probes every
// live pool and its bots, applies status transitions through the store's
// serialized mutation path, and emits recovery actions for what it can fix.
type Monitor struct {
	store       *pool.Store
	runtime     runtime.ContainerRuntime
	prober      Prober
	cfg         *config.Config
	logger      *slog.Logger
	parallelism int

	sweepDuration metric.Float64Histogram
}

// NewMonitor creates a health monitor.
func NewMonitor(store *pool.Store, rt runtime.ContainerRuntime, prober Prober, cfg *config.Config, logger *slog.Logger) *Monitor {
	hist, err := otel.Meter("orchestrator").Float64Histogram("health.sweep.duration",
		metric.WithDescription("Wall-clock duration of health sweeps in seconds"))
	if err != nil {
		logger.Warn("failed to register sweep duration histogram", "error", err)
	}

	return &Monitor{
		store:         store,
		runtime:       rt,
		prober:        prober,
		cfg:           cfg,
		logger:        logger,
		parallelism:   defaultParallelism,
		sweepDuration: hist,
	}
}

type poolOutcome struct {
	pool    Check
	bots    []Check
	issues  []Issue
	actions []RecoveryAction
}

// RunSweep probes all live pools with bounded parallelism. One pool's
// timeout never blocks the others, and the whole sweep carries a total
// time budget: when it expires the sweep returns partial results covering
// whatever completed.
func (m *Monitor) RunSweep(ctx context.Context) *Result {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "health.sweep")
	defer span.End()

	start := time.Now()
	sweepCtx, cancel := context.WithTimeout(ctx, m.cfg.SweepBudget)
	defer cancel()

	var targets []*pool.Pool
	for _, p := range m.store.AllPools() {
		if p.Status == pool.PoolFailed || p.Status == pool.PoolTerminated {
			continue
		}
		targets = append(targets, p)
	}

	outcomes := make(chan poolOutcome, len(targets))
	sem := make(chan struct{}, m.parallelism)
	for _, p := range targets {
		go func(p *pool.Pool) {
			select {
			case sem <- struct{}{}:
			case <-sweepCtx.Done():
				return
			}
			defer func() { <-sem }()
			outcomes <- m.checkPool(sweepCtx, p)
		}(p)
	}

	result := &Result{Timestamp: start.UTC()}
	collected := 0
	for collected < len(targets) {
		select {
		case o := <-outcomes:
			result.Pools = append(result.Pools, o.pool)
			result.Bots = append(result.Bots, o.bots...)
			result.Issues = append(result.Issues, o.issues...)
			result.Actions = append(result.Actions, o.actions...)
			collected++
		case <-sweepCtx.Done():
			result.Partial = true
			collected = len(targets)
		}
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("pools.checked", len(result.Pools)),
		attribute.Int("issues", len(result.Issues)),
		attribute.Bool("partial", result.Partial),
	)
	if m.sweepDuration != nil {
		m.sweepDuration.Record(ctx, result.Duration.Seconds())
	}
	m.logger.Info("health sweep finished",
		"pools", len(result.Pools), "bots", len(result.Bots),
		"issues", len(result.Issues), "actions", len(result.Actions),
		"partial", result.Partial, "duration", result.Duration)
	return result
}

// checkPool runs all per-pool and per-bot checks for one pool.
func (m *Monitor) checkPool(ctx context.Context, p *pool.Pool) poolOutcome {
	var o poolOutcome

	info, err := m.inspect(ctx, p.ContainerID)
	if err != nil || info.State != runtime.StateRunning {
		msg := "container not running"
		if err != nil {
			msg = err.Error()
		}
		o.issues = append(o.issues, Issue{Type: IssueContainerDown, TargetID: p.ID, Message: msg})

		count, cntErr := m.store.IncrementPoolFailures(p.ID)
		if cntErr != nil {
			m.logger.Error("failed to record pool failure", "pool_id", p.ID, "error", cntErr)
		}
		status := pool.PoolUnhealthy
		if count >= m.cfg.FailedSweepThreshold {
			status = pool.PoolFailed
			o.actions = append(o.actions, RecoveryAction{
				Type:     ActionMarkPoolFailed,
				TargetID: p.ID,
				Action:   fmt.Sprintf("unreachable for %d consecutive sweeps, excluded from allocation", count),
			})
		}
		if err := m.store.SetPoolStatus(p.ID, status); err != nil {
			m.logger.Error("failed to set pool status", "pool_id", p.ID, "error", err)
		}
		o.pool = Check{TargetID: p.ID, Status: string(status), Message: msg}
		return o
	}

	if err := m.store.ResetPoolFailures(p.ID); err != nil {
		m.logger.Error("failed to reset pool failures", "pool_id", p.ID, "error", err)
	}

	degraded := false

	// Process supervisor must answer inside the container.
	if res, err := m.exec(ctx, p.ContainerID, []string{"botctl", "status"}); err != nil || res.ExitCode != 0 {
		degraded = true
		msg := "supervisor did not answer"
		if err != nil {
			msg = err.Error()
		}
		o.issues = append(o.issues, Issue{Type: IssueSupervisorUnreachable, TargetID: p.ID, Message: msg})
	}

	// Resource metrics; a sampling failure degrades the pool but never
	// fails the sweep.
	metricsCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	sample, err := m.runtime.Metrics(metricsCtx, p.ContainerID)
	cancel()
	if err != nil {
		degraded = true
		o.issues = append(o.issues, Issue{Type: IssueMetricsUnavailable, TargetID: p.ID, Message: err.Error()})
	} else {
		if err := m.store.SetPoolMetrics(p.ID, pool.ResourceMetrics{
			MemoryBytes: sample.MemoryBytes,
			CPUPercent:  sample.CPUPercent,
			SampledAt:   sample.SampledAt,
		}); err != nil {
			m.logger.Error("failed to record pool metrics", "pool_id", p.ID, "error", err)
		}
	}

	for _, a := range m.store.AssignmentsForPool(p.ID) {
		check, botIssues, botActions := m.checkBot(ctx, p, a)
		o.bots = append(o.bots, check)
		o.issues = append(o.issues, botIssues...)
		o.actions = append(o.actions, botActions...)
		if check.Status != string(pool.BotRunning) && check.Status != string(pool.BotStopped) {
			degraded = true
		}
	}

	status := pool.PoolHealthy
	if degraded {
		status = pool.PoolDegraded
	}
	if err := m.store.SetPoolStatus(p.ID, status); err != nil {
		m.logger.Error("failed to set pool status", "pool_id", p.ID, "error", err)
	}
	o.pool = Check{TargetID: p.ID, Status: string(status)}
	return o
}

// checkBot probes one bot and, on sustained failure, restarts its process
// and re-probes once to decide between recovery and failure.
func (m *Monitor) checkBot(ctx context.Context, p *pool.Pool, a pool.BotAssignment) (Check, []Issue, []RecoveryAction) {
	if a.Status == pool.BotStopped || a.Status == pool.BotFailed {
		return Check{TargetID: a.BotID, Status: string(a.Status)}, nil, nil
	}

	if err := m.probeWithRetry(ctx, a.Port); err == nil {
		if err := m.store.RecordProbeSuccess(a.BotID, time.Now().UTC()); err != nil {
			m.logger.Error("failed to record probe", "bot_id", a.BotID, "error", err)
		}
		return Check{TargetID: a.BotID, Status: string(pool.BotRunning)}, nil, nil
	}

	issues := []Issue{{
		Type:     IssueProbeTimeout,
		TargetID: a.BotID,
		Message:  fmt.Sprintf("no answer on port %d after %d attempt(s)", a.Port, m.attempts()),
	}}
	if err := m.store.SetBotStatus(a.BotID, pool.BotUnhealthy); err != nil {
		m.logger.Error("failed to mark bot unhealthy", "bot_id", a.BotID, "error", err)
	}

	// Recovery: restart the process through the supervisor, then give it
	// one probe to prove itself.
	target := fmt.Sprintf("bot-%d", a.Slot)
	res, execErr := m.exec(ctx, p.ContainerID, []string{"botctl", "restart", target})
	restarted := execErr == nil && res.ExitCode == 0

	if restarted {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		err := m.prober.Probe(probeCtx, a.Port)
		cancel()
		if err == nil {
			if err := m.store.RecordProbeSuccess(a.BotID, time.Now().UTC()); err != nil {
				m.logger.Error("failed to record probe", "bot_id", a.BotID, "error", err)
			}
			action := RecoveryAction{Type: ActionRestartProcess, TargetID: a.BotID,
				Action: "restarted process, probe recovered"}
			return Check{TargetID: a.BotID, Status: string(pool.BotRunning)}, issues, []RecoveryAction{action}
		}
	}

	if err := m.store.SetBotStatus(a.BotID, pool.BotFailed); err != nil {
		m.logger.Error("failed to mark bot failed", "bot_id", a.BotID, "error", err)
	}
	action := RecoveryAction{Type: ActionRestartProcess, TargetID: a.BotID,
		Action: "restart did not recover the process, marked failed"}
	m.logger.Warn("bot failed after restart attempt", "bot_id", a.BotID, "pool_id", p.ID, "slot", a.Slot)
	return Check{TargetID: a.BotID, Status: string(pool.BotFailed)}, issues, []RecoveryAction{action}
}

// probeWithRetry probes up to the configured retry budget, each attempt
// individually bounded.
func (m *Monitor) probeWithRetry(ctx context.Context, port int) error {
	var last error
	for i := 0; i < m.attempts(); i++ {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		last = m.prober.Probe(probeCtx, port)
		cancel()
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return last
}

func (m *Monitor) attempts() int {
	if m.cfg.ProbeRetries < 1 {
		return 1
	}
	return m.cfg.ProbeRetries
}

func (m *Monitor) inspect(ctx context.Context, containerID string) (runtime.ContainerInfo, error) {
	inspectCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	return m.runtime.Inspect(inspectCtx, containerID)
}

func (m *Monitor) exec(ctx context.Context, containerID string, cmd []string) (runtime.ExecResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout*2)
	defer cancel()
	return m.runtime.Exec(execCtx, containerID, cmd)
}
