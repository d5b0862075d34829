package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/config"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/pool"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/runtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		MaxBotsPerPool:       10,
		BasePort:             8101,
		SweepBudget:          5 * time.Second,
		ProbeTimeout:         time.Second,
		ProbeRetries:         3,
		FailedSweepThreshold: 3,
	}
}

// fakeProber answers per-port from a scripted failure budget: a port fails
// its first failN probes and succeeds afterwards.
type fakeProber struct {
	mu    sync.Mutex
	failN map[int]int
	calls map[int]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{failN: make(map[int]int), calls: make(map[int]int)}
}

func (f *fakeProber) Probe(ctx context.Context, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[port]++
	if f.calls[port] <= f.failN[port] {
		return errors.New("connection refused")
	}
	return nil
}

type fixture struct {
	monitor *Monitor
	store   *pool.Store
	rt      *runtime.Fake
	prober  *fakeProber
	cfg     *config.Config
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	s, err := pool.NewStore(filepath.Join(t.TempDir(), "pool-state.json"), cfg.BasePort, cfg.MaxBotsPerPool, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	rt := runtime.NewFake()
	p := newFakeProber()
	return &fixture{
		monitor: NewMonitor(s, rt, p, cfg, testLogger()),
		store:   s,
		rt:      rt,
		prober:  p,
		cfg:     cfg,
	}
}

// addPool creates a running fake container backed by a healthy pool record
// with the given bots assigned.
func (fx *fixture) addPool(t *testing.T, tenantID string, bots ...string) (*pool.Pool, map[string]pool.BotAssignment) {
	t.Helper()
	ctx := context.Background()
	ctrID, err := fx.rt.Create(ctx, runtime.ContainerSpec{Name: "pool-" + tenantID})
	if err != nil {
		t.Fatalf("fake create failed: %v", err)
	}
	if err := fx.rt.Start(ctx, ctrID); err != nil {
		t.Fatalf("fake start failed: %v", err)
	}
	p, err := fx.store.CreatePool(tenantID, ctrID, fx.store.PeekPortRange())
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	if err := fx.store.SetPoolStatus(p.ID, pool.PoolHealthy); err != nil {
		t.Fatalf("SetPoolStatus failed: %v", err)
	}
	assignments := make(map[string]pool.BotAssignment)
	for _, b := range bots {
		slot, port, err := fx.store.AssignSlot(p.ID, b)
		if err != nil {
			t.Fatalf("AssignSlot failed: %v", err)
		}
		assignments[b] = pool.BotAssignment{BotID: b, PoolID: p.ID, Slot: slot, Port: port}
	}
	return p, assignments
}

func TestRunSweep_AllHealthy(t *testing.T) {
	fx := newFixture(t, testConfig())
	p, _ := fx.addPool(t, "tenant-1", "bot-a", "bot-b")

	res := fx.monitor.RunSweep(context.Background())

	if res.Partial {
		t.Error("unexpected partial result")
	}
	if len(res.Issues) != 0 {
		t.Errorf("unexpected issues: %+v", res.Issues)
	}
	got, _ := fx.store.GetPool(p.ID)
	if got.Status != pool.PoolHealthy {
		t.Errorf("expected healthy pool, got %s", got.Status)
	}
	for _, b := range []string{"bot-a", "bot-b"} {
		a, _ := fx.store.GetAssignment(b)
		if a.Status != pool.BotRunning {
			t.Errorf("expected %s running, got %s", b, a.Status)
		}
		if a.LastProbeAt == nil {
			t.Errorf("expected %s probe timestamp", b)
		}
	}
	if got.Metrics == nil {
		t.Error("expected pool resource metrics to be sampled")
	}
}

func TestRunSweep_ProbeTimeoutsRestartProcess(t *testing.T) {
	fx := newFixture(t, testConfig())
	_, assignments := fx.addPool(t, "tenant-1", "bot-a")

	// Fail the full retry budget, then let the post-restart probe succeed.
	fx.prober.failN[assignments["bot-a"].Port] = fx.cfg.ProbeRetries

	res := fx.monitor.RunSweep(context.Background())

	if len(res.Issues) != 1 || res.Issues[0].Type != IssueProbeTimeout {
		t.Fatalf("expected a probe_timeout issue, got %+v", res.Issues)
	}
	if len(res.Actions) != 1 || res.Actions[0].Type != ActionRestartProcess {
		t.Fatalf("expected a restart_process action, got %+v", res.Actions)
	}

	a, _ := fx.store.GetAssignment("bot-a")
	if a.Status != pool.BotRunning {
		t.Errorf("expected bot recovered to running, got %s", a.Status)
	}

	// The restart must have gone through the in-container supervisor.
	found := false
	for _, call := range fx.rt.ExecCalls {
		if len(call) >= 3 && call[1] == "botctl" && call[2] == "restart" {
			found = true
		}
	}
	if !found {
		t.Error("expected a botctl restart exec against the pool container")
	}
}

func TestRunSweep_RestartDoesNotRecoverMarksFailed(t *testing.T) {
	fx := newFixture(t, testConfig())
	p, assignments := fx.addPool(t, "tenant-1", "bot-a")

	// All probes fail, including the post-restart one.
	fx.prober.failN[assignments["bot-a"].Port] = 100

	res := fx.monitor.RunSweep(context.Background())

	a, _ := fx.store.GetAssignment("bot-a")
	if a.Status != pool.BotFailed {
		t.Errorf("expected bot failed, got %s", a.Status)
	}
	if len(res.Actions) != 1 || res.Actions[0].Type != ActionRestartProcess {
		t.Fatalf("expected a restart_process action, got %+v", res.Actions)
	}

	// A failed bot does not take the pool down, only degrades it.
	got, _ := fx.store.GetPool(p.ID)
	if got.Status != pool.PoolDegraded {
		t.Errorf("expected degraded pool, got %s", got.Status)
	}

	// The assignment survives so the operator can inspect it; it is the
	// reconciler's job to clean up.
	if _, ok := fx.store.GetAssignment("bot-a"); !ok {
		t.Error("expected failed bot assignment to remain")
	}
}

func TestRunSweep_FailedBotSkippedNextSweep(t *testing.T) {
	fx := newFixture(t, testConfig())
	_, assignments := fx.addPool(t, "tenant-1", "bot-a")
	fx.prober.failN[assignments["bot-a"].Port] = 100

	fx.monitor.RunSweep(context.Background())
	before := fx.prober.calls[assignments["bot-a"].Port]

	fx.monitor.RunSweep(context.Background())
	if after := fx.prober.calls[assignments["bot-a"].Port]; after != before {
		t.Errorf("expected no probes against a failed bot, got %d more", after-before)
	}
}

func TestRunSweep_ContainerDownEscalatesToFailed(t *testing.T) {
	cfg := testConfig()
	fx := newFixture(t, cfg)
	p, _ := fx.addPool(t, "tenant-1", "bot-a")

	fx.rt.InspectFn = func(ctx context.Context, id string) (runtime.ContainerInfo, error) {
		return runtime.ContainerInfo{}, errors.New("no such container")
	}

	for i := 1; i < cfg.FailedSweepThreshold; i++ {
		res := fx.monitor.RunSweep(context.Background())
		got, _ := fx.store.GetPool(p.ID)
		if got.Status != pool.PoolUnhealthy {
			t.Fatalf("sweep %d: expected unhealthy, got %s", i, got.Status)
		}
		if len(res.Actions) != 0 {
			t.Fatalf("sweep %d: no action expected below the threshold, got %+v", i, res.Actions)
		}
	}

	res := fx.monitor.RunSweep(context.Background())
	got, _ := fx.store.GetPool(p.ID)
	if got.Status != pool.PoolFailed {
		t.Fatalf("expected pool failed at threshold, got %s", got.Status)
	}
	if len(res.Actions) != 1 || res.Actions[0].Type != ActionMarkPoolFailed {
		t.Fatalf("expected mark_pool_failed action, got %+v", res.Actions)
	}

	// Failed pools drop out of subsequent sweeps.
	res = fx.monitor.RunSweep(context.Background())
	if len(res.Pools) != 0 {
		t.Errorf("expected failed pool to be skipped, got %+v", res.Pools)
	}
}

func TestRunSweep_RecoveryResetsFailureCount(t *testing.T) {
	cfg := testConfig()
	fx := newFixture(t, cfg)
	p, _ := fx.addPool(t, "tenant-1")

	down := errors.New("no such container")
	fx.rt.InspectFn = func(ctx context.Context, id string) (runtime.ContainerInfo, error) {
		return runtime.ContainerInfo{}, down
	}
	fx.monitor.RunSweep(context.Background())
	fx.monitor.RunSweep(context.Background())

	// The container comes back before the threshold is reached.
	fx.rt.InspectFn = nil
	fx.monitor.RunSweep(context.Background())

	got, _ := fx.store.GetPool(p.ID)
	if got.Status != pool.PoolHealthy {
		t.Errorf("expected healthy pool after recovery, got %s", got.Status)
	}
	if got.ConsecutiveFailures != 0 {
		t.Errorf("expected failure count reset, got %d", got.ConsecutiveFailures)
	}
}

func TestRunSweep_SupervisorUnreachableDegrades(t *testing.T) {
	fx := newFixture(t, testConfig())
	p, _ := fx.addPool(t, "tenant-1")

	fx.rt.ExecFn = func(ctx context.Context, id string, cmd []string) (runtime.ExecResult, error) {
		return runtime.ExecResult{ExitCode: 1}, nil
	}

	res := fx.monitor.RunSweep(context.Background())
	if len(res.Issues) != 1 || res.Issues[0].Type != IssueSupervisorUnreachable {
		t.Fatalf("expected supervisor_unreachable issue, got %+v", res.Issues)
	}
	got, _ := fx.store.GetPool(p.ID)
	if got.Status != pool.PoolDegraded {
		t.Errorf("expected degraded pool, got %s", got.Status)
	}
}

func TestRunSweep_MetricsFailureDegradesOnly(t *testing.T) {
	fx := newFixture(t, testConfig())
	p, _ := fx.addPool(t, "tenant-1", "bot-a")

	fx.rt.MetricsFn = func(ctx context.Context, id string) (runtime.Metrics, error) {
		return runtime.Metrics{}, runtime.ErrMetricsUnavailable
	}

	res := fx.monitor.RunSweep(context.Background())
	if len(res.Issues) != 1 || res.Issues[0].Type != IssueMetricsUnavailable {
		t.Fatalf("expected metrics_unavailable issue, got %+v", res.Issues)
	}
	got, _ := fx.store.GetPool(p.ID)
	if got.Status != pool.PoolDegraded {
		t.Errorf("expected degraded pool, got %s", got.Status)
	}
	a, _ := fx.store.GetAssignment("bot-a")
	if a.Status != pool.BotRunning {
		t.Errorf("bot probing must be unaffected by metrics failure, got %s", a.Status)
	}
}

func TestRunSweep_BudgetExpiryReturnsPartial(t *testing.T) {
	cfg := testConfig()
	cfg.SweepBudget = 50 * time.Millisecond
	fx := newFixture(t, cfg)
	fx.addPool(t, "tenant-1", "bot-a")
	fx.addPool(t, "tenant-2", "bot-b")

	// Every inspection outlives the budget, so no pool can finish in time.
	fx.rt.InspectFn = func(ctx context.Context, id string) (runtime.ContainerInfo, error) {
		time.Sleep(500 * time.Millisecond)
		return runtime.ContainerInfo{}, ctx.Err()
	}

	res := fx.monitor.RunSweep(context.Background())
	if !res.Partial {
		t.Error("expected partial result when the budget expires")
	}
	if res.Duration < cfg.SweepBudget {
		t.Errorf("expected the sweep to run out its budget, took %v", res.Duration)
	}
}
