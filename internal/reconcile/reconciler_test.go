package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
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
		MaxBotsPerPool: 10,
		BasePort:       8101,
		ProbeTimeout:   time.Second,
		TeardownGrace:  10 * time.Minute,
	}
}

// fakeSource is a scripted provisioning authority.
type fakeSource struct {
	bots map[string]bool
	err  error
}

func (f *fakeSource) ActiveBots(ctx context.Context) (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bots, nil
}

type fixture struct {
	reconciler *Reconciler
	store      *pool.Store
	rt         *runtime.Fake
	source     *fakeSource
	cfg        *config.Config
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	s, err := pool.NewStore(filepath.Join(t.TempDir(), "pool-state.json"), cfg.BasePort, cfg.MaxBotsPerPool, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	rt := runtime.NewFake()
	src := &fakeSource{bots: make(map[string]bool)}
	return &fixture{
		reconciler: NewReconciler(s, rt, src, cfg, testLogger()),
		store:      s,
		rt:         rt,
		source:     src,
		cfg:        cfg,
	}
}

func (fx *fixture) addPool(t *testing.T, tenantID string, bots ...string) *pool.Pool {
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
	for _, b := range bots {
		if _, _, err := fx.store.AssignSlot(p.ID, b); err != nil {
			t.Fatalf("AssignSlot failed: %v", err)
		}
		fx.source.bots[b] = true
	}
	return p
}

func TestReconcile_NoDriftNoChange(t *testing.T) {
	fx := newFixture(t, testConfig())
	fx.addPool(t, "tenant-1", "bot-a", "bot-b")

	report, err := fx.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Changed() {
		t.Errorf("expected no repairs, got %+v", report)
	}
	if !fx.store.ReadyForAllocation() {
		t.Error("expected store marked reconciled")
	}
}

func TestReconcile_RemovesOrphansAndFreesSlot(t *testing.T) {
	fx := newFixture(t, testConfig())
	p := fx.addPool(t, "tenant-1", "bot-a", "bot-b")

	// bot-a was deleted through an external path that never told us.
	delete(fx.source.bots, "bot-a")

	report, err := fx.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.OrphansRemoved) != 1 || report.OrphansRemoved[0] != "bot-a" {
		t.Fatalf("expected bot-a removed as orphan, got %+v", report.OrphansRemoved)
	}
	if _, ok := fx.store.GetAssignment("bot-a"); ok {
		t.Error("expected orphan assignment to be gone")
	}
	if _, ok := fx.store.GetAssignment("bot-b"); !ok {
		t.Error("expected surviving bot untouched")
	}

	// The orphan's process was stopped through the supervisor.
	stopped := false
	for _, call := range fx.rt.ExecCalls {
		if len(call) >= 3 && call[1] == "botctl" && call[2] == "stop" {
			stopped = true
		}
	}
	if !stopped {
		t.Error("expected a botctl stop against the orphan's slot")
	}

	// The freed slot is immediately reusable.
	slot, _, err := fx.store.AssignSlot(p.ID, "bot-new")
	if err != nil {
		t.Fatalf("AssignSlot after repair failed: %v", err)
	}
	if slot != 0 {
		t.Errorf("expected freed slot 0, got %d", slot)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	fx := newFixture(t, testConfig())
	fx.addPool(t, "tenant-1", "bot-a", "bot-b")
	delete(fx.source.bots, "bot-a")

	first, err := fx.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if !first.Changed() {
		t.Fatal("expected first pass to repair drift")
	}

	second, err := fx.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.Changed() {
		t.Errorf("expected second pass to be a no-op, got %+v", second)
	}
}

func TestReconcile_SurfacesMissingBots(t *testing.T) {
	fx := newFixture(t, testConfig())
	fx.addPool(t, "tenant-1", "bot-a")
	fx.source.bots["bot-ghost"] = true

	report, err := fx.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.MissingBots) != 1 || report.MissingBots[0] != "bot-ghost" {
		t.Fatalf("expected bot-ghost surfaced as missing, got %+v", report.MissingBots)
	}
	// Missing bots are not repaired here, only reported.
	if report.Changed() {
		t.Error("surfacing a missing bot is not a repair")
	}
}

func TestReconcile_VanishedContainerFailsPool(t *testing.T) {
	fx := newFixture(t, testConfig())
	p := fx.addPool(t, "tenant-1", "bot-a")

	if err := fx.rt.Remove(context.Background(), p.ContainerID); err != nil {
		t.Fatalf("fake remove failed: %v", err)
	}

	report, err := fx.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.UnreachablePools) != 1 || report.UnreachablePools[0] != p.ID {
		t.Fatalf("expected pool reported unreachable, got %+v", report.UnreachablePools)
	}

	got, _ := fx.store.GetPool(p.ID)
	if got.Status != pool.PoolFailed {
		t.Errorf("expected pool failed, got %s", got.Status)
	}
	a, _ := fx.store.GetAssignment("bot-a")
	if a.Status != pool.BotFailed {
		t.Errorf("expected bot failed with its pool, got %s", a.Status)
	}

	// Second pass: the pool is already failed, nothing more to repair.
	second, err := fx.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.Changed() {
		t.Errorf("expected second pass to be a no-op, got %+v", second)
	}
}

func TestReconcile_TearsDownEmptyPoolPastGrace(t *testing.T) {
	cfg := testConfig()
	cfg.TeardownGrace = 0
	fx := newFixture(t, cfg)
	p := fx.addPool(t, "tenant-1", "bot-a")

	delete(fx.source.bots, "bot-a")

	report, err := fx.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.PoolsTornDown) != 1 || report.PoolsTornDown[0] != p.ID {
		t.Fatalf("expected empty pool torn down, got %+v", report.PoolsTornDown)
	}
	if _, ok := fx.store.GetPool(p.ID); ok {
		t.Error("expected pool record removed")
	}
	if fx.rt.Exists(p.ContainerID) {
		t.Error("expected pool container removed")
	}
}

func TestReconcile_EmptyPoolKeptInsideGrace(t *testing.T) {
	fx := newFixture(t, testConfig())
	p := fx.addPool(t, "tenant-1", "bot-a")

	if err := fx.store.ReleaseSlot("bot-a"); err != nil {
		t.Fatalf("ReleaseSlot failed: %v", err)
	}
	delete(fx.source.bots, "bot-a")

	report, err := fx.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.PoolsTornDown) != 0 {
		t.Fatalf("expected pool kept within grace, got %+v", report.PoolsTornDown)
	}
	if _, ok := fx.store.GetPool(p.ID); !ok {
		t.Error("expected pool record to survive")
	}
}

func TestReconcile_AuthorityUnreachableAborts(t *testing.T) {
	fx := newFixture(t, testConfig())
	fx.addPool(t, "tenant-1", "bot-a")
	fx.source.err = errors.New("authority timeout")

	if _, err := fx.reconciler.Reconcile(context.Background()); err == nil {
		t.Fatal("expected error when the authority cannot be read")
	}

	// Nothing may be repaired against a state we could not verify.
	if _, ok := fx.store.GetAssignment("bot-a"); !ok {
		t.Error("expected assignments untouched on aborted pass")
	}
}
