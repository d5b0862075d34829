package orchestrator

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

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		PoolModeEnabled:      true,
		MaxBotsPerPool:       10,
		BasePort:             8101,
		PoolImage:            "trading/pool:test",
		BotImage:             "trading/bot:test",
		SweepInterval:        time.Minute,
		SweepBudget:          5 * time.Second,
		ProbeTimeout:         time.Second,
		ProbeRetries:         3,
		ReconcileInterval:    time.Minute,
		TeardownGrace:        10 * time.Minute,
		FailedSweepThreshold: 3,
		AllocRetries:         2,
		AllocRetryBackoff:    time.Millisecond,
		SnapshotPath:         filepath.Join(t.TempDir(), "pool-state.json"),
	}
}

type staticSource struct {
	bots map[string]bool
}

func (s *staticSource) ActiveBots(ctx context.Context) (map[string]bool, error) {
	return s.bots, nil
}

func TestService_AllocateResolveRelease(t *testing.T) {
	cfg := testConfig(t)
	src := &staticSource{bots: map[string]bool{}}
	svc, err := New(cfg, runtime.NewFake(), src, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	placement, err := svc.AllocateBotSlot(ctx, "tenant-1", "bot-a", pool.BotConfig{Strategy: "scalper"})
	if err != nil {
		t.Fatalf("AllocateBotSlot failed: %v", err)
	}
	if placement.Legacy {
		t.Error("expected a pooled placement")
	}

	resolved, err := svc.ResolveBot("bot-a")
	if err != nil {
		t.Fatalf("ResolveBot failed: %v", err)
	}
	if resolved.PoolID != placement.PoolID || resolved.Port != placement.Port {
		t.Errorf("resolution mismatch: %+v vs %+v", resolved, placement)
	}

	summaries := svc.ListPoolsForTenant("tenant-1")
	if len(summaries) != 1 {
		t.Fatalf("expected one pool summary, got %d", len(summaries))
	}
	if summaries[0].Assigned != 1 || summaries[0].Capacity != 10 {
		t.Errorf("unexpected summary: %+v", summaries[0])
	}

	if err := svc.ReleaseBotSlot(ctx, "bot-a"); err != nil {
		t.Fatalf("ReleaseBotSlot failed: %v", err)
	}
	if _, err := svc.ResolveBot("bot-a"); !errors.Is(err, pool.ErrNotFound) {
		t.Errorf("expected ErrNotFound after release, got %v", err)
	}
}

func TestService_SweepAndReconcileOnDemand(t *testing.T) {
	cfg := testConfig(t)
	src := &staticSource{bots: map[string]bool{"bot-a": true}}
	svc, err := New(cfg, runtime.NewFake(), src, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.AllocateBotSlot(ctx, "tenant-1", "bot-a", pool.BotConfig{}); err != nil {
		t.Fatalf("AllocateBotSlot failed: %v", err)
	}

	res := svc.RunHealthSweep(ctx)
	if res == nil || res.Partial {
		t.Fatalf("unexpected sweep result: %+v", res)
	}
	if len(res.Pools) != 1 {
		t.Errorf("expected one pool checked, got %d", len(res.Pools))
	}

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Changed() {
		t.Errorf("expected clean reconciliation, got %+v", report)
	}
}

func TestService_RunGatesRestoredStateOnStartupReconcile(t *testing.T) {
	cfg := testConfig(t)
	src := &staticSource{bots: map[string]bool{"bot-a": true}}

	first, err := New(cfg, runtime.NewFake(), src, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := first.AllocateBotSlot(context.Background(), "tenant-1", "bot-a", pool.BotConfig{}); err != nil {
		t.Fatalf("AllocateBotSlot failed: %v", err)
	}

	// A second service over the same snapshot restores state that must be
	// gated until its startup reconciliation runs.
	rt := runtime.NewFake()
	second, err := New(cfg, rt, src, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if second.Store().ReadyForAllocation() {
		t.Fatal("expected restored store gated before reconciliation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- second.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !second.Store().ReadyForAllocation() {
		select {
		case <-deadline:
			t.Fatal("startup reconciliation never ungated the store")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
