package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/config"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/runtime"
)

// Allocator places bots into pools using first-fit bin packing: the first
// allocatable pool with a free slot wins, and a new pool is created only
// when none qualifies. Allocation and release are serialized; the health
// monitor and reconciler apply their repairs through the same store, so a
// repair can never race a concurrent allocation.
type Allocator struct {
	mu      sync.Mutex
	store   *Store
	runtime runtime.ContainerRuntime
	cfg     *config.Config
	logger  *slog.Logger
}

// NewAllocator creates an allocator over the given store and runtime.
func NewAllocator(store *Store, rt runtime.ContainerRuntime, cfg *config.Config, logger *slog.Logger) *Allocator {
	return &Allocator{store: store, runtime: rt, cfg: cfg, logger: logger}
}

// Allocate finds or creates a pool for the bot and starts its process
// inside the pool container. On failure nothing is left behind in the
// store: the caller (fallback controller) decides what happens next.
func (a *Allocator) Allocate(ctx context.Context, tenantID, botID string, botCfg BotConfig) (Placement, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "pool.allocate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("bot.id", botID),
	)

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.store.ReadyForAllocation() {
		return Placement{}, &AllocationError{
			TenantID: tenantID, BotID: botID, Attempts: 0, Err: ErrStoreNotReconciled,
		}
	}

	// First fit over the tenant's pools in creation order.
	for _, p := range a.store.PoolsForTenant(tenantID) {
		if !p.Status.Allocatable() {
			continue
		}
		slot, port, err := a.store.AssignSlot(p.ID, botID)
		if errors.Is(err, ErrCapacityExceeded) {
			continue
		}
		if err != nil {
			return Placement{}, err
		}
		return a.startBot(ctx, p, botID, slot, port, botCfg)
	}

	// No pool has room: create one. Container first, then commit, so a
	// creation failure leaves no pool record behind.
	ports := a.store.PeekPortRange()
	containerID, err := a.createPoolContainer(ctx, tenantID, ports)
	if err != nil {
		a.logger.Warn("pool container creation exhausted retries",
			"tenant_id", tenantID, "bot_id", botID, "error", err)
		return Placement{}, &AllocationError{
			TenantID: tenantID, BotID: botID, Attempts: a.cfg.AllocRetries, Err: err,
		}
	}

	p, err := a.store.CreatePool(tenantID, containerID, ports)
	if err != nil {
		a.removeContainer(containerID)
		return Placement{}, &AllocationError{TenantID: tenantID, BotID: botID, Attempts: 1, Err: err}
	}
	if err := a.store.SetPoolStatus(p.ID, PoolHealthy); err != nil {
		return Placement{}, err
	}
	p.Status = PoolHealthy

	slot, port, err := a.store.AssignSlot(p.ID, botID)
	if err != nil {
		// The pool was created for this bot alone. Tear it down again so
		// a rejected assignment leaves neither a record nor a container.
		if rmErr := a.store.RemovePool(p.ID); rmErr != nil {
			a.logger.Error("failed to roll back pool after assignment failure",
				"pool_id", p.ID, "error", rmErr)
		} else {
			a.removeContainer(containerID)
		}
		return Placement{}, err
	}

	a.logger.Info("created pool", "pool_id", p.ID, "tenant_id", tenantID,
		"container_id", containerID, "port_range_start", ports.Start)
	return a.startBot(ctx, p, botID, slot, port, botCfg)
}

// Release stops the bot's process and frees its slot. Missing placements
// are not an error: release is idempotent from the caller's view.
func (a *Allocator) Release(ctx context.Context, botID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	assignment, ok := a.store.GetAssignment(botID)
	if !ok {
		return ErrNotFound
	}

	if p, found := a.store.GetPool(assignment.PoolID); found {
		stopCtx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
		defer cancel()
		if _, err := a.runtime.Exec(stopCtx, p.ContainerID, botctlCmd("stop", assignment.Slot)); err != nil {
			// The slot is released regardless; the supervisor reaps the
			// process when the container is next reachable.
			a.logger.Warn("failed to stop bot process on release",
				"bot_id", botID, "pool_id", p.ID, "error", err)
		}
	}

	return a.store.ReleaseSlot(botID)
}

// startBot launches the bot process inside the pool container. A start
// failure rolls the slot assignment back so no dangling placement remains.
func (a *Allocator) startBot(ctx context.Context, p *Pool, botID string, slot, port int, botCfg BotConfig) (Placement, error) {
	cmd := []string{
		"botctl", "start", botID,
		"--slot", strconv.Itoa(slot),
		"--port", strconv.Itoa(port),
	}
	if botCfg.Strategy != "" {
		cmd = append(cmd, "--strategy", botCfg.Strategy)
	}
	if botCfg.Exchange != "" {
		cmd = append(cmd, "--exchange", botCfg.Exchange)
	}

	execCtx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout*2)
	defer cancel()
	res, err := a.runtime.Exec(execCtx, p.ContainerID, cmd)
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("botctl start exited %d: %s", res.ExitCode, res.Output)
	}
	if err != nil {
		if relErr := a.store.ReleaseSlot(botID); relErr != nil {
			a.logger.Error("failed to roll back slot after start failure",
				"bot_id", botID, "pool_id", p.ID, "error", relErr)
		}
		return Placement{}, &AllocationError{TenantID: p.TenantID, BotID: botID, Attempts: 1, Err: err}
	}

	a.logger.Info("bot placed", "bot_id", botID, "pool_id", p.ID, "slot", slot, "port", port)
	return Placement{
		BotID:       botID,
		PoolID:      p.ID,
		Slot:        slot,
		Port:        port,
		ContainerID: p.ContainerID,
	}, nil
}

// createPoolContainer creates and starts a pool container, retrying with
// backoff up to the configured bound, and waits for its supervisor to
// answer before declaring it ready.
func (a *Allocator) createPoolContainer(ctx context.Context, tenantID string, ports PortRange) (string, error) {
	spec := runtime.ContainerSpec{
		Name:  fmt.Sprintf("pool-%s-%d", shortID(tenantID), ports.Start),
		Image: a.cfg.PoolImage,
		Env: map[string]string{
			"POOL_TENANT_ID": tenantID,
			"POOL_CAPACITY":  strconv.Itoa(a.cfg.MaxBotsPerPool),
			"POOL_BASE_PORT": strconv.Itoa(ports.Start),
		},
		Labels: map[string]string{
			"orchestrator.tenant": tenantID,
			"orchestrator.kind":   "pool",
		},
	}
	for port := ports.Start; port <= ports.End; port++ {
		spec.Ports = append(spec.Ports, port)
	}

	var lastErr error
	backoff := a.cfg.AllocRetryBackoff
	for attempt := 1; attempt <= a.cfg.AllocRetries; attempt++ {
		containerID, err := a.tryCreate(ctx, spec)
		if err == nil {
			return containerID, nil
		}
		lastErr = err
		a.logger.Warn("pool container attempt failed",
			"tenant_id", tenantID, "attempt", attempt, "error", err)

		if attempt == a.cfg.AllocRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", lastErr
}

func (a *Allocator) tryCreate(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	containerID, err := a.runtime.Create(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := a.runtime.Start(ctx, containerID); err != nil {
		a.removeContainer(containerID)
		return "", err
	}
	if err := a.waitReady(ctx, containerID); err != nil {
		a.removeContainer(containerID)
		return "", err
	}
	return containerID, nil
}

// waitReady polls until the container runs and its process supervisor
// answers, within a bounded window.
func (a *Allocator) waitReady(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(a.cfg.AllocRetryBackoff * 5)
	for {
		info, err := a.runtime.Inspect(ctx, containerID)
		if err == nil && info.State == runtime.StateRunning {
			res, execErr := a.runtime.Exec(ctx, containerID, []string{"botctl", "status"})
			if execErr == nil && res.ExitCode == 0 {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pool container %s not ready within %v", containerID, a.cfg.AllocRetryBackoff*5)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (a *Allocator) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.runtime.Stop(ctx, containerID); err != nil {
		a.logger.Warn("failed to stop abandoned container", "container_id", containerID, "error", err)
	}
	if err := a.runtime.Remove(ctx, containerID); err != nil {
		a.logger.Warn("failed to remove abandoned container", "container_id", containerID, "error", err)
	}
}

// botctlCmd builds the in-container supervisor command for a slot's bot
// process.
func botctlCmd(action string, slot int) []string {
	return []string{"botctl", action, fmt.Sprintf("bot-%d", slot)}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
