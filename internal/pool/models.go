// Package pool contains the pool state store, allocator, bot-container
// mapper, and fallback controller for the multi-tenant bot pool
// orchestrator.
package pool

import "time"

// PoolStatus represents the lifecycle state of a pool container.
type PoolStatus string

const (
	PoolProvisioning PoolStatus = "provisioning"
	PoolHealthy      PoolStatus = "healthy"
	PoolDegraded     PoolStatus = "degraded"
	PoolUnhealthy    PoolStatus = "unhealthy"
	PoolFailed       PoolStatus = "failed"
	PoolTerminated   PoolStatus = "terminated"
)

// Allocatable reports whether a pool in this status may receive new bots.
func (s PoolStatus) Allocatable() bool {
	return s == PoolHealthy || s == PoolDegraded
}

// BotStatus represents the state of a bot process inside a pool.
type BotStatus string

const (
	BotPending   BotStatus = "pending"
	BotRunning   BotStatus = "running"
	BotStopped   BotStatus = "stopped"
	BotUnhealthy BotStatus = "unhealthy"
	BotFailed    BotStatus = "failed"
)

// PortRange is the inclusive block of host ports reserved by one pool.
// Slot i is served on Start+i unless a collision forced regeneration.
type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether p falls inside the range.
func (r PortRange) Contains(p int) bool {
	return p >= r.Start && p <= r.End
}

// ResourceMetrics is the last observed resource sample for a pool container.
type ResourceMetrics struct {
	MemoryBytes uint64    `json:"memory_bytes"`
	CPUPercent  float64   `json:"cpu_percent"`
	SampledAt   time.Time `json:"sampled_at"`
}

// Pool is a shared container hosting up to Capacity bot processes for one
// tenant.
type Pool struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	ContainerID string     `json:"container_id"`
	Capacity    int        `json:"capacity"`
	Ports       PortRange  `json:"ports"`
	Status      PoolStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`

	// EmptySince is set when the last slot is released and cleared on the
	// next assignment. The reconciler tears the pool down once it has been
	// empty past the configured grace period.
	EmptySince *time.Time `json:"empty_since,omitempty"`

	// ConsecutiveFailures counts health sweeps in a row in which the pool
	// container was unreachable. Scoped per pool, never process-wide.
	ConsecutiveFailures int `json:"consecutive_failures"`

	Metrics *ResourceMetrics `json:"metrics,omitempty"`
}

// BotAssignment records where a bot process lives: which pool, which slot,
// which port.
type BotAssignment struct {
	BotID       string     `json:"bot_id"`
	PoolID      string     `json:"pool_id"`
	Slot        int        `json:"slot"`
	Port        int        `json:"port"`
	Status      BotStatus  `json:"status"`
	LastProbeAt *time.Time `json:"last_probe_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// BotConfig carries the bot-specific parameters needed to start the trading
// process. The trading strategy itself is external; the orchestrator only
// forwards identifiers.
type BotConfig struct {
	Strategy string
	Exchange string
	Env      map[string]string
}

// Placement is the physical location of a provisioned bot, returned by
// allocation and by the mapper's read path.
type Placement struct {
	BotID       string `json:"bot_id"`
	PoolID      string `json:"pool_id,omitempty"`
	Slot        int    `json:"slot"`
	Port        int    `json:"port"`
	ContainerID string `json:"container_id"`

	// Legacy marks a bot provisioned through the one-container-per-bot
	// fallback path.
	Legacy bool `json:"legacy,omitempty"`
}

// Summary is the operator-facing view of a pool.
type Summary struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	ContainerID string     `json:"container_id"`
	Capacity    int        `json:"capacity"`
	Assigned    int        `json:"assigned"`
	Status      PoolStatus `json:"status"`
	Ports       PortRange  `json:"ports"`
}
