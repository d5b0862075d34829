// Package api contains shared JSON request/response structs.
// This package is shared between the poolctl CLI and the orchestrator's
// admin API.
package api

import "time"

// AllocateBotRequest is the request body for provisioning a bot.
type AllocateBotRequest struct {
	TenantID string            `json:"tenant_id"`
	BotID    string            `json:"bot_id"`
	Strategy string            `json:"strategy,omitempty"`
	Exchange string            `json:"exchange,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

// PlacementResponse is the physical location of a provisioned bot.
type PlacementResponse struct {
	BotID       string `json:"bot_id"`
	PoolID      string `json:"pool_id,omitempty"`
	Slot        int    `json:"slot"`
	Port        int    `json:"port"`
	ContainerID string `json:"container_id"`
	Legacy      bool   `json:"legacy,omitempty"`
}

// PoolSummaryResponse is the operator-facing view of one pool.
type PoolSummaryResponse struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	ContainerID string `json:"container_id"`
	Capacity    int    `json:"capacity"`
	Assigned    int    `json:"assigned"`
	Status      string `json:"status"`
	PortStart   int    `json:"port_start"`
	PortEnd     int    `json:"port_end"`
}

// ListPoolsResponse is the response body for a tenant's pool listing.
type ListPoolsResponse struct {
	Pools []PoolSummaryResponse `json:"pools"`
}

// HealthCheckEntry is the status of one probed target.
type HealthCheckEntry struct {
	TargetID string `json:"target_id"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// HealthIssueEntry is a problem found during a sweep.
type HealthIssueEntry struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Message  string `json:"message"`
}

// RecoveryActionEntry is a remedial step taken during a sweep.
type RecoveryActionEntry struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Action   string `json:"action"`
}

// HealthSweepResponse is the outcome of one health sweep.
type HealthSweepResponse struct {
	Timestamp  time.Time             `json:"timestamp"`
	Pools      []HealthCheckEntry    `json:"pools"`
	Bots       []HealthCheckEntry    `json:"bots"`
	Issues     []HealthIssueEntry    `json:"issues"`
	Actions    []RecoveryActionEntry `json:"actions"`
	Partial    bool                  `json:"partial"`
	DurationMS int64                 `json:"duration_ms"`
}

// ReconcileResponse is the outcome of one reconciliation pass.
type ReconcileResponse struct {
	Timestamp        time.Time `json:"timestamp"`
	OrphansRemoved   []string  `json:"orphans_removed"`
	MissingBots      []string  `json:"missing_bots"`
	PoolsTornDown    []string  `json:"pools_torn_down"`
	UnreachablePools []string  `json:"unreachable_pools"`
	DurationMS       int64     `json:"duration_ms"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
