// Package health runs the periodic sweep that probes pools and bots,
// classifies their status, and emits recovery actions.
package health

import "time"

// Issue types recorded during a sweep.
const (
	IssueContainerDown         = "container_down"
	IssueSupervisorUnreachable = "supervisor_unreachable"
	IssueProbeTimeout          = "probe_timeout"
	IssueMetricsUnavailable    = "metrics_unavailable"
)

// Recovery action types emitted during a sweep.
const (
	ActionRestartProcess = "restart_process"
	ActionMarkPoolFailed = "mark_pool_failed"
)

// Check is the status of one probed target.
type Check struct {
	TargetID string `json:"target_id"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// Issue is a problem detected during the sweep.
type Issue struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Message  string `json:"message"`
}

// RecoveryAction is a remedial step the sweep took in response to an issue.
type RecoveryAction struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Action   string `json:"action"`
}

// Result is the outcome of one sweep. It is produced fresh every run and
// kept only for reporting.
type Result struct {
	Timestamp time.Time        `json:"timestamp"`
	Pools     []Check          `json:"pools"`
	Bots      []Check          `json:"bots"`
	Issues    []Issue          `json:"issues"`
	Actions   []RecoveryAction `json:"actions"`

	// Partial is set when the sweep's time budget expired before every
	// pool was checked; the result covers whatever completed.
	Partial  bool          `json:"partial"`
	Duration time.Duration `json:"duration"`
}
