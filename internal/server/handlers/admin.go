package handlers

import (
	"net/http"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/health"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/reconcile"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/pkg/api"
)

// TriggerHealthSweep runs an on-demand sweep: POST /admin/health-check.
func (h *Handlers) TriggerHealthSweep(w http.ResponseWriter, r *http.Request) {
	result := h.svc.RunHealthSweep(r.Context())
	h.respondJSON(w, http.StatusOK, sweepResponse(result))
}

// TriggerReconcile runs an on-demand reconciliation: POST /admin/reconcile.
func (h *Handlers) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile(r.Context())
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.respondJSON(w, http.StatusOK, reconcileResponse(report))
}

// Healthz is a liveness probe for the orchestrator process itself.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func sweepResponse(result *health.Result) api.HealthSweepResponse {
	resp := api.HealthSweepResponse{
		Timestamp:  result.Timestamp,
		Pools:      []api.HealthCheckEntry{},
		Bots:       []api.HealthCheckEntry{},
		Issues:     []api.HealthIssueEntry{},
		Actions:    []api.RecoveryActionEntry{},
		Partial:    result.Partial,
		DurationMS: result.Duration.Milliseconds(),
	}
	for _, c := range result.Pools {
		resp.Pools = append(resp.Pools, api.HealthCheckEntry{TargetID: c.TargetID, Status: c.Status, Message: c.Message})
	}
	for _, c := range result.Bots {
		resp.Bots = append(resp.Bots, api.HealthCheckEntry{TargetID: c.TargetID, Status: c.Status, Message: c.Message})
	}
	for _, i := range result.Issues {
		resp.Issues = append(resp.Issues, api.HealthIssueEntry{Type: i.Type, TargetID: i.TargetID, Message: i.Message})
	}
	for _, a := range result.Actions {
		resp.Actions = append(resp.Actions, api.RecoveryActionEntry{Type: a.Type, TargetID: a.TargetID, Action: a.Action})
	}
	return resp
}

func reconcileResponse(report *reconcile.Report) api.ReconcileResponse {
	return api.ReconcileResponse{
		Timestamp:        report.Timestamp,
		OrphansRemoved:   report.OrphansRemoved,
		MissingBots:      report.MissingBots,
		PoolsTornDown:    report.PoolsTornDown,
		UnreachablePools: report.UnreachablePools,
		DurationMS:       report.Duration.Milliseconds(),
	}
}
