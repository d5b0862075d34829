package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/pool"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/pkg/api"
)

// AllocateBot provisions a bot: POST /pools/allocate.
// A response always carries a usable placement; the pooled-vs-legacy
// distinction is visible only in the `legacy` field.
func (h *Handlers) AllocateBot(w http.ResponseWriter, r *http.Request) {
	var req api.AllocateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.BotID == "" {
		h.httpError(w, "tenant_id and bot_id are required", http.StatusBadRequest)
		return
	}

	placement, err := h.svc.AllocateBotSlot(r.Context(), req.TenantID, req.BotID, pool.BotConfig{
		Strategy: req.Strategy,
		Exchange: req.Exchange,
		Env:      req.Env,
	})
	if err != nil {
		if errors.Is(err, pool.ErrAlreadyAssigned) {
			h.httpError(w, err.Error(), http.StatusConflict)
			return
		}
		h.httpError(w, "provisioning failed", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusCreated, placementResponse(placement))
}

// ReleaseBot frees a bot's slot: DELETE /bots/{id}.
func (h *Handlers) ReleaseBot(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	if botID == "" {
		h.httpError(w, "bot id is required", http.StatusBadRequest)
		return
	}

	if err := h.svc.ReleaseBotSlot(r.Context(), botID); err != nil {
		if errors.Is(err, pool.ErrNotFound) {
			h.httpError(w, "bot has no placement", http.StatusNotFound)
			return
		}
		h.httpError(w, "release failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveBot returns a bot's placement: GET /bots/{id}/placement.
func (h *Handlers) ResolveBot(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	placement, err := h.svc.ResolveBot(botID)
	if err != nil {
		if errors.Is(err, pool.ErrNotFound) {
			h.httpError(w, "bot has no placement", http.StatusNotFound)
			return
		}
		h.httpError(w, "resolve failed", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, placementResponse(placement))
}

// ListPools lists a tenant's pools: GET /tenants/{id}/pools.
func (h *Handlers) ListPools(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	if tenantID == "" {
		h.httpError(w, "tenant id is required", http.StatusBadRequest)
		return
	}

	summaries := h.svc.ListPoolsForTenant(tenantID)
	resp := api.ListPoolsResponse{Pools: []api.PoolSummaryResponse{}}
	for _, s := range summaries {
		resp.Pools = append(resp.Pools, api.PoolSummaryResponse{
			ID:          s.ID,
			TenantID:    s.TenantID,
			ContainerID: s.ContainerID,
			Capacity:    s.Capacity,
			Assigned:    s.Assigned,
			Status:      string(s.Status),
			PortStart:   s.Ports.Start,
			PortEnd:     s.Ports.End,
		})
	}
	h.respondJSON(w, http.StatusOK, resp)
}
