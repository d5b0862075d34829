// Package handlers contains HTTP handlers for the orchestrator admin API.
// The transport is deliberately thin: request authentication and ownership
// checks belong to the surrounding service layer.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/health"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/pool"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/reconcile"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/pkg/api"
)

// Orchestrator is the core operation surface the handlers expose.
type Orchestrator interface {
	AllocateBotSlot(ctx context.Context, tenantID, botID string, cfg pool.BotConfig) (pool.Placement, error)
	ReleaseBotSlot(ctx context.Context, botID string) error
	ResolveBot(botID string) (pool.Placement, error)
	RunHealthSweep(ctx context.Context) *health.Result
	Reconcile(ctx context.Context) (*reconcile.Report, error)
	ListPoolsForTenant(tenantID string) []pool.Summary
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	svc Orchestrator
}

// New creates a new Handlers instance with the given orchestrator.
func New(svc Orchestrator) *Handlers {
	return &Handlers{svc: svc}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJSON(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

func placementResponse(p pool.Placement) api.PlacementResponse {
	return api.PlacementResponse{
		BotID:       p.BotID,
		PoolID:      p.PoolID,
		Slot:        p.Slot,
		Port:        p.Port,
		ContainerID: p.ContainerID,
		Legacy:      p.Legacy,
	}
}
