package pool

import (
	"errors"
	"fmt"
)

// ErrCapacityExceeded is returned by AssignSlot when a pool has no free
// slot. It is not a caller-visible failure; the allocator reacts by
// creating a new pool.
var ErrCapacityExceeded = errors.New("pool has no free slot")

// ErrNotFound is returned when a bot has no recorded placement.
var ErrNotFound = errors.New("bot placement not found")

// ErrPoolNotFound is returned for operations against an unknown pool.
var ErrPoolNotFound = errors.New("pool not found")

// ErrAlreadyAssigned is returned when a bot that already holds a slot is
// assigned again. A bot lives in at most one pool, at one slot.
var ErrAlreadyAssigned = errors.New("bot already has a slot assignment")

// ErrPoolNotEmpty is returned when removing a pool that still has
// assignments.
var ErrPoolNotEmpty = errors.New("pool still has assigned slots")

// ErrStoreNotReconciled is returned when allocation is attempted on a store
// restored from a snapshot before the reconciler has verified it against
// runtime reality.
var ErrStoreNotReconciled = errors.New("pool state awaiting reconciliation")

// AllocationError means pooled allocation exhausted its retry budget. It is
// absorbed by the fallback controller, never surfaced to the end user
// unless the legacy path also fails.
type AllocationError struct {
	TenantID string
	BotID    string
	Attempts int
	Err      error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocation failed for bot %s (tenant %s) after %d attempt(s): %v",
		e.BotID, e.TenantID, e.Attempts, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// ConsistencyError describes drift found and repaired by the reconciler.
// It is logged and reported, never fatal.
type ConsistencyError struct {
	BotID  string
	PoolID string
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: bot %s in pool %s: %s", e.BotID, e.PoolID, e.Reason)
}
