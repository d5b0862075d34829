package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StateSnapshot is the serializable form of the store, written atomically
// to disk on every committed mutation and loaded at startup.
type StateSnapshot struct {
	SavedAt        time.Time                 `json:"saved_at"`
	NextRangeStart int                       `json:"next_range_start"`
	Pools          []*Pool                   `json:"pools"`
	Assignments    map[string]*BotAssignment `json:"assignments"`
}

// Store is the durable, authoritative map of pools and bot-slot assignments.
// All mutations run under a single mutex and are persisted before they are
// acknowledged; every other component holds only derived views.
type Store struct {
	mu sync.Mutex

	path     string
	capacity int

	pools       []*Pool // creation order
	assignments map[string]*BotAssignment
	nextRange   int

	// needsReconcile is set when state was restored from disk (or when the
	// snapshot was corrupt and the store started empty). Allocation stays
	// gated until the reconciler has verified the view against runtime
	// reality once.
	needsReconcile bool

	onChange []func()
	logger   *slog.Logger
}

// NewStore creates a store persisting to path. An existing snapshot is
// loaded; a corrupt snapshot is logged and discarded so startup never
// aborts, with the next reconciliation pass rebuilding a consistent view.
func NewStore(path string, basePort, capacity int, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:        path,
		capacity:    capacity,
		assignments: make(map[string]*BotAssignment),
		nextRange:   basePort,
		logger:      logger,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh store, nothing to restore.
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	var snap StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Error("snapshot corrupt, starting with empty pool state",
			"path", path, "error", err)
		s.needsReconcile = true
		return s, nil
	}

	s.restoreLocked(&snap)
	s.needsReconcile = true
	return s, nil
}

// OnChange registers a callback invoked after every committed mutation.
// Used by the mapper to invalidate its cache.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// ReadyForAllocation reports whether allocation may proceed. False until
// the reconciler has run once over restored state.
func (s *Store) ReadyForAllocation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.needsReconcile
}

// MarkReconciled clears the restore gate. Called by the reconciler after a
// completed pass.
func (s *Store) MarkReconciled() {
	s.mu.Lock()
	s.needsReconcile = false
	s.mu.Unlock()
}

// PoolsForTenant returns the tenant's pools in creation order.
func (s *Store) PoolsForTenant(tenantID string) []*Pool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Pool
	for _, p := range s.pools {
		if p.TenantID == tenantID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// AllPools returns every pool in creation order.
func (s *Store) AllPools() []*Pool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Pool, 0, len(s.pools))
	for _, p := range s.pools {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// GetPool returns a copy of the pool with the given ID.
func (s *Store) GetPool(poolID string) (*Pool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.poolLocked(poolID)
	if p == nil {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// PeekPortRange returns the port range the next created pool will reserve.
// Callers serialize allocation, so the peeked range is stable until
// CreatePool commits it.
func (s *Store) PeekPortRange() PortRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PortRange{Start: s.nextRange, End: s.nextRange + s.capacity - 1}
}

// CreatePool records a new pool backed by an already created container.
// The pool starts in provisioning status with the given reserved range.
func (s *Store) CreatePool(tenantID, containerID string, ports PortRange) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &Pool{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		ContainerID: containerID,
		Capacity:    s.capacity,
		Ports:       ports,
		Status:      PoolProvisioning,
		CreatedAt:   time.Now().UTC(),
	}
	s.pools = append(s.pools, p)
	if ports.End >= s.nextRange {
		s.nextRange = ports.End + 1
	}

	if err := s.saveLocked(); err != nil {
		s.pools = s.pools[:len(s.pools)-1]
		return nil, err
	}
	s.notifyLocked()
	cp := *p
	return &cp, nil
}

// AssignSlot gives the bot the lowest free slot in the pool and a unique
// port from the pool's reserved range. Fails with ErrCapacityExceeded when
// the pool is full and ErrAlreadyAssigned when the bot is already placed.
func (s *Store) AssignSlot(poolID, botID string) (slot, port int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.assignments[botID]; ok {
		return 0, 0, fmt.Errorf("%w: bot %s at pool %s slot %d",
			ErrAlreadyAssigned, botID, existing.PoolID, existing.Slot)
	}
	p := s.poolLocked(poolID)
	if p == nil {
		return 0, 0, ErrPoolNotFound
	}

	usedSlots := make(map[int]bool)
	usedPorts := make(map[int]bool)
	count := 0
	for _, a := range s.assignments {
		if a.PoolID == poolID {
			usedSlots[a.Slot] = true
			usedPorts[a.Port] = true
			count++
		}
	}
	if count >= p.Capacity {
		return 0, 0, ErrCapacityExceeded
	}

	slot = -1
	for i := 0; i < p.Capacity; i++ {
		if !usedSlots[i] {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, 0, ErrCapacityExceeded
	}

	// The slot's natural port. Should always be free given the uniqueness
	// invariant, but regenerate from the rest of the range rather than
	// overwrite if it is not.
	port = p.Ports.Start + slot
	if usedPorts[port] {
		port = -1
		for c := p.Ports.Start; c <= p.Ports.End; c++ {
			if !usedPorts[c] {
				port = c
				break
			}
		}
		if port < 0 {
			return 0, 0, ErrCapacityExceeded
		}
		s.logger.Warn("port collision in pool range, regenerated",
			"pool_id", poolID, "slot", slot, "port", port)
	}

	a := &BotAssignment{
		BotID:     botID,
		PoolID:    poolID,
		Slot:      slot,
		Port:      port,
		Status:    BotPending,
		CreatedAt: time.Now().UTC(),
	}
	s.assignments[botID] = a
	prevEmpty := p.EmptySince
	p.EmptySince = nil

	if err := s.saveLocked(); err != nil {
		delete(s.assignments, botID)
		p.EmptySince = prevEmpty
		return 0, 0, err
	}
	s.notifyLocked()
	return slot, port, nil
}

// ReleaseSlot removes the bot's assignment, freeing its slot and port for
// immediate reuse. When the pool empties, its teardown grace clock starts.
func (s *Store) ReleaseSlot(botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(botID)
}

// RemoveOrphan removes an assignment the external provisioning authority no
// longer backs. Reconciler-only; it returns the removed assignment so the
// caller can report the repair.
func (s *Store) RemoveOrphan(botID string) (*BotAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[botID]
	if !ok {
		return nil, ErrNotFound
	}
	removed := *a
	if err := s.releaseLocked(botID); err != nil {
		return nil, err
	}
	return &removed, nil
}

func (s *Store) releaseLocked(botID string) error {
	a, ok := s.assignments[botID]
	if !ok {
		return ErrNotFound
	}
	delete(s.assignments, botID)

	p := s.poolLocked(a.PoolID)
	var prevEmpty *time.Time
	if p != nil {
		prevEmpty = p.EmptySince
		if s.assignedCountLocked(p.ID) == 0 {
			now := time.Now().UTC()
			p.EmptySince = &now
		}
	}

	if err := s.saveLocked(); err != nil {
		s.assignments[botID] = a
		if p != nil {
			p.EmptySince = prevEmpty
		}
		return err
	}
	s.notifyLocked()
	return nil
}

// RemovePool deletes an empty pool record. The caller is responsible for
// the container itself.
func (s *Store) RemovePool(poolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assignedCountLocked(poolID) > 0 {
		return ErrPoolNotEmpty
	}
	for i, p := range s.pools {
		if p.ID == poolID {
			s.pools = append(s.pools[:i], s.pools[i+1:]...)
			if err := s.saveLocked(); err != nil {
				return err
			}
			s.notifyLocked()
			return nil
		}
	}
	return ErrPoolNotFound
}

// GetAssignment returns a copy of the bot's assignment.
func (s *Store) GetAssignment(botID string) (*BotAssignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[botID]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// Assignments returns a copy of every assignment keyed by bot ID.
func (s *Store) Assignments() map[string]BotAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]BotAssignment, len(s.assignments))
	for id, a := range s.assignments {
		out[id] = *a
	}
	return out
}

// AssignmentsForPool returns the pool's assignments ordered by slot.
func (s *Store) AssignmentsForPool(poolID string) []BotAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []BotAssignment
	for _, a := range s.assignments {
		if a.PoolID == poolID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// AssignedCount returns how many slots the pool has in use.
func (s *Store) AssignedCount(poolID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignedCountLocked(poolID)
}

// Counts returns the number of pools and assignments, for metrics gauges.
func (s *Store) Counts() (pools, bots int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pools), len(s.assignments)
}

// SetPoolStatus updates a pool's lifecycle status.
func (s *Store) SetPoolStatus(poolID string, status PoolStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.poolLocked(poolID)
	if p == nil {
		return ErrPoolNotFound
	}
	if p.Status == status {
		return nil
	}
	p.Status = status
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.notifyLocked()
	return nil
}

// SetPoolMetrics records the latest resource sample for a pool.
func (s *Store) SetPoolMetrics(poolID string, m ResourceMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.poolLocked(poolID)
	if p == nil {
		return ErrPoolNotFound
	}
	p.Metrics = &m
	return s.saveLocked()
}

// IncrementPoolFailures bumps the pool's consecutive unreachable-sweep
// counter and returns the new value.
func (s *Store) IncrementPoolFailures(poolID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.poolLocked(poolID)
	if p == nil {
		return 0, ErrPoolNotFound
	}
	p.ConsecutiveFailures++
	if err := s.saveLocked(); err != nil {
		return 0, err
	}
	return p.ConsecutiveFailures, nil
}

// ResetPoolFailures clears the pool's consecutive failure counter.
func (s *Store) ResetPoolFailures(poolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.poolLocked(poolID)
	if p == nil {
		return ErrPoolNotFound
	}
	if p.ConsecutiveFailures == 0 {
		return nil
	}
	p.ConsecutiveFailures = 0
	return s.saveLocked()
}

// SetBotStatus transitions a bot assignment's status.
func (s *Store) SetBotStatus(botID string, status BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[botID]
	if !ok {
		return ErrNotFound
	}
	if a.Status == status {
		return nil
	}
	a.Status = status
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.notifyLocked()
	return nil
}

// RecordProbeSuccess marks a successful liveness probe: the bot is running
// and its last-probe timestamp advances.
func (s *Store) RecordProbeSuccess(botID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[botID]
	if !ok {
		return ErrNotFound
	}
	a.Status = BotRunning
	a.LastProbeAt = &at
	return s.saveLocked()
}

// Snapshot returns a copy of the full persisted state.
func (s *Store) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Restore replaces the store's state with the given snapshot and persists
// it. Allocation is gated until the next reconciliation pass.
func (s *Store) Restore(snap StateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restoreLocked(&snap)
	s.needsReconcile = true
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.notifyLocked()
	return nil
}

func (s *Store) poolLocked(poolID string) *Pool {
	for _, p := range s.pools {
		if p.ID == poolID {
			return p
		}
	}
	return nil
}

func (s *Store) assignedCountLocked(poolID string) int {
	n := 0
	for _, a := range s.assignments {
		if a.PoolID == poolID {
			n++
		}
	}
	return n
}

func (s *Store) snapshotLocked() StateSnapshot {
	snap := StateSnapshot{
		SavedAt:        time.Now().UTC(),
		NextRangeStart: s.nextRange,
		Assignments:    make(map[string]*BotAssignment, len(s.assignments)),
	}
	for _, p := range s.pools {
		cp := *p
		snap.Pools = append(snap.Pools, &cp)
	}
	for id, a := range s.assignments {
		ca := *a
		snap.Assignments[id] = &ca
	}
	return snap
}

func (s *Store) restoreLocked(snap *StateSnapshot) {
	s.pools = nil
	s.assignments = make(map[string]*BotAssignment)
	for _, p := range snap.Pools {
		cp := *p
		s.pools = append(s.pools, &cp)
	}
	for id, a := range snap.Assignments {
		ca := *a
		s.assignments[id] = &ca
	}
	if snap.NextRangeStart > s.nextRange {
		s.nextRange = snap.NextRangeStart
	}
}

// saveLocked writes the snapshot to a temporary file in the same directory
// and renames it into place, so a crash never leaves a torn snapshot.
func (s *Store) saveLocked() error {
	snap := s.snapshotLocked()
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pool state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pool-state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func (s *Store) notifyLocked() {
	for _, fn := range s.onChange {
		fn()
	}
}
