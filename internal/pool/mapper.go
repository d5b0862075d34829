package pool

import "sync"

// Mapper is the read path that resolves a bot ID to its physical location
// for request routing. It is a cache over the store, invalidated on every
// store mutation so a resolution can never point at a stale placement.
type Mapper struct {
	store *Store

	mu    sync.RWMutex
	cache map[string]Placement
	valid bool
	gen   uint64
}

// NewMapper creates a mapper and subscribes it to store changes.
func NewMapper(store *Store) *Mapper {
	m := &Mapper{store: store}
	store.OnChange(m.Invalidate)
	return m
}

// Resolve returns the bot's placement or ErrNotFound. Legacy fallback bots
// are not pool-placed and resolve through the legacy path, not here.
func (m *Mapper) Resolve(botID string) (Placement, error) {
	m.mu.RLock()
	if m.valid {
		p, ok := m.cache[botID]
		m.mu.RUnlock()
		if !ok {
			return Placement{}, ErrNotFound
		}
		return p, nil
	}
	m.mu.RUnlock()

	cache := m.rebuild()
	p, ok := cache[botID]
	if !ok {
		return Placement{}, ErrNotFound
	}
	return p, nil
}

// Invalidate drops the cache. It is cheap and safe to call from the store's
// mutation path.
func (m *Mapper) Invalidate() {
	m.mu.Lock()
	m.valid = false
	m.gen++
	m.mu.Unlock()
}

// rebuild derives a fresh cache from the store. The generation check keeps
// a cache built over a state that mutated mid-rebuild from being published
// as valid.
func (m *Mapper) rebuild() map[string]Placement {
	m.mu.RLock()
	startGen := m.gen
	m.mu.RUnlock()

	assignments := m.store.Assignments()
	containers := make(map[string]string)
	for _, p := range m.store.AllPools() {
		containers[p.ID] = p.ContainerID
	}

	cache := make(map[string]Placement, len(assignments))
	for botID, a := range assignments {
		cache[botID] = Placement{
			BotID:       botID,
			PoolID:      a.PoolID,
			Slot:        a.Slot,
			Port:        a.Port,
			ContainerID: containers[a.PoolID],
		}
	}

	m.mu.Lock()
	if m.gen == startGen {
		m.cache = cache
		m.valid = true
	}
	m.mu.Unlock()
	return cache
}
