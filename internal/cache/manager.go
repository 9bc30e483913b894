package cache

import (
	"log"
	"sync"

	"github.com/inkwellmd/inkwell/internal/filter"
)

// Manager fronts the two tiers: the in-process memory tier for repeated hits
// within a run, and a persistent store for hits across runs. Reads check
// memory first and promote persistent hits; writes land in both tiers.
type Manager struct {
	mu       sync.Mutex
	memory   *MemoryTier
	store    Store
	disabled bool

	hits        int64
	misses      int64
	tokensSaved int64
}

// NewManager wires the memory tier in front of the persistent store.
// A nil store leaves the cache memory-only.
func NewManager(memory *MemoryTier, store Store) *Manager {
	return &Manager{memory: memory, store: store}
}

// NewDisabledManager returns a manager where every lookup misses and every
// store is dropped, so callers need no nil checks when caching is off.
func NewDisabledManager() *Manager {
	return &Manager{disabled: true}
}

// Disabled reports whether the manager drops all traffic.
func (m *Manager) Disabled() bool {
	return m.disabled
}

// Get returns the cached entry for key, or (nil, false) on a miss. A hit in
// the persistent tier is promoted into the memory tier.
func (m *Manager) Get(key string) (*Entry, bool) {
	if m.disabled {
		return nil, false
	}

	if entry, ok := m.memory.Get(key); ok {
		m.recordHit(entry)
		return entry, true
	}

	if m.store != nil {
		entry, ok, err := m.store.Get(key)
		if err != nil {
			// A broken persistent tier degrades to a miss; the step just
			// re-runs and overwrites the entry.
			log.Printf("[Cache] Persistent tier read failed: %v", err)
		} else if ok {
			m.memory.Put(entry)
			m.recordHit(entry)
			return entry, true
		}
	}

	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
	return nil, false
}

// Put stores the entry in both tiers.
func (m *Manager) Put(entry *Entry) {
	if m.disabled {
		return
	}
	m.memory.Put(entry)
	if m.store != nil {
		if err := m.store.Put(entry); err != nil {
			log.Printf("[Cache] Persistent tier write failed: %v", err)
		}
	}
}

// Invalidate removes entries matching the criteria from both tiers and
// returns the larger per-tier count. Empty criteria match nothing; clearing
// everything is an explicit Clear.
func (m *Manager) Invalidate(c *filter.Criteria) (int, error) {
	if m.disabled {
		return 0, nil
	}
	if !c.HasFilters() {
		return 0, nil
	}

	count := m.memory.Invalidate(c)
	if m.store != nil {
		stored, err := m.store.Invalidate(c)
		if err != nil {
			return count, err
		}
		if stored > count {
			count = stored
		}
	}
	return count, nil
}

// Clear removes every entry from both tiers.
func (m *Manager) Clear() error {
	if m.disabled {
		return nil
	}
	m.memory.Clear()
	if m.store != nil {
		return m.store.Clear()
	}
	return nil
}

// Entries returns the persistent tier's entries, most recently accessed
// first, falling back to the memory tier when no store is configured.
func (m *Manager) Entries() ([]*Entry, error) {
	if m.disabled {
		return nil, nil
	}
	if m.store != nil {
		return m.store.Entries()
	}
	return m.memory.Entries(), nil
}

// Stats reports hit counters and per-tier occupancy.
func (m *Manager) Stats() Stats {
	if m.disabled {
		return Stats{Disabled: true}
	}

	m.mu.Lock()
	stats := Stats{
		Hits:        m.hits,
		Misses:      m.misses,
		TokensSaved: m.tokensSaved,
	}
	if total := m.hits + m.misses; total > 0 {
		stats.HitRate = float64(m.hits) / float64(total)
	}
	m.mu.Unlock()

	stats.MemoryEntries = m.memory.Len()
	stats.MemoryBytes = m.memory.SizeBytes()
	if m.store != nil {
		if n, err := m.store.Len(); err == nil {
			stats.StoreEntries = n
		}
		if size, err := m.store.SizeBytes(); err == nil {
			stats.StoreBytes = size
		}
	}
	return stats
}

// Close releases the persistent tier.
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

func (m *Manager) recordHit(entry *Entry) {
	m.mu.Lock()
	m.hits++
	m.tokensSaved += int64(entry.Usage.TotalTokens)
	m.mu.Unlock()
}
