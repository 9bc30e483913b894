package cache

import "github.com/inkwellmd/inkwell/internal/filter"

// Store is the persistent tier behind the memory tier. Implementations must
// be safe for concurrent use.
type Store interface {
	// Get returns the entry for key, or (nil, false, nil) on a miss.
	// Expired entries are purged and reported as a miss. A hit refreshes
	// the entry's last-accessed time for LRU eviction ordering.
	Get(key string) (*Entry, bool, error)

	// Put stores an entry, replacing any previous value for the key.
	// Eviction removes expired entries first, then the oldest-accessed
	// entries until the store fits its size cap.
	Put(entry *Entry) error

	// Invalidate removes entries matching the criteria, returning the count.
	Invalidate(c *filter.Criteria) (int, error)

	// Clear removes every entry.
	Clear() error

	// Len returns the number of stored entries.
	Len() (int, error)

	// SizeBytes returns the cumulative accounting size of stored entries.
	SizeBytes() (int64, error)

	// Entries returns all stored entries, most recently accessed first.
	Entries() ([]*Entry, error)

	Close() error
}
