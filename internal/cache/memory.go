package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/inkwellmd/inkwell/internal/filter"
)

// MemoryTier is the fast in-process tier: an LRU over cumulative entry byte
// size. Safe for concurrent use from parallel step executions.
type MemoryTier struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	ll        *list.List // front = most recently used
	index     map[string]*list.Element
	now       func() time.Time
}

type memoryNode struct {
	key   string
	entry *Entry
	size  int64
}

// NewMemoryTier creates a tier bounded to maxBytes of cumulative entry size.
func NewMemoryTier(maxBytes int64) *MemoryTier {
	return &MemoryTier{
		capacity: maxBytes,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the entry for key, marking it most recently used. Expired
// entries are purged and reported as a miss.
func (t *MemoryTier) Get(key string) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.index[key]
	if !ok {
		return nil, false
	}
	node := el.Value.(*memoryNode)
	if node.entry.Expired(t.now()) {
		t.removeLocked(el)
		return nil, false
	}
	t.ll.MoveToFront(el)
	return node.entry, true
}

// Put stores an entry, replacing any previous value for the key and
// evicting least-recently-used entries until the tier fits its capacity.
// An entry larger than the whole capacity is not admitted.
func (t *MemoryTier) Put(entry *Entry) {
	size := int64(entry.SizeBytes())
	if size > t.capacity {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.index[entry.Key]; ok {
		t.removeLocked(el)
	}
	for t.size+size > t.capacity && t.ll.Len() > 0 {
		t.removeLocked(t.ll.Back())
	}
	el := t.ll.PushFront(&memoryNode{key: entry.Key, entry: entry, size: size})
	t.index[entry.Key] = el
	t.size += size
}

// Invalidate removes entries matching the criteria and returns the count.
func (t *MemoryTier) Invalidate(c *filter.Criteria) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var toRemove []*list.Element
	for el := t.ll.Front(); el != nil; el = el.Next() {
		node := el.Value.(*memoryNode)
		if c.Matches(node.entry.Pipeline, node.entry.Agent, node.entry.Step) {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		t.removeLocked(el)
	}
	return len(toRemove)
}

// Clear removes every entry.
func (t *MemoryTier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ll.Init()
	t.index = make(map[string]*list.Element)
	t.size = 0
}

// Len returns the number of stored entries.
func (t *MemoryTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ll.Len()
}

// SizeBytes returns the cumulative accounting size of stored entries.
func (t *MemoryTier) SizeBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Entries returns a snapshot of stored entries, most recently used first.
func (t *MemoryTier) Entries() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, t.ll.Len())
	for el := t.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*memoryNode).entry)
	}
	return out
}

func (t *MemoryTier) removeLocked(el *list.Element) {
	node := el.Value.(*memoryNode)
	t.ll.Remove(el)
	delete(t.index, node.key)
	t.size -= node.size
}
