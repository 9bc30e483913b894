// Package cache implements the two-tier, content-addressed result cache:
// a bounded in-memory LRU tier in front of a persistent store (SQLite by
// default, Redis for shared caches), keyed by a deterministic hash of every
// input that determines a step's model output.
package cache

import (
	"encoding/json"
	"time"

	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// Usage counts the tokens one model call consumed.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Entry is one cached step result. Entries are immutable once stored;
// storing the same key again replaces the entry wholesale.
type Entry struct {
	Key       string        `json:"key"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`

	Pipeline     string `json:"pipeline"`
	Step         string `json:"step"`
	Agent        string `json:"agent"`
	AgentVersion string `json:"agent_version"`

	Markdown string `json:"markdown"`

	// BlackboardWrites are replayed on a cache hit so the side effects of
	// the cached call survive.
	BlackboardWrites []blackboard.Write `json:"blackboard_writes,omitempty"`

	Confidence *float64 `json:"confidence,omitempty"`
	Usage      Usage    `json:"usage"`
	ModelUsed  string   `json:"model_used"`
}

// Expired reports whether the entry's absolute TTL has elapsed. Expiry runs
// from creation time, independent of access recency.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// SizeBytes is the entry's accounting size: markdown plus serialized
// blackboard writes.
func (e *Entry) SizeBytes() int {
	size := len(e.Markdown)
	if len(e.BlackboardWrites) > 0 {
		if data, err := json.Marshal(e.BlackboardWrites); err == nil {
			size += len(data)
		}
	}
	return size
}

// Stats are the manager's lifetime counters plus per-tier occupancy.
// Never persisted.
type Stats struct {
	Disabled    bool    `json:"disabled"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	TokensSaved int64   `json:"tokens_saved"`
	HitRate     float64 `json:"hit_rate"`

	MemoryEntries int   `json:"memory_entries"`
	MemoryBytes   int64 `json:"memory_bytes"`
	StoreEntries  int   `json:"store_entries"`
	StoreBytes    int64 `json:"store_bytes"`
}
