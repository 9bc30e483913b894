package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inkwellmd/inkwell/internal/filter"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// SQLiteStore is the default persistent tier: one row per cache key, with a
// last_accessed column used purely for LRU eviction ordering.
type SQLiteStore struct {
	mu       sync.Mutex
	db       *sql.DB
	capacity int64
	now      func() time.Time
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key               TEXT PRIMARY KEY,
	created_at        INTEGER NOT NULL,
	ttl_seconds       INTEGER NOT NULL,
	last_accessed     INTEGER NOT NULL,
	pipeline          TEXT NOT NULL DEFAULT '',
	step              TEXT NOT NULL DEFAULT '',
	agent             TEXT NOT NULL DEFAULT '',
	agent_version     TEXT NOT NULL DEFAULT '',
	markdown          TEXT NOT NULL DEFAULT '',
	blackboard_writes TEXT NOT NULL DEFAULT '',
	confidence        REAL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	model_used        TEXT NOT NULL DEFAULT '',
	size_bytes        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_last_accessed ON cache_entries (last_accessed);
`

// NewSQLiteStore opens (creating if needed) the cache database at path,
// bounded to maxBytes of cumulative entry size.
func NewSQLiteStore(path string, maxBytes int64) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// The store serializes access itself; a single connection avoids
	// SQLITE_BUSY between concurrent step executions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}
	return &SQLiteStore{db: db, capacity: maxBytes, now: time.Now}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT key, created_at, ttl_seconds, pipeline, step, agent,
		agent_version, markdown, blackboard_writes, confidence,
		prompt_tokens, completion_tokens, total_tokens, model_used
		FROM cache_entries WHERE key = ?`, key)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}

	now := s.now()
	if entry.Expired(now) {
		if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("failed to purge expired entry: %w", err)
		}
		return nil, false, nil
	}

	if _, err := s.db.Exec(`UPDATE cache_entries SET last_accessed = ? WHERE key = ?`,
		now.Unix(), key); err != nil {
		return nil, false, fmt.Errorf("failed to touch entry: %w", err)
	}
	return entry, true, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := int64(entry.SizeBytes())
	if err := s.evictLocked(size); err != nil {
		return err
	}

	var writes string
	if len(entry.BlackboardWrites) > 0 {
		data, err := json.Marshal(entry.BlackboardWrites)
		if err != nil {
			return fmt.Errorf("failed to serialize blackboard writes: %w", err)
		}
		writes = string(data)
	}

	var confidence any
	if entry.Confidence != nil {
		confidence = *entry.Confidence
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache_entries
		(key, created_at, ttl_seconds, last_accessed, pipeline, step, agent,
		 agent_version, markdown, blackboard_writes, confidence,
		 prompt_tokens, completion_tokens, total_tokens, model_used, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Key, entry.CreatedAt.Unix(), int64(entry.TTL.Seconds()), s.now().Unix(),
		entry.Pipeline, entry.Step, entry.Agent, entry.AgentVersion,
		entry.Markdown, writes, confidence,
		entry.Usage.PromptTokens, entry.Usage.CompletionTokens, entry.Usage.TotalTokens,
		entry.ModelUsed, size)
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Invalidate implements Store.
func (s *SQLiteStore) Invalidate(c *filter.Criteria) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conditions []string
	var params []any
	if c.Pipeline != "" {
		conditions = append(conditions, "pipeline = ?")
		params = append(params, c.Pipeline)
	}
	if c.Agent != "" {
		conditions = append(conditions, "agent = ?")
		params = append(params, c.Agent)
	}
	if c.Step != "" {
		conditions = append(conditions, "step = ?")
		params = append(params, c.Step)
	}
	if len(conditions) == 0 {
		return 0, nil
	}

	result, err := s.db.Exec(
		"DELETE FROM cache_entries WHERE "+strings.Join(conditions, " AND "), params...)
	if err != nil {
		return 0, fmt.Errorf("cache invalidation failed: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear failed: %w", err)
	}
	return nil
}

// Len implements Store.
func (s *SQLiteStore) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SizeBytes implements Store.
func (s *SQLiteStore) SizeBytes() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeLocked()
}

// Entries implements Store.
func (s *SQLiteStore) Entries() ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key, created_at, ttl_seconds, pipeline, step, agent,
		agent_version, markdown, blackboard_writes, confidence,
		prompt_tokens, completion_tokens, total_tokens, model_used
		FROM cache_entries ORDER BY last_accessed DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// evictLocked removes expired rows, then the oldest-accessed rows until the
// incoming entry fits under the capacity.
func (s *SQLiteStore) evictLocked(incoming int64) error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE created_at + ttl_seconds < ?`,
		s.now().Unix()); err != nil {
		return fmt.Errorf("expiry sweep failed: %w", err)
	}

	for {
		size, err := s.sizeLocked()
		if err != nil {
			return err
		}
		if size+incoming <= s.capacity {
			return nil
		}
		result, err := s.db.Exec(`DELETE FROM cache_entries WHERE key =
			(SELECT key FROM cache_entries ORDER BY last_accessed ASC LIMIT 1)`)
		if err != nil {
			return fmt.Errorf("LRU eviction failed: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
	}
}

func (s *SQLiteStore) sizeLocked() (int64, error) {
	var size int64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries`).Scan(&size)
	return size, err
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry      Entry
		createdAt  int64
		ttlSeconds int64
		writes     string
		confidence sql.NullFloat64
	)
	err := row.Scan(&entry.Key, &createdAt, &ttlSeconds,
		&entry.Pipeline, &entry.Step, &entry.Agent, &entry.AgentVersion,
		&entry.Markdown, &writes, &confidence,
		&entry.Usage.PromptTokens, &entry.Usage.CompletionTokens, &entry.Usage.TotalTokens,
		&entry.ModelUsed)
	if err != nil {
		return nil, err
	}
	entry.CreatedAt = time.Unix(createdAt, 0)
	entry.TTL = time.Duration(ttlSeconds) * time.Second
	if confidence.Valid {
		c := confidence.Float64
		entry.Confidence = &c
	}
	if writes != "" {
		var parsed []blackboard.Write
		if err := json.Unmarshal([]byte(writes), &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode blackboard writes: %w", err)
		}
		entry.BlackboardWrites = parsed
	}
	return &entry, nil
}
