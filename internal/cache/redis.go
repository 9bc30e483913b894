package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwellmd/inkwell/internal/filter"
)

// RedisStore is the alternative persistent tier for caches shared between
// machines. Each entry is a JSON blob with a server-side TTL; a sorted set
// scored by last-accessed time provides LRU ordering and a counter tracks
// cumulative size for eviction.
type RedisStore struct {
	client   *redis.Client
	capacity int64
	now      func() time.Time
}

const (
	redisEntryPrefix = "inkwell:cache:entry:"
	redisLRUKey      = "inkwell:cache:lru"
	redisSizeKey     = "inkwell:cache:size"
)

// NewRedisStore connects to the Redis at url (redis://host:port/db), bounded
// to maxBytes of cumulative entry size.
func NewRedisStore(url string, maxBytes int64) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, capacity: maxBytes, now: time.Now}, nil
}

// newRedisStoreFromClient wires an existing client, used by tests with
// miniredis.
func newRedisStoreFromClient(client *redis.Client, maxBytes int64) *RedisStore {
	return &RedisStore{client: client, capacity: maxBytes, now: time.Now}
}

// Get implements Store.
func (s *RedisStore) Get(key string) (*Entry, bool, error) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if err == redis.Nil {
		// Redis expired the blob itself; drop the bookkeeping if any is left.
		s.forget(ctx, key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	now := s.now()
	if entry.Expired(now) {
		if err := s.remove(ctx, &entry); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	if err := s.client.ZAdd(ctx, redisLRUKey, redis.Z{
		Score:  float64(now.Unix()),
		Member: key,
	}).Err(); err != nil {
		return nil, false, fmt.Errorf("failed to touch entry: %w", err)
	}
	return &entry, true, nil
}

// Put implements Store.
func (s *RedisStore) Put(entry *Entry) error {
	ctx := context.Background()
	size := int64(entry.SizeBytes())
	if err := s.evict(ctx, size); err != nil {
		return err
	}

	// Replacing a key must not double-count its size.
	if old, ok, err := s.peek(ctx, entry.Key); err != nil {
		return err
	} else if ok {
		if err := s.remove(ctx, old); err != nil {
			return err
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisEntryPrefix+entry.Key, data, entry.TTL)
	pipe.ZAdd(ctx, redisLRUKey, redis.Z{Score: float64(s.now().Unix()), Member: entry.Key})
	pipe.IncrBy(ctx, redisSizeKey, size)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Invalidate implements Store. Redis has no secondary index over the
// producing identifiers, so this walks the LRU set.
func (s *RedisStore) Invalidate(c *filter.Criteria) (int, error) {
	ctx := context.Background()
	keys, err := s.client.ZRange(ctx, redisLRUKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("cache invalidation failed: %w", err)
	}

	count := 0
	for _, key := range keys {
		entry, ok, err := s.peek(ctx, key)
		if err != nil {
			return count, err
		}
		if !ok {
			s.forget(ctx, key)
			continue
		}
		if c.Matches(entry.Pipeline, entry.Agent, entry.Step) {
			if err := s.remove(ctx, entry); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// Clear implements Store.
func (s *RedisStore) Clear() error {
	ctx := context.Background()
	keys, err := s.client.ZRange(ctx, redisLRUKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("cache clear failed: %w", err)
	}
	pipe := s.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, redisEntryPrefix+key)
	}
	pipe.Del(ctx, redisLRUKey)
	pipe.Del(ctx, redisSizeKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache clear failed: %w", err)
	}
	return nil
}

// Len implements Store.
func (s *RedisStore) Len() (int, error) {
	n, err := s.client.ZCard(context.Background(), redisLRUKey).Result()
	return int(n), err
}

// SizeBytes implements Store.
func (s *RedisStore) SizeBytes() (int64, error) {
	size, err := s.client.Get(context.Background(), redisSizeKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return size, err
}

// Entries implements Store.
func (s *RedisStore) Entries() ([]*Entry, error) {
	ctx := context.Background()
	keys, err := s.client.ZRevRange(ctx, redisLRUKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var entries []*Entry
	for _, key := range keys {
		entry, ok, err := s.peek(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// peek reads an entry without touching its LRU position.
func (s *RedisStore) peek(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := s.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &entry, true, nil
}

func (s *RedisStore) remove(ctx context.Context, entry *Entry) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisEntryPrefix+entry.Key)
	pipe.ZRem(ctx, redisLRUKey, entry.Key)
	pipe.DecrBy(ctx, redisSizeKey, int64(entry.SizeBytes()))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache removal failed: %w", err)
	}
	return nil
}

// forget drops bookkeeping for a key whose blob Redis already expired.
func (s *RedisStore) forget(ctx context.Context, key string) {
	s.client.ZRem(ctx, redisLRUKey, key)
}

// evict removes expired entries first, then the oldest-accessed entries
// until the incoming size fits under the capacity.
func (s *RedisStore) evict(ctx context.Context, incoming int64) error {
	now := s.now()
	keys, err := s.client.ZRange(ctx, redisLRUKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("eviction scan failed: %w", err)
	}
	for _, key := range keys {
		entry, ok, err := s.peek(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			s.forget(ctx, key)
			continue
		}
		if entry.Expired(now) {
			if err := s.remove(ctx, entry); err != nil {
				return err
			}
		}
	}

	for {
		size, err := s.SizeBytes()
		if err != nil {
			return err
		}
		if size+incoming <= s.capacity {
			return nil
		}
		oldest, err := s.client.ZRange(ctx, redisLRUKey, 0, 0).Result()
		if err != nil {
			return fmt.Errorf("LRU eviction failed: %w", err)
		}
		if len(oldest) == 0 {
			return nil
		}
		entry, ok, err := s.peek(ctx, oldest[0])
		if err != nil {
			return err
		}
		if !ok {
			s.forget(ctx, oldest[0])
			continue
		}
		if err := s.remove(ctx, entry); err != nil {
			return err
		}
	}
}
