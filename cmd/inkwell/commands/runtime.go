package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/inkwellmd/inkwell/internal/agent"
	"github.com/inkwellmd/inkwell/internal/cache"
	"github.com/inkwellmd/inkwell/internal/concurrency"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/fault"
	"github.com/inkwellmd/inkwell/internal/models"
	"github.com/inkwellmd/inkwell/internal/pipeline"
	"github.com/inkwellmd/inkwell/internal/transforms"
	"github.com/inkwellmd/inkwell/internal/vlm"
)

// runtime bundles the wired conversion stack: settings, cache, rate-limited
// model client, registries, and the two engines.
type runtime struct {
	settings   *config.Settings
	cache      *cache.Manager
	limiter    *concurrency.RateLimiter
	client     *vlm.Client
	discovery  *models.Discovery
	transforms *transforms.Registry
	agents     *agent.AgentRegistry
	pipelines  *agent.PipelineRegistry
	runner     *agent.Engine
	engine     *pipeline.Engine
}

// newRuntime resolves settings and wires every component of the conversion
// stack. The cache manager must be closed by the caller.
func newRuntime(overrides *config.Overrides) (*runtime, error) {
	settings, err := config.LoadSettings(overrides)
	if err != nil {
		return nil, err
	}

	manager, err := openCacheManager(settings)
	if err != nil {
		return nil, err
	}

	allowlist, err := models.Load()
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to load model allowlist: %w", err)
	}
	discovery, err := models.NewDiscovery(allowlist)
	if err != nil {
		manager.Close()
		return nil, err
	}

	ttl, err := settings.TTL()
	if err != nil {
		manager.Close()
		return nil, err
	}

	limiter := concurrency.NewRateLimiter(settings.RPMLimit, settings.TPMLimit)
	client := vlm.NewClient(settings.APIKey, settings.BaseURL, limiter)
	registry := transforms.NewRegistry()

	agents := agent.NewAgentRegistry(settings.CustomDirs...)
	pipelines := agent.NewPipelineRegistry(settings.CustomDirs...)

	retry := fault.DefaultPolicy()
	retry.MaxAttempts = settings.MaxRetries
	retry.Strategy = fault.Strategy(settings.RetryStrategy)

	runner := agent.NewEngine(client, agent.Options{
		Cache:         manager,
		Transforms:    registry,
		Discovery:     discovery,
		CacheTTL:      ttl,
		Retry:         &retry,
		ModelOverride: settings.Model,
	})
	engine := pipeline.NewEngine(runner, agents, pipeline.Options{
		Transforms:      registry,
		PageConcurrency: settings.PageWorkers,
	})

	return &runtime{
		settings:   settings,
		cache:      manager,
		limiter:    limiter,
		client:     client,
		discovery:  discovery,
		transforms: registry,
		agents:     agents,
		pipelines:  pipelines,
		runner:     runner,
		engine:     engine,
	}, nil
}

// Close releases the cache's persistent tier.
func (rt *runtime) Close() error {
	return rt.cache.Close()
}

// openCacheManager builds the two-tier cache from resolved settings:
// a memory LRU in front of SQLite (default) or Redis.
func openCacheManager(settings *config.Settings) (*cache.Manager, error) {
	if settings.CacheDisabled {
		return cache.NewDisabledManager(), nil
	}

	memory := cache.NewMemoryTier(int64(settings.CacheMemoryMB) << 20)
	diskBytes := int64(settings.CacheDiskMB) << 20

	if settings.CacheBackend == "redis" {
		store, err := cache.NewRedisStore(settings.CacheRedisURL, diskBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis cache: %w", err)
		}
		return cache.NewManager(memory, store), nil
	}

	path := settings.CacheDBPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache location: %w", err)
		}
		path = filepath.Join(home, ".inkwell", "cache.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	store, err := cache.NewSQLiteStore(path, diskBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	return cache.NewManager(memory, store), nil
}
