package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inkwellmd/inkwell/internal/timespec"
)

// Package-level defaults. These form the bottom layer of the settings
// hierarchy; every later layer overrides them.
const (
	DefaultClassifierModel = "gpt-4.1-nano"
	DefaultMaxTokens       = 4096

	DefaultCacheMemoryMB = 500
	DefaultCacheDiskMB   = 5000
	DefaultCacheTTL      = "168h" // 7 days

	DefaultMaxWorkers  = 5
	DefaultPageWorkers = 4
	DefaultRPMLimit    = 3500
	DefaultTPMLimit    = 100000

	DefaultMaxRetries    = 3
	DefaultRetryStrategy = "exponential"
)

const (
	globalConfigDir   = ".inkwell"
	globalConfigFile  = "config.yaml"
	projectConfigFile = "inkwell.yaml"
)

// Settings holds resolved runtime configuration. Resolution fills every
// field, so callers never check for nil.
type Settings struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`

	// Model, when set, forces every agent onto a single model regardless
	// of the per-agent preference. Empty means agents choose.
	Model           string `yaml:"model,omitempty"`
	ClassifierModel string `yaml:"classifier_model,omitempty"`

	CacheDisabled bool   `yaml:"cache_disabled,omitempty"`
	CacheBackend  string `yaml:"cache_backend,omitempty"` // "sqlite" (default) or "redis"
	CacheDBPath   string `yaml:"cache_db_path,omitempty"`
	CacheRedisURL string `yaml:"cache_redis_url,omitempty"`
	CacheMemoryMB int    `yaml:"cache_memory_mb,omitempty"`
	CacheDiskMB   int    `yaml:"cache_disk_mb,omitempty"`
	CacheTTL      string `yaml:"cache_ttl,omitempty"`

	MaxWorkers  int `yaml:"max_workers,omitempty"`
	PageWorkers int `yaml:"page_workers,omitempty"`
	RPMLimit    int `yaml:"rpm_limit,omitempty"`
	TPMLimit    int `yaml:"tpm_limit,omitempty"`

	MaxRetries    int    `yaml:"max_retries,omitempty"`
	RetryStrategy string `yaml:"retry_strategy,omitempty"`

	CustomDirs []string `yaml:"custom_dirs,omitempty"`
}

// Overrides carries runtime (flag-level) values. Nil fields never override;
// this is what lets an unset --workers flag leave config-file values alone.
type Overrides struct {
	APIKey        *string
	BaseURL       *string
	Model         *string
	CacheDisabled *bool
	MaxWorkers    *int
	CustomDirs    []string
}

// LoadSettings resolves the full hierarchy:
// defaults → ~/.inkwell/config.yaml → inkwell.yaml (searched upward from the
// working directory) → environment → runtime overrides. Later layers win.
func LoadSettings(overrides *Overrides) (*Settings, error) {
	s := defaults()

	if home, err := os.UserHomeDir(); err == nil {
		applyYAMLLayer(s, filepath.Join(home, globalConfigDir, globalConfigFile))
	}

	if projectPath := findProjectConfig(); projectPath != "" {
		applyYAMLLayer(s, projectPath)
	}

	applyEnvLayer(s)

	if overrides != nil {
		if overrides.APIKey != nil {
			s.APIKey = *overrides.APIKey
		}
		if overrides.BaseURL != nil {
			s.BaseURL = *overrides.BaseURL
		}
		if overrides.Model != nil {
			s.Model = *overrides.Model
		}
		if overrides.CacheDisabled != nil {
			s.CacheDisabled = *overrides.CacheDisabled
		}
		if overrides.MaxWorkers != nil {
			s.MaxWorkers = *overrides.MaxWorkers
		}
		if len(overrides.CustomDirs) > 0 {
			s.CustomDirs = append(s.CustomDirs, overrides.CustomDirs...)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks resolved settings for consistency.
func (s *Settings) Validate() error {
	if s.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be >= 1, got %d", s.MaxWorkers)
	}
	if s.PageWorkers < 1 {
		return fmt.Errorf("page_workers must be >= 1, got %d", s.PageWorkers)
	}
	if s.PageWorkers > s.MaxWorkers {
		// The inner per-page bound must stay below the document bound so one
		// document cannot starve the others' call budget.
		s.PageWorkers = s.MaxWorkers
	}
	if s.RPMLimit < 1 || s.TPMLimit < 1 {
		return fmt.Errorf("rate limits must be >= 1 (rpm=%d, tpm=%d)", s.RPMLimit, s.TPMLimit)
	}
	switch s.CacheBackend {
	case "", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown cache_backend: %q (must be 'sqlite' or 'redis')", s.CacheBackend)
	}
	if _, err := s.TTL(); err != nil {
		return err
	}
	switch s.RetryStrategy {
	case "exponential", "linear", "fixed":
	default:
		return fmt.Errorf("unknown retry_strategy: %q", s.RetryStrategy)
	}
	return nil
}

// TTL returns the parsed cache time-to-live.
func (s *Settings) TTL() (time.Duration, error) {
	d, err := timespec.ParseTTLOrDefault(s.CacheTTL, 168*time.Hour)
	if err != nil {
		return 0, fmt.Errorf("invalid cache_ttl: %w", err)
	}
	return d, nil
}

func defaults() *Settings {
	return &Settings{
		ClassifierModel: DefaultClassifierModel,
		CacheBackend:    "sqlite",
		CacheMemoryMB:   DefaultCacheMemoryMB,
		CacheDiskMB:     DefaultCacheDiskMB,
		CacheTTL:        DefaultCacheTTL,
		MaxWorkers:      DefaultMaxWorkers,
		PageWorkers:     DefaultPageWorkers,
		RPMLimit:        DefaultRPMLimit,
		TPMLimit:        DefaultTPMLimit,
		MaxRetries:      DefaultMaxRetries,
		RetryStrategy:   DefaultRetryStrategy,
	}
}

// applyYAMLLayer merges a YAML config file over s. A missing file is fine;
// a malformed file is logged and skipped so one bad layer never blocks the
// CLI.
func applyYAMLLayer(s *Settings, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		log.Printf("[Config] Ignoring malformed config %s: %v", path, err)
	}
}

// findProjectConfig searches for inkwell.yaml from the working directory
// upward.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, projectConfigFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func applyEnvLayer(s *Settings) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("[Config] Ignoring %s=%q: not an integer", key, v)
			return
		}
		*dst = n
	}

	setString("OPENAI_API_KEY", &s.APIKey)
	setString("OPENAI_BASE_URL", &s.BaseURL)
	setString("INKWELL_MODEL", &s.Model)
	setString("INKWELL_CLASSIFIER_MODEL", &s.ClassifierModel)
	setString("INKWELL_CACHE_BACKEND", &s.CacheBackend)
	setString("INKWELL_CACHE_DB_PATH", &s.CacheDBPath)
	setString("INKWELL_CACHE_REDIS_URL", &s.CacheRedisURL)
	setString("INKWELL_CACHE_TTL", &s.CacheTTL)
	setInt("INKWELL_CACHE_MEMORY_MB", &s.CacheMemoryMB)
	setInt("INKWELL_CACHE_DISK_MB", &s.CacheDiskMB)
	setInt("INKWELL_MAX_WORKERS", &s.MaxWorkers)
	setInt("INKWELL_PAGE_WORKERS", &s.PageWorkers)
	setInt("INKWELL_RPM_LIMIT", &s.RPMLimit)
	setInt("INKWELL_TPM_LIMIT", &s.TPMLimit)
	setInt("INKWELL_MAX_RETRIES", &s.MaxRetries)

	if v, ok := os.LookupEnv("INKWELL_CACHE_DISABLED"); ok {
		s.CacheDisabled = isTruthy(v)
	}
	if v, ok := os.LookupEnv("INKWELL_CUSTOM_DIRS"); ok && v != "" {
		s.CustomDirs = append(s.CustomDirs, strings.Split(v, string(os.PathListSeparator))...)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
