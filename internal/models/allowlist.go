// Package models holds the curated model allowlist. There is no dynamic
// API discovery: only models listed in models.yaml are accepted, which
// keeps runs reproducible and keeps typos from burning tokens against
// whatever the provider happens to serve.
package models

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// Info describes one supported model.
type Info struct {
	Name        string `yaml:"-"`
	Tier        string `yaml:"tier"`
	Priority    int    `yaml:"priority"`
	Logprobs    bool   `yaml:"logprobs"`
	MaxTokens   int    `yaml:"max_tokens"`
	Description string `yaml:"description"`
}

// Allowlist is the curated model set.
type Allowlist struct {
	models map[string]Info
}

type allowlistFile struct {
	Models map[string]Info `yaml:"models"`
}

// Load parses the compiled-in models.yaml.
func Load() (*Allowlist, error) {
	return Parse(modelsYAML)
}

// Parse builds an allowlist from YAML, for tests and embedding callers.
func Parse(data []byte) (*Allowlist, error) {
	var file allowlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model allowlist: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("model allowlist is empty")
	}

	models := make(map[string]Info, len(file.Models))
	for name, info := range file.Models {
		info.Name = name
		if info.Tier == "" {
			info.Tier = "standard"
		}
		if info.Priority == 0 {
			info.Priority = 99
		}
		if info.MaxTokens == 0 {
			info.MaxTokens = 4096
		}
		models[name] = info
	}
	return &Allowlist{models: models}, nil
}

// Allowed reports whether a model is in the allowlist.
func (a *Allowlist) Allowed(modelID string) bool {
	_, ok := a.models[modelID]
	return ok
}

// Get returns a model's info.
func (a *Allowlist) Get(modelID string) (Info, bool) {
	info, ok := a.models[modelID]
	return info, ok
}

// List returns every model sorted by priority, then name.
func (a *Allowlist) List() []Info {
	out := make([]Info, 0, len(a.models))
	for _, info := range a.models {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ByTier returns the models in one tier, priority-sorted.
func (a *Allowlist) ByTier(tier string) []Info {
	var out []Info
	for _, info := range a.List() {
		if info.Tier == tier {
			out = append(out, info)
		}
	}
	return out
}

// SupportsLogprobs reports whether a model returns logprobs. Unknown models
// do not.
func (a *Allowlist) SupportsLogprobs(modelID string) bool {
	return a.models[modelID].Logprobs
}
