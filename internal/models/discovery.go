package models

import (
	"fmt"
	"log"
)

// Discovery validates and selects models against the allowlist.
type Discovery struct {
	allowlist *Allowlist
}

// NewDiscovery wraps an allowlist. A nil allowlist loads the compiled-in
// one.
func NewDiscovery(allowlist *Allowlist) (*Discovery, error) {
	if allowlist == nil {
		loaded, err := Load()
		if err != nil {
			return nil, err
		}
		allowlist = loaded
	}
	return &Discovery{allowlist: allowlist}, nil
}

// Validate checks that a model is supported.
func (d *Discovery) Validate(modelID string) error {
	if !d.allowlist.Allowed(modelID) {
		return fmt.Errorf("model %q is not in the supported models list", modelID)
	}
	return nil
}

// BestAvailable returns the first allowlisted model among preferred and its
// fallbacks. When none validate it returns preferred anyway with a warning,
// so a stale allowlist degrades instead of blocking every run.
func (d *Discovery) BestAvailable(preferred string, fallbacks []string) string {
	for _, candidate := range append([]string{preferred}, fallbacks...) {
		if d.allowlist.Allowed(candidate) {
			return candidate
		}
	}
	log.Printf("[Models] No validated model among %q and fallbacks, using it anyway", preferred)
	return preferred
}

// SupportsLogprobs reports whether the model returns logprobs.
func (d *Discovery) SupportsLogprobs(modelID string) bool {
	return d.allowlist.SupportsLogprobs(modelID)
}

// Available lists every supported model, priority-sorted.
func (d *Discovery) Available() []Info {
	return d.allowlist.List()
}

// ByTier lists the supported models in one tier.
func (d *Discovery) ByTier(tier string) []Info {
	return d.allowlist.ByTier(tier)
}
