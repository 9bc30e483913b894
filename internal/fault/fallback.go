package fault

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// FallbackChain cycles through alternate model identifiers after terminal,
// fallback-eligible failures (model not found and similar). It tracks which
// models have been tried; when every model is exhausted the chain returns a
// terminal error listing them.
type FallbackChain struct {
	models  []string
	tried   map[string]bool
	current int
}

// NewFallbackChain builds a chain from the preferred model plus its ordered
// fallbacks.
func NewFallbackChain(preferred string, fallbacks []string) *FallbackChain {
	models := append([]string{preferred}, fallbacks...)
	return &FallbackChain{
		models: models,
		tried:  make(map[string]bool),
	}
}

// Current returns the model the chain is pointing at.
func (c *FallbackChain) Current() string {
	return c.models[c.current]
}

// Exhausted reports whether every model in the chain has been tried.
func (c *FallbackChain) Exhausted() bool {
	return len(c.tried) >= len(c.models)
}

// Next marks the current model tried and advances to the next untried model.
// Returns a TerminalError when all models are exhausted.
func (c *FallbackChain) Next() (string, error) {
	c.tried[c.Current()] = true

	for i := c.current + 1; i < len(c.models); i++ {
		if !c.tried[c.models[i]] {
			c.current = i
			log.Printf("[Fallback] Falling back to model %q (tried: %s)",
				c.Current(), strings.Join(c.triedSorted(), ", "))
			return c.Current(), nil
		}
	}

	return "", &TerminalError{
		Reason: "model_not_found",
		Err:    fmt.Errorf("all models exhausted: %s", strings.Join(c.models, ", ")),
	}
}

// MarkTried records a model as tried without advancing.
func (c *FallbackChain) MarkTried(model string) {
	c.tried[model] = true
}

// Reset clears tried state for a new request.
func (c *FallbackChain) Reset() {
	c.tried = make(map[string]bool)
	c.current = 0
}

func (c *FallbackChain) triedSorted() []string {
	out := make([]string, 0, len(c.tried))
	for m := range c.tried {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
