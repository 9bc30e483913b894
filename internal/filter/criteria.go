// Package filter defines matching criteria for cache entries, used by
// invalidation and listing.
package filter

// Criteria selects cache entries by their producing pipeline, agent and
// step. All supplied criteria are ANDed together; empty fields match
// everything.
type Criteria struct {
	Pipeline string // exact match on producing pipeline name, empty = no filter
	Agent    string // exact match on producing agent name, empty = no filter
	Step     string // exact match on producing step name, empty = no filter
}

// Matches reports whether an entry's identifiers satisfy every supplied
// criterion.
func (c *Criteria) Matches(pipeline, agent, step string) bool {
	if c.Pipeline != "" && pipeline != c.Pipeline {
		return false
	}
	if c.Agent != "" && agent != c.Agent {
		return false
	}
	if c.Step != "" && step != c.Step {
		return false
	}
	return true
}

// HasFilters reports whether any criterion is active. Filtered invalidation
// with no active criteria is defined as a no-op, so callers check this
// before deleting anything.
func (c *Criteria) HasFilters() bool {
	return c.Pipeline != "" || c.Agent != "" || c.Step != ""
}
