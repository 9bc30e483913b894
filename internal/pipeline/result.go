package pipeline

import (
	"time"

	"github.com/inkwellmd/inkwell/internal/cache"
	"github.com/inkwellmd/inkwell/internal/confidence"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// StepResult is one executed step's outcome.
type StepResult struct {
	Step      string
	Agent     string
	Markdown  string
	Usage     cache.Usage
	ModelUsed string
	Cached    bool
	Report    *confidence.StepReport // nil for code and merge-only steps
}

// Event is one entry in the engine's execution trace.
type Event struct {
	Kind string    // pipeline.start, step.start, step.cached, step.complete, step.skipped, pipeline.complete
	Step string    // empty for pipeline-level events
	Time time.Time
}

// Result is a full pipeline run.
type Result struct {
	Pipeline   string
	Markdown   string
	Steps      map[string]*StepResult
	Order      []string // executed steps, in execution order
	Board      *blackboard.Blackboard
	Confidence *confidence.DocumentReport // nil when no agent step ran
	Usage      cache.Usage
	Events     []Event
}

// CacheHits counts the executed steps served from cache.
func (r *Result) CacheHits() int {
	hits := 0
	for _, s := range r.Steps {
		if s.Cached {
			hits++
		}
	}
	return hits
}
