package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// executeParallelStep runs sub-steps concurrently, each on its own
// blackboard clone, then merges every branch back in declaration order and
// joins the outputs in the same order. Deterministic merge order keeps
// conflict resolution reproducible regardless of which branch finishes
// first.
func (e *Engine) executeParallelStep(ctx context.Context, pipelineName string, step *config.Step, input stepInput, board *blackboard.Blackboard) (*StepResult, error) {
	subs := step.Steps
	branches := make([]*blackboard.Blackboard, len(subs))
	results := make([]*StepResult, len(subs))
	errs := make([]error, len(subs))

	var wg sync.WaitGroup
	for i := range subs {
		branches[i] = board.Clone()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := &subs[i]
			subInput := input
			subInput.Pages = selectPages(sub, input.Pages)
			results[i], errs[i] = e.executeStep(ctx, pipelineName, sub, subInput, branches[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("sub-step %q: %w", subs[i].Name, err)
		}
	}

	for i, branch := range branches {
		board.Merge(branch, subs[i].Name)
	}

	sr := &StepResult{Step: step.Name, Agent: "parallel"}
	var parts []string
	for _, res := range results {
		if res.Markdown != "" {
			parts = append(parts, res.Markdown)
		}
		sr.Usage.Add(res.Usage)
		if sr.ModelUsed == "" {
			sr.ModelUsed = res.ModelUsed
		}
		if res.Report != nil {
			if sr.Report == nil || res.Report.CalibratedScore < sr.Report.CalibratedScore {
				sr.Report = res.Report
			}
		}
	}
	sr.Markdown = strings.Join(parts, "\n\n")

	if step.Merge != nil && step.Merge.Strategy == "agent" {
		merged, err := e.mergeResultsWithAgent(ctx, pipelineName, step.Merge.Agent, results, board)
		if err != nil {
			return nil, err
		}
		sr.Markdown = merged
	}

	publishOutput(board, step.Name, sr.Markdown)
	return sr, nil
}
