package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/inkwellmd/inkwell/internal/agent"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// concatenateOutputs joins step outputs in the given order.
func concatenateOutputs(names []string, steps map[string]*StepResult) string {
	var parts []string
	for _, name := range names {
		parts = append(parts, steps[name].Markdown)
	}
	return strings.Join(parts, "\n\n")
}

// mergeWithAgent hands the named steps' outputs to the configured merge
// agent as one sectioned document. An unknown merge agent degrades to
// concatenation: a bad config entry should not lose a finished extraction.
func (e *Engine) mergeWithAgent(ctx context.Context, cfg *config.PipelineConfig, names []string, result *Result, board *blackboard.Blackboard) (string, error) {
	agentCfg, ok := e.agents.Get(cfg.PageMerge.Agent)
	if !ok {
		log.Printf("[Pipeline] Merge agent %q not found, concatenating instead", cfg.PageMerge.Agent)
		return concatenateOutputs(names, result.Steps), nil
	}

	combined := sectionedFromSteps(names, result.Steps)
	res, err := e.runner.Execute(ctx, agent.Task{
		Pipeline:       cfg.Name,
		Step:           "merge",
		Agent:          agentCfg,
		PreviousOutput: combined,
		Board:          board,
	})
	if err != nil {
		return "", fmt.Errorf("merge agent %q: %w", agentCfg.Name, err)
	}
	result.Usage.Add(res.Usage)
	return res.Markdown, nil
}

// mergeResultsWithAgent is the parallel-step variant: merge sub-step
// outputs through an agent on the already-merged board.
func (e *Engine) mergeResultsWithAgent(ctx context.Context, pipelineName, agentName string, results []*StepResult, board *blackboard.Blackboard) (string, error) {
	agentCfg, ok := e.agents.Get(agentName)
	if !ok {
		log.Printf("[Pipeline] Merge agent %q not found, concatenating instead", agentName)
		var parts []string
		for _, r := range results {
			if r.Markdown != "" {
				parts = append(parts, r.Markdown)
			}
		}
		return strings.Join(parts, "\n\n"), nil
	}

	var sections []string
	for _, r := range results {
		sections = append(sections, fmt.Sprintf("## Section: %s\n\n%s", r.Step, r.Markdown))
	}
	res, err := e.runner.Execute(ctx, agent.Task{
		Pipeline:       pipelineName,
		Step:           "merge",
		Agent:          agentCfg,
		PreviousOutput: strings.Join(sections, "\n\n---\n\n"),
		Board:          board,
	})
	if err != nil {
		return "", fmt.Errorf("merge agent %q: %w", agentName, err)
	}
	return res.Markdown, nil
}

// sectionedFromSteps labels each step's output so the merge agent sees
// where every section came from.
func sectionedFromSteps(names []string, steps map[string]*StepResult) string {
	var sections []string
	for _, name := range names {
		sections = append(sections, fmt.Sprintf("## Section: %s\n\n%s", name, steps[name].Markdown))
	}
	return strings.Join(sections, "\n\n---\n\n")
}
