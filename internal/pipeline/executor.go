package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/inkwellmd/inkwell/internal/agent"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/imaging"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// executeStep dispatches one step by kind. Every successful step publishes
// its output to the step_outputs region under its own name.
func (e *Engine) executeStep(ctx context.Context, pipelineName string, step *config.Step, input stepInput, board *blackboard.Blackboard) (*StepResult, error) {
	switch step.Type {
	case config.StepAgent:
		return e.executeAgentStep(ctx, pipelineName, step, input, board)
	case config.StepCode:
		return e.executeCodeStep(step, input, board)
	case config.StepParallel:
		return e.executeParallelStep(ctx, pipelineName, step, input, board)
	case config.StepPageRoute:
		return e.executePageRoute(ctx, pipelineName, step, input, board)
	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

// executeAgentStep runs one agent over the step's pages, bounded by the
// page concurrency cap. Each page runs on its own blackboard branch clone;
// the branches fold back in page order once every page has finished, and
// the per-page outputs join in the same order. Text-only input modes make
// exactly one call with no image, directly on the shared board.
func (e *Engine) executeAgentStep(ctx context.Context, pipelineName string, step *config.Step, input stepInput, board *blackboard.Blackboard) (*StepResult, error) {
	agentCfg, ok := e.agents.Get(step.Agent)
	if !ok {
		return nil, fmt.Errorf("agent %q not found", step.Agent)
	}

	totalPages := len(input.Pages)
	if totalPages == 0 {
		// An image-driven step whose page selection came up empty is a
		// no-op, not a call with no image.
		if step.Input.WantsImage() {
			return &StepResult{Step: step.Name, Agent: agentCfg.Name}, nil
		}
		res, err := e.runner.Execute(ctx, agent.Task{
			Pipeline:       pipelineName,
			Step:           step.Name,
			Agent:          agentCfg,
			PreviousOutput: input.PreviousOutput,
			Board:          board,
		})
		if err != nil {
			return nil, err
		}
		sr := &StepResult{
			Step:      step.Name,
			Agent:     agentCfg.Name,
			Markdown:  res.Markdown,
			Usage:     res.Usage,
			ModelUsed: res.ModelUsed,
			Cached:    res.Cached,
			Report:    res.Report,
		}
		publishOutput(board, step.Name, sr.Markdown)
		return sr, nil
	}

	results := make([]*agent.Result, totalPages)
	branches := make([]*blackboard.Blackboard, totalPages)
	sem := make(chan struct{}, e.pageWorkers)
	var wg sync.WaitGroup
	errs := make([]error, totalPages)

	for i, page := range input.Pages {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		// The shared board has no locking; every page goroutine works on
		// its own clone.
		branches[i] = board.Clone()
		wg.Add(1)
		go func(i int, page imaging.Page) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := e.runner.Execute(ctx, agent.Task{
				Pipeline:       pipelineName,
				Step:           step.Name,
				Agent:          agentCfg,
				PageNum:        page.Number,
				TotalPages:     totalPages,
				ImageData:      page.Data,
				PreviousOutput: input.PreviousOutput,
				Board:          branches[i],
			})
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = res
		}(i, page)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", input.Pages[i].Number, err)
		}
	}

	for i, branch := range branches {
		if branch == nil {
			continue
		}
		board.Merge(branch, fmt.Sprintf("%s_page_%d", step.Name, input.Pages[i].Number))
	}

	sr := mergePageResults(step.Name, agentCfg.Name, results)
	publishOutput(board, step.Name, sr.Markdown)
	return sr, nil
}

// executeCodeStep runs a registered transform. No model call, no caching;
// an unknown or failing function aborts the step.
func (e *Engine) executeCodeStep(step *config.Step, input stepInput, board *blackboard.Blackboard) (*StepResult, error) {
	output, err := e.transforms.Apply(step.Function, input.PreviousOutput, step.Params)
	if err != nil {
		return nil, err
	}
	sr := &StepResult{
		Step:     step.Name,
		Agent:    "code:" + step.Function,
		Markdown: output,
	}
	publishOutput(board, step.Name, output)
	return sr, nil
}

// mergePageResults joins per-page agent results in page order. The step's
// confidence report is the lowest-scoring page's: one bad page makes the
// whole step suspect.
func mergePageResults(stepName, agentName string, results []*agent.Result) *StepResult {
	sr := &StepResult{Step: stepName, Agent: agentName, Cached: true}

	var parts []string
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Markdown != "" {
			parts = append(parts, res.Markdown)
		}
		sr.Usage.Add(res.Usage)
		if sr.ModelUsed == "" {
			sr.ModelUsed = res.ModelUsed
		}
		if !res.Cached {
			sr.Cached = false
		}
		if res.Report != nil {
			if sr.Report == nil || res.Report.CalibratedScore < sr.Report.CalibratedScore {
				sr.Report = res.Report
			}
		}
	}
	sr.Markdown = strings.Join(parts, "\n\n")
	return sr
}

// publishOutput records a step's output on the blackboard. Publication is
// best-effort bookkeeping: the result also flows through the return path.
func publishOutput(board *blackboard.Blackboard, stepName, markdown string) {
	if err := board.Write(blackboard.RegionStepOutputs, stepName, markdown, stepName); err != nil {
		log.Printf("[Pipeline] Failed to publish output for step %q: %v", stepName, err)
	}
}
