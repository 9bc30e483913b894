// Package pipeline executes declarative conversion pipelines: a DAG of
// agent, code, parallel and page-routing steps run in topological order
// over a shared blackboard.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/inkwellmd/inkwell/internal/agent"
	"github.com/inkwellmd/inkwell/internal/confidence"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/graph"
	"github.com/inkwellmd/inkwell/internal/imaging"
	"github.com/inkwellmd/inkwell/internal/transforms"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// DefaultPageConcurrency caps concurrent model calls within one agent step.
const DefaultPageConcurrency = 4

// AgentRunner executes one agent task. *agent.Engine satisfies it; tests
// substitute a stub.
type AgentRunner interface {
	Execute(ctx context.Context, task agent.Task) (*agent.Result, error)
}

// Options carries the engine's optional collaborators.
type Options struct {
	Transforms      *transforms.Registry
	PageConcurrency int
}

// Engine runs pipelines. One engine serves any number of concurrent runs:
// per-run state lives on each run's blackboard.
type Engine struct {
	runner      AgentRunner
	agents      *agent.AgentRegistry
	transforms  *transforms.Registry
	scorer      *confidence.Engine
	pageWorkers int
}

// NewEngine builds a pipeline engine.
func NewEngine(runner AgentRunner, agents *agent.AgentRegistry, opts Options) *Engine {
	if opts.Transforms == nil {
		opts.Transforms = transforms.NewRegistry()
	}
	if opts.PageConcurrency <= 0 {
		opts.PageConcurrency = DefaultPageConcurrency
	}
	return &Engine{
		runner:      runner,
		agents:      agents,
		transforms:  opts.Transforms,
		scorer:      confidence.NewEngine(),
		pageWorkers: opts.PageConcurrency,
	}
}

// Execute runs a pipeline over a document's pages. A nil board starts from
// an empty blackboard. Step failures abort the run; skipped and cached
// steps are recorded in the result's event trace.
func (e *Engine) Execute(ctx context.Context, cfg *config.PipelineConfig, pages []imaging.Page, board *blackboard.Blackboard) (*Result, error) {
	if board == nil {
		board = blackboard.New()
	}

	g, err := graph.Build(cfg.Steps)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", cfg.Name, err)
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", cfg.Name, err)
	}

	result := &Result{
		Pipeline: cfg.Name,
		Steps:    make(map[string]*StepResult, len(order)),
		Board:    board,
	}
	result.logEvent("pipeline.start", "")

	reports := make(map[string]*confidence.StepReport)

	for _, name := range order {
		step, _ := g.Step(name)

		if step.Condition != "" {
			run, cerr := EvalCondition(step.Condition, board)
			if cerr != nil {
				log.Printf("[Pipeline] Condition for step %q failed (%v), running anyway", name, cerr)
			} else if !run {
				log.Printf("[Pipeline] Skipping step %q: condition not met", name)
				result.logEvent("step.skipped", name)
				continue
			}
		}

		selected := selectPages(step, pages)
		input := resolveInput(step.Input, selected, g.DependenciesOf(name), result.Steps)

		result.logEvent("step.start", name)
		log.Printf("[Pipeline] Executing step %q (type=%s)", name, step.Type)

		sr, serr := e.executeStep(ctx, cfg.Name, step, input, board)
		if serr != nil {
			return nil, fmt.Errorf("pipeline %q step %q: %w", cfg.Name, name, serr)
		}

		result.Steps[name] = sr
		result.Order = append(result.Order, name)
		result.Usage.Add(sr.Usage)
		if sr.Report != nil {
			reports[name] = sr.Report
		}
		if sr.Cached {
			result.logEvent("step.cached", name)
		}
		result.logEvent("step.complete", name)
	}

	if len(reports) > 0 {
		result.Confidence = e.scorer.AggregateDocument(result.Order, reports, cfg.Confidence)
	}

	markdown, err := e.finalMerge(ctx, cfg, result, board)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", cfg.Name, err)
	}
	if len(cfg.Postprocessing) > 0 {
		markdown = e.transforms.Chain(markdown, cfg.Postprocessing)
	}
	result.Markdown = markdown

	result.logEvent("pipeline.complete", "")
	return result, nil
}

// finalMerge folds the executed steps' outputs into the document. A single
// output passes through verbatim; multiple outputs concatenate in execution
// order, or flow through a configured merge agent.
func (e *Engine) finalMerge(ctx context.Context, cfg *config.PipelineConfig, result *Result, board *blackboard.Blackboard) (string, error) {
	var names []string
	for _, name := range result.Order {
		if result.Steps[name].Markdown != "" {
			names = append(names, name)
		}
	}
	switch len(names) {
	case 0:
		return "", nil
	case 1:
		return result.Steps[names[0]].Markdown, nil
	}

	if cfg.PageMerge != nil && cfg.PageMerge.Strategy == "agent" {
		merged, err := e.mergeWithAgent(ctx, cfg, names, result, board)
		if err != nil {
			return "", err
		}
		return merged, nil
	}

	return concatenateOutputs(names, result.Steps), nil
}

func (r *Result) logEvent(kind, step string) {
	r.Events = append(r.Events, Event{Kind: kind, Step: step, Time: time.Now().UTC()})
}
