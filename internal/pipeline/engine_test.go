package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellmd/inkwell/internal/agent"
	"github.com/inkwellmd/inkwell/internal/cache"
	"github.com/inkwellmd/inkwell/internal/confidence"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/imaging"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// stubRunner answers agent tasks from a scripted function and records every
// task it saw.
type stubRunner struct {
	mu    sync.Mutex
	tasks []agent.Task
	fn    func(task agent.Task) (*agent.Result, error)
}

func (s *stubRunner) Execute(_ context.Context, task agent.Task) (*agent.Result, error) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(task)
	}
	return &agent.Result{
		Markdown: fmt.Sprintf("%s:p%d", task.Step, task.PageNum),
		Usage:    cache.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Report:   reportWithScore(task.Step, 0.9),
	}, nil
}

func (s *stubRunner) tasksFor(step string) []agent.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []agent.Task
	for _, task := range s.tasks {
		if task.Step == step {
			out = append(out, task)
		}
	}
	return out
}

func reportWithScore(step string, score float64) *confidence.StepReport {
	return &confidence.StepReport{
		Step:            step,
		RawScore:        score,
		CalibratedScore: score,
		Level:           confidence.LevelFromScore(score),
	}
}

func testRegistry(names ...string) *agent.AgentRegistry {
	r := agent.NewAgentRegistry()
	for _, name := range names {
		r.Register(&config.AgentConfig{
			Name:   name,
			Model:  config.ModelConfig{Preferred: "gpt-4.1-mini"},
			Prompt: config.PromptConfig{System: "s", User: "u"},
		}, false)
	}
	return r
}

func testPages(n int) []imaging.Page {
	pages := make([]imaging.Page, n)
	for i := range pages {
		pages[i] = imaging.Page{Number: i + 1, Data: []byte(fmt.Sprintf("img-%d", i+1))}
	}
	return pages
}

func mustPipeline(t *testing.T, cfg *config.PipelineConfig) *config.PipelineConfig {
	t.Helper()
	require.NoError(t, cfg.Validate())
	return cfg
}

func eventKinds(events []Event, step string) []string {
	var kinds []string
	for _, ev := range events {
		if ev.Step == step {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

func TestExecuteLinearDataFlow(t *testing.T) {
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		if task.Step == "polish" {
			return &agent.Result{
				Markdown: "polished[" + task.PreviousOutput + "]",
				Report:   reportWithScore(task.Step, 0.8),
			}, nil
		}
		return &agent.Result{
			Markdown: fmt.Sprintf("page-%d", task.PageNum),
			Usage:    cache.Usage{TotalTokens: 15},
			Report:   reportWithScore(task.Step, 0.9),
		}, nil
	}}

	cfg := mustPipeline(t, &config.PipelineConfig{
		Name: "linear",
		Steps: []config.Step{
			{Name: "extract", Agent: "extractor"},
			{Name: "polish", Agent: "polisher", Input: config.InputPreviousOutput, DependsOn: []string{"extract"}},
		},
	})

	engine := NewEngine(runner, testRegistry("extractor", "polisher"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(2), nil)
	require.NoError(t, err)

	extractTasks := runner.tasksFor("extract")
	require.Len(t, extractTasks, 2)
	assert.Equal(t, 2, extractTasks[0].TotalPages)

	polishTasks := runner.tasksFor("polish")
	require.Len(t, polishTasks, 1)
	assert.Equal(t, "page-1\n\npage-2", polishTasks[0].PreviousOutput)
	assert.Empty(t, polishTasks[0].ImageData, "previous_output mode sends no image")

	assert.Equal(t, []string{"extract", "polish"}, result.Order)
	assert.Equal(t, "page-1\n\npage-2\n\npolished[page-1\n\npage-2]", result.Markdown,
		"multiple outputs concatenate in execution order")
	assert.Equal(t, 30, result.Usage.TotalTokens)

	out, err := result.Board.Read(blackboard.RegionStepOutputs, "extract", "test")
	require.NoError(t, err)
	assert.Equal(t, "page-1\n\npage-2", out)

	assert.Contains(t, eventKinds(result.Events, ""), "pipeline.start")
	assert.Contains(t, eventKinds(result.Events, ""), "pipeline.complete")
	assert.Equal(t, []string{"step.start", "step.complete"}, eventKinds(result.Events, "extract"))
}

func TestExecuteSingleStepVerbatim(t *testing.T) {
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		return &agent.Result{Markdown: "only output", Report: reportWithScore(task.Step, 0.9)}, nil
	}}
	cfg := mustPipeline(t, &config.PipelineConfig{
		Name:  "single",
		Steps: []config.Step{{Name: "extract", Agent: "extractor"}},
	})

	engine := NewEngine(runner, testRegistry("extractor"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(1), nil)
	require.NoError(t, err)
	assert.Equal(t, "only output", result.Markdown)
}

func TestExecuteConditionGate(t *testing.T) {
	runner := &stubRunner{}
	cfg := mustPipeline(t, &config.PipelineConfig{
		Name: "gated",
		Steps: []config.Step{
			{Name: "extract", Agent: "extractor"},
			{Name: "tables", Agent: "extractor", Condition: "metadata.language == 'fr'", DependsOn: []string{"extract"}},
			{Name: "fallopen", Agent: "extractor", Condition: "metadata.no_such_field == 1", DependsOn: []string{"extract"}},
		},
	})

	board := blackboard.New()
	require.NoError(t, board.Write(blackboard.RegionDocumentMetadata, "language", "en", "test"))

	engine := NewEngine(runner, testRegistry("extractor"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(1), board)
	require.NoError(t, err)

	assert.NotContains(t, result.Order, "tables")
	assert.Contains(t, result.Order, "fallopen", "condition errors fail open")
	assert.Equal(t, []string{"step.skipped"}, eventKinds(result.Events, "tables"))
	assert.Empty(t, runner.tasksFor("tables"))
}

func TestExecuteCodeStep(t *testing.T) {
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		return &agent.Result{Markdown: "#Broken\n\nBody.", Report: reportWithScore(task.Step, 0.9)}, nil
	}}
	cfg := mustPipeline(t, &config.PipelineConfig{
		Name: "with-code",
		Steps: []config.Step{
			{Name: "extract", Agent: "extractor"},
			{Name: "cleanup", Type: config.StepCode, Function: "normalize_headings", Input: config.InputPreviousOutputOnly, DependsOn: []string{"extract"}},
		},
	})

	engine := NewEngine(runner, testRegistry("extractor"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(1), nil)
	require.NoError(t, err)

	cleanup := result.Steps["cleanup"]
	assert.Equal(t, "code:normalize_headings", cleanup.Agent)
	assert.Contains(t, cleanup.Markdown, "# Broken")
	assert.Nil(t, cleanup.Report, "code steps carry no confidence")
}

func TestExecuteCodeStepUnknownFunctionAborts(t *testing.T) {
	runner := &stubRunner{}
	cfg := mustPipeline(t, &config.PipelineConfig{
		Name: "bad-code",
		Steps: []config.Step{
			{Name: "extract", Agent: "extractor"},
			{Name: "boom", Type: config.StepCode, Function: "no_such_fn", DependsOn: []string{"extract"}},
		},
	})

	engine := NewEngine(runner, testRegistry("extractor"), Options{})
	_, err := engine.Execute(context.Background(), cfg, testPages(1), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_fn")
}

func TestExecuteParallelMergesBranches(t *testing.T) {
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		// Each branch writes its own note on its clone.
		err := task.Board.Write(blackboard.RegionAgentNotes, task.Step+".saw", task.Step, task.Step)
		if err != nil {
			return nil, err
		}
		return &agent.Result{
			Markdown: "out:" + task.Step,
			Report:   reportWithScore(task.Step, 0.9),
		}, nil
	}}

	cfg := mustPipeline(t, &config.PipelineConfig{
		Name: "fanout",
		Steps: []config.Step{
			{Name: "extract", Type: config.StepParallel, Steps: []config.Step{
				{Name: "text", Agent: "extractor"},
				{Name: "tables", Agent: "extractor"},
			}},
		},
	})

	engine := NewEngine(runner, testRegistry("extractor"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(1), nil)
	require.NoError(t, err)

	// Declaration order regardless of completion order.
	assert.Equal(t, "out:text\n\nout:tables", result.Steps["extract"].Markdown)

	for _, sub := range []string{"text", "tables"} {
		val, rerr := result.Board.Read(blackboard.RegionAgentNotes, sub+".saw", "test")
		require.NoError(t, rerr, "branch write for %s merged back", sub)
		assert.Equal(t, sub, val)
	}
}

func TestExecutePageRoute(t *testing.T) {
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		return &agent.Result{
			Markdown: fmt.Sprintf("%s:%d", task.Agent.Name, task.PageNum),
			Report:   reportWithScore(task.Step, 0.9),
		}, nil
	}}

	cfg := mustPipeline(t, &config.PipelineConfig{
		Name: "routed",
		Steps: []config.Step{
			{
				Name:           "route",
				Type:           config.StepPageRoute,
				CrossPageAware: true,
				Router: &config.RouterConfig{
					Rules:        []config.RouterRule{{Pages: []any{1}, Agent: "tables"}},
					DefaultAgent: "text",
				},
			},
		},
	})

	board := blackboard.New()
	require.NoError(t, board.Write(blackboard.RegionPageObservations, "1.continues_on_next_page", true, "test"))

	engine := NewEngine(runner, testRegistry("text", "tables"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(3), board)
	require.NoError(t, err)

	// Page 1 routes by rule; page 2 follows the continuation; page 3 defaults.
	assert.Equal(t, "tables:1\n\ntables:2\n\ntext:3", result.Steps["route"].Markdown)

	stepNames := make(map[int]string)
	runner.mu.Lock()
	for _, task := range runner.tasks {
		stepNames[task.PageNum] = task.Step
	}
	runner.mu.Unlock()
	assert.Equal(t, "route_page_2", stepNames[2])
}

func TestExecuteAggregatesConfidence(t *testing.T) {
	scores := map[string]float64{"extract": 0.9, "verify": 0.5}
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		return &agent.Result{
			Markdown: "x",
			Report:   reportWithScore(task.Step, scores[task.Step]),
		}, nil
	}}

	cfg := mustPipeline(t, &config.PipelineConfig{
		Name: "scored",
		Steps: []config.Step{
			{Name: "extract", Agent: "extractor"},
			{Name: "verify", Agent: "extractor", Input: config.InputPreviousOutput, DependsOn: []string{"extract"}},
		},
		Confidence: &config.ConfidenceStrategyConfig{Strategy: "minimum"},
	})

	engine := NewEngine(runner, testRegistry("extractor"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(1), nil)
	require.NoError(t, err)

	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.5, result.Confidence.Overall, 1e-9)
	assert.True(t, result.Confidence.NeedsHumanReview)
}

func TestExecutePipelinePostprocessing(t *testing.T) {
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		return &agent.Result{Markdown: "Line.\n\n\n\n\nLine.", Report: reportWithScore(task.Step, 0.9)}, nil
	}}
	cfg := mustPipeline(t, &config.PipelineConfig{
		Name:           "post",
		Steps:          []config.Step{{Name: "extract", Agent: "extractor"}},
		Postprocessing: []string{"strip_artifacts"},
	})

	engine := NewEngine(runner, testRegistry("extractor"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(1), nil)
	require.NoError(t, err)
	assert.NotContains(t, result.Markdown, "\n\n\n")
}

func TestExecuteCachedStepEvent(t *testing.T) {
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		return &agent.Result{Markdown: "m", Cached: true, Report: reportWithScore(task.Step, 0.9)}, nil
	}}
	cfg := mustPipeline(t, &config.PipelineConfig{
		Name:  "cached",
		Steps: []config.Step{{Name: "extract", Agent: "extractor"}},
	})

	engine := NewEngine(runner, testRegistry("extractor"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(1), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.CacheHits())
	assert.Equal(t, []string{"step.start", "step.cached", "step.complete"}, eventKinds(result.Events, "extract"))
}

func TestExecuteUnknownAgentFails(t *testing.T) {
	cfg := mustPipeline(t, &config.PipelineConfig{
		Name:  "broken",
		Steps: []config.Step{{Name: "extract", Agent: "ghost"}},
	})

	engine := NewEngine(&stubRunner{}, agent.NewAgentRegistry(), Options{})
	_, err := engine.Execute(context.Background(), cfg, testPages(1), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestExecuteMergeAgent(t *testing.T) {
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		if task.Step == "merge" {
			return &agent.Result{Markdown: "merged document"}, nil
		}
		return &agent.Result{Markdown: "out:" + task.Step, Report: reportWithScore(task.Step, 0.9)}, nil
	}}

	cfg := mustPipeline(t, &config.PipelineConfig{
		Name: "agent-merge",
		Steps: []config.Step{
			{Name: "a", Agent: "extractor"},
			{Name: "b", Agent: "extractor", DependsOn: []string{"a"}},
		},
		PageMerge: &config.MergeConfig{Strategy: "agent", Agent: "merger"},
	})

	engine := NewEngine(runner, testRegistry("extractor", "merger"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(1), nil)
	require.NoError(t, err)

	assert.Equal(t, "merged document", result.Markdown)
	mergeTasks := runner.tasksFor("merge")
	require.Len(t, mergeTasks, 1)
	assert.Contains(t, mergeTasks[0].PreviousOutput, "## Section: a")
	assert.Contains(t, mergeTasks[0].PreviousOutput, "out:b")
}

func TestExecutePagesRunOnBranchClones(t *testing.T) {
	runner := &stubRunner{fn: func(task agent.Task) (*agent.Result, error) {
		key := fmt.Sprintf("%d.content_types", task.PageNum)
		if err := task.Board.Write(blackboard.RegionPageObservations, key, []string{"text"}, task.Step); err != nil {
			return nil, err
		}
		return &agent.Result{Markdown: fmt.Sprintf("page-%d", task.PageNum)}, nil
	}}

	cfg := mustPipeline(t, &config.PipelineConfig{
		Name:  "branchy",
		Steps: []config.Step{{Name: "extract", Agent: "extractor"}},
	})

	engine := NewEngine(runner, testRegistry("extractor"), Options{PageConcurrency: 4})
	result, err := engine.Execute(context.Background(), cfg, testPages(8), nil)
	require.NoError(t, err)

	for _, task := range runner.tasksFor("extract") {
		assert.NotSame(t, result.Board, task.Board, "page goroutines never touch the shared board")
	}
	for page := 1; page <= 8; page++ {
		obs, ok := result.Board.Page(page)
		require.True(t, ok, "page %d writes fold back into the shared board", page)
		assert.Equal(t, []string{"text"}, obs.ContentTypes)
	}
}

func TestExecuteEmptyPageSelectionSkipsAgentCall(t *testing.T) {
	runner := &stubRunner{}

	cfg := mustPipeline(t, &config.PipelineConfig{
		Name: "sparse",
		Steps: []config.Step{
			{Name: "extract", Agent: "extractor"},
			{Name: "appendix", Agent: "extractor", Pages: []any{10}},
		},
	})

	engine := NewEngine(runner, testRegistry("extractor"), Options{})
	result, err := engine.Execute(context.Background(), cfg, testPages(3), nil)
	require.NoError(t, err)

	assert.Empty(t, runner.tasksFor("appendix"), "image steps skip the model when no pages match")
	require.Contains(t, result.Steps, "appendix")
	assert.Empty(t, result.Steps["appendix"].Markdown)
	assert.Equal(t, "extract:p1\n\nextract:p2\n\nextract:p3", result.Markdown)
}
