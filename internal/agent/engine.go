// Package agent executes extraction agents: one model call per page (or
// text-only input), wrapped in caching, retry with model fallback, response
// parsing, blackboard updates and confidence scoring.
package agent

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/inkwellmd/inkwell/internal/cache"
	"github.com/inkwellmd/inkwell/internal/confidence"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/fault"
	"github.com/inkwellmd/inkwell/internal/imaging"
	"github.com/inkwellmd/inkwell/internal/models"
	"github.com/inkwellmd/inkwell/internal/transforms"
	"github.com/inkwellmd/inkwell/internal/vlm"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// DefaultCacheTTL bounds how long a cached step result stays valid.
const DefaultCacheTTL = 168 * time.Hour

// ModelCaller is the model client surface the engine needs. *vlm.Client
// satisfies it; tests substitute a stub.
type ModelCaller interface {
	Complete(ctx context.Context, req vlm.Request) (*vlm.Response, error)
}

// Options carries the engine's collaborators. Zero-valued fields get
// working defaults: a disabled cache, the builtin writer and transform
// registries, no model discovery gate, the package retry policy.
type Options struct {
	Cache      *cache.Manager
	Writers    *blackboard.WriterRegistry
	Transforms *transforms.Registry
	Discovery  *models.Discovery
	CacheTTL   time.Duration
	Retry      *fault.Policy // baseline, before per-agent overrides

	// ModelOverride forces every agent onto one model and disables the
	// per-agent fallback chain.
	ModelOverride string
}

// Engine runs one agent at a time. Safe for concurrent use: all mutable
// state lives on the blackboard and in the cache manager.
type Engine struct {
	client     ModelCaller
	cache      *cache.Manager
	writers    *blackboard.WriterRegistry
	transforms *transforms.Registry
	discovery  *models.Discovery
	scorer     *confidence.Engine
	cacheTTL   time.Duration
	retry      fault.Policy
	model      string // forced model, empty means per-agent choice
}

// NewEngine builds an engine around a model client.
func NewEngine(client ModelCaller, opts Options) *Engine {
	if opts.Cache == nil {
		opts.Cache = cache.NewDisabledManager()
	}
	if opts.Writers == nil {
		opts.Writers = blackboard.NewWriterRegistry()
	}
	if opts.Transforms == nil {
		opts.Transforms = transforms.NewRegistry()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	retry := fault.DefaultPolicy()
	if opts.Retry != nil {
		if err := opts.Retry.Validate(); err != nil {
			log.Printf("[Agent] Invalid retry baseline: %v, keeping defaults", err)
		} else {
			retry = *opts.Retry
		}
	}
	return &Engine{
		client:     client,
		cache:      opts.Cache,
		writers:    opts.Writers,
		transforms: opts.Transforms,
		discovery:  opts.Discovery,
		scorer:     confidence.NewEngine(),
		cacheTTL:   opts.CacheTTL,
		retry:      retry,
		model:      opts.ModelOverride,
	}
}

// Task is one agent invocation. Board may be nil for standalone calls;
// ImageData may be empty for text-only input modes.
type Task struct {
	Pipeline       string
	Step           string // defaults to the agent name
	Agent          *config.AgentConfig
	PageNum        int
	TotalPages     int
	ImageData      []byte
	PreviousOutput string
	Board          *blackboard.Blackboard
}

// Result is what a step hands back to the pipeline.
type Result struct {
	Markdown  string
	Report    *confidence.StepReport // nil only for cache hits stored without a score
	ModelUsed string
	Usage     cache.Usage
	Cached    bool
}

// Execute runs one agent end to end: cache check, prompt build, model call
// with retry and fallback, response parse, blackboard writes, code writers,
// confidence scoring, cache store.
func (e *Engine) Execute(ctx context.Context, task Task) (*Result, error) {
	agent := task.Agent
	if agent == nil {
		return nil, fmt.Errorf("agent config is required")
	}
	step := task.Step
	if step == "" {
		step = agent.Name
	}

	viewMap, err := e.subscribedContext(task.Board, agent)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", step, err)
	}

	vars := vlm.PromptVars(task.PageNum, task.TotalPages, task.PreviousOutput, viewMap)
	system := vlm.Render(agent.Prompt.System, vars)
	user := vlm.Render(agent.Prompt.User, vars)

	var imageB64 string
	if agent.Input.WantsImage() && len(task.ImageData) > 0 {
		imageB64 = imaging.ToBase64(task.ImageData)
	}

	preferred, fallbacks := agent.Model.Preferred, agent.Model.Fallback
	if e.model != "" {
		preferred, fallbacks = e.model, nil
	}

	key := cache.Key(cache.KeyInputs{
		ImageHash:    cache.HashImage(task.ImageData),
		Pipeline:     task.Pipeline,
		Step:         step,
		Agent:        agent.Name,
		AgentVersion: agent.Version,
		ModelID:      preferred,
		PromptHash:   cache.HashPrompt(system, user),
		Snapshot:     viewMap,
	})
	if entry, ok := e.cache.Get(key); ok {
		log.Printf("[Agent] Cache hit for step %q (agent %s)", step, agent.Name)
		if task.Board != nil && len(entry.BlackboardWrites) > 0 {
			task.Board.ReplayWrites(entry.BlackboardWrites, step)
		}
		return e.fromCache(entry, step, agent, task.Board), nil
	}

	log.Printf("[Agent] %s starting step %q (model=%s)", agent.Name, step, preferred)

	chain := fault.NewFallbackChain(preferred, fallbacks)
	var resp *vlm.Response
	err = fault.Do(ctx, e.policyFor(agent), chain, func(ctx context.Context, model string) error {
		r, callErr := e.client.Complete(ctx, vlm.Request{
			Model:       model,
			System:      system,
			User:        user,
			ImageB64:    imageB64,
			MaxTokens:   agent.Model.MaxTokens,
			Temperature: agent.Model.Temperature,
			Logprobs:    e.wantsLogprobs(agent, model),
		})
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("agent %q step %q: %w", agent.Name, step, err)
	}

	parsed := vlm.Parse(resp.Content)
	markdown := parsed.Markdown
	if len(agent.Postprocessing) > 0 {
		markdown = e.transforms.Chain(markdown, agent.Postprocessing)
	}

	var writes []blackboard.Write
	if task.Board != nil {
		writes = applyModelWrites(task.Board, parsed.Writes, step)
		writes = append(writes, e.runCodeWriters(task.Board, agent, markdown, task.PageNum, step)...)
	}

	sctx := confidence.SignalContext{
		Markdown:       markdown,
		SelfAssessment: parsed.SelfAssessment,
		TokenLogprobs:  toSignalLogprobs(resp.Logprobs),
		QualityScore:   pageQuality(task.Board, task.PageNum),
	}
	report, err := e.scorer.ComputeStep(step, agent, sctx)
	if err != nil {
		return nil, fmt.Errorf("agent %q step %q: %w", agent.Name, step, err)
	}
	if task.Board != nil {
		e.scorer.Record(task.Board, report)
	}

	usage := cache.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	modelUsed := resp.Model
	if modelUsed == "" {
		modelUsed = chain.Current()
	}

	score := report.CalibratedScore
	e.cache.Put(&cache.Entry{
		Key:              key,
		CreatedAt:        time.Now().UTC(),
		TTL:              e.cacheTTL,
		Pipeline:         task.Pipeline,
		Step:             step,
		Agent:            agent.Name,
		AgentVersion:     agent.Version,
		Markdown:         markdown,
		BlackboardWrites: writes,
		Confidence:       &score,
		Usage:            usage,
		ModelUsed:        modelUsed,
	})

	log.Printf("[Agent] %s done step %q: %d chars, %d tokens, confidence %.2f (%s)",
		agent.Name, step, len(markdown), usage.TotalTokens, report.CalibratedScore, report.Level)

	return &Result{
		Markdown:  markdown,
		Report:    report,
		ModelUsed: modelUsed,
		Usage:     usage,
	}, nil
}

// subscribedContext serializes the regions the agent declared it reads.
// The same map feeds both the prompt variables and the cache key, so a
// change in subscribed state always invalidates the key.
func (e *Engine) subscribedContext(board *blackboard.Blackboard, agent *config.AgentConfig) (map[string]any, error) {
	if board == nil || len(agent.Blackboard.Reads) == 0 {
		return nil, nil
	}
	view, err := board.Subscribe(agent.Blackboard.Reads)
	if err != nil {
		return nil, fmt.Errorf("subscribing to blackboard: %w", err)
	}
	return view.ToMap(), nil
}

// fromCache rebuilds a step result from a cache entry. The stored combined
// score is enough to re-derive the level; per-signal detail is not kept.
func (e *Engine) fromCache(entry *cache.Entry, step string, agent *config.AgentConfig, board *blackboard.Blackboard) *Result {
	result := &Result{
		Markdown:  entry.Markdown,
		ModelUsed: entry.ModelUsed,
		Usage:     entry.Usage,
		Cached:    true,
	}
	if entry.Confidence != nil {
		report := &confidence.StepReport{
			Step:            step,
			Agent:           agent.Name,
			RawScore:        *entry.Confidence,
			CalibratedScore: *entry.Confidence,
			Level:           confidence.LevelFromScore(*entry.Confidence),
			Reasoning:       "restored from cache",
		}
		result.Report = report
		if board != nil {
			e.scorer.Record(board, report)
		}
	}
	return result
}

// policyFor maps an agent's retry override onto the engine's baseline.
// Invalid overrides are logged and the baseline kept; a bad retry stanza
// should not make the agent unrunnable.
func (e *Engine) policyFor(agent *config.AgentConfig) fault.Policy {
	policy := e.retry
	rc := agent.Retry
	if rc == nil {
		return policy
	}
	if rc.MaxAttempts > 0 {
		policy.MaxAttempts = rc.MaxAttempts
	}
	if rc.Strategy != "" {
		s := fault.Strategy(rc.Strategy)
		if err := s.Validate(); err != nil {
			log.Printf("[Agent] %s: %v, keeping default strategy", agent.Name, err)
		} else {
			policy.Strategy = s
		}
	}
	if rc.InitialWait != "" {
		d, err := time.ParseDuration(rc.InitialWait)
		if err != nil || d <= 0 {
			log.Printf("[Agent] %s: bad initial_wait %q, keeping default", agent.Name, rc.InitialWait)
		} else {
			policy.InitialWait = d
		}
	}
	return policy
}

// wantsLogprobs gates the logprobs request on both the agent config and the
// model's actual support, so unsupported models never get the parameter.
func (e *Engine) wantsLogprobs(agent *config.AgentConfig, model string) bool {
	if !agent.Model.Logprobs {
		return false
	}
	if e.discovery != nil {
		return e.discovery.SupportsLogprobs(model)
	}
	return true
}

// applyModelWrites applies the <blackboard> block from a model response.
// Each top-level key names a region holding a key→value map; a non-map
// value is written under the region's own name. Failures are logged and
// skipped. Returns the writes that landed, for cache replay.
func applyModelWrites(board *blackboard.Blackboard, parsed map[string]any, actor string) []blackboard.Write {
	var applied []blackboard.Write
	for regionName, data := range parsed {
		region := blackboard.Region(regionName)
		fields, ok := data.(map[string]any)
		if !ok {
			if err := board.Write(region, regionName, data, actor); err != nil {
				log.Printf("[Agent] Skipping blackboard write %s: %v", regionName, err)
				continue
			}
			applied = append(applied, blackboard.Write{Region: region, Key: regionName, Value: data})
			continue
		}
		for key, value := range fields {
			if err := board.Write(region, key, value, actor); err != nil {
				log.Printf("[Agent] Skipping blackboard write %s/%s: %v", regionName, key, err)
				continue
			}
			applied = append(applied, blackboard.Write{Region: region, Key: key, Value: value})
		}
	}
	return applied
}

// runCodeWriters executes the agent's declared deterministic writers.
// Never fatal: a writer failure costs one derived fact, not the step.
func (e *Engine) runCodeWriters(board *blackboard.Blackboard, agent *config.AgentConfig, markdown string, pageNum int, actor string) []blackboard.Write {
	var applied []blackboard.Write
	for _, cw := range agent.Blackboard.CodeWriters {
		w, ok := e.writers.Get(cw.Function)
		if !ok {
			log.Printf("[Agent] Unknown code writer %q, skipping", cw.Function)
			continue
		}
		value, err := w.Fn(markdown, pageNum)
		if err != nil {
			log.Printf("[Agent] Code writer %q failed: %v, skipping", cw.Function, err)
			continue
		}
		pattern := cw.OutputKey
		if pattern == "" {
			pattern = w.KeyPattern
		}
		key := strings.ReplaceAll(pattern, "{page_num}", strconv.Itoa(pageNum))
		regionName, rest, found := strings.Cut(key, ".")
		if !found {
			log.Printf("[Agent] Code writer %q output key %q has no region prefix, skipping", cw.Function, key)
			continue
		}
		region := blackboard.Region(regionName)
		if err := board.Write(region, rest, value, actor); err != nil {
			log.Printf("[Agent] Code writer %q write failed: %v, skipping", cw.Function, err)
			continue
		}
		applied = append(applied, blackboard.Write{Region: region, Key: rest, Value: value})
	}
	return applied
}

// pageQuality pulls the page's assessed quality score, if any step has
// recorded one.
func pageQuality(board *blackboard.Blackboard, pageNum int) *float64 {
	if board == nil || pageNum <= 0 {
		return nil
	}
	obs, ok := board.Page(pageNum)
	if !ok {
		return nil
	}
	return obs.QualityScore
}

func toSignalLogprobs(in []vlm.TokenLogprob) []confidence.TokenLogprob {
	if len(in) == 0 {
		return nil
	}
	out := make([]confidence.TokenLogprob, len(in))
	for i, lp := range in {
		out[i] = confidence.TokenLogprob{Token: lp.Token, Logprob: lp.Logprob}
	}
	return out
}
