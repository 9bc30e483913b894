// Package config defines the YAML schema for pipelines, agents and runtime
// settings, with strict validation and layered settings resolution.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// StepType identifies how a pipeline step executes.
type StepType string

const (
	// StepAgent runs a vision-model agent over the selected pages.
	StepAgent StepType = "agent"

	// StepCode runs a registered deterministic transform. No model call.
	StepCode StepType = "code"

	// StepParallel runs sub-steps concurrently on blackboard branches.
	StepParallel StepType = "parallel"

	// StepPageRoute routes each page to an agent via declarative rules.
	StepPageRoute StepType = "page_route"
)

// Validate checks if the StepType is a valid enum value.
func (t StepType) Validate() error {
	switch t {
	case StepAgent, StepCode, StepParallel, StepPageRoute:
		return nil
	default:
		return fmt.Errorf("unknown step type: %q (must be 'agent', 'code', 'parallel', or 'page_route')", t)
	}
}

// InputMode declares what a step consumes: page images, text from its
// dependencies, or both.
type InputMode string

const (
	InputImage              InputMode = "image"
	InputPreviousOutput     InputMode = "previous_output"
	InputImageAndPrevious   InputMode = "image_and_previous"
	InputPreviousOutputs    InputMode = "previous_outputs"
	InputPreviousOutputOnly InputMode = "previous_output_only"
)

// Validate checks if the InputMode is a valid enum value.
func (m InputMode) Validate() error {
	switch m {
	case InputImage, InputPreviousOutput, InputImageAndPrevious,
		InputPreviousOutputs, InputPreviousOutputOnly:
		return nil
	default:
		return fmt.Errorf("unknown input mode: %q", m)
	}
}

// WantsImage reports whether the mode sends a page image to the model.
func (m InputMode) WantsImage() bool {
	return m == InputImage || m == InputImageAndPrevious
}

// RouterRule assigns explicitly-listed pages to a named agent.
type RouterRule struct {
	Pages []any  `yaml:"pages"` // page selector syntax, see Step.Pages
	Agent string `yaml:"agent"`
}

// RouterConfig configures a page_route step: rules first, remainder to the
// default agent.
type RouterConfig struct {
	Rules        []RouterRule `yaml:"rules,omitempty"`
	DefaultAgent string       `yaml:"default,omitempty"`
}

// MergeConfig selects how multiple outputs are folded into one document.
type MergeConfig struct {
	Strategy string `yaml:"strategy,omitempty"` // "concatenate" (default) or "agent"
	Agent    string `yaml:"agent,omitempty"`    // required when strategy is "agent"
}

// Validate checks the merge strategy.
func (m *MergeConfig) Validate() error {
	switch m.Strategy {
	case "", "concatenate":
		return nil
	case "agent":
		if m.Agent == "" {
			return fmt.Errorf("merge strategy 'agent' requires an agent name")
		}
		return nil
	default:
		return fmt.Errorf("unknown merge strategy: %q (must be 'concatenate' or 'agent')", m.Strategy)
	}
}

// ConfidenceStrategyConfig configures document-level confidence aggregation.
type ConfidenceStrategyConfig struct {
	Strategy    string             `yaml:"strategy,omitempty"` // weighted_average, minimum, last_step
	StepWeights map[string]float64 `yaml:"step_weights,omitempty"`
}

// Validate checks the aggregation strategy and step weights.
func (c *ConfidenceStrategyConfig) Validate() error {
	switch c.Strategy {
	case "", "weighted_average", "minimum", "last_step":
	default:
		return fmt.Errorf("unknown confidence aggregation strategy: %q", c.Strategy)
	}
	for step, w := range c.StepWeights {
		if w < 0 {
			return fmt.Errorf("confidence step weight for %q must be >= 0, got %v", step, w)
		}
	}
	return nil
}

// Step is one node of the pipeline DAG.
//
// Pages uses the page selector syntax: integers are 1-based page numbers
// (negative counts from the end), strings are half-open "start:end" ranges.
// A nil selector means all pages. DependsOn names must refer to previously
// declared steps; a step without DependsOn implicitly depends on the step
// declared immediately before it.
type Step struct {
	Name           string    `yaml:"name"`
	Type           StepType  `yaml:"type,omitempty"`
	Agent          string    `yaml:"agent,omitempty"`
	Input          InputMode `yaml:"input,omitempty"`
	Pages          []any     `yaml:"pages,omitempty"`
	DependsOn      []string  `yaml:"depends_on,omitempty"`
	Condition      string    `yaml:"condition,omitempty"`
	CrossPageAware bool      `yaml:"cross_page_aware,omitempty"`

	// parallel steps
	Steps []Step       `yaml:"steps,omitempty"`
	Merge *MergeConfig `yaml:"merge,omitempty"`

	// page_route steps
	Router *RouterConfig `yaml:"router,omitempty"`

	// code steps
	Function string         `yaml:"function,omitempty"`
	Params   map[string]any `yaml:"params,omitempty"`
}

// Validate checks one step declaration and applies per-step defaults.
func (s *Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	if s.Type == "" {
		s.Type = StepAgent
	}
	if err := s.Type.Validate(); err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}
	if s.Input == "" {
		s.Input = InputImage
	}
	if err := s.Input.Validate(); err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}
	if err := validatePageSelector(s.Pages); err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}

	switch s.Type {
	case StepAgent:
		if s.Agent == "" {
			return fmt.Errorf("step %q: agent steps require an agent name", s.Name)
		}
	case StepCode:
		if s.Function == "" {
			return fmt.Errorf("step %q: code steps require a function name", s.Name)
		}
	case StepParallel:
		if len(s.Steps) == 0 {
			return fmt.Errorf("step %q: parallel steps require at least one sub-step", s.Name)
		}
		for i := range s.Steps {
			sub := &s.Steps[i]
			if sub.Type == StepParallel {
				return fmt.Errorf("step %q: parallel steps cannot nest parallel sub-step %q", s.Name, sub.Name)
			}
			if err := sub.Validate(); err != nil {
				return err
			}
		}
		if s.Merge != nil {
			if err := s.Merge.Validate(); err != nil {
				return fmt.Errorf("step %q: %w", s.Name, err)
			}
		}
	case StepPageRoute:
		if s.Router == nil {
			return fmt.Errorf("step %q: page_route steps require a router", s.Name)
		}
		if s.Router.DefaultAgent == "" {
			return fmt.Errorf("step %q: router requires a default agent", s.Name)
		}
		for i, rule := range s.Router.Rules {
			if rule.Agent == "" {
				return fmt.Errorf("step %q: router rule %d has no agent", s.Name, i)
			}
			if err := validatePageSelector(rule.Pages); err != nil {
				return fmt.Errorf("step %q: router rule %d: %w", s.Name, i, err)
			}
		}
	}
	return nil
}

// validatePageSelector checks the selector's syntax without resolving it
// against a page count. Entries are ints or "start:end" range strings.
func validatePageSelector(raw []any) error {
	for _, item := range raw {
		switch v := item.(type) {
		case int:
			if v == 0 {
				return fmt.Errorf("page selector entries are 1-based; 0 is not a page")
			}
		case string:
			start, end, found := strings.Cut(v, ":")
			if !found {
				return fmt.Errorf("page selector string %q must be a 'start:end' range", v)
			}
			for _, part := range []string{start, end} {
				if part == "" {
					continue
				}
				if _, err := strconv.Atoi(part); err != nil {
					return fmt.Errorf("page selector range %q has a non-integer bound", v)
				}
			}
		default:
			return fmt.Errorf("page selector entries must be integers or range strings, got %T", item)
		}
	}
	return nil
}

// PipelineConfig is a declarative pipeline: an ordered step list plus
// document-level merge, confidence and postprocessing settings.
type PipelineConfig struct {
	Name           string                    `yaml:"name"`
	Version        string                    `yaml:"version,omitempty"`
	Description    string                    `yaml:"description,omitempty"`
	Steps          []Step                    `yaml:"steps"`
	PageMerge      *MergeConfig              `yaml:"page_merge,omitempty"`
	Confidence     *ConfidenceStrategyConfig `yaml:"confidence,omitempty"`
	Postprocessing []string                  `yaml:"postprocessing,omitempty"`
}

// Validate checks the pipeline declaration. Step names must be unique;
// graph-level checks (unknown dependencies, cycles) live in the graph
// package.
func (p *PipelineConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if p.Version == "" {
		p.Version = "1.0"
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline %q must have at least one step", p.Name)
	}
	seen := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		if err := step.Validate(); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		if seen[step.Name] {
			return fmt.Errorf("pipeline %q: duplicate step name %q", p.Name, step.Name)
		}
		seen[step.Name] = true
	}
	if p.PageMerge != nil {
		if err := p.PageMerge.Validate(); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
	}
	if p.Confidence != nil {
		if err := p.Confidence.Validate(); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
	}
	return nil
}

// ModelConfig selects the model an agent calls and its sampling parameters.
type ModelConfig struct {
	Preferred   string   `yaml:"preferred"`
	Fallback    []string `yaml:"fallback,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	Temperature float64  `yaml:"temperature,omitempty"`
	Logprobs    bool     `yaml:"logprobs,omitempty"`
}

// CodeWriter declares a deterministic blackboard writer run after each
// model call.
type CodeWriter struct {
	Function  string `yaml:"function"`
	OutputKey string `yaml:"output_key,omitempty"` // defaults to the writer's own key pattern
}

// BlackboardConfig declares which regions an agent reads (these feed the
// cache key) and which writers derive facts from its output.
type BlackboardConfig struct {
	Reads       []string     `yaml:"reads,omitempty"`
	Writes      []string     `yaml:"writes,omitempty"`
	CodeWriters []CodeWriter `yaml:"code_writers,omitempty"`
}

// ValidationRule names one built-in output check plus its parameters.
type ValidationRule struct {
	Rule   string         `yaml:"rule"`
	Params map[string]any `yaml:"params,omitempty"`
}

// CalibrationConfig remaps raw confidence scores. Curve points are
// [raw, calibrated] pairs sorted ascending by raw.
type CalibrationConfig struct {
	Method string       `yaml:"method,omitempty"` // "manual", "none" or empty
	Curve  [][2]float64 `yaml:"curve,omitempty"`
}

// Validate rejects non-monotonic or out-of-range curves.
func (c *CalibrationConfig) Validate() error {
	for i, pt := range c.Curve {
		if pt[0] < 0 || pt[0] > 1 || pt[1] < 0 || pt[1] > 1 {
			return fmt.Errorf("calibration curve point %d out of [0,1]: [%v, %v]", i, pt[0], pt[1])
		}
		if i > 0 {
			prev := c.Curve[i-1]
			if pt[0] < prev[0] {
				return fmt.Errorf("calibration curve must be sorted by raw score (point %d)", i)
			}
			if pt[1] < prev[1] {
				return fmt.Errorf("calibration curve must be monotonically non-decreasing (point %d)", i)
			}
		}
	}
	return nil
}

// ConfidenceConfig configures per-step confidence scoring for an agent.
// An empty Signals list means all signals. Negative weights are a
// configuration error, never silently redistributed.
type ConfidenceConfig struct {
	Signals        []string           `yaml:"signals,omitempty"`
	Weights        map[string]float64 `yaml:"weights,omitempty"`
	ExpectedFields []string           `yaml:"expected_fields,omitempty"`
	Calibration    *CalibrationConfig `yaml:"calibration,omitempty"`
}

// Validate rejects negative signal weights and bad calibration curves.
func (c *ConfidenceConfig) Validate() error {
	for name, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("confidence weight for signal %q must be >= 0, got %v", name, w)
		}
	}
	if c.Calibration != nil {
		if err := c.Calibration.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PromptConfig holds an agent's prompt templates. Templates use
// {{placeholder}} substitution: page_num, total_pages, previous_output and
// subscribed blackboard values.
type PromptConfig struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// RetryConfig overrides the default retry policy for one agent.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts,omitempty"`
	Strategy    string `yaml:"strategy,omitempty"` // exponential, linear, fixed
	InitialWait string `yaml:"initial_wait,omitempty"`
}

// AgentConfig declares one extraction agent: model, prompts, blackboard
// subscriptions, confidence scoring and output handling.
type AgentConfig struct {
	Name           string           `yaml:"name"`
	Version        string           `yaml:"version,omitempty"`
	Description    string           `yaml:"description,omitempty"`
	Model          ModelConfig      `yaml:"model"`
	Input          InputMode        `yaml:"input,omitempty"`
	Prompt         PromptConfig     `yaml:"prompt"`
	Blackboard     BlackboardConfig `yaml:"blackboard,omitempty"`
	Confidence     ConfidenceConfig `yaml:"confidence,omitempty"`
	Validation     []ValidationRule `yaml:"validation,omitempty"`
	Retry          *RetryConfig     `yaml:"retry,omitempty"`
	OutputFormat   string           `yaml:"output_format,omitempty"`
	Postprocessing []string         `yaml:"postprocessing,omitempty"`
}

// Validate checks the agent declaration and applies defaults.
func (a *AgentConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if a.Version == "" {
		a.Version = "1.0"
	}
	if a.Model.Preferred == "" {
		return fmt.Errorf("agent %q: model.preferred is required", a.Name)
	}
	if a.Model.MaxTokens == 0 {
		a.Model.MaxTokens = DefaultMaxTokens
	}
	if a.Model.MaxTokens < 1 {
		return fmt.Errorf("agent %q: model.max_tokens must be >= 1, got %d", a.Name, a.Model.MaxTokens)
	}
	if a.Input == "" {
		a.Input = InputImage
	}
	if err := a.Input.Validate(); err != nil {
		return fmt.Errorf("agent %q: %w", a.Name, err)
	}
	if a.Prompt.System == "" && a.Prompt.User == "" {
		return fmt.Errorf("agent %q: prompt.system or prompt.user is required", a.Name)
	}
	if err := a.Confidence.Validate(); err != nil {
		return fmt.Errorf("agent %q: %w", a.Name, err)
	}
	if a.Retry != nil {
		if a.Retry.MaxAttempts < 0 {
			return fmt.Errorf("agent %q: retry.max_attempts must be >= 0", a.Name)
		}
		switch a.Retry.Strategy {
		case "", "exponential", "linear", "fixed":
		default:
			return fmt.Errorf("agent %q: unknown retry strategy %q", a.Name, a.Retry.Strategy)
		}
	}
	return nil
}
