package confidence

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/inkwellmd/inkwell/internal/config"
)

// Signal names. Agent configs reference these in confidence.signals and
// confidence.weights.
const (
	SignalVLMSelfAssessment = "vlm_self_assessment"
	SignalLogprobs          = "logprobs_analysis"
	SignalValidation        = "validation_pass_rate"
	SignalCompleteness      = "completeness_check"
	SignalImageQuality      = "image_quality"
)

// DefaultWeights apply when the agent config specifies none.
var DefaultWeights = map[string]float64{
	SignalVLMSelfAssessment: 0.30,
	SignalLogprobs:          0.20,
	SignalValidation:        0.20,
	SignalCompleteness:      0.15,
	SignalImageQuality:      0.15,
}

// TokenLogprob is one generated token's log probability.
type TokenLogprob struct {
	Token   string
	Logprob float64
}

// SignalContext carries everything a signal may inspect for one step
// execution. Fields a signal needs but finds zero-valued make that signal
// unavailable rather than failing.
type SignalContext struct {
	Markdown       string
	SelfAssessment string // parsed [confidence: ...] tag, lowercased, empty when absent
	TokenLogprobs  []TokenLogprob
	Rules          []config.ValidationRule
	ExpectedFields []string
	QualityScore   *float64 // from the page observation, nil when not assessed
}

// SignalResult is one signal's verdict.
type SignalResult struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Available bool    `json:"available"`
	Reasoning string  `json:"reasoning"`
}

// Signal scores one aspect of an extraction.
type Signal interface {
	Name() string
	Compute(sctx SignalContext) SignalResult
}

// AllSignals returns the full signal set in default-weight order.
func AllSignals() []Signal {
	return []Signal{
		vlmSelfAssessment{},
		logprobsAnalysis{},
		validationPassRate{},
		completenessCheck{},
		imageQuality{},
	}
}

// SignalsNamed returns the subset of signals matching names, preserving the
// canonical order. Unknown names are ignored. An empty list means all.
func SignalsNamed(names []string) []Signal {
	if len(names) == 0 {
		return AllSignals()
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []Signal
	for _, s := range AllSignals() {
		if wanted[s.Name()] {
			out = append(out, s)
		}
	}
	return out
}

// vlmSelfAssessment maps the model's own confidence tag to a score. Free:
// the tag rides along in the response that was paid for anyway.
type vlmSelfAssessment struct{}

func (vlmSelfAssessment) Name() string { return SignalVLMSelfAssessment }

func (vlmSelfAssessment) Compute(sctx SignalContext) SignalResult {
	r := SignalResult{Name: SignalVLMSelfAssessment}
	if sctx.SelfAssessment == "" {
		r.Reasoning = "model did not provide a self-assessment"
		return r
	}
	switch strings.ToLower(sctx.SelfAssessment) {
	case "high":
		r.Score = 0.9
	case "medium":
		r.Score = 0.6
	case "low":
		r.Score = 0.3
	case "failed":
		r.Score = 0.1
	default:
		r.Score = 0.5
	}
	r.Available = true
	r.Reasoning = fmt.Sprintf("model self-assessed as %s", sctx.SelfAssessment)
	return r
}

// logprobsAnalysis scores the geometric mean of token probabilities:
// exp(mean(logprob)). Only models that return logprobs feed this.
type logprobsAnalysis struct{}

func (logprobsAnalysis) Name() string { return SignalLogprobs }

var specialTokens = map[string]bool{
	"<|endoftext|>":     true,
	"<|begin_of_text|>": true,
	"<|end_of_text|>":   true,
}

func (logprobsAnalysis) Compute(sctx SignalContext) SignalResult {
	r := SignalResult{Name: SignalLogprobs}
	if len(sctx.TokenLogprobs) == 0 {
		r.Reasoning = "model did not return logprobs"
		return r
	}

	var sum float64
	count := 0
	for _, tl := range sctx.TokenLogprobs {
		if specialTokens[tl.Token] {
			continue
		}
		sum += tl.Logprob
		count++
	}
	if count == 0 {
		r.Reasoning = "no usable logprob tokens"
		return r
	}

	score := math.Exp(sum / float64(count))
	r.Score = clamp01(score)
	r.Available = true
	r.Reasoning = fmt.Sprintf("geometric mean of %d token logprobs", count)
	return r
}

// validationPassRate runs the agent's configured output checks and scores
// the fraction that pass.
type validationPassRate struct{}

func (validationPassRate) Name() string { return SignalValidation }

func (validationPassRate) Compute(sctx SignalContext) SignalResult {
	r := SignalResult{Name: SignalValidation}
	if len(sctx.Rules) == 0 {
		r.Reasoning = "no validation rules configured"
		return r
	}

	passed, total := 0, 0
	var failed []string
	for _, rule := range sctx.Rules {
		check, ok := builtinRules[rule.Rule]
		if !ok {
			continue
		}
		total++
		if check(sctx.Markdown, rule.Params) {
			passed++
		} else {
			failed = append(failed, rule.Rule)
		}
	}
	if total == 0 {
		r.Reasoning = "no recognized validation rules"
		return r
	}

	r.Score = float64(passed) / float64(total)
	r.Available = true
	r.Reasoning = fmt.Sprintf("%d/%d rules passed", passed, total)
	if len(failed) > 0 {
		r.Reasoning += "; failed: " + strings.Join(failed, ", ")
	}
	return r
}

var headerRe = regexp.MustCompile(`(?m)^#{1,6}\s`)

var builtinRules = map[string]func(markdown string, params map[string]any) bool{
	"no_empty_output": func(md string, _ map[string]any) bool {
		return strings.TrimSpace(md) != ""
	},
	"min_length": func(md string, params map[string]any) bool {
		min := 50
		if v, ok := params["min_chars"]; ok {
			switch n := v.(type) {
			case int:
				min = n
			case float64:
				min = int(n)
			}
		}
		return len(strings.TrimSpace(md)) >= min
	},
	"has_header": func(md string, _ map[string]any) bool {
		return headerRe.MatchString(md)
	},
	"has_content_after_header": func(md string, _ map[string]any) bool {
		lines := strings.Split(strings.TrimSpace(md), "\n")
		for i, line := range lines {
			if headerRe.MatchString(line) && i == len(lines)-1 {
				return false
			}
		}
		return true
	},
	"no_fence_artifacts": func(md string, _ map[string]any) bool {
		trimmed := strings.TrimSpace(md)
		return !strings.HasPrefix(trimmed, "```") && !strings.HasSuffix(trimmed, "```")
	},
	"valid_markdown": func(md string, _ map[string]any) bool {
		var buf bytes.Buffer
		return goldmark.Convert([]byte(md), &buf) == nil
	},
}

// completenessCheck scores the fraction of expected fields found in the
// output, matched case-insensitively.
type completenessCheck struct{}

func (completenessCheck) Name() string { return SignalCompleteness }

func (completenessCheck) Compute(sctx SignalContext) SignalResult {
	r := SignalResult{Name: SignalCompleteness}
	if len(sctx.ExpectedFields) == 0 {
		r.Reasoning = "no expected fields configured"
		return r
	}

	lower := strings.ToLower(sctx.Markdown)
	found := 0
	var missing []string
	for _, field := range sctx.ExpectedFields {
		if strings.Contains(lower, strings.ToLower(field)) {
			found++
		} else {
			missing = append(missing, field)
		}
	}

	r.Score = float64(found) / float64(len(sctx.ExpectedFields))
	r.Available = true
	r.Reasoning = fmt.Sprintf("%d/%d expected fields found", found, len(sctx.ExpectedFields))
	if len(missing) > 0 {
		r.Reasoning += "; missing: " + strings.Join(missing, ", ")
	}
	return r
}

// imageQuality passes through the page observation's pre-computed quality
// score, so a bad scan drags confidence down even when extraction looks
// clean.
type imageQuality struct{}

func (imageQuality) Name() string { return SignalImageQuality }

func (imageQuality) Compute(sctx SignalContext) SignalResult {
	r := SignalResult{Name: SignalImageQuality}
	if sctx.QualityScore == nil {
		r.Reasoning = "no image quality assessment available"
		return r
	}
	r.Score = clamp01(*sctx.QualityScore)
	r.Available = true
	r.Reasoning = fmt.Sprintf("page quality score %.2f", r.Score)
	return r
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
