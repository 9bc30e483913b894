package confidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inkwellmd/inkwell/internal/config"
)

func TestVLMSelfAssessment(t *testing.T) {
	sig := vlmSelfAssessment{}

	cases := map[string]float64{
		"high":   0.9,
		"medium": 0.6,
		"low":    0.3,
		"failed": 0.1,
	}
	for tag, want := range cases {
		r := sig.Compute(SignalContext{SelfAssessment: tag})
		assert.True(t, r.Available, tag)
		assert.InDelta(t, want, r.Score, 1e-9, tag)
	}

	r := sig.Compute(SignalContext{})
	assert.False(t, r.Available, "missing tag is unavailable, not zero")
}

func TestLogprobsGeometricMean(t *testing.T) {
	sig := logprobsAnalysis{}

	// Two tokens at p=0.9 and one special token that must be skipped.
	lp := math.Log(0.9)
	r := sig.Compute(SignalContext{TokenLogprobs: []TokenLogprob{
		{Token: "Hello", Logprob: lp},
		{Token: "world", Logprob: lp},
		{Token: "<|endoftext|>", Logprob: -10},
	}})
	assert.True(t, r.Available)
	assert.InDelta(t, 0.9, r.Score, 1e-9)

	r = sig.Compute(SignalContext{})
	assert.False(t, r.Available)
}

func TestValidationPassRate(t *testing.T) {
	sig := validationPassRate{}
	rules := []config.ValidationRule{
		{Rule: "no_empty_output"},
		{Rule: "has_header"},
		{Rule: "min_length", Params: map[string]any{"min_chars": 10}},
		{Rule: "valid_markdown"},
	}

	r := sig.Compute(SignalContext{
		Markdown: "# Title\n\nSome body text here.",
		Rules:    rules,
	})
	assert.True(t, r.Available)
	assert.InDelta(t, 1.0, r.Score, 1e-9)

	r = sig.Compute(SignalContext{Markdown: "no header, short", Rules: rules})
	assert.True(t, r.Available)
	assert.InDelta(t, 0.75, r.Score, 1e-9)

	r = sig.Compute(SignalContext{Markdown: "# T", Rules: nil})
	assert.False(t, r.Available, "no rules configured")

	r = sig.Compute(SignalContext{
		Markdown: "# T",
		Rules:    []config.ValidationRule{{Rule: "nonexistent_rule"}},
	})
	assert.False(t, r.Available, "unknown rules do not count")
}

func TestValidationFenceArtifacts(t *testing.T) {
	sig := validationPassRate{}
	rules := []config.ValidationRule{{Rule: "no_fence_artifacts"}}

	r := sig.Compute(SignalContext{Markdown: "```markdown\n# T\n```", Rules: rules})
	assert.Zero(t, r.Score)

	r = sig.Compute(SignalContext{Markdown: "# T\n\nbody\n```", Rules: rules})
	assert.Zero(t, r.Score, "trailing fence counts as an artifact")

	r = sig.Compute(SignalContext{Markdown: "# T\n\n```go\ncode\n```\n\nmore", Rules: rules})
	assert.InDelta(t, 1.0, r.Score, 1e-9, "interior code blocks are fine")
}

func TestCompletenessCheck(t *testing.T) {
	sig := completenessCheck{}

	r := sig.Compute(SignalContext{
		Markdown:       "# Invoice\n\nTotal: $42\nDate: 2026-01-15",
		ExpectedFields: []string{"Total", "Date", "Vendor"},
	})
	assert.True(t, r.Available)
	assert.InDelta(t, 2.0/3.0, r.Score, 1e-9)
	assert.Contains(t, r.Reasoning, "Vendor")

	r = sig.Compute(SignalContext{Markdown: "anything"})
	assert.False(t, r.Available)
}

func TestImageQuality(t *testing.T) {
	sig := imageQuality{}

	q := 0.7
	r := sig.Compute(SignalContext{QualityScore: &q})
	assert.True(t, r.Available)
	assert.InDelta(t, 0.7, r.Score, 1e-9)

	r = sig.Compute(SignalContext{})
	assert.False(t, r.Available)
}

func TestSignalsNamed(t *testing.T) {
	all := SignalsNamed(nil)
	assert.Len(t, all, 5)

	subset := SignalsNamed([]string{SignalValidation, SignalVLMSelfAssessment})
	assert.Len(t, subset, 2)
	assert.Equal(t, SignalVLMSelfAssessment, subset[0].Name(), "canonical order preserved")
	assert.Equal(t, SignalValidation, subset[1].Name())
}
