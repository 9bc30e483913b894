package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

func extractorConfig() *config.AgentConfig {
	return &config.AgentConfig{
		Name: "text-extractor",
		Validation: []config.ValidationRule{
			{Rule: "no_empty_output"},
			{Rule: "has_header"},
		},
	}
}

func TestComputeStep(t *testing.T) {
	engine := NewEngine()

	report, err := engine.ComputeStep("extract", extractorConfig(), SignalContext{
		Markdown:       "# Chapter 1\n\nThe body of the chapter.",
		SelfAssessment: "high",
	})
	require.NoError(t, err)

	assert.Equal(t, "extract", report.Step)
	assert.Equal(t, "text-extractor", report.Agent)
	assert.Len(t, report.Signals, 5)

	// Only self-assessment (0.9) and validation (1.0) are available; their
	// weights 0.30 and 0.20 normalize to 0.6 and 0.4.
	assert.InDelta(t, 0.9*0.6+1.0*0.4, report.RawScore, 1e-9)
	assert.Equal(t, report.RawScore, report.CalibratedScore, "no calibration configured")
	assert.Equal(t, LevelHigh, report.Level)
	assert.Contains(t, report.Reasoning, "level=high")
}

func TestComputeStepNoSignalsAvailable(t *testing.T) {
	engine := NewEngine()

	report, err := engine.ComputeStep("extract", &config.AgentConfig{Name: "a"}, SignalContext{
		Markdown: "plain output, nothing to judge it by",
	})
	require.NoError(t, err)
	assert.Zero(t, report.RawScore)
	assert.Equal(t, LevelFailed, report.Level)
}

func TestComputeStepAppliesCalibration(t *testing.T) {
	engine := NewEngine()
	cfg := extractorConfig()
	cfg.Confidence.Calibration = &config.CalibrationConfig{
		Method: "manual",
		Curve:  [][2]float64{{0.0, 0.0}, {1.0, 0.5}},
	}

	report, err := engine.ComputeStep("extract", cfg, SignalContext{
		Markdown:       "# H\n\nbody",
		SelfAssessment: "high",
	})
	require.NoError(t, err)
	assert.InDelta(t, report.RawScore*0.5, report.CalibratedScore, 1e-9)
	assert.Less(t, report.CalibratedScore, report.RawScore)
}

func TestRecordWritesSignalRegion(t *testing.T) {
	engine := NewEngine()
	board := blackboard.New()

	engine.Record(board, &StepReport{
		Step:            "extract",
		Agent:           "text-extractor",
		CalibratedScore: 0.85,
		Level:           LevelHigh,
		Signals: []SignalResult{
			{Name: SignalVLMSelfAssessment, Score: 0.9, Available: true},
			{Name: SignalLogprobs, Available: false},
		},
	})

	value, err := board.Read(blackboard.RegionConfidenceSignals, "extract", "test")
	require.NoError(t, err)
	scores, ok := value.(map[string]float64)
	require.True(t, ok)
	assert.InDelta(t, 0.85, scores["score"], 1e-9)
	assert.InDelta(t, 0.9, scores[SignalVLMSelfAssessment], 1e-9)
	assert.NotContains(t, scores, SignalLogprobs, "unavailable signals are omitted")
}

func TestAggregateDocumentStrategies(t *testing.T) {
	engine := NewEngine()
	order := []string{"classify", "extract", "review"}
	reports := map[string]*StepReport{
		"classify": {Step: "classify", CalibratedScore: 0.9},
		"extract":  {Step: "extract", CalibratedScore: 0.5},
		"review":   {Step: "review", CalibratedScore: 0.7},
	}

	doc := engine.AggregateDocument(order, reports, nil)
	assert.Equal(t, "weighted_average", doc.Strategy)
	assert.InDelta(t, 0.7, doc.Overall, 1e-9)
	assert.Equal(t, LevelMedium, doc.Level)
	assert.False(t, doc.NeedsHumanReview)

	doc = engine.AggregateDocument(order, reports, &config.ConfidenceStrategyConfig{Strategy: "minimum"})
	assert.InDelta(t, 0.5, doc.Overall, 1e-9)
	assert.True(t, doc.NeedsHumanReview)

	doc = engine.AggregateDocument(order, reports, &config.ConfidenceStrategyConfig{Strategy: "last_step"})
	assert.InDelta(t, 0.7, doc.Overall, 1e-9)

	doc = engine.AggregateDocument(order, reports, &config.ConfidenceStrategyConfig{
		Strategy:    "weighted_average",
		StepWeights: map[string]float64{"extract": 3, "review": 1},
	})
	assert.InDelta(t, (0.5*3+0.7*1)/4, doc.Overall, 1e-9)
}

func TestAggregateDocumentEmpty(t *testing.T) {
	engine := NewEngine()
	doc := engine.AggregateDocument(nil, map[string]*StepReport{}, nil)
	assert.Zero(t, doc.Overall)
	assert.Equal(t, LevelFailed, doc.Level)
	assert.True(t, doc.NeedsHumanReview)
}
