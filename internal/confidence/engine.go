package confidence

import (
	"fmt"
	"log"

	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// Engine runs the full scoring flow for a step: collect configured signals,
// combine, calibrate, bucket into a level.
type Engine struct{}

// NewEngine creates a confidence engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ComputeStep scores one step execution. The agent config chooses which
// signals run and their weights; sctx.Rules and sctx.ExpectedFields are
// filled from the config so callers only provide the execution artifacts.
func (e *Engine) ComputeStep(step string, agent *config.AgentConfig, sctx SignalContext) (*StepReport, error) {
	sctx.Rules = agent.Validation
	sctx.ExpectedFields = agent.Confidence.ExpectedFields

	var results []SignalResult
	for _, s := range SignalsNamed(agent.Confidence.Signals) {
		results = append(results, s.Compute(sctx))
	}

	weights := agent.Confidence.Weights
	if len(weights) == 0 {
		weights = DefaultWeights
	}

	raw, effective, err := Combine(results, weights)
	if err != nil {
		return nil, fmt.Errorf("combining confidence signals for step %q: %w", step, err)
	}

	calibrated := Calibrate(raw, agent.Confidence.Calibration)
	level := LevelFromScore(calibrated)

	return &StepReport{
		Step:             step,
		Agent:            agent.Name,
		RawScore:         raw,
		CalibratedScore:  calibrated,
		Level:            level,
		Signals:          results,
		EffectiveWeights: effective,
		Reasoning:        summarizeStep(raw, calibrated, level, results),
	}, nil
}

// Record publishes a step report's signal scores into the confidence
// region, keyed by step name. The region holds numeric scores only; the
// level is derivable from the combined score.
func (e *Engine) Record(board *blackboard.Blackboard, report *StepReport) {
	scores := map[string]float64{
		"score": report.CalibratedScore,
	}
	for _, s := range report.Signals {
		if s.Available {
			scores[s.Name] = s.Score
		}
	}
	if err := board.Write(blackboard.RegionConfidenceSignals, report.Step, scores, report.Agent); err != nil {
		log.Printf("[Confidence] Failed to record signals for step %s: %v", report.Step, err)
	}
}

// AggregateDocument folds step reports into the document-level verdict.
// order is the execution order of the steps; a nil cfg uses the default
// weighted average.
func (e *Engine) AggregateDocument(order []string, reports map[string]*StepReport, cfg *config.ConfidenceStrategyConfig) *DocumentReport {
	strategy := "weighted_average"
	var stepWeights map[string]float64
	if cfg != nil {
		if cfg.Strategy != "" {
			strategy = cfg.Strategy
		}
		stepWeights = cfg.StepWeights
	}

	scores := make(map[string]float64, len(reports))
	for name, report := range reports {
		scores[name] = report.CalibratedScore
	}

	overall := AggregateScores(order, scores, strategy, stepWeights)
	return &DocumentReport{
		Overall:          overall,
		Level:            LevelFromScore(overall),
		NeedsHumanReview: NeedsReview(overall),
		Steps:            reports,
		Strategy:         strategy,
		Reasoning:        fmt.Sprintf("aggregated %d steps via %s: %.3f", len(reports), strategy, overall),
	}
}
