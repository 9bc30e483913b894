package confidence

import "fmt"

// StepReport is the confidence verdict for one step execution.
type StepReport struct {
	Step             string             `json:"step"`
	Agent            string             `json:"agent"`
	RawScore         float64            `json:"raw_score"`
	CalibratedScore  float64            `json:"calibrated_score"`
	Level            Level              `json:"level"`
	Signals          []SignalResult     `json:"signals"`
	EffectiveWeights map[string]float64 `json:"effective_weights"`
	Reasoning        string             `json:"reasoning"`
}

// DocumentReport aggregates step reports into one verdict for the whole
// conversion.
type DocumentReport struct {
	Overall          float64                `json:"overall"`
	Level            Level                  `json:"level"`
	NeedsHumanReview bool                   `json:"needs_human_review"`
	Steps            map[string]*StepReport `json:"steps"`
	Strategy         string                 `json:"strategy"`
	Reasoning        string                 `json:"reasoning"`
}

// AggregateScores folds per-step scores into a document score. order is the
// execution order of the steps; scores holds the calibrated score per step.
//
// Strategies:
//   - "weighted_average" (default): mean weighted by stepWeights, equal
//     weights when none are configured
//   - "minimum": the worst step decides
//   - "last_step": the final step's score, for pipelines whose last step
//     reviews everything before it
func AggregateScores(order []string, scores map[string]float64, strategy string, stepWeights map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	switch strategy {
	case "minimum":
		first := true
		var min float64
		for _, score := range scores {
			if first || score < min {
				min = score
				first = false
			}
		}
		return min

	case "last_step":
		for i := len(order) - 1; i >= 0; i-- {
			if score, ok := scores[order[i]]; ok {
				return score
			}
		}
		return 0
	}

	// weighted_average
	if len(stepWeights) > 0 {
		var total, weighted float64
		for name, score := range scores {
			w := stepWeights[name]
			total += w
			weighted += score * w
		}
		if total > 0 {
			return weighted / total
		}
	}

	var sum float64
	for _, score := range scores {
		sum += score
	}
	return sum / float64(len(scores))
}

func summarizeStep(raw, calibrated float64, level Level, signals []SignalResult) string {
	s := fmt.Sprintf("raw=%.3f; calibrated=%.3f; level=%s", raw, calibrated, level)
	detail := ""
	for _, sig := range signals {
		if !sig.Available {
			continue
		}
		if detail != "" {
			detail += ", "
		}
		detail += fmt.Sprintf("%s=%.2f", sig.Name, sig.Score)
	}
	if detail != "" {
		s += "; signals: " + detail
	}
	return s
}
