// Package confidence scores extraction quality: per-step signals are
// combined with adaptive weights, calibrated, and aggregated into a
// document-level report that decides whether a human needs to look.
package confidence

// Level buckets a numeric confidence score.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
	LevelFailed Level = "failed"
)

// reviewThreshold is the calibrated score below which output is flagged
// for human review.
const reviewThreshold = 0.6

// LevelFromScore buckets a score: high >= 0.8 > medium >= 0.6 > low >= 0.3,
// anything lower is failed.
func LevelFromScore(score float64) Level {
	switch {
	case score >= 0.8:
		return LevelHigh
	case score >= 0.6:
		return LevelMedium
	case score >= 0.3:
		return LevelLow
	default:
		return LevelFailed
	}
}

// NeedsReview reports whether a calibrated score warrants human review.
func NeedsReview(score float64) bool {
	return score < reviewThreshold
}
