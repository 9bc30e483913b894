package confidence

import (
	"log"
	"sort"

	"github.com/inkwellmd/inkwell/internal/config"
)

// Calibrate remaps a raw score through the configured calibration. Models
// tend to overstate confidence; a manual curve built from spot-checked runs
// pulls scores back toward observed accuracy.
//
// Only the "manual" method is implemented: piecewise linear interpolation
// over sorted (raw, calibrated) control points, clamping to the boundary
// points outside the curve's range. "none", empty, or a nil config is the
// identity; unknown methods log a warning and pass through.
func Calibrate(raw float64, cfg *config.CalibrationConfig) float64 {
	if cfg == nil {
		return raw
	}
	switch cfg.Method {
	case "", "none":
		return raw
	case "manual":
		return interpolate(raw, cfg.Curve)
	default:
		log.Printf("[Confidence] Unknown calibration method %q, passing score through", cfg.Method)
		return raw
	}
}

func interpolate(raw float64, curve [][2]float64) float64 {
	if len(curve) == 0 {
		return raw
	}

	points := make([][2]float64, len(curve))
	copy(points, curve)
	sort.Slice(points, func(i, j int) bool { return points[i][0] < points[j][0] })

	first, last := points[0], points[len(points)-1]
	if raw <= first[0] {
		return clamp01(first[1])
	}
	if raw >= last[0] {
		return clamp01(last[1])
	}

	for i := 0; i < len(points)-1; i++ {
		lo, hi := points[i], points[i+1]
		if raw < lo[0] || raw > hi[0] {
			continue
		}
		if hi[0] == lo[0] {
			return clamp01(lo[1])
		}
		t := (raw - lo[0]) / (hi[0] - lo[0])
		return clamp01(lo[1] + t*(hi[1]-lo[1]))
	}
	return clamp01(raw)
}
