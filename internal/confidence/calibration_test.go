package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inkwellmd/inkwell/internal/config"
)

func TestCalibrateIdentity(t *testing.T) {
	assert.Equal(t, 0.75, Calibrate(0.75, nil))
	assert.Equal(t, 0.75, Calibrate(0.75, &config.CalibrationConfig{Method: "none"}))
	assert.Equal(t, 0.75, Calibrate(0.75, &config.CalibrationConfig{Method: "platt_scaling"}))
}

func TestCalibrateManualInterpolation(t *testing.T) {
	cfg := &config.CalibrationConfig{
		Method: "manual",
		Curve:  [][2]float64{{0.2, 0.1}, {0.8, 0.7}},
	}

	// Midpoint of the segment.
	assert.InDelta(t, 0.4, Calibrate(0.5, cfg), 1e-9)
	// Exact control points.
	assert.InDelta(t, 0.1, Calibrate(0.2, cfg), 1e-9)
	assert.InDelta(t, 0.7, Calibrate(0.8, cfg), 1e-9)
}

func TestCalibrateClampsOutsideCurve(t *testing.T) {
	cfg := &config.CalibrationConfig{
		Method: "manual",
		Curve:  [][2]float64{{0.3, 0.2}, {0.9, 0.85}},
	}
	assert.InDelta(t, 0.2, Calibrate(0.1, cfg), 1e-9, "below the curve clamps to first point")
	assert.InDelta(t, 0.85, Calibrate(0.95, cfg), 1e-9, "above the curve clamps to last point")
}

func TestCalibrateSinglePointCurveIsConstant(t *testing.T) {
	cfg := &config.CalibrationConfig{
		Method: "manual",
		Curve:  [][2]float64{{0.5, 0.6}},
	}
	assert.InDelta(t, 0.6, Calibrate(0.1, cfg), 1e-9)
	assert.InDelta(t, 0.6, Calibrate(0.9, cfg), 1e-9)
}

func TestCalibrateEmptyCurvePassesThrough(t *testing.T) {
	cfg := &config.CalibrationConfig{Method: "manual"}
	assert.Equal(t, 0.42, Calibrate(0.42, cfg))
}
