package confidence

import "fmt"

// Combine produces the weighted average of available signals. Weight
// belonging to unavailable signals is redistributed proportionally: each
// available signal's effective weight is its configured weight divided by
// the sum over available signals; when that sum is not positive the
// available signals share equally. Returns the combined score and the
// effective weights actually used.
//
// Negative configured weights are a configuration error.
func Combine(signals []SignalResult, weights map[string]float64) (float64, map[string]float64, error) {
	for name, w := range weights {
		if w < 0 {
			return 0, nil, fmt.Errorf("negative weight %v for signal %q", w, name)
		}
	}

	available := make(map[string]SignalResult)
	for _, s := range signals {
		if s.Available {
			available[s.Name] = s
		}
	}
	if len(available) == 0 {
		return 0, nil, nil
	}

	var availableSum float64
	for name := range available {
		availableSum += weights[name]
	}

	effective := make(map[string]float64, len(available))
	if availableSum <= 0 {
		equal := 1.0 / float64(len(available))
		for name := range available {
			effective[name] = equal
		}
	} else {
		for name := range available {
			effective[name] = weights[name] / availableSum
		}
	}

	var combined float64
	for name, weight := range effective {
		combined += available[name].Score * weight
	}
	return combined, effective, nil
}
