package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTTL parses a time-to-live specification into a duration.
// Supports two formats:
//   - Go duration format: "90s", "30m", "1h30m", "168h"
//   - Day shorthand: "7d" (days are not a Go duration unit)
//
// A bare number is rejected so that config files stay explicit about units.
func ParseTTL(spec string) (time.Duration, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty TTL specification")
	}

	if days, ok := strings.CutSuffix(spec, "d"); ok {
		if n, err := strconv.ParseFloat(days, 64); err == nil {
			if n <= 0 {
				return 0, fmt.Errorf("TTL must be positive: %s", spec)
			}
			return time.Duration(n * 24 * float64(time.Hour)), nil
		}
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("TTL must be positive: %s", spec)
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid TTL specification: %s (use a duration like '30m', '168h' or days like '7d')", spec)
}

// ParseTTLOrDefault parses spec, falling back to def when spec is empty.
func ParseTTLOrDefault(spec string, def time.Duration) (time.Duration, error) {
	if spec == "" {
		return def, nil
	}
	return ParseTTL(spec)
}
