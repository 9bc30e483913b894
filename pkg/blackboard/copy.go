package blackboard

import "fmt"

// Deep-copy and coercion helpers. Values entering the board often come from
// YAML decoding (map[string]any, []any, int or float64 scalars) and must be
// copied on the way in and out to preserve the board's value semantics.

func copyMetadata(m DocumentMetadata) DocumentMetadata {
	out := m
	out.ContentTypes = append([]string(nil), m.ContentTypes...)
	out.Extra = copyAnyMap(m.Extra)
	return out
}

func copyObservation(o PageObservation) PageObservation {
	out := o
	out.ContentTypes = append([]string(nil), o.ContentTypes...)
	if o.QualityScore != nil {
		score := *o.QualityScore
		out.QualityScore = &score
	}
	if o.TableCount != nil {
		count := *o.TableCount
		out.TableCount = &count
	}
	out.UncertainRegions = copyUncertainRegions(o.UncertainRegions)
	out.Extra = copyAnyMap(o.Extra)
	return out
}

func copyUncertainRegions(regions []UncertainRegion) []UncertainRegion {
	if regions == nil {
		return nil
	}
	return append([]UncertainRegion(nil), regions...)
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyAnyMap(val)
	case map[string]float64:
		return copyFloatMap(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case map[int]map[string]any:
		out := make(map[int]map[string]any, len(val))
		for k, m := range val {
			out[k] = copyAnyMap(m)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []UncertainRegion:
		return copyUncertainRegions(val)
	default:
		// Scalars (and structs stored by value) copy on assignment.
		return v
	}
}

// toAnyMap normalizes map-shaped values. YAML decoding can produce either
// string-keyed or any-keyed maps depending on the document.
func toAnyMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloatMap(v any) (map[string]float64, error) {
	if scores, ok := v.(map[string]float64); ok {
		return copyFloatMap(scores), nil
	}
	m, ok := toAnyMap(v)
	if !ok {
		return nil, fmt.Errorf("expected a map of signal scores, got %T", v)
	}
	out := make(map[string]float64, len(m))
	for name, raw := range m {
		score, ok := asFloat(raw)
		if !ok {
			return nil, fmt.Errorf("signal %q score must be numeric, got %T", name, raw)
		}
		out[name] = score
	}
	return out, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asStringSlice(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func asUncertainRegions(v any) ([]UncertainRegion, error) {
	switch list := v.(type) {
	case []UncertainRegion:
		return copyUncertainRegions(list), nil
	case []any:
		out := make([]UncertainRegion, 0, len(list))
		for _, item := range list {
			m, ok := toAnyMap(item)
			if !ok {
				return nil, fmt.Errorf("uncertain_regions entries must be maps, got %T", item)
			}
			ur := UncertainRegion{}
			if page, ok := asInt(m["page"]); ok {
				ur.Page = page
			}
			if area, ok := m["area"].(string); ok {
				ur.Area = area
			}
			if reason, ok := m["reason"].(string); ok {
				ur.Reason = reason
			}
			if conf, ok := m["confidence"].(string); ok {
				ur.Confidence = conf
			}
			out = append(out, ur)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("uncertain_regions must be a list, got %T", v)
	}
}
