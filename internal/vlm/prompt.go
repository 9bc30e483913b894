package vlm

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render substitutes {{placeholder}} occurrences in a prompt template.
// Placeholders without a binding render as empty strings, so templates can
// mention optional context (previous_output on a first step, say) without
// breaking.
func Render(template string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok || value == nil {
			return ""
		}
		return stringify(value)
	})
}

// PromptVars assembles the standard template bindings for one step
// execution. Blackboard context is flattened under "bb." with dotted keys,
// matching the {{bb.region.key}} convention in agent templates.
func PromptVars(pageNum, totalPages int, previousOutput string, board map[string]any) map[string]any {
	vars := map[string]any{
		"page_num":        pageNum,
		"total_pages":     totalPages,
		"previous_output": previousOutput,
	}
	flattenInto(vars, "bb", board)
	return vars
}

func flattenInto(vars map[string]any, prefix string, value map[string]any) {
	for key, item := range value {
		full := prefix + "." + key
		if nested, ok := item.(map[string]any); ok {
			flattenInto(vars, full, nested)
			continue
		}
		vars[full] = item
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + stringify(v[k])
		}
		return strings.Join(parts, "; ")
	case float64:
		return strconvFloat(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// strconvFloat renders floats without the %v exponent notation for large
// page counts or scores.
func strconvFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
