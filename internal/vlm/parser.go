package vlm

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	blackboardRe = regexp.MustCompile(`(?s)<blackboard>\s*(.*?)\s*</blackboard>`)
	confidenceRe = regexp.MustCompile(`(?i)\[confidence:\s*(HIGH|MEDIUM|LOW)\]`)
)

// Parsed is a model response split into its markdown payload and the
// structured side channels the prompt asked for.
type Parsed struct {
	Markdown string

	// Writes holds the YAML body of a <blackboard> block, nil when the
	// response carried none or the YAML did not parse.
	Writes map[string]any

	// SelfAssessment is the lowercased value of a [confidence: ...] tag,
	// empty when absent.
	SelfAssessment string
}

// Parse splits raw model output into clean markdown, blackboard writes, and
// the confidence self-assessment. Malformed side channels are dropped, never
// fatal: the markdown is the payload.
func Parse(raw string) Parsed {
	var out Parsed

	if m := blackboardRe.FindStringSubmatch(raw); m != nil {
		var parsed map[string]any
		if err := yaml.Unmarshal([]byte(m[1]), &parsed); err == nil && len(parsed) > 0 {
			out.Writes = parsed
		}
	}
	markdown := strings.TrimSpace(blackboardRe.ReplaceAllString(raw, ""))

	if m := confidenceRe.FindStringSubmatch(markdown); m != nil {
		out.SelfAssessment = strings.ToLower(m[1])
		markdown = strings.TrimSpace(confidenceRe.ReplaceAllString(markdown, ""))
	}

	out.Markdown = stripWrappingFences(markdown)
	return out
}

// stripWrappingFences removes a code fence that wraps the entire output, a
// common artifact when models are asked for markdown.
func stripWrappingFences(markdown string) string {
	switch {
	case strings.HasPrefix(markdown, "```markdown"):
		markdown = markdown[len("```markdown"):]
	case strings.HasPrefix(markdown, "```md"):
		markdown = markdown[len("```md"):]
	case strings.HasPrefix(markdown, "```"):
		markdown = markdown[3:]
	}

	trimmed := strings.TrimRight(markdown, " \t\n")
	if strings.HasSuffix(trimmed, "```") {
		markdown = strings.TrimSuffix(trimmed, "```")
	}
	return strings.TrimSpace(markdown)
}
