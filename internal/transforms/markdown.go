package transforms

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
)

var builtins = map[string]Func{
	"normalize_headings":  normalizeHeadings,
	"fix_table_alignment": fixTableAlignment,
	"strip_artifacts":     stripArtifacts,
	"dedup_content":       dedupContent,
	"strip_page_numbers":  stripPageNumbers,
	"add_frontmatter":     addFrontmatter,
	"embed_confidence":    embedConfidence,
	"validate_markdown":   validateMarkdown,
}

var (
	headingNoSpaceRe = regexp.MustCompile(`^(#{1,6})([^ #])`)
	headingRe        = regexp.MustCompile(`^(#{1,6})\s`)
)

// normalizeHeadings fixes missing spaces after #, flattens level jumps
// greater than one, and pads headings with blank lines.
func normalizeHeadings(markdown string, _ map[string]any) (string, error) {
	lines := strings.Split(markdown, "\n")
	var result []string
	prevLevel := 0

	for i, line := range lines {
		stripped := strings.TrimSpace(line)

		if m := headingNoSpaceRe.FindStringSubmatch(stripped); m != nil {
			stripped = m[1] + " " + stripped[len(m[1]):]
		}

		m := headingRe.FindStringSubmatch(stripped)
		if m == nil {
			result = append(result, line)
			continue
		}

		level := len(m[1])
		if prevLevel > 0 && level > prevLevel+1 {
			level = prevLevel + 1
			stripped = strings.Repeat("#", level) + stripped[len(m[1]):]
		}
		prevLevel = level

		if len(result) > 0 && strings.TrimSpace(result[len(result)-1]) != "" {
			result = append(result, "")
		}
		result = append(result, stripped)
		if i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
			result = append(result, "")
		}
	}

	return strings.Join(result, "\n"), nil
}

var separatorCellRe = regexp.MustCompile(`^:?-+:?$`)

// fixTableAlignment pads table columns to consistent widths.
func fixTableAlignment(markdown string, _ map[string]any) (string, error) {
	lines := strings.Split(markdown, "\n")
	var result, table []string

	flush := func() {
		result = append(result, alignTable(table)...)
		table = table[:0]
	}

	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if strings.Contains(stripped, "|") &&
			(strings.HasPrefix(stripped, "|") || strings.Contains(stripped, "---")) {
			table = append(table, stripped)
			continue
		}
		flush()
		result = append(result, line)
	}
	flush()

	return strings.Join(result, "\n"), nil
}

func alignTable(tableLines []string) []string {
	if len(tableLines) < 2 {
		return append([]string(nil), tableLines...)
	}

	rows := make([][]string, len(tableLines))
	separatorIdx := -1
	maxCols := 0
	for i, line := range tableLines {
		raw := strings.Split(strings.Trim(line, "|"), "|")
		cells := make([]string, len(raw))
		isSeparator := true
		for j, c := range raw {
			cells[j] = strings.TrimSpace(c)
			if cells[j] != "" && !separatorCellRe.MatchString(cells[j]) {
				isSeparator = false
			}
		}
		rows[i] = cells
		if isSeparator {
			separatorIdx = i
		}
		if len(cells) > maxCols {
			maxCols = len(cells)
		}
	}

	widths := make([]int, maxCols)
	for _, row := range rows {
		for j, cell := range row {
			if len(cell) > widths[j] {
				widths[j] = len(cell)
			}
		}
	}
	for j := range widths {
		if widths[j] < 3 {
			widths[j] = 3
		}
	}

	aligned := make([]string, len(rows))
	for i, row := range rows {
		padded := make([]string, maxCols)
		for j := 0; j < maxCols; j++ {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			if i == separatorIdx {
				padded[j] = strings.Repeat("-", widths[j])
			} else {
				padded[j] = cell + strings.Repeat(" ", widths[j]-len(cell))
			}
		}
		aligned[i] = "| " + strings.Join(padded, " | ") + " |"
	}
	return aligned
}

var artifactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`---\s*Page\s+\d+\s*---`),
	regexp.MustCompile(`(?m)^_{10,}$`),
	regexp.MustCompile(`(?m)^-{10,}$`),
	regexp.MustCompile(`(?m)^={10,}$`),
	regexp.MustCompile(`\[?\[image\]\]?`),
	regexp.MustCompile(`<\|endoftext\|>`),
}

var excessBlankRe = regexp.MustCompile(`\n{3,}`)

// stripArtifacts removes scan and model residue: page break markers, long
// rule lines, [image] placeholders. Extra patterns come from params.
func stripArtifacts(markdown string, params map[string]any) (string, error) {
	result := markdown
	for _, p := range extraPatterns(params) {
		re, err := regexp.Compile(p)
		if err != nil {
			return "", fmt.Errorf("bad artifact pattern %q: %w", p, err)
		}
		result = re.ReplaceAllString(result, "")
	}
	for _, re := range artifactPatterns {
		result = re.ReplaceAllString(result, "")
	}
	result = excessBlankRe.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result), nil
}

func extraPatterns(params map[string]any) []string {
	raw, ok := params["patterns"]
	if !ok {
		return nil
	}
	var out []string
	switch v := raw.(type) {
	case []string:
		out = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

var blockSplitRe = regexp.MustCompile(`\n{2,}`)

// dedupContent drops exact duplicate blocks, common with overlapping page
// regions.
func dedupContent(markdown string, _ map[string]any) (string, error) {
	blocks := blockSplitRe.Split(markdown, -1)
	seen := make(map[string]bool)
	var unique []string

	for _, block := range blocks {
		normalized := strings.TrimSpace(block)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		unique = append(unique, block)
	}

	return strings.Join(unique, "\n\n"), nil
}

var pageNumberRe = regexp.MustCompile(`(?mi)^\s*(?:page\s+)?-?\s*\d{1,4}\s*-?\s*$`)

// stripPageNumbers removes lines that are nothing but a page number.
func stripPageNumbers(markdown string, _ map[string]any) (string, error) {
	result := pageNumberRe.ReplaceAllString(markdown, "")
	result = excessBlankRe.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result), nil
}

// addFrontmatter prepends a YAML frontmatter block built from params.
// Existing frontmatter is left alone.
func addFrontmatter(markdown string, params map[string]any) (string, error) {
	if len(params) == 0 || strings.HasPrefix(markdown, "---\n") {
		return markdown, nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("---\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, params[k])
	}
	b.WriteString("---\n\n")
	b.WriteString(markdown)
	return b.String(), nil
}

// embedConfidence prepends the document confidence as frontmatter. Expects
// params["score"]; no score or existing frontmatter passes through.
func embedConfidence(markdown string, params map[string]any) (string, error) {
	raw, ok := params["score"]
	if !ok || strings.HasPrefix(markdown, "---\n") {
		return markdown, nil
	}
	score, ok := raw.(float64)
	if !ok {
		return markdown, nil
	}

	var level string
	switch {
	case score >= 0.8:
		level = "HIGH"
	case score >= 0.6:
		level = "MEDIUM"
	case score >= 0.3:
		level = "LOW"
	default:
		level = "FAILED"
	}

	return fmt.Sprintf("---\nconfidence: %.2f\nconfidence_level: %s\n---\n\n%s",
		score, level, markdown), nil
}

var symbolOnlyRe = regexp.MustCompile(`[#\-_=|*>\s]`)

// validateMarkdown passes markdown through unchanged but errors when it
// fails basic quality checks, so chains can surface broken output.
func validateMarkdown(markdown string, _ map[string]any) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", fmt.Errorf("markdown is empty")
	}
	if content := symbolOnlyRe.ReplaceAllString(markdown, ""); len(content) < 10 {
		return "", fmt.Errorf("markdown has no substantive content")
	}
	if strings.Count(markdown, "```")%2 != 0 {
		return "", fmt.Errorf("markdown has an unclosed code block")
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("markdown failed to parse: %w", err)
	}
	return markdown, nil
}
