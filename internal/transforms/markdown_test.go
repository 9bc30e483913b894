package transforms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeadings(t *testing.T) {
	out, err := normalizeHeadings("#Title\ntext\n### Deep jump", nil)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "# Title", lines[0], "missing space after # is fixed")
	assert.Contains(t, out, "## Deep jump", "h1 to h3 jump flattens to h2")
	assert.Contains(t, out, "text\n\n## Deep jump", "blank line inserted before heading")
}

func TestFixTableAlignment(t *testing.T) {
	in := "| Name | Qty |\n|---|---|\n| Widget | 2 |\n| Gadget deluxe | 10 |"
	out, err := fixTableAlignment(in, nil)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	// Every row padded to the same width.
	for _, line := range lines[1:] {
		assert.Equal(t, len(lines[0]), len(line))
	}
	assert.Equal(t, "| Name"+strings.Repeat(" ", 10)+"| Qty |", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "| ---"))
}

func TestStripArtifacts(t *testing.T) {
	in := "# Doc\n\n--- Page 3 ---\n\nContent here.\n\n__________________\n\n[image]\n\nMore."
	out, err := stripArtifacts(in, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "Page 3")
	assert.NotContains(t, out, "[image]")
	assert.NotContains(t, out, "____")
	assert.Contains(t, out, "Content here.")
	assert.NotContains(t, out, "\n\n\n", "blank runs are collapsed")
}

func TestStripArtifactsCustomPattern(t *testing.T) {
	out, err := stripArtifacts("keep DRAFT remove", map[string]any{
		"patterns": []any{`DRAFT\s*`},
	})
	require.NoError(t, err)
	assert.Equal(t, "keep remove", out)

	_, err = stripArtifacts("x", map[string]any{"patterns": []any{"("}})
	assert.Error(t, err, "invalid pattern is reported")
}

func TestDedupContent(t *testing.T) {
	in := "# Header\n\nRepeated paragraph.\n\nUnique paragraph.\n\nRepeated paragraph."
	out, err := dedupContent(in, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "Repeated paragraph."))
	assert.Contains(t, out, "Unique paragraph.")
}

func TestStripPageNumbers(t *testing.T) {
	in := "# Doc\n\nBody text.\n\n3\n\nPage 12\n\n- 7 -\n\nIn 2024 we grew."
	out, err := stripPageNumbers(in, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "\n3\n")
	assert.NotContains(t, out, "Page 12")
	assert.NotContains(t, out, "- 7 -")
	assert.Contains(t, out, "In 2024 we grew.", "numbers inside prose survive")
}

func TestAddFrontmatter(t *testing.T) {
	out, err := addFrontmatter("# Doc", map[string]any{"title": "Report", "source": "scan.png"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "---\nsource: scan.png\ntitle: Report\n---\n\n# Doc"))

	// Existing frontmatter is preserved untouched.
	out, err = addFrontmatter(out, map[string]any{"title": "Other"})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "title:"))
}

func TestEmbedConfidence(t *testing.T) {
	out, err := embedConfidence("# Doc", map[string]any{"score": 0.85})
	require.NoError(t, err)
	assert.Contains(t, out, "confidence: 0.85")
	assert.Contains(t, out, "confidence_level: HIGH")

	out, err = embedConfidence("# Doc", nil)
	require.NoError(t, err)
	assert.Equal(t, "# Doc", out)
}

func TestValidateMarkdown(t *testing.T) {
	_, err := validateMarkdown("# Valid Document\n\nWith real content in it.", nil)
	assert.NoError(t, err)

	_, err = validateMarkdown("   ", nil)
	assert.Error(t, err)

	_, err = validateMarkdown("# --- | ---", nil)
	assert.Error(t, err, "symbol-only output fails")

	_, err = validateMarkdown("# Doc\n\nSome content here\n\n```go\nunclosed", nil)
	assert.Error(t, err, "unclosed code fence fails")
}

func TestRegistryChainSkipsFailures(t *testing.T) {
	r := NewRegistry()
	r.Register("explode", func(md string, _ map[string]any) (string, error) {
		return "", assert.AnError
	})

	out := r.Chain("# Doc\n\n\n\nBody.", []string{"explode", "unknown_step", "strip_artifacts"})
	assert.Equal(t, "# Doc\n\nBody.", out, "failing and unknown steps are skipped")
}

func TestRegistryApplyUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Apply("nope", "x", nil)
	assert.Error(t, err)

	assert.Contains(t, r.Names(), "normalize_headings")
	assert.Contains(t, r.Names(), "validate_markdown")
}
