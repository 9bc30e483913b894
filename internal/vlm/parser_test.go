package vlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainMarkdown(t *testing.T) {
	p := Parse("# Title\n\nBody text.")
	assert.Equal(t, "# Title\n\nBody text.", p.Markdown)
	assert.Nil(t, p.Writes)
	assert.Empty(t, p.SelfAssessment)
}

func TestParseBlackboardBlock(t *testing.T) {
	raw := `# Invoice

Total: $42

<blackboard>
agent_notes:
  has_line_items: true
  currency: USD
</blackboard>`

	p := Parse(raw)
	assert.Equal(t, "# Invoice\n\nTotal: $42", p.Markdown)
	require.NotNil(t, p.Writes)
	notes, ok := p.Writes["agent_notes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, notes["has_line_items"])
	assert.Equal(t, "USD", notes["currency"])
}

func TestParseMalformedBlackboardYAML(t *testing.T) {
	raw := "# T\n\n<blackboard>\n[not: valid: yaml\n</blackboard>"
	p := Parse(raw)
	assert.Nil(t, p.Writes, "bad YAML is dropped, not fatal")
	assert.Equal(t, "# T", p.Markdown)
}

func TestParseConfidenceTag(t *testing.T) {
	p := Parse("# Section\n\nContent here.\n\n[confidence: HIGH]")
	assert.Equal(t, "high", p.SelfAssessment)
	assert.Equal(t, "# Section\n\nContent here.", p.Markdown)

	p = Parse("body\n[Confidence: medium]")
	assert.Equal(t, "medium", p.SelfAssessment, "tag match is case-insensitive")
}

func TestParseStripsWrappingFence(t *testing.T) {
	p := Parse("```markdown\n# Title\n\nBody.\n```")
	assert.Equal(t, "# Title\n\nBody.", p.Markdown)

	p = Parse("```\n# Title\n```")
	assert.Equal(t, "# Title", p.Markdown)

	p = Parse("```md\n# Title\n```")
	assert.Equal(t, "# Title", p.Markdown)
}

func TestParseKeepsInteriorFences(t *testing.T) {
	raw := "# Code sample\n\n```go\nfunc main() {}\n```\n\nTrailing prose."
	p := Parse(raw)
	assert.Equal(t, raw, p.Markdown)
}

func TestParseEverythingTogether(t *testing.T) {
	raw := "```markdown\n# Report\n\nFindings.\n\n[confidence: LOW]\n\n<blackboard>\nneeds_review: true\n</blackboard>\n```"
	p := Parse(raw)
	assert.Equal(t, "# Report\n\nFindings.", p.Markdown)
	assert.Equal(t, "low", p.SelfAssessment)
	require.NotNil(t, p.Writes)
	assert.Equal(t, true, p.Writes["needs_review"])
}
