package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

func conditionBoard(t *testing.T) *blackboard.Blackboard {
	t.Helper()
	board := blackboard.New()
	require.NoError(t, board.Write(blackboard.RegionDocumentMetadata, "language", "en", "test"))
	require.NoError(t, board.Write(blackboard.RegionDocumentMetadata, "layout", "two_column", "test"))
	require.NoError(t, board.Write(blackboard.RegionDocumentMetadata, "content_types", []string{"prose", "tables"}, "test"))
	require.NoError(t, board.Write(blackboard.RegionPageObservations, "3.quality_score", 0.42, "test"))
	require.NoError(t, board.Write(blackboard.RegionPageObservations, "3.table_count", 2, "test"))
	require.NoError(t, board.Write(blackboard.RegionAgentNotes, "extract.needs_review", true, "test"))
	require.NoError(t, board.Write(blackboard.RegionStepOutputs, "extract", "# Title", "test"))
	return board
}

func TestEvalCondition(t *testing.T) {
	board := conditionBoard(t)

	tests := []struct {
		expr string
		want bool
	}{
		{"metadata.language == 'en'", true},
		{"metadata.language == 'fr'", false},
		{"metadata.language != 'fr'", true},
		{"pages.3.quality_score < 0.5", true},
		{"pages.3.quality_score >= 0.5", false},
		{"pages.3.table_count > 1", true},
		{"metadata.content_types contains 'tables'", true},
		{"metadata.content_types contains 'forms'", false},
		{"outputs.extract contains 'Title'", true},
		{"notes.extract.needs_review", true},
		{"not notes.extract.needs_review", false},
		{"metadata.language == 'en' and pages.3.table_count > 1", true},
		{"metadata.language == 'fr' or pages.3.table_count > 1", true},
		{"metadata.language == 'fr' and pages.3.table_count > 1", false},
		{"(metadata.language == 'fr' or metadata.layout == 'two_column') and true", true},
		{"pages.3.quality_score == 0.42", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvalCondition(tt.expr, board)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalConditionErrors(t *testing.T) {
	board := conditionBoard(t)

	for _, expr := range []string{
		"metadata.missing_field == 'x'",
		"pages.9.quality_score > 0",
		"metadata.language ===",
		"'unterminated",
		"(metadata.language == 'en'",
		"metadata.language < 'en'",
		"bareword",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := EvalCondition(expr, board)
			assert.Error(t, err)
		})
	}
}
