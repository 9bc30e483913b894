package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellmd/inkwell/internal/config"
)

func steps(names ...string) []config.Step {
	out := make([]config.Step, len(names))
	for i, name := range names {
		out[i] = config.Step{Name: name, Type: config.StepAgent, Agent: name}
	}
	return out
}

func TestBuildImplicitChain(t *testing.T) {
	g, err := Build(steps("extract", "polish", "verify"))
	require.NoError(t, err)

	assert.Equal(t, []string{"extract", "polish", "verify"}, g.Nodes())
	assert.Empty(t, g.DependenciesOf("extract"))
	assert.Equal(t, []string{"extract"}, g.DependenciesOf("polish"))
	assert.Equal(t, []string{"polish"}, g.DependenciesOf("verify"))

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"extract", "polish", "verify"}, order)
}

func TestBuildExplicitDiamond(t *testing.T) {
	declared := steps("extract", "tables", "text", "merge")
	declared[1].DependsOn = []string{"extract"}
	declared[2].DependsOn = []string{"extract"}
	declared[3].DependsOn = []string{"tables", "text"}

	g, err := Build(declared)
	require.NoError(t, err)

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["extract"], pos["tables"])
	assert.Less(t, pos["extract"], pos["text"])
	assert.Less(t, pos["tables"], pos["merge"])
	assert.Less(t, pos["text"], pos["merge"])
}

func TestBuildEmptyDependsOnMeansRoot(t *testing.T) {
	declared := steps("extract", "summary")
	// An explicit empty list opts out of the implicit chain.
	declared[1].DependsOn = []string{}

	g, err := Build(declared)
	require.NoError(t, err)
	assert.Empty(t, g.DependenciesOf("summary"))
}

func TestBuildRejectsForwardReference(t *testing.T) {
	declared := steps("extract", "polish")
	declared[0].DependsOn = []string{"polish"}

	_, err := Build(declared)
	require.Error(t, err)

	var unknown *UnknownDependencyError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "extract", unknown.Step)
	assert.Equal(t, "polish", unknown.Dependency)
}

func TestBuildRejectsDuplicateNames(t *testing.T) {
	_, err := Build(steps("extract", "extract"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step name")
}

func TestBuildRejectsEmptyPipeline(t *testing.T) {
	_, err := Build(nil)
	require.Error(t, err)
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	declared := steps("extract")
	declared[0].DependsOn = []string{"extract"}

	g, err := Build(declared)
	require.NoError(t, err)

	_, err = g.TopologicalSort()
	require.Error(t, err)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, "extract", cycle.Step)
}

func TestStepLookup(t *testing.T) {
	g, err := Build(steps("extract"))
	require.NoError(t, err)

	s, ok := g.Step("extract")
	require.True(t, ok)
	assert.Equal(t, "extract", s.Agent)

	_, ok = g.Step("missing")
	assert.False(t, ok)
}
