package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/gadgetloop/marker"
)

func call(name, id string, deps ...string) marker.GadgetCall {
	return marker.GadgetCall{Name: name, InvocationID: id, Dependencies: deps}
}

func TestReadyWithNoDependencies(t *testing.T) {
	g := Build([]marker.GadgetCall{call("Calc", "a"), call("Calc", "b")})
	ready := g.Ready(map[string]bool{})
	assert.ElementsMatch(t, []string{"a", "b"}, ready)
}

func TestLinearChainOrdering(t *testing.T) {
	g := Build([]marker.GadgetCall{call("A", "a"), call("B", "b", "a")})
	ready := g.Ready(map[string]bool{})
	assert.Equal(t, []string{"a"}, ready)

	ready = g.Ready(map[string]bool{"a": true})
	assert.Equal(t, []string{"b"}, ready)
}

func TestUnknownDependencyMarked(t *testing.T) {
	g := Build([]marker.GadgetCall{call("A", "a", "ghost")})
	n, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, StatusUnknownDependency, n.Status)
	assert.Equal(t, []string{"ghost"}, n.MissingDeps)
	assert.Empty(t, g.Ready(map[string]bool{}))
}

func TestCycleDetection(t *testing.T) {
	g := Build([]marker.GadgetCall{call("A", "a", "b"), call("B", "b", "a")})
	na, _ := g.Node("a")
	nb, _ := g.Node("b")
	assert.Equal(t, StatusCycle, na.Status)
	assert.Equal(t, StatusCycle, nb.Status)
	assert.Empty(t, g.Ready(map[string]bool{}))
}

func TestCycleDoesNotBlockIndependentNodes(t *testing.T) {
	g := Build([]marker.GadgetCall{call("A", "a", "b"), call("B", "b", "a"), call("C", "c")})
	ready := g.Ready(map[string]bool{})
	assert.Equal(t, []string{"c"}, ready)
}
