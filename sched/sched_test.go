package sched

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/gadgetloop/exec"
	"github.com/relayforge/gadgetloop/gadget"
	"github.com/relayforge/gadgetloop/gadgeterr"
	"github.com/relayforge/gadgetloop/marker"
	"github.com/relayforge/gadgetloop/plan"
	"github.com/relayforge/gadgetloop/schema"
)

type fnGadget struct {
	name gadget.Name
	fn   func(map[string]any) (string, error)
}

func (g fnGadget) Name() gadget.Name        { return g.name }
func (g fnGadget) Description() string      { return "" }
func (g fnGadget) Schema() schema.Validator { return nil }
func (g fnGadget) Timeout() int             { return 0 }
func (g fnGadget) Execute(_ context.Context, _ *gadget.Ctx, params map[string]any) (string, error) {
	return g.fn(params)
}

func call(name, id string, deps ...string) marker.GadgetCall {
	return marker.GadgetCall{Name: name, InvocationID: id, Dependencies: deps}
}

func newExecutorWith(t *testing.T, defs ...gadget.Definition) *exec.Executor {
	t.Helper()
	r := gadget.NewRegistry()
	for _, d := range defs {
		require.NoError(t, r.Register(d))
	}
	return exec.New(r, gadget.NewApprovalPolicy(gadget.ApprovalAllowed))
}

func TestIndependentCallsAllSucceed(t *testing.T) {
	e := newExecutorWith(t,
		fnGadget{name: "A", fn: func(map[string]any) (string, error) { return "a", nil }},
		fnGadget{name: "B", fn: func(map[string]any) (string, error) { return "b", nil }},
	)
	g := plan.Build([]marker.GadgetCall{call("A", "a"), call("B", "b")})
	results := Run(context.Background(), g, e, Options{StopOnGadgetError: true})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestFailedDependencySkipsDescendant(t *testing.T) {
	e := newExecutorWith(t,
		fnGadget{name: "A", fn: func(map[string]any) (string, error) { return "", errors.New("boom") }},
		fnGadget{name: "B", fn: func(map[string]any) (string, error) { return "b", nil }},
	)
	g := plan.Build([]marker.GadgetCall{call("A", "a"), call("B", "b", "a")})
	results := Run(context.Background(), g, e, Options{StopOnGadgetError: false})

	byID := map[string]exec.Result{}
	for _, r := range results {
		byID[r.InvocationID] = r
	}
	require.Error(t, byID["a"].Err)
	require.Error(t, byID["b"].Err)
	ge, ok := gadgeterr.As(byID["b"].Err)
	require.True(t, ok)
	assert.Equal(t, gadgeterr.KindDependencyFailed, ge.Kind)
	assert.Equal(t, "a", ge.FailedDependency)
}

func TestUnknownDependencyIsSkippedNotFailed(t *testing.T) {
	e := newExecutorWith(t,
		fnGadget{name: "B", fn: func(map[string]any) (string, error) { return "b", nil }},
	)
	g := plan.Build([]marker.GadgetCall{call("B", "b", "missing")})
	results := Run(context.Background(), g, e, Options{StopOnGadgetError: false})

	require.Len(t, results, 1)
	ge, ok := gadgeterr.As(results[0].Err)
	require.True(t, ok)
	assert.Equal(t, gadgeterr.KindDependencyFailed, ge.Kind)
	assert.Equal(t, "unknown_dependency", ge.Reason)
	assert.Empty(t, ge.FailedDependency)
}

func TestCyclicDependencyIsSkippedNotFailed(t *testing.T) {
	e := newExecutorWith(t,
		fnGadget{name: "A", fn: func(map[string]any) (string, error) { return "a", nil }},
		fnGadget{name: "B", fn: func(map[string]any) (string, error) { return "b", nil }},
	)
	g := plan.Build([]marker.GadgetCall{call("A", "a", "b"), call("B", "b", "a")})
	results := Run(context.Background(), g, e, Options{StopOnGadgetError: false})

	require.Len(t, results, 2)
	for _, r := range results {
		ge, ok := gadgeterr.As(r.Err)
		require.True(t, ok)
		assert.Equal(t, gadgeterr.KindDependencyFailed, ge.Kind)
		assert.Equal(t, "cyclic_dependency", ge.Reason)
	}
}

func TestStopOnGadgetErrorShortCircuits(t *testing.T) {
	started := make(chan struct{}, 1)
	e := newExecutorWith(t,
		fnGadget{name: "Fail", fn: func(map[string]any) (string, error) { return "", errors.New("boom") }},
		fnGadget{name: "Indep", fn: func(map[string]any) (string, error) {
			started <- struct{}{}
			return "ok", nil
		}},
		fnGadget{name: "Later", fn: func(map[string]any) (string, error) { return "later", nil }},
	)
	g := plan.Build([]marker.GadgetCall{call("Fail", "f"), call("Indep", "i"), call("Later", "l", "i")})
	results := Run(context.Background(), g, e, Options{StopOnGadgetError: true})
	require.Len(t, results, 3)
	// "l" only becomes ready after the round in which "f" failed, so it never runs.
	require.Error(t, results[2].Err)
	assert.NotEqual(t, "later", results[2].Result)
}

func TestShouldContinueOverridesStopFlag(t *testing.T) {
	e := newExecutorWith(t,
		fnGadget{name: "Fail", fn: func(map[string]any) (string, error) { return "", errors.New("boom") }},
		fnGadget{name: "B", fn: func(map[string]any) (string, error) { return "ok", nil }},
	)
	g := plan.Build([]marker.GadgetCall{call("Fail", "f"), call("B", "b")})
	results := Run(context.Background(), g, e, Options{
		StopOnGadgetError: true,
		ShouldContinue:    func(string, error) bool { return true },
	})
	byID := map[string]exec.Result{}
	for _, r := range results {
		byID[r.InvocationID] = r
	}
	assert.NoError(t, byID["b"].Err)
}
