package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/gadgetloop/gadget"
	"github.com/relayforge/gadgetloop/gadgeterr"
	"github.com/relayforge/gadgetloop/marker"
	"github.com/relayforge/gadgetloop/schema"
)

type fnGadget struct {
	name    gadget.Name
	timeout int
	fn      func(ctx context.Context, gctx *gadget.Ctx, params map[string]any) (string, error)
}

func (g fnGadget) Name() gadget.Name          { return g.name }
func (g fnGadget) Description() string        { return "" }
func (g fnGadget) Schema() schema.Validator   { return nil }
func (g fnGadget) Timeout() int               { return g.timeout }
func (g fnGadget) Execute(ctx context.Context, gctx *gadget.Ctx, params map[string]any) (string, error) {
	return g.fn(ctx, gctx, params)
}

func newExecutor(t *testing.T, def gadget.Definition, policy *gadget.ApprovalPolicy, opts ...Option) *Executor {
	t.Helper()
	r := gadget.NewRegistry()
	require.NoError(t, r.Register(def))
	return New(r, policy, opts...)
}

func TestUnknownGadgetYieldsRegistryError(t *testing.T) {
	r := gadget.NewRegistry()
	e := New(r, gadget.NewApprovalPolicy(gadget.ApprovalAllowed))
	res := e.Run(context.Background(), marker.GadgetCall{Name: "Missing", InvocationID: "1"}, &gadget.Ctx{})
	require.Error(t, res.Err)
	ge, ok := gadgeterr.As(res.Err)
	require.True(t, ok)
	assert.Equal(t, gadgeterr.KindRegistry, ge.Kind)
}

func TestUpstreamParseErrorSkipsExecution(t *testing.T) {
	called := false
	def := fnGadget{name: "Calc", fn: func(context.Context, *gadget.Ctx, map[string]any) (string, error) {
		called = true
		return "x", nil
	}}
	e := newExecutor(t, def, gadget.NewApprovalPolicy(gadget.ApprovalAllowed))
	res := e.Run(context.Background(), marker.GadgetCall{Name: "Calc", ParseError: "malformed pointer"}, &gadget.Ctx{})
	require.Error(t, res.Err)
	assert.False(t, called)
	ge, _ := gadgeterr.As(res.Err)
	assert.Equal(t, gadgeterr.KindParse, ge.Kind)
}

func TestDeniedApprovalYieldsStatusDenied(t *testing.T) {
	def := fnGadget{name: "RunCommand", fn: func(context.Context, *gadget.Ctx, map[string]any) (string, error) {
		return "ran", nil
	}}
	policy := gadget.NewApprovalPolicy(gadget.ApprovalAllowed) // RunCommand still defaults to approval-required
	e := newExecutor(t, def, policy)
	res := e.Run(context.Background(), marker.GadgetCall{Name: "RunCommand", InvocationID: "1"}, &gadget.Ctx{})
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "no interactive approval")
}

func TestApprovalGrantedExecutes(t *testing.T) {
	def := fnGadget{name: "RunCommand", fn: func(context.Context, *gadget.Ctx, map[string]any) (string, error) {
		return "ran", nil
	}}
	collaborator := stubApproval{resp: gadget.ApprovalYes}
	e := newExecutor(t, def, gadget.NewApprovalPolicy(gadget.ApprovalAllowed), WithApprovalCollaborator(collaborator))
	res := e.Run(context.Background(), marker.GadgetCall{Name: "RunCommand", InvocationID: "1"}, &gadget.Ctx{})
	require.NoError(t, res.Err)
	assert.Equal(t, "ran", res.Result)
}

type stubApproval struct{ resp gadget.ApprovalResponse }

func (s stubApproval) RequestApproval(gadget.ApprovalRequest) (gadget.ApprovalResponse, error) {
	return s.resp, nil
}

func TestTimeoutRacesExecution(t *testing.T) {
	def := fnGadget{name: "Slow", timeout: 10, fn: func(ctx context.Context, _ *gadget.Ctx, _ map[string]any) (string, error) {
		select {
		case <-time.After(time.Second):
			return "too slow", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	e := newExecutor(t, def, gadget.NewApprovalPolicy(gadget.ApprovalAllowed))
	res := e.Run(context.Background(), marker.GadgetCall{Name: "Slow", InvocationID: "1"}, &gadget.Ctx{})
	require.Error(t, res.Err)
	ge, _ := gadgeterr.As(res.Err)
	assert.Equal(t, gadgeterr.KindTimeout, ge.Kind)
}

func TestTaskCompletionBreaksLoop(t *testing.T) {
	def := fnGadget{name: "Done", fn: func(context.Context, *gadget.Ctx, map[string]any) (string, error) {
		return "", &gadget.ErrTaskComplete{Message: "all done"}
	}}
	e := newExecutor(t, def, gadget.NewApprovalPolicy(gadget.ApprovalAllowed))
	res := e.Run(context.Background(), marker.GadgetCall{Name: "Done", InvocationID: "1"}, &gadget.Ctx{})
	require.NoError(t, res.Err)
	assert.True(t, res.BreaksLoop)
	assert.Equal(t, "all done", res.Result)
}

func TestHumanInputRoundTrip(t *testing.T) {
	def := fnGadget{name: "Ask", fn: func(context.Context, *gadget.Ctx, map[string]any) (string, error) {
		return "", &gadget.ErrHumanInputRequired{Question: "continue?"}
	}}
	e := newExecutor(t, def, gadget.NewApprovalPolicy(gadget.ApprovalAllowed), WithHumanInputCollaborator(stubHumanInput{answer: "yes"}))
	res := e.Run(context.Background(), marker.GadgetCall{Name: "Ask", InvocationID: "1"}, &gadget.Ctx{})
	require.NoError(t, res.Err)
	assert.Equal(t, "yes", res.Result)
}

type stubHumanInput struct{ answer string }

func (s stubHumanInput) Ask(string) (string, bool, error) { return s.answer, false, nil }

func TestExecutionErrorClassified(t *testing.T) {
	def := fnGadget{name: "Boom", fn: func(context.Context, *gadget.Ctx, map[string]any) (string, error) {
		return "", errors.New("kaboom")
	}}
	e := newExecutor(t, def, gadget.NewApprovalPolicy(gadget.ApprovalAllowed))
	res := e.Run(context.Background(), marker.GadgetCall{Name: "Boom", InvocationID: "1"}, &gadget.Ctx{})
	require.Error(t, res.Err)
	ge, _ := gadgeterr.As(res.Err)
	assert.Equal(t, gadgeterr.KindExecution, ge.Kind)
}
