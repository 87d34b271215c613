package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/gadgetloop/exec"
	"github.com/relayforge/gadgetloop/gadget"
	"github.com/relayforge/gadgetloop/model"
	"github.com/relayforge/gadgetloop/schema"
	"github.com/relayforge/gadgetloop/tree"
)

// scriptedStreamer replays a fixed sequence of chunks.
type scriptedStreamer struct {
	chunks []model.Chunk
	i      int
	closed bool
}

func (s *scriptedStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, errors.New("eof")
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}
func (s *scriptedStreamer) Close() error { s.closed = true; return nil }

// scriptedClient returns one scripted response per call, in order.
type scriptedClient struct {
	responses [][]model.Chunk
	calls     int
}

func (c *scriptedClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	if c.calls >= len(c.responses) {
		return &scriptedStreamer{chunks: []model.Chunk{{Type: model.ChunkTypeStop}}}, nil
	}
	s := &scriptedStreamer{chunks: c.responses[c.calls]}
	c.calls++
	return s, nil
}
func (c *scriptedClient) CountTokens(context.Context, string, []*model.Message) (int, error) {
	return 0, model.ErrCountTokensUnsupported
}

func textChunks(text string) []model.Chunk {
	return []model.Chunk{{Type: model.ChunkTypeText, Text: text}, {Type: model.ChunkTypeStop}}
}

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

func newExecutor(t *testing.T, defs ...gadget.Definition) *exec.Executor {
	t.Helper()
	r := gadget.NewRegistry()
	for _, d := range defs {
		require.NoError(t, r.Register(d))
	}
	return exec.New(r, gadget.NewApprovalPolicy(gadget.ApprovalAllowed))
}

// Scenario 1: text-only termination.
func TestScenarioTextOnlyTermination(t *testing.T) {
	tr := tree.New()
	client := &scriptedClient{responses: [][]model.Chunk{textChunks("Hello")}}
	l := New(tr, nil, Config{
		Client: client, Model: "m", Registry: gadget.NewRegistry(),
		Executor: newExecutor(t), TextOnlyPolicy: TextOnlyTerminate,
	})

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "terminate", res.EndedBecause)
}

// Scenario 2: single gadget round trip.
func TestScenarioSingleGadget(t *testing.T) {
	tr := tree.New()
	block := "!!!GADGET_START:Calc:req1\n!!!ARG:op\nadd\n!!!GADGET_END"
	client := &scriptedClient{responses: [][]model.Chunk{textChunks(block), textChunks("done")}}

	e := newExecutor(t, fnGadget{name: "Calc", fn: func(map[string]any) (string, error) { return "8", nil }})
	l := New(tr, nil, Config{
		Client: client, Model: "m", Registry: gadget.NewRegistry(), Executor: e,
		TextOnlyPolicy: TextOnlyTerminate, MaxIterations: 5,
	})

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "terminate", res.EndedBecause)

	node, ok := tr.GetNodeByInvocationID("req1")
	require.True(t, ok)
	assert.Equal(t, "8", node.Result)
	assert.Equal(t, tree.GadgetCompleted, node.State)
}

// Scenario 3: dependency chain — B starts only after A completes.
func TestScenarioDependencyChainOrdering(t *testing.T) {
	tr := tree.New()
	block := "!!!GADGET_START:A:1\n!!!GADGET_END!!!GADGET_START:B:2\n!!!ARG:dependencies/0\n1\n!!!GADGET_END"
	client := &scriptedClient{responses: [][]model.Chunk{textChunks(block), textChunks("done")}}

	var aCompletedBeforeBStarted bool
	aDone := make(chan struct{})
	e := newExecutor(t,
		fnGadget{name: "A", fn: func(map[string]any) (string, error) {
			time.Sleep(10 * time.Millisecond)
			close(aDone)
			return "a-result", nil
		}},
		fnGadget{name: "B", fn: func(map[string]any) (string, error) {
			select {
			case <-aDone:
				aCompletedBeforeBStarted = true
			default:
			}
			return "b-result", nil
		}},
	)
	l := New(tr, nil, Config{Client: client, Model: "m", Registry: gadget.NewRegistry(), Executor: e, TextOnlyPolicy: TextOnlyTerminate, MaxIterations: 5})
	_, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, aCompletedBeforeBStarted)
}

// Scenario 4: dependency failure propagates a skip to the dependent.
func TestScenarioDependencyFailureSkipsDependent(t *testing.T) {
	tr := tree.New()
	block := "!!!GADGET_START:A:1\n!!!GADGET_END!!!GADGET_START:B:2\n!!!ARG:dependencies/0\n1\n!!!GADGET_END"
	client := &scriptedClient{responses: [][]model.Chunk{textChunks(block), textChunks("done")}}

	e := newExecutor(t,
		fnGadget{name: "A", fn: func(map[string]any) (string, error) { return "", errors.New("boom") }},
		fnGadget{name: "B", fn: func(map[string]any) (string, error) { return "b-result", nil }},
	)
	l := New(tr, nil, Config{Client: client, Model: "m", Registry: gadget.NewRegistry(), Executor: e, TextOnlyPolicy: TextOnlyTerminate, MaxIterations: 5, StopOnGadgetError: false})
	_, err := l.Run(context.Background())
	require.NoError(t, err)

	bNode, ok := tr.GetNodeByInvocationID("2")
	require.True(t, ok)
	assert.Equal(t, tree.GadgetSkipped, bNode.State)
	assert.Equal(t, "1", bNode.FailedDependency)
}

// Scenario 4b: a dependency cycle skips every call in it, tagged with
// reason=cyclic_dependency rather than recorded as gadget_error.
func TestScenarioCyclicDependencySkipsEveryCall(t *testing.T) {
	tr := tree.New()
	block := "!!!GADGET_START:A:1\n!!!ARG:dependencies/0\n2\n!!!GADGET_END!!!GADGET_START:B:2\n!!!ARG:dependencies/0\n1\n!!!GADGET_END"
	client := &scriptedClient{responses: [][]model.Chunk{textChunks(block), textChunks("done")}}

	e := newExecutor(t,
		fnGadget{name: "A", fn: func(map[string]any) (string, error) { return "a-result", nil }},
		fnGadget{name: "B", fn: func(map[string]any) (string, error) { return "b-result", nil }},
	)
	l := New(tr, nil, Config{Client: client, Model: "m", Registry: gadget.NewRegistry(), Executor: e, TextOnlyPolicy: TextOnlyTerminate, MaxIterations: 5, StopOnGadgetError: false})
	_, err := l.Run(context.Background())
	require.NoError(t, err)

	aNode, ok := tr.GetNodeByInvocationID("1")
	require.True(t, ok)
	assert.Equal(t, tree.GadgetSkipped, aNode.State)
	assert.Equal(t, "cyclic_dependency", aNode.SkipReason)

	bNode, ok := tr.GetNodeByInvocationID("2")
	require.True(t, ok)
	assert.Equal(t, tree.GadgetSkipped, bNode.State)
	assert.Equal(t, "cyclic_dependency", bNode.SkipReason)
}

// Scenario 5: cancellation ends the loop promptly.
func TestScenarioCancellation(t *testing.T) {
	tr := tree.New()
	client := &scriptedClient{responses: [][]model.Chunk{textChunks("Hello")}}
	l := New(tr, nil, Config{Client: client, Model: "m", Registry: gadget.NewRegistry(), Executor: newExecutor(t), TextOnlyPolicy: TextOnlyTerminate})
	l.Cancel()

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cancelled", res.EndedBecause)
}

// Scenario 2b: approval denied renders a status=denied result message, not a panic.
func TestApprovalDeniedProducesStatusLine(t *testing.T) {
	tr := tree.New()
	block := "!!!GADGET_START:RunCommand:1\n!!!GADGET_END"
	client := &scriptedClient{responses: [][]model.Chunk{textChunks(block), textChunks("done")}}
	e := newExecutor(t, fnGadget{name: "RunCommand", fn: func(map[string]any) (string, error) { return "ran", nil }})
	l := New(tr, nil, Config{Client: client, Model: "m", Registry: gadget.NewRegistry(), Executor: e, TextOnlyPolicy: TextOnlyTerminate, MaxIterations: 5})
	_, err := l.Run(context.Background())
	require.NoError(t, err)

	node, ok := tr.GetNodeByInvocationID("1")
	require.True(t, ok)
	assert.Equal(t, tree.GadgetFailed, node.State)
	require.Len(t, l.conversation, 1)
	assert.Contains(t, l.conversation[0].Text, "status=denied")
}
