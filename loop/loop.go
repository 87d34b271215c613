// Package loop implements the agent loop driver: iteration control,
// conversation-history mutation between turns, text-only and
// text-with-gadgets handling, ephemeral trailing messages, and cancellation
// (spec.md §4.7).
package loop

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/relayforge/gadgetloop/compact"
	"github.com/relayforge/gadgetloop/exec"
	"github.com/relayforge/gadgetloop/gadget"
	"github.com/relayforge/gadgetloop/gadgeterr"
	"github.com/relayforge/gadgetloop/marker"
	"github.com/relayforge/gadgetloop/model"
	"github.com/relayforge/gadgetloop/plan"
	"github.com/relayforge/gadgetloop/sched"
	"github.com/relayforge/gadgetloop/telemetry"
	"github.com/relayforge/gadgetloop/tree"
)

// TextOnlyPolicy decides what happens when an LLM response contains no
// gadget blocks (spec.md §4.7 step 6).
type TextOnlyPolicy string

const (
	TextOnlyTerminate      TextOnlyPolicy = "terminate"
	TextOnlyAcknowledge    TextOnlyPolicy = "acknowledge"
	TextOnlyWaitForInput   TextOnlyPolicy = "wait_for_input"
	TextOnlyCustom         TextOnlyPolicy = "custom"
)

// TextOnlyDecision is what TextOnlyFunc returns for TextOnlyCustom.
type TextOnlyDecision struct {
	Policy TextOnlyPolicy // one of terminate/acknowledge/wait_for_input; custom is rejected
}

// TextOnlyFunc implements TextOnlyCustom (spec.md §4.7 "custom(fn): delegate").
type TextOnlyFunc func(ctx context.Context, assistantText string) TextOnlyDecision

// HookDecision is beforeLLMCall's verdict (spec.md §4.7 step 2).
type HookDecision struct {
	Skip             bool
	MessageOverrides []*model.Message // replaces the request's messages when non-nil
}

// BeforeLLMCallHook previews the next request before it is sent.
type BeforeLLMCallHook func(ctx context.Context, req *model.Request) HookDecision

// TextWithGadgetsWrapper re-expresses assistant text as a synthetic gadget
// call so history stays gadget-centric (spec.md §4.7 step 7).
type TextWithGadgetsWrapper struct {
	GadgetName       string
	ParameterMapping func(text string) map[string]any
	ResultMapping    func(text string) string
}

// Config configures a Loop.
type Config struct {
	Client             model.Client
	Model              string
	Temperature        float32
	MaxIterations       int
	Registry           *gadget.Registry
	Policy             *gadget.ApprovalPolicy
	Executor           *exec.Executor
	Compactor          compact.Strategy
	CompactionWindow   int // token threshold; 0 disables compaction
	TrailingMessage    func(iteration int) *model.Message
	BeforeLLMCall      BeforeLLMCallHook
	TextOnlyPolicy     TextOnlyPolicy
	TextOnlyCustomFunc TextOnlyFunc
	HumanInput         gadget.HumanInputCollaborator
	TextWithGadgets    *TextWithGadgetsWrapper
	StopOnGadgetError  bool
	ShouldContinue     sched.ShouldContinueFunc
	ConcurrencyCap     *sched.ConcurrencyCap
	MarkerPrefixes     marker.Prefixes
	Logger             telemetry.Logger
}

// Result is the outcome of running the loop to completion.
type Result struct {
	Iterations   int
	EndedBecause string // "terminate" | "task_complete" | "max_iterations" | "cancelled"
}

// Loop drives one agent-loop run against a tree (or tree view).
type Loop struct {
	cfg        Config
	conversation []*model.Message
	tree       treeHandle
	cancelled  atomic.Bool
	mu         sync.Mutex
}

// treeHandle is satisfied by both *tree.Tree (root loops) and *tree.View
// (subagent loops), matching spec.md §4.4's "constructs its own agent loop
// bound to that view" contract.
type treeHandle interface {
	AddLLMCall(iteration int, modelName string, messages []*model.Message) tree.NodeID
	Tree() *tree.Tree
}

type rootHandle struct{ t *tree.Tree }

func (r rootHandle) AddLLMCall(iteration int, modelName string, messages []*model.Message) tree.NodeID {
	return r.t.AddLLMCall("", 0, iteration, modelName, messages)
}
func (r rootHandle) Tree() *tree.Tree { return r.t }

// New constructs a Loop rooted at t with the given initial conversation.
func New(t *tree.Tree, conversation []*model.Message, cfg Config) *Loop {
	return newLoop(rootHandle{t: t}, conversation, cfg)
}

// NewView constructs a Loop bound to a subagent's tree view (spec.md §4.4).
func NewView(v *tree.View, conversation []*model.Message, cfg Config) *Loop {
	return newLoop(v, conversation, cfg)
}

func newLoop(h treeHandle, conversation []*model.Message, cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.MarkerPrefixes == (marker.Prefixes{}) {
		cfg.MarkerPrefixes = marker.DefaultPrefixes()
	}
	return &Loop{cfg: cfg, conversation: append([]*model.Message{}, conversation...), tree: h}
}

// Cancel trips the loop's cancellation flag (spec.md §5: one-shot and
// sticky). Run checks the flag before each iteration and between provider
// chunks, so no new provider request starts afterward. A gadget batch already
// handed to the scheduler is not interrupted: it drains and still starts any
// of its gadgets that become ready.
func (l *Loop) Cancel() {
	l.cancelled.Store(true)
}

// InjectMessage appends a message to the conversation between turns and
// surfaces it as a text event on the last LLM-call node for display
// correlation, without retroactively attaching to that node (spec.md §4.7
// "Mid-session injection").
func (l *Loop) InjectMessage(msg *model.Message) {
	l.mu.Lock()
	l.conversation = append(l.conversation, msg)
	l.mu.Unlock()
	t := l.tree.Tree()
	var last *tree.Node
	for _, id := range t.AllNodeIDs() {
		if n, ok := t.GetNode(id); ok && n.Kind == tree.KindLLMCall && (last == nil || n.CreatedAt.After(last.CreatedAt)) {
			last = n
		}
	}
	if last != nil {
		t.EmitText(last.ID, msg.String())
	}
}

// Run drives the loop to completion, implementing spec.md §4.7 steps 1-10.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	iteration := 1
	for {
		if l.cancelled.Load() {
			return Result{Iterations: iteration - 1, EndedBecause: "cancelled"}, nil
		}

		// step 1: pre-call compaction
		if l.cfg.Compactor != nil && l.cfg.CompactionWindow > 0 {
			est := compact.EstimateTokens(l.conversation)
			if res, ok, err := l.cfg.Compactor.Compact(ctx, l.conversation, est, l.cfg.CompactionWindow); err == nil && ok {
				l.conversation = res.Messages
				l.tree.Tree().EmitCompaction(res.TokensBefore, res.TokensAfter, res.MessagesBefore, res.MessagesAfter)
			}
		}

		req := &model.Request{Model: l.cfg.Model, Temperature: l.cfg.Temperature, Messages: append([]*model.Message{}, l.conversation...)}
		if trailing := l.trailingMessage(iteration); trailing != nil {
			req.Messages = append(req.Messages, trailing)
		}

		// step 2: beforeLLMCall hook
		if l.cfg.BeforeLLMCall != nil {
			decision := l.cfg.BeforeLLMCall(ctx, req)
			if decision.Skip {
				return Result{Iterations: iteration, EndedBecause: "terminate"}, nil
			}
			if decision.MessageOverrides != nil {
				req.Messages = decision.MessageOverrides
			}
		}

		if l.cancelled.Load() {
			return Result{Iterations: iteration - 1, EndedBecause: "cancelled"}, nil
		}

		turn, err := l.runTurn(ctx, iteration, req)
		if err != nil {
			return Result{Iterations: iteration, EndedBecause: "cancelled"}, err
		}

		if turn.endedBecause != "" {
			return Result{Iterations: iteration, EndedBecause: turn.endedBecause}, nil
		}

		iteration++
		if l.cfg.MaxIterations > 0 && iteration > l.cfg.MaxIterations {
			return Result{Iterations: iteration - 1, EndedBecause: "max_iterations"}, nil
		}
	}
}

// trailingMessage resolves the configured ephemeral trailing message for
// this iteration, if any (spec.md §4.7 "Ephemeral trailing messages are
// appended here and never persisted").
func (l *Loop) trailingMessage(iteration int) *model.Message {
	if l.cfg.TrailingMessage == nil {
		return nil
	}
	return l.cfg.TrailingMessage(iteration)
}

type turnOutcome struct {
	endedBecause string
}

// runTurn executes one full turn: opening the LLM-call node, streaming
// through the marker parser, planning/scheduling gadgets, and appending
// their results as the next user turn (spec.md §4.7 steps 3-9).
func (l *Loop) runTurn(ctx context.Context, iteration int, req *model.Request) (turnOutcome, error) {
	llmID := l.tree.AddLLMCall(iteration, req.Model, req.Messages)

	p := marker.New(l.cfg.MarkerPrefixes)
	var accumulated string
	var calls []marker.GadgetCall

	stream, err := l.cfg.Client.Stream(ctx, req)
	if err != nil {
		l.tree.Tree().FailLLMCall(llmID, err.Error())
		return turnOutcome{}, err
	}

	var usage model.TokenUsage
	var finishReason string
streamLoop:
	for {
		if l.cancelled.Load() {
			_ = stream.Close()
			l.tree.Tree().FailLLMCall(llmID, "cancelled")
			return turnOutcome{endedBecause: "cancelled"}, nil
		}
		chunk, err := stream.Recv()
		if err != nil {
			break streamLoop
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			events := p.Feed(chunk.Text)
			l.handleParserEvents(llmID, events, &accumulated, &calls)
		case model.ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				usage = *chunk.UsageDelta
			}
		case model.ChunkTypeStop:
			finishReason = chunk.FinishReason
		}
	}
	_ = stream.Close()
	l.handleParserEvents(llmID, p.Close(), &accumulated, &calls)

	// step 5: close the LLM-call node
	l.tree.Tree().CompleteLLMCall(llmID, usage, 0, finishReason)

	if len(calls) == 0 {
		return l.handleTextOnly(ctx, accumulated)
	}

	// step 7: text-with-gadgets wrapper
	if l.cfg.TextWithGadgets != nil && accumulated != "" {
		w := l.cfg.TextWithGadgets
		calls = append(calls, marker.GadgetCall{
			Name:       w.GadgetName,
			Parameters: w.ParameterMapping(accumulated),
		})
	}

	return l.runGadgets(ctx, llmID, calls)
}

// handleParserEvents forwards TextChunk events to the tree and accumulates
// response text; GadgetBlock events are recorded as pending gadget nodes.
func (l *Loop) handleParserEvents(llmID tree.NodeID, events []marker.Event, accumulated *string, calls *[]marker.GadgetCall) {
	for _, e := range events {
		switch e.Type {
		case marker.EventText:
			if e.Text == "" {
				continue
			}
			*accumulated += e.Text
			l.tree.Tree().AppendLLMResponse(llmID, e.Text)
		case marker.EventGadget:
			*calls = append(*calls, e.Gadget)
			l.tree.Tree().AddGadget(llmID, e.Gadget.InvocationID, e.Gadget.Name, e.Gadget.Parameters, e.Gadget.Dependencies)
		}
	}
}

// handleTextOnly implements spec.md §4.7 step 6.
func (l *Loop) handleTextOnly(ctx context.Context, assistantText string) (turnOutcome, error) {
	policy := l.cfg.TextOnlyPolicy
	if policy == "" {
		policy = TextOnlyTerminate
	}
	if policy == TextOnlyCustom && l.cfg.TextOnlyCustomFunc != nil {
		policy = l.cfg.TextOnlyCustomFunc(ctx, assistantText).Policy
	}

	switch policy {
	case TextOnlyTerminate:
		return turnOutcome{endedBecause: "terminate"}, nil
	case TextOnlyAcknowledge:
		l.mu.Lock()
		l.conversation = append(l.conversation, &model.Message{Role: model.RoleAssistant, Text: ""})
		l.mu.Unlock()
		return turnOutcome{}, nil
	case TextOnlyWaitForInput:
		if l.cfg.HumanInput == nil {
			return turnOutcome{endedBecause: "terminate"}, nil
		}
		answer, cancelled, err := l.cfg.HumanInput.Ask(assistantText)
		if err != nil || cancelled {
			return turnOutcome{endedBecause: "terminate"}, err
		}
		l.mu.Lock()
		l.conversation = append(l.conversation, &model.Message{Role: model.RoleUser, Text: answer})
		l.mu.Unlock()
		return turnOutcome{}, nil
	default:
		return turnOutcome{endedBecause: "terminate"}, nil
	}
}

// runGadgets plans and runs the batch, appends result messages, and reports
// task-completion (spec.md §4.7 steps 8-9).
func (l *Loop) runGadgets(ctx context.Context, llmID tree.NodeID, calls []marker.GadgetCall) (turnOutcome, error) {
	graph := plan.Build(calls)

	opts := sched.Options{
		StopOnGadgetError: l.cfg.StopOnGadgetError,
		ShouldContinue:    l.cfg.ShouldContinue,
		Cap:               l.cfg.ConcurrencyCap,
		NewCtx: func(invocationID string) *gadget.Ctx {
			return &gadget.Ctx{
				InvocationID: invocationID,
				ModelConfig:  gadget.ModelConfig{Model: l.cfg.Model, Temperature: l.cfg.Temperature},
			}
		},
	}

	for _, id := range graph.IDs() {
		if n, ok := graph.Node(id); ok && n.Status == plan.StatusReady {
			if node, ok := l.tree.Tree().GetNodeByInvocationID(n.Call.InvocationID); ok {
				l.tree.Tree().StartGadget(node.ID)
			}
		}
	}

	results := sched.Run(ctx, graph, l.cfg.Executor, opts)

	breaksLoop := false
	for _, res := range results {
		node, ok := l.tree.Tree().GetNodeByInvocationID(res.InvocationID)
		if !ok {
			continue
		}
		if res.Err != nil {
			if ge, ok := gadgeterr.As(res.Err); ok && ge.Kind == gadgeterr.KindDependencyFailed {
				l.tree.Tree().SkipGadget(node.ID, ge.FailedDependency, ge.Reason)
			} else {
				l.tree.Tree().CompleteGadget(node.ID, "", res.ElapsedMS, res.CostUSD, nil, res.Err.Error())
			}
			l.appendResultMessage(statusLine(res.Err))
			continue
		}
		l.tree.Tree().CompleteGadget(node.ID, res.Result, res.ElapsedMS, res.CostUSD, nil, "")
		l.appendResultMessage("Result: " + res.Result)
		if res.BreaksLoop {
			breaksLoop = true
		}
	}

	if breaksLoop {
		return turnOutcome{endedBecause: "task_complete"}, nil
	}
	return turnOutcome{}, nil
}

func (l *Loop) appendResultMessage(text string) {
	l.mu.Lock()
	l.conversation = append(l.conversation, &model.Message{Role: model.RoleUser, Text: text})
	l.mu.Unlock()
}

func statusLine(err error) string {
	if ge, ok := gadgeterr.As(err); ok {
		return ge.StatusLine()
	}
	return "status=error; " + err.Error()
}
