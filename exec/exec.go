// Package exec implements the gadget executor: the per-call flow of
// registry lookup, approval gating, timeout racing, human-input round-trip,
// and error classification into the gadgeterr taxonomy (spec.md §4.4).
package exec

import (
	"context"
	"errors"
	"time"

	"github.com/relayforge/gadgetloop/gadget"
	"github.com/relayforge/gadgetloop/gadgeterr"
	"github.com/relayforge/gadgetloop/marker"
	"github.com/relayforge/gadgetloop/telemetry"
)

// Result is the outcome of executing one parsed call (spec.md §4.4).
type Result struct {
	InvocationID string
	// Result is the success text fed back to the model as "Result: <...>".
	Result string
	// Err, if non-nil, is a *gadgeterr.Error describing why the call failed
	// or was denied/skipped.
	Err error
	// BreaksLoop is true when the call signalled task-completion (spec.md
	// §4.4 step 7); the agent loop ends the turn when this is set.
	BreaksLoop bool
	ElapsedMS  int64
	CostUSD    float64
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultTimeout sets the executor-wide default timeout used when a
// gadget declares none (spec.md §4.4 step 4).
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) { e.defaultTimeout = d }
}

// WithApprovalCollaborator installs the approval prompt used for
// approval-required gadgets.
func WithApprovalCollaborator(c gadget.ApprovalCollaborator) Option {
	return func(e *Executor) { e.approval = c }
}

// WithHumanInputCollaborator installs the human-input collaborator used when
// a gadget raises ErrHumanInputRequired.
func WithHumanInputCollaborator(c gadget.HumanInputCollaborator) Option {
	return func(e *Executor) { e.humanInput = c }
}

// WithLogger installs a telemetry.Logger; defaults to telemetry.NewNoopLogger().
func WithLogger(l telemetry.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// Executor runs one gadget call per the spec.md §4.4 per-call flow.
type Executor struct {
	registry       *gadget.Registry
	policy         *gadget.ApprovalPolicy
	defaultTimeout time.Duration
	approval       gadget.ApprovalCollaborator
	humanInput     gadget.HumanInputCollaborator
	logger         telemetry.Logger
}

// New constructs an Executor bound to registry and policy.
func New(registry *gadget.Registry, policy *gadget.ApprovalPolicy, opts ...Option) *Executor {
	e := &Executor{registry: registry, policy: policy, logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one parsed call, implementing spec.md §4.4 steps 1-9. ctx is
// cancelled by the caller to honor the loop's cancellation semantics
// (spec.md §5); Run returns promptly once ctx is done.
func (e *Executor) Run(ctx context.Context, call marker.GadgetCall, gctx *gadget.Ctx) Result {
	res := Result{InvocationID: call.InvocationID}
	start := time.Now()

	// step 2: upstream parse/validation error already attached
	if call.ParseError != "" {
		res.Err = gadgeterr.New(gadgeterr.KindParse, call.ParseError)
		res.ElapsedMS = time.Since(start).Milliseconds()
		return res
	}

	// step 1: registry lookup
	def, ok := e.registry.Lookup(call.Name)
	if !ok {
		res.Err = gadgeterr.Registry(call.Name, e.registry.Names())
		res.ElapsedMS = time.Since(start).Milliseconds()
		return res
	}

	// parameter decoding: validate and coerce against the gadget's schema
	params := call.Parameters
	if v := def.Schema(); v != nil {
		validated, err := v.Validate(params)
		if err != nil {
			if _, ok := gadgeterr.As(err); !ok {
				err = gadgeterr.Validation(err.Error(), nil)
			}
			res.Err = err
			res.ElapsedMS = time.Since(start).Milliseconds()
			return res
		}
		params = validated
	}

	// step 3: approval gate
	if err := e.gateApproval(def, call); err != nil {
		res.Err = err
		res.ElapsedMS = time.Since(start).Milliseconds()
		return res
	}

	// step 4-5: effective timeout, execute and race
	timeout := e.effectiveTimeout(def)
	result, breaksLoop, err := e.runWithTimeout(ctx, def, gctx, params, timeout)
	res.Result = result
	res.BreaksLoop = breaksLoop
	res.Err = err
	res.ElapsedMS = time.Since(start).Milliseconds()
	return res
}

func (e *Executor) gateApproval(def gadget.Definition, call marker.GadgetCall) error {
	mode := e.policy.Resolve(string(def.Name()))
	switch mode {
	case gadget.ApprovalAllowed:
		return nil
	case gadget.ApprovalDenied:
		return gadgeterr.ApprovalDenied("denied by configuration")
	case gadget.ApprovalRequired:
		if e.approval == nil {
			return gadgeterr.ApprovalDenied("no interactive approval collaborator available")
		}
		resp, err := e.approval.RequestApproval(gadget.ApprovalRequest{
			GadgetName: string(def.Name()),
			Parameters: call.Parameters,
		})
		if err != nil {
			return gadgeterr.Wrap(gadgeterr.KindApprovalDenied, "approval request failed", err)
		}
		switch resp {
		case gadget.ApprovalYes, gadget.ApprovalAlways:
			return nil
		default: // no, cancel
			return gadgeterr.ApprovalDenied("denied by approval collaborator")
		}
	default:
		return gadgeterr.ApprovalDenied("unknown approval mode")
	}
}

func (e *Executor) effectiveTimeout(def gadget.Definition) time.Duration {
	if ms := def.Timeout(); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return e.defaultTimeout
}

// runWithTimeout races def.Execute against timeout (0 means no timeout) and
// classifies the outcome per spec.md §4.4 steps 5-8.
func (e *Executor) runWithTimeout(ctx context.Context, def gadget.Definition, gctx *gadget.Ctx, params map[string]any, timeout time.Duration) (string, bool, error) {
	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := def.Execute(runCtx, gctx, params)
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return "", false, gadgeterr.New(gadgeterr.KindExecution, "cancelled")
		}
		return "", false, gadgeterr.Timeout("gadget execution exceeded its timeout")
	case o := <-done:
		return e.classify(o.text, o.err)
	}
}

// classify turns a gadget's raw return into the §7 error taxonomy, or a
// success/breaks-loop pair.
func (e *Executor) classify(text string, err error) (string, bool, error) {
	if err == nil {
		return text, false, nil
	}

	var complete *gadget.ErrTaskComplete
	if errors.As(err, &complete) {
		return complete.Message, true, nil
	}

	var humanInput *gadget.ErrHumanInputRequired
	if errors.As(err, &humanInput) {
		if e.humanInput == nil {
			return "", false, gadgeterr.New(gadgeterr.KindExecution, "human input required but no collaborator installed")
		}
		answer, cancelled, askErr := e.humanInput.Ask(humanInput.Question)
		if askErr != nil {
			return "", false, gadgeterr.Wrap(gadgeterr.KindExecution, "human input request failed", askErr)
		}
		if cancelled {
			return "", false, gadgeterr.New(gadgeterr.KindExecution, "human input cancelled")
		}
		return answer, false, nil
	}

	return "", false, gadgeterr.Execution(err)
}
