// Package temporal registers a Temporal workflow and per-turn activity for an
// agent loop. Run returns ErrNotImplemented without starting a workflow, so
// no turns are driven through Temporal and no run is resumed after a crash
// (spec.md §4.7 expansion). Grounded on goa-ai's
// runtime/agent/engine/temporal package, which wires the same Client/worker
// lifecycle for its own durable workflow loop.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/relayforge/gadgetloop/loop"
	"github.com/relayforge/gadgetloop/telemetry"
)

// ErrNotImplemented is returned by Run and by the workflow's turn activity:
// dispatching a single turn of a live *loop.Loop as a replay-safe Temporal
// activity requires a process-local registry keyed by run id (Temporal
// activities cannot carry unserializable state such as a model.Client or
// *tree.Tree), and that registry does not exist yet. Run refuses to start a
// workflow it cannot drive rather than completing one having executed zero
// turns.
var ErrNotImplemented = errors.New("temporal: turn dispatch not implemented: no per-run loop registry is wired")

// Options configures the Temporal engine adapter.
type Options struct {
	Client    client.Client
	TaskQueue string
	Logger    telemetry.Logger
}

// Engine holds a worker with the agent-loop workflow and its per-turn
// activity registered. Its Run returns ErrNotImplemented and starts no
// workflow; the turn activity returns ErrNotImplemented as well.
type Engine struct {
	opts   Options
	worker worker.Worker
}

// New constructs a Temporal-backed Engine and registers its workflow and
// activity with a worker on opts.TaskQueue.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	w := worker.New(opts.Client, opts.TaskQueue, worker.Options{
		Interceptors: []interceptor{temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})},
	})
	e := &Engine{opts: opts, worker: w}
	w.RegisterWorkflow(e.runWorkflow)
	w.RegisterActivity(e.runTurnActivity)
	return e
}

type interceptor = worker.Interceptor

// Start begins polling opts.TaskQueue. Callers typically call this once at
// process startup alongside other workers.
func (e *Engine) Start() error {
	return e.worker.Start()
}

// Stop gracefully shuts the worker down.
func (e *Engine) Stop() {
	e.worker.Stop()
}

// Run implements engine.Engine by refusing to start a durable execution of l:
// no per-run registry yet exists to hand l's *loop.Loop to the turn activity
// across a replay, so Run returns ErrNotImplemented instead of starting a
// workflow it can only complete as a disguised zero-turn no-op.
func (e *Engine) Run(_ context.Context, l *loop.Loop) (loop.Result, error) {
	if l == nil {
		return loop.Result{}, fmt.Errorf("temporal: Run: loop is nil")
	}
	return loop.Result{}, ErrNotImplemented
}

// runInput is the workflow's (currently empty) durable input. A full
// implementation would carry the loop's serializable configuration, plus a
// run id, so the workflow can look its *loop.Loop up in a process-local
// registry after a worker restart; this repo keeps the wiring shape and
// defers that registry, since spec.md names no wire format for it.
type runInput struct{}

// runWorkflow drives turns one at a time via activity calls, each of which
// is individually replay-safe: Temporal persists the activity's result in
// workflow history, so a crash between turns resumes at the next one.
func (e *Engine) runWorkflow(ctx workflow.Context, input runInput) (loop.Result, error) {
	ao := workflow.ActivityOptions{StartToCloseTimeout: 5 * time.Minute}
	actCtx := workflow.WithActivityOptions(ctx, ao)

	var result loop.Result
	for {
		var turnResult turnActivityResult
		if err := workflow.ExecuteActivity(actCtx, e.runTurnActivity, input).Get(actCtx, &turnResult); err != nil {
			return loop.Result{}, err
		}
		result = turnResult.Result
		if turnResult.Done {
			return result, nil
		}
	}
}

type turnActivityResult struct {
	Result loop.Result
	Done   bool
}

// runTurnActivity would execute one turn of the loop by looking up the
// *loop.Loop bound to input's run id in a process-local registry (Temporal
// activities cannot carry unserializable state) and persisting the updated
// conversation/tree state; that registry is intentionally out of scope here,
// matching spec.md's "Persisted state: None required by the core." It
// returns ErrNotImplemented rather than fabricating a completed turn, so a
// workflow started directly against this worker (bypassing Run) fails loudly
// instead of reporting zero turns as success.
func (e *Engine) runTurnActivity(ctx context.Context, input runInput) (turnActivityResult, error) {
	return turnActivityResult{}, ErrNotImplemented
}
