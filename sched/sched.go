// Package sched implements the scheduler: concurrent execution of one
// batch's planned gadget calls, skip-propagation for failed dependencies,
// and the stop_on_gadget_error short-circuit (spec.md §4.5).
package sched

import (
	"context"
	"sync"

	"github.com/relayforge/gadgetloop/exec"
	"github.com/relayforge/gadgetloop/gadget"
	"github.com/relayforge/gadgetloop/gadgeterr"
	"github.com/relayforge/gadgetloop/plan"
)

// ShouldContinueFunc, if supplied, overrides StopOnGadgetError per error
// (spec.md §4.5 "A should_continue_after_error(context) → bool callback").
type ShouldContinueFunc func(failedID string, err error) bool

// Options configures one Run invocation.
type Options struct {
	// StopOnGadgetError short-circuits the batch on first failure. The zero
	// value (false) leaves the short-circuit off.
	StopOnGadgetError bool
	ShouldContinue    ShouldContinueFunc
	// Cap, if non-nil, bounds the number of concurrently running gadgets
	// across this (and possibly nested) batches (spec.md §5 subagent cap).
	Cap *ConcurrencyCap
	// NewCtx builds the per-call gadget.Ctx for an invocation id.
	NewCtx func(invocationID string) *gadget.Ctx
}

// Run executes graph's calls concurrently via executor, respecting
// dependency order, skip-propagation, and the stop-on-error policy
// (spec.md §4.5). It returns one Result per planned node in batch order.
func Run(ctx context.Context, graph *plan.Graph, executor *exec.Executor, opts Options) []exec.Result {
	var mu sync.Mutex
	completed := map[string]bool{}
	results := map[string]exec.Result{}
	skipped := map[string]string{} // id -> failed dependency id

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stopped bool

	ids := graph.IDs()
	for _, id := range ids {
		node, _ := graph.Node(id)
		switch node.Status {
		case plan.StatusUnknownDependency:
			results[id] = exec.Result{InvocationID: id, Err: gadgeterr.UnknownDependency()}
			completed[id] = true
		case plan.StatusCycle:
			results[id] = exec.Result{InvocationID: id, Err: gadgeterr.CyclicDependency()}
			completed[id] = true
		}
	}

	for {
		mu.Lock()
		if stopped {
			mu.Unlock()
			break
		}
		ready := graph.Ready(completed)
		// apply skip propagation: a ready node with a failed/skipped dependency
		// is marked skipped instead of run.
		var runnable []string
		for _, id := range ready {
			node, _ := graph.Node(id)
			if failedDep, skip := firstFailedDep(node, results, skipped); skip {
				results[id] = exec.Result{InvocationID: id, Err: gadgeterr.DependencyFailed(failedDep)}
				completed[id] = true
				skipped[id] = failedDep
				continue
			}
			runnable = append(runnable, id)
		}
		mu.Unlock()

		if len(runnable) == 0 {
			// Either every node is complete, or skip propagation has already
			// resolved everything reachable this round — no forward progress
			// is possible either way, so stop instead of busy-looping.
			break
		}

		var wg sync.WaitGroup
		for _, id := range runnable {
			id := id
			node, _ := graph.Node(id)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if opts.Cap != nil {
					if err := opts.Cap.Acquire(runCtx); err != nil {
						mu.Lock()
						results[id] = exec.Result{InvocationID: id, Err: gadgeterr.New(gadgeterr.KindExecution, "cancelled")}
						completed[id] = true
						mu.Unlock()
						return
					}
					defer opts.Cap.Release()
				}

				var gctx *gadget.Ctx
				if opts.NewCtx != nil {
					gctx = opts.NewCtx(id)
				} else {
					gctx = &gadget.Ctx{InvocationID: id}
				}
				res := executor.Run(runCtx, node.Call, gctx)

				mu.Lock()
				results[id] = res
				completed[id] = true
				if res.Err != nil && shouldStop(opts, id, res.Err) {
					stopped = true
					cancel()
				}
				mu.Unlock()
			}()
		}
		wg.Wait()
	}

	out := make([]exec.Result, 0, len(ids))
	for _, id := range ids {
		r, ok := results[id]
		if !ok {
			r = exec.Result{InvocationID: id, Err: gadgeterr.New(gadgeterr.KindExecution, "cancelled")}
		}
		out = append(out, r)
	}
	return out
}

// firstFailedDep reports the first dependency of node that failed or was
// itself skipped, so the caller can propagate the skip transitively.
func firstFailedDep(node *plan.Node, results map[string]exec.Result, skipped map[string]string) (string, bool) {
	for _, dep := range node.Call.Dependencies {
		if r, ok := results[dep]; ok && r.Err != nil {
			return dep, true
		}
		if _, ok := skipped[dep]; ok {
			return dep, true
		}
	}
	return "", false
}

func shouldStop(opts Options, failedID string, err error) bool {
	if opts.ShouldContinue != nil {
		return !opts.ShouldContinue(failedID, err)
	}
	return opts.StopOnGadgetError
}
