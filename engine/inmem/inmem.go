// Package inmem is the default engine: it runs an agent loop in the calling
// goroutine tree, exactly the semantics every scenario in spec.md §8
// describes. Grounded on goa-ai's runtime/agent/engine/inmem package, which
// plays the same "no durable execution, just run it" role alongside
// engine/temporal.
package inmem

import (
	"context"

	"github.com/relayforge/gadgetloop/loop"
)

// Engine runs the loop directly, with no persistence or replay support.
type Engine struct{}

// New constructs the in-memory Engine.
func New() *Engine { return &Engine{} }

// Run implements engine.Engine.
func (Engine) Run(ctx context.Context, l *loop.Loop) (loop.Result, error) {
	return l.Run(ctx)
}
