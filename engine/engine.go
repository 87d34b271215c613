// Package engine abstracts how an agent loop's turns are actually driven:
// in-process (engine/inmem, the default for every scenario spec.md
// describes) or through Temporal (engine/temporal, whose Run returns
// temporal.ErrNotImplemented and drives no turns) (spec.md §4.7 expansion).
package engine

import (
	"context"

	"github.com/relayforge/gadgetloop/loop"
)

// Engine runs an agent loop to completion.
type Engine interface {
	Run(ctx context.Context, l *loop.Loop) (loop.Result, error)
}
