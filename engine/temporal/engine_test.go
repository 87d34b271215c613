package temporal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/gadgetloop/loop"
)

// Run must refuse to start a durable execution until a per-run loop registry
// exists, rather than completing a workflow having silently run zero turns.
func TestRunReturnsNotImplemented(t *testing.T) {
	e := &Engine{}
	_, err := e.Run(context.Background(), &loop.Loop{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestRunRejectsNilLoop(t *testing.T) {
	e := &Engine{}
	_, err := e.Run(context.Background(), nil)
	require.Error(t, err)
}

// runTurnActivity must fail loudly rather than report a completed turn, in
// case a workflow is ever started directly against this worker bypassing Run.
func TestRunTurnActivityReturnsNotImplemented(t *testing.T) {
	e := &Engine{}
	res, err := e.runTurnActivity(context.Background(), runInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.False(t, res.Done)
}
