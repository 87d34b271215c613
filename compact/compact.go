// Package compact implements the context compactor: given the current
// conversation and a provider-reported context window, optionally return a
// shorter equivalent history (spec.md §4.9).
package compact

import (
	"context"

	"github.com/relayforge/gadgetloop/model"
)

// Result is the outcome of a compaction attempt.
type Result struct {
	Messages       []*model.Message
	TokensBefore   int
	TokensAfter    int
	MessagesBefore int
	MessagesAfter  int
}

// Strategy compacts conversation when it estimates the conversation is
// near the model's context window. It returns ok=false when no compaction
// was necessary or possible.
type Strategy interface {
	Compact(ctx context.Context, conversation []*model.Message, estimatedTokens, windowTokens int) (Result, bool, error)
}

// EstimateTokens is a crude token estimator (character count / 4), used when
// the provider adapter doesn't supply CountTokens. Callers needing accuracy
// should wire model.Client.CountTokens instead.
func EstimateTokens(messages []*model.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.String()) / 4
	}
	return total
}
