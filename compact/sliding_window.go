package compact

import (
	"context"

	"github.com/relayforge/gadgetloop/model"
)

// SlidingWindow drops the oldest turns, always keeping the system message
// and the most recent KeepTurns user/assistant turns (spec.md §4.9).
type SlidingWindow struct {
	KeepTurns int
}

// Compact implements Strategy.
func (s SlidingWindow) Compact(_ context.Context, conversation []*model.Message, estimatedTokens, windowTokens int) (Result, bool, error) {
	if estimatedTokens <= windowTokens {
		return Result{}, false, nil
	}

	var system *model.Message
	var turns []*model.Message
	for _, m := range conversation {
		if m.Role == model.RoleSystem && system == nil {
			system = m
			continue
		}
		turns = append(turns, m)
	}

	keep := s.KeepTurns
	if keep <= 0 || keep > len(turns) {
		keep = len(turns)
	}
	kept := turns[len(turns)-keep:]

	out := make([]*model.Message, 0, len(kept)+1)
	if system != nil {
		out = append(out, system)
	}
	out = append(out, kept...)

	return Result{
		Messages:       out,
		TokensBefore:   estimatedTokens,
		TokensAfter:    EstimateTokens(out),
		MessagesBefore: len(conversation),
		MessagesAfter:  len(out),
	}, true, nil
}
