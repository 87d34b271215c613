package compact

import (
	"context"
	"fmt"

	"github.com/relayforge/gadgetloop/model"
)

// SummariseTail calls the provider with a summarisation prompt over the
// dropped prefix, replacing it with one assistant message summarising the
// elided content (spec.md §4.9). KeepTurns most recent turns are preserved
// verbatim, same as SlidingWindow.
type SummariseTail struct {
	Client          model.Client
	Model           string
	KeepTurns       int
	SummarisePrompt string // defaults to a generic instruction when empty
}

// Compact implements Strategy.
func (s SummariseTail) Compact(ctx context.Context, conversation []*model.Message, estimatedTokens, windowTokens int) (Result, bool, error) {
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
	dropped := turns[:len(turns)-keep]
	kept := turns[len(turns)-keep:]

	if len(dropped) == 0 {
		return Result{}, false, nil
	}

	summary, err := s.summarise(ctx, dropped)
	if err != nil {
		return Result{}, false, fmt.Errorf("compact: summarise tail: %w", err)
	}

	out := make([]*model.Message, 0, len(kept)+2)
	if system != nil {
		out = append(out, system)
	}
	out = append(out, &model.Message{Role: model.RoleAssistant, Text: summary})
	out = append(out, kept...)

	return Result{
		Messages:       out,
		TokensBefore:   estimatedTokens,
		TokensAfter:    EstimateTokens(out),
		MessagesBefore: len(conversation),
		MessagesAfter:  len(out),
	}, true, nil
}

func (s SummariseTail) summarise(ctx context.Context, dropped []*model.Message) (string, error) {
	prompt := s.SummarisePrompt
	if prompt == "" {
		prompt = "Summarise the following conversation history concisely, preserving facts and decisions relevant to continuing the task."
	}

	req := &model.Request{
		Model: s.Model,
		Messages: append([]*model.Message{
			{Role: model.RoleSystem, Text: prompt},
		}, dropped...),
	}

	stream, err := s.Client.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var summary string
	for {
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		if chunk.Type == model.ChunkTypeText {
			summary += chunk.Text
		}
		if chunk.Type == model.ChunkTypeStop {
			break
		}
	}
	return summary, nil
}
