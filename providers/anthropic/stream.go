package anthropic

import (
	"context"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/relayforge/gadgetloop/model"
)

// streamer adapts an Anthropic SSE event stream to model.Streamer, emitting
// a Chunk per text delta plus a final usage and stop Chunk.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks chan model.Chunk
}

func newStreamer(ctx context.Context, s *ssestream.Stream[sdk.MessageStreamEventUnion]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	st := &streamer{ctx: cctx, cancel: cancel, stream: s, chunks: make(chan model.Chunk, 32)}
	go st.run()
	return st
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer s.stream.Close()

	var usage model.TokenUsage
	for s.stream.Next() {
		event := s.stream.Current()
		switch variant := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if variant.Delta.Text != "" {
				select {
				case s.chunks <- model.Chunk{Type: model.ChunkTypeText, Text: variant.Delta.Text}:
				case <-s.ctx.Done():
					return
				}
			}
		case sdk.MessageDeltaEvent:
			usage.OutputTokens += int(variant.Usage.OutputTokens)
		case sdk.MessageStartEvent:
			usage.InputTokens += int(variant.Message.Usage.InputTokens)
			usage.CachedTokens += int(variant.Message.Usage.CacheReadInputTokens)
		}
	}
	select {
	case s.chunks <- model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage}:
	case <-s.ctx.Done():
		return
	}
	select {
	case s.chunks <- model.Chunk{Type: model.ChunkTypeStop, FinishReason: "stop"}:
	case <-s.ctx.Done():
	}
}

func (s *streamer) Recv() (model.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if !ok {
			if err := s.stream.Err(); err != nil {
				return model.Chunk{}, err
			}
			return model.Chunk{}, io.EOF
		}
		return c, nil
	case <-s.ctx.Done():
		return model.Chunk{}, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	return s.stream.Close()
}
