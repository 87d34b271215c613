package compact

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/gadgetloop/model"
)

func msgs(n int) []*model.Message {
	out := []*model.Message{{Role: model.RoleSystem, Text: "system"}}
	for i := 0; i < n; i++ {
		out = append(out, &model.Message{Role: model.RoleUser, Text: "turn"})
	}
	return out
}

func TestSlidingWindowNoopUnderThreshold(t *testing.T) {
	s := SlidingWindow{KeepTurns: 2}
	_, ok, err := s.Compact(context.Background(), msgs(3), 10, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlidingWindowKeepsSystemAndRecentTurns(t *testing.T) {
	s := SlidingWindow{KeepTurns: 2}
	conversation := msgs(10)
	res, ok, err := s.Compact(context.Background(), conversation, 1000, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RoleSystem, res.Messages[0].Role)
	assert.Len(t, res.Messages, 3) // system + 2 kept turns
	assert.Equal(t, 11, res.MessagesBefore)
}

type stubStreamer struct {
	chunks []model.Chunk
	i      int
}

func (s *stubStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, errors.New("eof")
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}
func (s *stubStreamer) Close() error { return nil }

type stubClient struct{ summary string }

func (c stubClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return &stubStreamer{chunks: []model.Chunk{
		{Type: model.ChunkTypeText, Text: c.summary},
		{Type: model.ChunkTypeStop},
	}}, nil
}
func (c stubClient) CountTokens(context.Context, string, []*model.Message) (int, error) {
	return 0, model.ErrCountTokensUnsupported
}

func TestSummariseTailReplacesDroppedPrefix(t *testing.T) {
	s := SummariseTail{Client: stubClient{summary: "summary of old turns"}, Model: "test-model", KeepTurns: 1}
	conversation := msgs(5)
	res, ok, err := s.Compact(context.Background(), conversation, 1000, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "summary of old turns", res.Messages[1].Text)
	assert.Len(t, res.Messages, 3) // system + summary + 1 kept turn
}
