// Package openai implements model.Client on top of the OpenAI Chat
// Completions API via github.com/openai/openai-go, grounded on goa-ai's
// features/model/openai package (there adapted from sashabaranov/go-openai
// to the stainless-generated official SDK already used elsewhere in this
// module's dependency stack, since both expose the same
// ssestream.Stream[T] streaming shape as the Anthropic SDK).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/relayforge/gadgetloop/model"
)

// ChatClient captures the subset of the OpenAI SDK used here.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *sdk.ChatCompletionStream
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements model.Client via OpenAI Chat Completions.
type Client struct {
	chat ChatClient
	opts Options
}

// New builds a Client from a ChatClient.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, opts: opts}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

func (c *Client) CountTokens(context.Context, string, []*model.Message) (int, error) {
	return 0, model.ErrCountTokensUnsupported
}

// Stream issues a streaming chat completion and adapts deltas into Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, *params)
	return newStreamer(ctx, stream), nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.opts.DefaultModel
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := &sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: msgs,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.opts.Temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(float64(temp))
	}
	return params, nil
}

func encodeMessages(msgs []*model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	var out []sdk.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		text := m.String()
		switch m.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(text))
		case model.RoleUser:
			out = append(out, sdk.UserMessage(text))
		case model.RoleAssistant:
			out = append(out, sdk.AssistantMessage(text))
		default:
			return nil, fmt.Errorf("openai: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *sdk.ChatCompletionStream
	chunks chan model.Chunk
}

func newStreamer(ctx context.Context, s *sdk.ChatCompletionStream) model.Streamer {
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
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			select {
			case s.chunks <- model.Chunk{Type: model.ChunkTypeText, Text: delta}:
			case <-s.ctx.Done():
				return
			}
		}
		if reason := chunk.Choices[0].FinishReason; reason != "" {
			usage.InputTokens = int(chunk.Usage.PromptTokens)
			usage.OutputTokens = int(chunk.Usage.CompletionTokens)
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
