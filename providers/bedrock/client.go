// Package bedrock implements model.Client on top of the AWS Bedrock Converse
// API, grounded on goa-ai's features/model/bedrock package: split
// system/conversational messages, call ConverseStream, and translate its
// event stream back into model.Chunks.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/relayforge/gadgetloop/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client used
// here; satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the adapter.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements model.Client over Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	opts    Options
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: opts.Runtime, opts: opts}, nil
}

func (c *Client) CountTokens(context.Context, string, []*model.Message) (int, error) {
	return 0, model.ErrCountTokensUnsupported
}

// Stream invokes ConverseStream and adapts Bedrock's event stream into Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.opts.DefaultModel
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  &modelID,
		Messages: msgs,
	}
	if system != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: system}}
	}
	cfg := &brtypes.InferenceConfiguration{}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	if maxTokens > 0 {
		mt := int32(maxTokens)
		cfg.MaxTokens = &mt
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.opts.Temperature
	}
	if temp > 0 {
		cfg.Temperature = &temp
	}
	input.InferenceConfig = cfg

	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse stream: %w", err)
	}
	return newStreamer(ctx, out), nil
}

func encodeMessages(msgs []*model.Message) ([]brtypes.Message, string, error) {
	var system string
	var out []brtypes.Message
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			system += m.String()
			continue
		}
		blocks, err := encodeParts(m)
		if err != nil {
			return nil, "", err
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case model.RoleUser:
			role = brtypes.ConversationRoleUser
		case model.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, "", fmt.Errorf("bedrock: unsupported role %q", m.Role)
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	return out, system, nil
}

func encodeParts(m *model.Message) ([]brtypes.ContentBlock, error) {
	if len(m.Parts) == 0 {
		return []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.String()}}, nil
	}
	var blocks []brtypes.ContentBlock
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.TextPart:
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
		case model.ImagePart:
			blocks = append(blocks, &brtypes.ContentBlockMemberImage{
				Value: brtypes.ImageBlock{
					Format: brtypes.ImageFormat(v.Format),
					Source: &brtypes.ImageSourceMemberBytes{Value: v.Bytes},
				},
			})
		case model.AudioPart:
			blocks = append(blocks, &brtypes.ContentBlockMemberText{
				Value: fmt.Sprintf("[audio/%s omitted: not supported by Converse]", v.Format),
			})
		default:
			return nil, fmt.Errorf("bedrock: unsupported content part %T", p)
		}
	}
	return blocks, nil
}

type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    *bedrockruntime.ConverseStreamOutput
	chunks chan model.Chunk
}

func newStreamer(ctx context.Context, out *bedrockruntime.ConverseStreamOutput) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, out: out, chunks: make(chan model.Chunk, 32)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)
	stream := s.out.GetStream()
	defer stream.Close()

	var usage model.TokenUsage
	for event := range stream.Events() {
		switch v := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			if text, ok := v.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
				select {
				case s.chunks <- model.Chunk{Type: model.ChunkTypeText, Text: text.Value}:
				case <-s.ctx.Done():
					return
				}
			}
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if u := v.Value.Usage; u != nil {
				usage.InputTokens = int(*u.InputTokens)
				usage.OutputTokens = int(*u.OutputTokens)
			}
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
			return model.Chunk{}, io.EOF
		}
		return c, nil
	case <-s.ctx.Done():
		return model.Chunk{}, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	return s.out.GetStream().Close()
}
