// Package anthropic implements model.Client on top of the Anthropic Claude
// Messages API, grounded on goa-ai's features/model/anthropic package. Since
// the marker wire format (spec.md §3.3) carries gadget calls as plain text
// rather than native tool-call JSON, this adapter is a text-in/text-out
// translation layer: no tools param, no tool_use content blocks.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/relayforge/gadgetloop/model"
)

func encodeBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// MessagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures default model/limits when a Request leaves them unset.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client adapts MessagesClient to model.Client.
type Client struct {
	msg    MessagesClient
	opts   Options
}

// New builds a Client from an Anthropic messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Client{msg: msg, opts: opts}, nil
}

// NewFromAPIKey builds a Client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Messages, Options{DefaultModel: defaultModel})
}

func (c *Client) CountTokens(context.Context, string, []*model.Message) (int, error) {
	return 0, model.ErrCountTokensUnsupported
}

// Stream issues Messages.NewStreaming and adapts the SSE event stream into
// model.Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: messages.new stream: %w", err)
	}
	return newStreamer(ctx, stream), nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.opts.DefaultModel
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	params := &sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
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

func encodeMessages(msgs []*model.Message) ([]sdk.MessageParam, string, error) {
	var system string
	var out []sdk.MessageParam
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			system += m.String()
			continue
		}
		blocks, err := encodeParts(m)
		if err != nil {
			return nil, "", err
		}
		switch m.Role {
		case model.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, "", fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	return out, system, nil
}

func encodeParts(m *model.Message) ([]sdk.ContentBlockParamUnion, error) {
	if len(m.Parts) == 0 {
		return []sdk.ContentBlockParamUnion{sdk.NewTextBlock(m.String())}, nil
	}
	var blocks []sdk.ContentBlockParamUnion
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.TextPart:
			blocks = append(blocks, sdk.NewTextBlock(v.Text))
		case model.ImagePart:
			if v.URL != "" {
				blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: v.URL}))
			} else {
				blocks = append(blocks, sdk.NewImageBlockBase64("image/"+string(v.Format), encodeBase64(v.Bytes)))
			}
		case model.AudioPart:
			// The Messages API has no audio content block; surface as a text
			// marker so the model at least sees that audio was attached.
			blocks = append(blocks, sdk.NewTextBlock(fmt.Sprintf("[audio/%s omitted: not supported by Messages API]", v.Format)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported content part %T", p)
		}
	}
	return blocks, nil
}
