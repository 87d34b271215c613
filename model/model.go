// Package model defines the provider-agnostic message, request, and
// streaming-chunk types used to talk to an LLM provider (spec.md §6). The
// core agent loop depends only on these types and the Client/Streamer
// interfaces; concrete provider wiring lives in the providers/* packages.
package model

import (
	"context"
	"errors"
)

// ConversationRole is the role for a message in a conversation (spec.md §3.3).
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

type (
	// Part is a marker interface implemented by every message content part.
	// spec.md §3.3 treats content as opaque except for concatenation/append;
	// Part preserves structure (text, image, audio) rather than flattening to
	// a single string, the way the system it replaces carries rich content.
	Part interface{ isPart() }

	// TextPart is a plain text content block.
	TextPart struct{ Text string }

	// ImageFormat identifies the on-wire encoding of an ImagePart.
	ImageFormat string

	// ImagePart carries image bytes, either inline (base64-decoded by the
	// caller before constructing the part) or referenced by URL.
	ImagePart struct {
		Format ImageFormat
		Bytes  []byte
		URL    string
	}

	// AudioPart carries base64-decoded audio bytes attached to a message,
	// completing spec.md §3.3's audio{base64} content part.
	AudioPart struct {
		Format string
		Bytes  []byte
	}

	// Message is a single chat message: a role paired with ordered content parts.
	Message struct {
		Role ConversationRole
		Text string // convenience: set when the message is plain text, mutually exclusive with Parts
		Parts []Part
		Meta  map[string]any
	}

	// TokenUsage tracks token counts for a model call (spec.md §3.2 LLM-call node).
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		CachedTokens int
	}

	// Request captures the inputs for one model invocation.
	Request struct {
		Model       string
		Messages    []*Message
		Temperature float32
		MaxTokens   int
		Stream      bool
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		Content    []Message
		Usage      TokenUsage
		FinishReason string
	}

	// Chunk is one streaming event from the provider. Type identifies the
	// kind of event; only the matching field is populated.
	Chunk struct {
		Type         ChunkType
		Text         string
		UsageDelta   *TokenUsage
		FinishReason string
		Raw          any
	}

	// ChunkType classifies a streaming Chunk.
	ChunkType string

	// Streamer delivers incremental model output. Callers drain Recv until it
	// returns io.EOF, then Close. The core cancels a stream by cancelling the
	// context passed to Client.Stream or by calling Close early (spec.md §6:
	// "the core cancels by dropping the iterator").
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}

	// Client is the provider-agnostic model client (spec.md §6 provider adapter).
	Client interface {
		// Stream performs a streaming model invocation.
		Stream(ctx context.Context, req *Request) (Streamer, error)
		// CountTokens estimates token usage for messages under a model, when
		// the provider supports it (spec.md §6 optional count_tokens).
		CountTokens(ctx context.Context, model string, messages []*Message) (int, error)
	}
)

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeUsage ChunkType = "usage"
	ChunkTypeStop  ChunkType = "stop"
)

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
	ImageFormatGIF  ImageFormat = "gif"
	ImageFormatWEBP ImageFormat = "webp"
)

// ErrStreamingUnsupported indicates the provider does not support streaming.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrCountTokensUnsupported indicates the provider does not implement token counting.
var ErrCountTokensUnsupported = errors.New("model: count_tokens not supported")

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}
func (AudioPart) isPart() {}

// String renders a message's textual content by concatenating Text and any
// TextPart parts, satisfying the "core can concatenate strings and append
// new messages" contract of spec.md §3.3.
func (m Message) String() string {
	if m.Text != "" {
		return m.Text
	}
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
