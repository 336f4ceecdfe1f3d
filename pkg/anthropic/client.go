// Package anthropic wraps the Anthropic SDK behind a small Client interface
// so extraction code can be tested with a mock.
package anthropic

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Client sends one Messages API request.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is a single-turn or multi-turn request.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock is one part of the system prompt.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl marks a prompt cache breakpoint.
type CacheControl struct {
	TTL string // "5m" or "1h"
}

// Message is one conversational turn. Roles other than "assistant" are
// sent as "user".
type Message struct {
	Role    string
	Content string
}

// MessageResponse is the decoded answer.
type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	StopSequence string
	Usage        TokenUsage
}

// ContentBlock is one block of response content.
type ContentBlock struct {
	Type string
	Text string
}

// Text joins the non-empty text blocks with newlines.
func (r *MessageResponse) Text() string {
	if r == nil {
		return ""
	}
	texts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		if b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// TokenUsage is the token accounting of one call. Pricing lives with the
// caller.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Total is every token billed for the call.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// Fields renders the usage as zap fields.
func (u TokenUsage) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
	}
}
