// Package llm is the completion-service boundary: a request/response shape
// for tool-calling completions and the Anthropic-backed implementation.
package llm

import (
	"context"
	"encoding/json"

	"github.com/becomeliminal/brokerbot/core"
)

// ToolSchema declares one callable tool to the completion service.
type ToolSchema struct {
	Name        string
	Description string
	Properties  map[string]interface{}
}

// ToolCall is one tool invocation proposed by the completion service.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Request is one completion call: a system prompt, an ordered message list,
// and the declared tool schemas (nil for a plain text completion).
type Request struct {
	System   string
	Messages []core.Message
	Tools    []ToolSchema
}

// Response is either plain text, zero or more proposed tool calls, or both.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Completer is the completion service. Implementations return
// *core.CompletionError for service failures so callers can retry once and
// then degrade.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
