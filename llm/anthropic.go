package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/becomeliminal/brokerbot/core"
)

// AnthropicCompleter implements Completer against the Claude Messages API.
type AnthropicCompleter struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicConfig configures the Anthropic completer. The API key is read
// from the environment by the SDK.
type AnthropicConfig struct {
	Model     string
	MaxTokens int64
}

// NewAnthropicCompleter creates an Anthropic-backed completer.
func NewAnthropicCompleter(cfg AnthropicConfig) *AnthropicCompleter {
	client := anthropic.NewClient()
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	return &AnthropicCompleter{
		client:    &client,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

// Complete sends the conversation and tool schemas to the Messages API and
// maps the reply back to the boundary types. Tool-role messages in the
// conversation are flattened to labelled user text: the follow-up summary
// call only needs the result content, not the provider's block wiring.
func (a *AnthropicCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	var system []string
	if req.System != "" {
		system = append(system, req.System)
	}
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			system = append(system, msg.Content)
		case core.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case core.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case core.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock("Tool result: "+msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Properties,
				},
			},
		})
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &core.CompletionError{Err: err}
	}

	resp := &Response{}
	var text strings.Builder
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: []byte(variant.JSON.Input.Raw()),
			})
		}
	}
	resp.Text = text.String()
	return resp, nil
}
