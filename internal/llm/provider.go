// Package llm provides chat completion access over the OpenAI-compatible
// wire format, with OpenRouter as the default gateway.
package llm

import (
	"context"
	"fmt"
)

// ChatMessage is one message in a completion exchange.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Tool declares a callable function the model may invoke.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction carries a function tool's name, description and JSON schema.
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolCall is the model's request to invoke a declared tool.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	Messages    []ChatMessage
	Tools       []Tool
	MaxTokens   int
	Temperature float64
}

// Completion is the assistant turn the provider returned.
type Completion struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Model        string
	Usage        Usage
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is the completion contract the agents depend on.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	Model() string
}

// RemoteError is a non-2xx provider response. Retryable reports whether the
// caller may usefully try again.
type RemoteError struct {
	Status int
	Body   string
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("llm provider returned %d: %s", e.Status, e.Body)
}

// Retryable covers throttling and upstream transience.
func (e RemoteError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// RateLimited reports whether the provider throttled the request.
func (e RemoteError) RateLimited() bool { return e.Status == 429 }
