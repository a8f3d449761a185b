package llm

import (
	"context"
	"encoding/json"
)

// Message is one turn in a conversation. The JSON shape is wire-compatible
// with the OpenAI chat schema.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a role=system message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a role=user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// ToolResultMessage builds the role=tool message answering a tool call.
func ToolResultMessage(toolCallID, result string) Message {
	return Message{Role: "tool", ToolCallID: toolCallID, Content: result}
}

// ToolCall is a model-produced request to invoke a named function.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its arguments as a JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a function definition advertised to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the schema sent verbatim to the model.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// WithModel returns a copy of the request with the model substituted.
func (r *ChatRequest) WithModel(model string) *ChatRequest {
	clone := *r
	clone.Model = model
	return &clone
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatResponse is a parsed chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// FirstMessage returns the assistant message of the first choice.
func (r *ChatResponse) FirstMessage() *Message {
	if r == nil || len(r.Choices) == 0 {
		return nil
	}
	return &r.Choices[0].Message
}

// TokenCallback receives each non-empty content delta during streaming.
type TokenCallback func(token string)

// Caller is the chat surface shared by a single provider client and the
// primary/fallback router.
type Caller interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	StreamChat(ctx context.Context, req *ChatRequest, onToken TokenCallback) (*ChatResponse, error)
	ModelName() string
}
