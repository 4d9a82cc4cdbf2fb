// Package provider defines the capability provider the engine calls for
// every model-backed step. The engine never depends on which underlying
// model family answers the call.
package provider

import "context"

// Mode selects how the provider is allowed to answer.
type Mode string

const (
	// ModeText asks for free-form text.
	ModeText Mode = "text"
	// ModeTool constrains the provider to invoking exactly one tool.
	ModeTool Mode = "tool"
	// ModeStructured asks for data conforming to a JSON schema.
	ModeStructured Mode = "structured"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of provider conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes the single tool a ModeTool request is
// constrained to.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`
}

// Request is one capability provider call.
type Request struct {
	Mode     Mode            `json:"mode"`
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Tool     *ToolDefinition `json:"tool,omitempty"`
	Schema   map[string]any  `json:"schema,omitempty"`
}

// Response is the provider's answer. CostUSD is set even when the call
// failed, because a failed call can still have been billed.
type Response struct {
	Success    bool           `json:"success"`
	Text       string         `json:"text,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
	Error      string         `json:"error,omitempty"`
	CostUSD    float64        `json:"cost_usd"`
}

// Provider answers prompts in one of the three modes. Transport-level
// failures are returned as an error; model-level failures come back as an
// unsuccessful Response so their cost can still be attributed.
type Provider interface {
	Send(ctx context.Context, req Request) (Response, error)
}
