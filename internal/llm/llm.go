// Package llm is the thin boundary to the chat-completion model used by the
// agent nodes.
package llm

import (
	"context"
	"encoding/json"

	"github.com/zulandar/openhouse/internal/dialog"
)

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object.
	Parameters json.RawMessage
}

// Request is one chat completion call.
type Request struct {
	// Agent names the calling node, for logs and scripted fakes.
	Agent    string
	System   string
	Messages []dialog.Message
	Tools    []ToolDefinition
	// JSONMode asks the model for a single JSON object.
	JSONMode bool
}

// Completion is the model's reply.
type Completion struct {
	Content   string
	ToolCalls []dialog.ToolCall
}

// Message converts the completion into an assistant message.
func (c *Completion) Message() dialog.Message {
	return dialog.Message{
		Role:      dialog.RoleAssistant,
		Content:   c.Content,
		ToolCalls: c.ToolCalls,
	}
}

// Model produces completions.
type Model interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}
