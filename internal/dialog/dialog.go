// Package dialog defines the conversation transcript and the per-thread state
// the dialogue graph operates on.
package dialog

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/zulandar/openhouse/internal/criteria"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation proposed by an assistant message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one entry in the conversation log.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds a plain assistant reply.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResult builds a tool message answering the call with the given id.
func ToolResult(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// HasToolCalls reports whether the message proposes any tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Degenerate reports whether m is an assistant message with neither tool
// calls nor visible content.
func (m Message) Degenerate() bool {
	return m.Role == RoleAssistant && !m.HasToolCalls() && strings.TrimSpace(m.Content) == ""
}

// State is everything persisted for a thread between turns.
type State struct {
	Criteria criteria.SearchCriteria `json:"search_criteria"`
	Messages []Message               `json:"messages"`
	// Next names the node a suspended thread resumes at. Empty unless the
	// thread is waiting on an approval.
	Next        string     `json:"next,omitempty"`
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`
}

// Suspended reports whether the thread is paused at an approval gate.
func (s State) Suspended() bool {
	return s.Next != ""
}

// Last returns the most recent message.
func (s State) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastUser returns the most recent user message.
func (s State) LastUser() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Clone returns a copy whose message slice can be appended to independently.
// Criteria values are never mutated in place, so they are shared.
func (s State) Clone() State {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	if s.SuspendedAt != nil {
		t := *s.SuspendedAt
		out.SuspendedAt = &t
	}
	return out
}

// Unanswered returns the tool calls in m that have no tool message in msgs.
func Unanswered(m Message, msgs []Message) []ToolCall {
	answered := make(map[string]bool)
	for _, msg := range msgs {
		if msg.Role == RoleTool {
			answered[msg.ToolCallID] = true
		}
	}
	var out []ToolCall
	for _, c := range m.ToolCalls {
		if !answered[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
