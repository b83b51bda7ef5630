package dialog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/openhouse/internal/criteria"
)

func TestDegenerate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"blank assistant", Assistant("  \n"), true},
		{"assistant with content", Assistant("hi"), false},
		{"assistant with tool call", Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "x"}}}, false},
		{"blank user", User(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Degenerate())
		})
	}
}

func TestStateClone_Independent(t *testing.T) {
	now := time.Now()
	s := State{Messages: []Message{User("a")}, SuspendedAt: &now}

	c := s.Clone()
	c.Messages = append(c.Messages, User("b"))
	c.Messages[0].Content = "changed"
	*c.SuspendedAt = now.Add(time.Hour)

	assert.Len(t, s.Messages, 1)
	assert.Equal(t, "a", s.Messages[0].Content)
	assert.True(t, s.SuspendedAt.Equal(now))
}

func TestLastUser(t *testing.T) {
	s := State{Messages: []Message{
		User("first"),
		Assistant("reply"),
		User("second"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "ToSearchAgent"}}},
	}}

	m, ok := s.LastUser()
	require.True(t, ok)
	assert.Equal(t, "second", m.Content)

	_, ok = State{}.LastUser()
	assert.False(t, ok)
}

func TestUnanswered(t *testing.T) {
	call := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a"}, {ID: "b"}}}
	msgs := []Message{call, ToolResult("a", "done")}

	got := Unanswered(call, msgs)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestStateJSON(t *testing.T) {
	s := State{
		Criteria: criteria.SearchCriteria{City: criteria.String("Austin")},
		Messages: []Message{
			User("3 bedroom homes in Austin"),
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "ToSearchAgent", Arguments: json.RawMessage(`{"request":"homes"}`)}}},
			ToolResult("c1", "ok"),
		},
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got State
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Austin", *got.Criteria.City)
	require.Len(t, got.Messages, 3)
	assert.JSONEq(t, `{"request":"homes"}`, string(got.Messages[1].ToolCalls[0].Arguments))
	assert.False(t, got.Suspended())
}
