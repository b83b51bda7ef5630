package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zulandar/openhouse/internal/dialog"
)

// Step produces one scripted completion.
type Step func(req Request) (*Completion, error)

// Scripted is a Model that replays queued completions per agent. It records
// every request it receives. Safe for concurrent use.
type Scripted struct {
	mu       sync.Mutex
	queues   map[string][]Step
	requests []Request
}

// NewScripted returns an empty Scripted model.
func NewScripted() *Scripted {
	return &Scripted{queues: make(map[string][]Step)}
}

// On queues steps for the named agent.
func (s *Scripted) On(agent string, steps ...Step) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[agent] = append(s.queues[agent], steps...)
	return s
}

// Complete pops the next step queued for req.Agent.
func (s *Scripted) Complete(_ context.Context, req Request) (*Completion, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	q := s.queues[req.Agent]
	if len(q) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("llm: scripted: nothing queued for agent %q", req.Agent)
	}
	step := q[0]
	s.queues[req.Agent] = q[1:]
	s.mu.Unlock()
	return step(req)
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsFor returns the requests made by one agent.
func (s *Scripted) RequestsFor(agent string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.Agent == agent {
			out = append(out, r)
		}
	}
	return out
}

// Pending reports how many steps are still queued across all agents.
func (s *Scripted) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Reply returns a step answering with plain content.
func Reply(content string) Step {
	return func(Request) (*Completion, error) {
		return &Completion{Content: content}, nil
	}
}

// CallTool returns a step proposing one tool call. args is marshalled to JSON.
func CallTool(id, name string, args any) Step {
	return CallTools(ToolCallSpec{ID: id, Name: name, Args: args})
}

// ToolCallSpec describes a scripted tool call.
type ToolCallSpec struct {
	ID   string
	Name string
	Args any
}

// CallTools returns a step proposing several tool calls at once.
func CallTools(calls ...ToolCallSpec) Step {
	return func(Request) (*Completion, error) {
		out := &Completion{}
		for _, c := range calls {
			raw, err := json.Marshal(c.Args)
			if err != nil {
				return nil, err
			}
			if c.Args == nil {
				raw = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, dialog.ToolCall{ID: c.ID, Name: c.Name, Arguments: raw})
		}
		return out, nil
	}
}

// Fail returns a step that errors.
func Fail(err error) Step {
	return func(Request) (*Completion, error) { return nil, err }
}
