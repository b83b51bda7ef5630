// Package graph implements the dialogue state machine: a fixed set of agent
// nodes joined by static and conditional edges, checkpointed per thread, with
// an approval gate that can suspend a turn before a node runs.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/openhouse/internal/criteria"
	"github.com/zulandar/openhouse/internal/dialog"
)

// NodeID names a node in the dialogue graph.
type NodeID string

const (
	MainAgent             NodeID = "main_agent"
	SearchCriteriaAgent   NodeID = "search_criteria_agent"
	QueryDatabase         NodeID = "query_database"
	AppointmentAgent      NodeID = "appointment_agent"
	AppointmentTools      NodeID = "appointment_tools"
	LeaveSpecializedAgent NodeID = "leave_specialized_agent"
	End                   NodeID = "__end__"
)

// Valid reports whether id is one of the known nodes or End.
func (id NodeID) Valid() bool {
	switch id {
	case MainAgent, SearchCriteriaAgent, QueryDatabase, AppointmentAgent,
		AppointmentTools, LeaveSpecializedAgent, End:
		return true
	}
	return false
}

// Update is what a node contributes to the state.
type Update struct {
	// Messages are appended to the conversation log in order.
	Messages []dialog.Message
	// Criteria, when non-nil, replaces the thread's search criteria.
	Criteria *criteria.SearchCriteria
}

func (u Update) degenerate() bool {
	if len(u.Messages) == 0 {
		return true
	}
	return u.Messages[len(u.Messages)-1].Degenerate()
}

// NodeFunc runs a node against a snapshot of the state. It must not mutate st.
type NodeFunc func(ctx context.Context, st dialog.State) (Update, error)

// Router picks the next node from the state after a node ran.
type Router func(st dialog.State) (NodeID, error)

// Interrupt describes an action waiting on user approval.
type Interrupt struct {
	Node        NodeID            `json:"node"`
	CallID      string            `json:"call_id"`
	Tool        string            `json:"tool"`
	Description string            `json:"description"`
	Calls       []dialog.ToolCall `json:"calls"`
}

// Gate guards a node. Check runs before every execution of the node; a
// non-nil Interrupt suspends the turn. When the user declines, Reject builds
// the update applied in place of running the node, and the turn continues at
// ResumeAt.
type Gate struct {
	Check    func(st dialog.State) *Interrupt
	Reject   func(ctx context.Context, st dialog.State, reason string) (Update, error)
	ResumeAt NodeID
}

// NodeOption configures a node at registration.
type NodeOption func(*node)

// AsAgent marks a node whose output is model text. Agent nodes are re-prompted
// when they produce neither content nor tool calls.
func AsAgent() NodeOption {
	return func(n *node) { n.agent = true }
}

type node struct {
	id    NodeID
	fn    NodeFunc
	agent bool
	gate  *Gate
}

// Builder assembles a Graph. Errors are collected and reported by Compile.
type Builder struct {
	nodes   map[NodeID]*node
	edges   map[NodeID]NodeID
	routers map[NodeID]Router
	entry   NodeID
	errs    []error
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{
		nodes:   make(map[NodeID]*node),
		edges:   make(map[NodeID]NodeID),
		routers: make(map[NodeID]Router),
	}
}

// AddNode registers fn under id.
func (b *Builder) AddNode(id NodeID, fn NodeFunc, opts ...NodeOption) *Builder {
	if !id.Valid() || id == End {
		b.errs = append(b.errs, fmt.Errorf("unknown node %q", id))
		return b
	}
	if _, dup := b.nodes[id]; dup {
		b.errs = append(b.errs, fmt.Errorf("node %q registered twice", id))
		return b
	}
	if fn == nil {
		b.errs = append(b.errs, fmt.Errorf("node %q has no function", id))
		return b
	}
	n := &node{id: id, fn: fn}
	for _, opt := range opts {
		opt(n)
	}
	b.nodes[id] = n
	return b
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to NodeID) *Builder {
	if b.hasOutgoing(from) {
		b.errs = append(b.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdge routes out of from with r.
func (b *Builder) AddConditionalEdge(from NodeID, r Router) *Builder {
	if b.hasOutgoing(from) {
		b.errs = append(b.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return b
	}
	b.routers[from] = r
	return b
}

// SetEntry sets the node every fresh turn starts at.
func (b *Builder) SetEntry(id NodeID) *Builder {
	b.entry = id
	return b
}

// Gate attaches an approval gate to id.
func (b *Builder) Gate(id NodeID, g Gate) *Builder {
	n, ok := b.nodes[id]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("gate on unregistered node %q", id))
		return b
	}
	if g.Check == nil || g.Reject == nil {
		b.errs = append(b.errs, fmt.Errorf("gate on %q needs Check and Reject", id))
		return b
	}
	n.gate = &g
	return b
}

func (b *Builder) hasOutgoing(id NodeID) bool {
	_, e := b.edges[id]
	_, r := b.routers[id]
	return e || r
}

// Compile validates the wiring and returns an immutable Graph.
func (b *Builder) Compile() (*Graph, error) {
	errs := append([]error(nil), b.errs...)

	if b.entry == "" {
		errs = append(errs, errors.New("no entry node"))
	} else if _, ok := b.nodes[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %q is not registered", b.entry))
	}
	for id, n := range b.nodes {
		if !b.hasOutgoing(id) {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", id))
		}
		if n.gate != nil {
			if _, ok := b.nodes[n.gate.ResumeAt]; !ok {
				errs = append(errs, fmt.Errorf("gate on %q resumes at unknown node %q", id, n.gate.ResumeAt))
			}
		}
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unregistered node %q", from))
		}
		if _, ok := b.nodes[to]; !ok && to != End {
			errs = append(errs, fmt.Errorf("edge to unregistered node %q", to))
		}
	}
	for from := range b.routers {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("router on unregistered node %q", from))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("graph: compile: %w", errors.Join(errs...))
	}

	g := &Graph{
		nodes:   make(map[NodeID]*node, len(b.nodes)),
		edges:   make(map[NodeID]NodeID, len(b.edges)),
		routers: make(map[NodeID]Router, len(b.routers)),
		entry:   b.entry,
	}
	for k, v := range b.nodes {
		g.nodes[k] = v
	}
	for k, v := range b.edges {
		g.edges[k] = v
	}
	for k, v := range b.routers {
		g.routers[k] = v
	}
	return g, nil
}

// Graph is a compiled dialogue graph.
type Graph struct {
	nodes   map[NodeID]*node
	edges   map[NodeID]NodeID
	routers map[NodeID]Router
	entry   NodeID
}

// Entry returns the start node.
func (g *Graph) Entry() NodeID { return g.entry }

// next resolves the node after from.
func (g *Graph) next(from NodeID, st dialog.State) (NodeID, error) {
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	r, ok := g.routers[from]
	if !ok {
		return "", fmt.Errorf("graph: node %q has no outgoing edge", from)
	}
	to, err := r(st)
	if err != nil {
		return "", err
	}
	if to == End {
		return End, nil
	}
	if _, ok := g.nodes[to]; !ok {
		return "", &RoutingError{From: from, Target: string(to)}
	}
	return to, nil
}
