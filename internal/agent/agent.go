// Package agent wires the real-estate agents into a dialogue graph: the main
// router, the search criteria extractor, the listing query, and the
// appointment agent whose calendar changes wait for user approval.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/graph"
	"github.com/zulandar/openhouse/internal/llm"
	"github.com/zulandar/openhouse/internal/property"
	"github.com/zulandar/openhouse/internal/tools"
)

// Handoff tool names.
const (
	ToSearchAgent      = "ToSearchAgent"
	ToAppointmentAgent = "ToAppointmentAgent"
	CompleteOrEscalate = "CompleteOrEscalate"
)

// Tool acknowledgements recorded when control moves between agents.
const (
	EnteringAck = "Entering specialized agent."
	LeavingAck  = "Back to main agent."
	ignoredAck  = "Not executed: only one handoff runs at a time."
	skippedAck  = "Not executed: control was handed back to the main agent."
)

// DefaultMaxExtractionAttempts bounds criteria extraction retries.
const DefaultMaxExtractionAttempts = 2

// Deps are the collaborators of the agent nodes.
type Deps struct {
	Model      llm.Model
	Properties *property.Engine
	Executor   *tools.Executor
	// Clock defaults to time.Now.
	Clock                 func() time.Time
	MaxExtractionAttempts int
}

type agents struct {
	Deps
	mainTools        []llm.ToolDefinition
	appointmentTools []llm.ToolDefinition
}

// Build compiles the dialogue graph.
func Build(d Deps) (*graph.Graph, error) {
	if d.Model == nil {
		return nil, fmt.Errorf("agent: model is required")
	}
	if d.Properties == nil {
		return nil, fmt.Errorf("agent: property engine is required")
	}
	if d.Executor == nil {
		return nil, fmt.Errorf("agent: tool executor is required")
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.MaxExtractionAttempts <= 0 {
		d.MaxExtractionAttempts = DefaultMaxExtractionAttempts
	}

	a := &agents{Deps: d}
	var err error
	a.mainTools, err = handoffDefinitions(
		handoff{ToSearchAgent, "Transfers work to a specialized agent to search for real estate listings.", "request",
			"Any additional information or requests from the user regarding their search criteria."},
		handoff{ToAppointmentAgent, "Transfers work to a specialized agent to manage appointments: book, edit, cancel, show appointments etc.", "request",
			"Any additional information or requests from the user regarding the appointment."},
	)
	if err != nil {
		return nil, err
	}
	calendarTools, err := d.Executor.Registry().Definitions()
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	escalate, err := handoffDefinitions(handoff{CompleteOrEscalate,
		"Marks the current task as completed and/or escalates control of the dialog to the main assistant, who can re-route the dialog based on the user's needs.",
		"reason", "Why the task is complete or being handed back, e.g. \"I have fully completed the task.\""})
	if err != nil {
		return nil, err
	}
	a.appointmentTools = append(calendarTools, escalate...)

	return graph.New().
		AddNode(graph.MainAgent, a.mainAgent, graph.AsAgent()).
		AddNode(graph.SearchCriteriaAgent, a.searchCriteriaAgent).
		AddNode(graph.QueryDatabase, a.queryDatabase).
		AddNode(graph.AppointmentAgent, a.appointmentAgent, graph.AsAgent()).
		AddNode(graph.AppointmentTools, a.appointmentToolsNode).
		AddNode(graph.LeaveSpecializedAgent, leaveSpecializedAgent).
		SetEntry(graph.MainAgent).
		AddConditionalEdge(graph.MainAgent, routeMainAgent).
		AddEdge(graph.SearchCriteriaAgent, graph.QueryDatabase).
		AddEdge(graph.QueryDatabase, graph.MainAgent).
		AddConditionalEdge(graph.AppointmentAgent, routeAppointmentAgent).
		AddEdge(graph.AppointmentTools, graph.AppointmentAgent).
		AddEdge(graph.LeaveSpecializedAgent, graph.MainAgent).
		Gate(graph.AppointmentTools, graph.Gate{
			Check:    a.checkSensitive,
			Reject:   a.rejectSensitive,
			ResumeAt: graph.AppointmentAgent,
		}).
		Compile()
}

func routeMainAgent(st dialog.State) (graph.NodeID, error) {
	last, ok := st.Last()
	if !ok || !last.HasToolCalls() {
		return graph.End, nil
	}
	switch name := last.ToolCalls[0].Name; name {
	case ToSearchAgent:
		return graph.SearchCriteriaAgent, nil
	case ToAppointmentAgent:
		return graph.AppointmentAgent, nil
	default:
		return "", graph.UnknownTool(graph.MainAgent, name)
	}
}

func routeAppointmentAgent(st dialog.State) (graph.NodeID, error) {
	last, ok := st.Last()
	if !ok || !last.HasToolCalls() {
		return graph.End, nil
	}
	for _, tc := range last.ToolCalls {
		if tc.Name == CompleteOrEscalate {
			return graph.LeaveSpecializedAgent, nil
		}
	}
	for _, tc := range last.ToolCalls {
		if tc.Name == ToSearchAgent || tc.Name == ToAppointmentAgent {
			return "", graph.UnknownTool(graph.AppointmentAgent, tc.Name)
		}
	}
	return graph.AppointmentTools, nil
}

// acknowledge answers every unanswered call of the last assistant message:
// calls named primary get content, the rest get other.
func acknowledge(st dialog.State, primary, content, other string) []dialog.Message {
	last, ok := st.Last()
	if !ok || last.Role != dialog.RoleAssistant {
		return nil
	}
	var out []dialog.Message
	answered := false
	for _, tc := range dialog.Unanswered(last, st.Messages) {
		if tc.Name == primary && !answered {
			out = append(out, dialog.ToolResult(tc.ID, content))
			answered = true
			continue
		}
		out = append(out, dialog.ToolResult(tc.ID, other))
	}
	return out
}

func (a *agents) mainAgent(ctx context.Context, st dialog.State) (graph.Update, error) {
	c, err := a.Model.Complete(ctx, llm.Request{
		Agent:    string(graph.MainAgent),
		System:   mainPrompt(a.Clock()),
		Messages: st.Messages,
		Tools:    a.mainTools,
	})
	if err != nil {
		return graph.Update{}, fmt.Errorf("agent: main: %w", err)
	}
	return graph.Update{Messages: []dialog.Message{c.Message()}}, nil
}

func (a *agents) appointmentAgent(ctx context.Context, st dialog.State) (graph.Update, error) {
	acks := acknowledge(st, ToAppointmentAgent, EnteringAck, ignoredAck)

	channel := ""
	if c, ok := tools.CallerFrom(ctx); ok {
		channel = c.Channel
	}
	msgs := append(append([]dialog.Message(nil), st.Messages...), acks...)
	c, err := a.Model.Complete(ctx, llm.Request{
		Agent:    string(graph.AppointmentAgent),
		System:   appointmentPrompt(a.Clock(), channel),
		Messages: msgs,
		Tools:    a.appointmentTools,
	})
	if err != nil {
		return graph.Update{}, fmt.Errorf("agent: appointment: %w", err)
	}
	return graph.Update{Messages: append(acks, c.Message())}, nil
}

func leaveSpecializedAgent(_ context.Context, st dialog.State) (graph.Update, error) {
	return graph.Update{Messages: acknowledge(st, CompleteOrEscalate, LeavingAck, skippedAck)}, nil
}

type handoff struct {
	name, description, param, paramDescription string
}

func handoffDefinitions(hs ...handoff) ([]llm.ToolDefinition, error) {
	defs := make([]llm.ToolDefinition, 0, len(hs))
	for _, h := range hs {
		p := openapi3.NewStringSchema()
		p.Description = h.paramDescription
		schema := openapi3.NewObjectSchema().WithProperty(h.param, p)
		schema.Required = []string{h.param}
		if h.name == CompleteOrEscalate {
			schema.WithProperty("cancel", openapi3.NewBoolSchema())
		}
		raw, err := schema.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("agent: %s schema: %w", h.name, err)
		}
		defs = append(defs, llm.ToolDefinition{Name: h.name, Description: h.description, Parameters: raw})
	}
	return defs, nil
}
