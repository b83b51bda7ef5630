package agent

import (
	"context"
	"strings"

	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/graph"
	"github.com/zulandar/openhouse/internal/tools"
)

// pendingCalls returns the calls of the last assistant message still waiting
// for a result.
func pendingCalls(st dialog.State) []dialog.ToolCall {
	last, ok := st.Last()
	if !ok || last.Role != dialog.RoleAssistant {
		return nil
	}
	return dialog.Unanswered(last, st.Messages)
}

func (a *agents) appointmentToolsNode(ctx context.Context, st dialog.State) (graph.Update, error) {
	threadID := graph.ThreadID(ctx)
	var out []dialog.Message
	for _, call := range pendingCalls(st) {
		out = append(out, a.Executor.Execute(ctx, threadID, call))
	}
	return graph.Update{Messages: out}, nil
}

// checkSensitive suspends the turn when a pending call is sensitive.
func (a *agents) checkSensitive(st dialog.State) *graph.Interrupt {
	reg := a.Executor.Registry()
	var sensitive []dialog.ToolCall
	for _, call := range pendingCalls(st) {
		if reg.IsSensitive(call.Name) {
			sensitive = append(sensitive, call)
		}
	}
	if len(sensitive) == 0 {
		return nil
	}
	descs := make([]string, 0, len(sensitive))
	for _, call := range sensitive {
		descs = append(descs, reg.Describe(call))
	}
	return &graph.Interrupt{
		CallID:      sensitive[0].ID,
		Tool:        sensitive[0].Name,
		Description: strings.Join(descs, "; "),
		Calls:       sensitive,
	}
}

// rejectSensitive records a denial for each sensitive call and still runs
// the safe ones. A sensitive call the ledger shows as already dispatched keeps
// its recorded result.
func (a *agents) rejectSensitive(ctx context.Context, st dialog.State, reason string) (graph.Update, error) {
	threadID := graph.ThreadID(ctx)
	reg := a.Executor.Registry()
	var out []dialog.Message
	for _, call := range pendingCalls(st) {
		if reg.IsSensitive(call.Name) {
			if msg, ok := a.Executor.Recorded(ctx, call); ok {
				out = append(out, msg)
				continue
			}
			out = append(out, dialog.ToolResult(call.ID, tools.DeniedMessage(reason)))
			continue
		}
		out = append(out, a.Executor.Execute(ctx, threadID, call))
	}
	return graph.Update{Messages: out}, nil
}
