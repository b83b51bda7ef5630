package tools

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/metrics"
)

// DeniedMessage is the tool result recorded for a sensitive call the user
// declined.
func DeniedMessage(reason string) string {
	return fmt.Sprintf("API call denied by user. Reasoning: '%s'. Continue assisting, accounting for the user's input.", reason)
}

// ErrorMessage is the tool result recorded for a failed call, phrased so the
// agent corrects itself.
func ErrorMessage(err error) string {
	return fmt.Sprintf("Error: %v\n please fix your mistakes.", err)
}

// unknownOutcome is returned for a call that was dispatched earlier but never
// recorded a result.
const unknownOutcome = "Error: this call was already dispatched and its result was lost. Check the current state before retrying.\n please fix your mistakes."

// ExecutorOpts holds parameters for NewExecutor.
type ExecutorOpts struct {
	Registry *Registry
	Ledger   Ledger
	Metrics  *metrics.Metrics
}

// Executor runs tool calls through the ledger.
type Executor struct {
	reg     *Registry
	ledger  Ledger
	metrics *metrics.Metrics
}

// NewExecutor creates an Executor. A nil Ledger gets a MemoryLedger.
func NewExecutor(opts ExecutorOpts) (*Executor, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("tools: registry is required")
	}
	if opts.Ledger == nil {
		opts.Ledger = NewMemoryLedger()
	}
	return &Executor{reg: opts.Registry, ledger: opts.Ledger, metrics: opts.Metrics}, nil
}

// Registry returns the registry the executor resolves tools from.
func (x *Executor) Registry() *Registry { return x.reg }

// Recorded returns the tool message for a call that was already dispatched,
// replaying its recorded result. ok is false when the call never ran.
func (x *Executor) Recorded(ctx context.Context, call dialog.ToolCall) (msg dialog.Message, ok bool) {
	prior, seen, err := x.ledger.Lookup(ctx, call.ID)
	if err != nil {
		log.Error().Err(err).Str("call_id", call.ID).Msg("tools: lookup failed")
		return dialog.Message{}, false
	}
	if !seen {
		return dialog.Message{}, false
	}
	x.metrics.ToolCall(call.Name, "replayed")
	if prior == nil {
		return dialog.ToolResult(call.ID, unknownOutcome), true
	}
	return dialog.ToolResult(call.ID, prior.Content), true
}

// Execute runs call and returns the tool message answering it. Failures are
// reported in the message content rather than as an error so the agent can
// react to them. Once dispatched, a call runs to completion even if ctx is
// cancelled.
func (x *Executor) Execute(ctx context.Context, threadID string, call dialog.ToolCall) dialog.Message {
	logger := log.With().Str("thread", threadID).Str("tool", call.Name).Str("call_id", call.ID).Logger()

	tool, args, err := x.reg.Decode(call)
	if err != nil {
		x.metrics.ToolCall(call.Name, "invalid")
		logger.Warn().Err(err).Msg("tools: rejected call")
		return dialog.ToolResult(call.ID, ErrorMessage(err))
	}

	prior, claimed, err := x.ledger.Claim(ctx, threadID, call)
	if err != nil {
		x.metrics.ToolCall(call.Name, "ledger_error")
		logger.Error().Err(err).Msg("tools: claim failed")
		return dialog.ToolResult(call.ID, ErrorMessage(fmt.Errorf("could not record call: %w", err)))
	}
	if !claimed {
		x.metrics.ToolCall(call.Name, "replayed")
		if prior == nil {
			logger.Warn().Msg("tools: call dispatched earlier without a recorded result")
			return dialog.ToolResult(call.ID, unknownOutcome)
		}
		logger.Info().Msg("tools: replaying recorded result")
		return dialog.ToolResult(call.ID, prior.Content)
	}

	runCtx := context.WithoutCancel(ctx)
	result, err := tool.Call(runCtx, args)
	out := Outcome{Content: result}
	if err != nil {
		out = Outcome{Content: ErrorMessage(err), Failed: true}
		x.metrics.ToolCall(call.Name, "failed")
		logger.Warn().Err(err).Msg("tools: call failed")
	} else {
		x.metrics.ToolCall(call.Name, "succeeded")
		logger.Info().Msg("tools: call succeeded")
	}

	if err := x.ledger.Complete(runCtx, call.ID, out); err != nil {
		logger.Error().Err(err).Msg("tools: record result")
	}
	return dialog.ToolResult(call.ID, out.Content)
}
