package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrThreadBusy is returned when a thread's lock could not be taken
	// before the caller gave up.
	ErrThreadBusy = errors.New("graph: thread is busy")

	// ErrNoPendingApproval is returned for an approval reply on a thread that
	// is not suspended.
	ErrNoPendingApproval = errors.New("graph: no pending approval")

	// ErrApprovalExpired is returned when the reply to an approval prompt
	// arrives after the approval timeout. The thread's state is discarded.
	ErrApprovalExpired = errors.New("graph: approval expired")

	// ErrStepLimit is returned when a turn visits more nodes than allowed.
	ErrStepLimit = errors.New("graph: step limit exceeded")

	// ErrEmptyInput is returned for a turn with no content.
	ErrEmptyInput = errors.New("graph: empty input")
)

// TimeoutNotice is shown to the user when an approval prompt goes unanswered.
const TimeoutNotice = "User did not respond in time."

// RoutingError reports a router that could not map the state to a node,
// typically because the model called a tool the router does not know.
type RoutingError struct {
	From   NodeID
	Tool   string
	Target string
}

func (e *RoutingError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("graph: routing from %s: unrecognized tool call %q", e.From, e.Tool)
	}
	return fmt.Sprintf("graph: routing from %s: unknown target node %q", e.From, e.Target)
}

// UnknownTool builds the RoutingError for an unrecognized tool name.
func UnknownTool(from NodeID, tool string) error {
	return &RoutingError{From: from, Tool: tool}
}

// NodeError wraps a failure inside a node.
type NodeError struct {
	Node NodeID
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("graph: node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
