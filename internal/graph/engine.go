package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/metrics"
)

const (
	defaultMaxSteps             = 25
	defaultMaxDegenerateRetries = 3
	defaultApprovalTimeout      = time.Hour
)

// DegenerateNudge is shown to an agent that produced an empty reply.
const DegenerateNudge = "Respond with a real output."

// FallbackReply ends a turn whose agent kept producing empty replies.
const FallbackReply = "Sorry, I wasn't able to come up with a response. Could you rephrase that?"

// Status is the outcome of a turn.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// Input is what a user sends for one turn: either new content or a reply to a
// pending approval prompt.
type Input struct {
	Content  string
	Approval *string
}

// UserInput wraps content as an Input.
func UserInput(content string) Input { return Input{Content: content} }

// ApprovalInput wraps an explicit approval reply.
func ApprovalInput(reply string) Input { return Input{Approval: &reply} }

func (in Input) text() string {
	if in.Approval != nil {
		return *in.Approval
	}
	return in.Content
}

// Result is what one turn produced.
type Result struct {
	Status Status
	// Reply is the final assistant content of the turn. For an interrupted
	// turn it is whatever the agent said alongside the gated tool calls.
	Reply     string
	Interrupt *Interrupt
	// Messages were appended to the thread during this turn.
	Messages []dialog.Message
}

// EngineOpts holds parameters for NewEngine.
type EngineOpts struct {
	Graph        *Graph
	Checkpointer Checkpointer
	Metrics      *metrics.Metrics

	MaxSteps             int
	MaxDegenerateRetries int
	// ApprovalTimeout bounds how long a suspended thread waits for a reply.
	// Zero uses one hour; a negative value disables the check.
	ApprovalTimeout time.Duration
	Clock           func() time.Time
}

// Engine executes turns of a compiled Graph against checkpointed threads.
type Engine struct {
	graph           *Graph
	cp              Checkpointer
	metrics         *metrics.Metrics
	maxSteps        int
	maxRetries      int
	approvalTimeout time.Duration
	now             func() time.Time
	locks           *threadLocks
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("graph: graph is required")
	}
	if opts.Checkpointer == nil {
		return nil, fmt.Errorf("graph: checkpointer is required")
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	if opts.MaxDegenerateRetries <= 0 {
		opts.MaxDegenerateRetries = defaultMaxDegenerateRetries
	}
	if opts.ApprovalTimeout == 0 {
		opts.ApprovalTimeout = defaultApprovalTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		graph:           opts.Graph,
		cp:              opts.Checkpointer,
		metrics:         opts.Metrics,
		maxSteps:        opts.MaxSteps,
		maxRetries:      opts.MaxDegenerateRetries,
		approvalTimeout: opts.ApprovalTimeout,
		now:             opts.Clock,
		locks:           newThreadLocks(),
	}, nil
}

// ApprovalTimeout returns the configured approval window.
func (e *Engine) ApprovalTimeout() time.Duration { return e.approvalTimeout }

type threadKey struct{}

// WithThreadID tags ctx with the thread a turn belongs to.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadKey{}, threadID)
}

// ThreadID returns the thread a node is running for.
func ThreadID(ctx context.Context) string {
	id, _ := ctx.Value(threadKey{}).(string)
	return id
}

// Approved reports whether reply approves a pending action.
func Approved(reply string) bool {
	return strings.EqualFold(strings.TrimSpace(reply), "yes")
}

// Run executes one turn for threadID. Turns on the same thread are serialized.
// State is persisted when the turn completes or suspends, and as soon as a
// pending approval has been resolved: a denial is saved before the turn
// continues and an approved gated node is saved right after it runs. Any
// other failure leaves the previous checkpoint untouched.
func (e *Engine) Run(ctx context.Context, threadID string, in Input) (*Result, error) {
	release, err := e.locks.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	started := e.now()
	ctx = WithThreadID(ctx, threadID)
	logger := log.With().Str("thread", threadID).Logger()

	st, _, err := e.cp.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("graph: load %s: %w", threadID, err)
	}
	start := len(st.Messages)

	var node NodeID
	skipGate := false
	if st.Suspended() {
		node, skipGate, err = e.resolveApproval(ctx, threadID, &st, in.text())
		if err != nil {
			return nil, err
		}
		if !skipGate {
			if err := e.cp.Save(ctx, threadID, st); err != nil {
				return nil, fmt.Errorf("graph: save %s: %w", threadID, err)
			}
		}
	} else {
		if in.Approval != nil {
			return nil, ErrNoPendingApproval
		}
		if strings.TrimSpace(in.Content) == "" {
			return nil, ErrEmptyInput
		}
		st.Messages = append(st.Messages, dialog.User(in.Content))
		node = e.graph.entry
	}

	for steps := 0; node != End; steps++ {
		if steps >= e.maxSteps {
			return nil, fmt.Errorf("%w: %d nodes in one turn", ErrStepLimit, e.maxSteps)
		}
		n := e.graph.nodes[node]

		if n.gate != nil && !skipGate {
			if intr := n.gate.Check(st); intr != nil {
				intr.Node = node
				now := e.now()
				st.Next = string(node)
				st.SuspendedAt = &now
				if err := e.cp.Save(ctx, threadID, st); err != nil {
					return nil, fmt.Errorf("graph: save %s: %w", threadID, err)
				}
				e.metrics.Interrupt()
				e.metrics.ObserveTurn(string(StatusInterrupted), e.now().Sub(started))
				logger.Info().Str("node", string(node)).Str("tool", intr.Tool).Str("call_id", intr.CallID).Msg("graph: awaiting approval")
				appended := st.Messages[start:]
				return &Result{
					Status:    StatusInterrupted,
					Reply:     lastAssistantContent(appended),
					Interrupt: intr,
					Messages:  appended,
				}, nil
			}
		}
		approved := skipGate
		skipGate = false

		logger.Debug().Str("node", string(node)).Msg("graph: enter node")
		up, err := e.execute(ctx, n, st)
		if err != nil {
			return nil, err
		}
		apply(&st, up)
		if approved {
			if err := e.cp.Save(ctx, threadID, st); err != nil {
				return nil, fmt.Errorf("graph: save %s: %w", threadID, err)
			}
		}

		node, err = e.graph.next(node, st)
		if err != nil {
			var re *RoutingError
			if errors.As(err, &re) {
				e.metrics.RoutingError()
				logger.Warn().Err(err).Msg("graph: turn abandoned")
			}
			return nil, err
		}
	}

	st.Next = ""
	st.SuspendedAt = nil
	if err := e.cp.Save(ctx, threadID, st); err != nil {
		return nil, fmt.Errorf("graph: save %s: %w", threadID, err)
	}
	e.metrics.ObserveTurn(string(StatusCompleted), e.now().Sub(started))

	appended := st.Messages[start:]
	return &Result{
		Status:   StatusCompleted,
		Reply:    lastAssistantContent(appended),
		Messages: appended,
	}, nil
}

// resolveApproval consumes the reply to a pending approval and returns the
// node the turn continues at.
func (e *Engine) resolveApproval(ctx context.Context, threadID string, st *dialog.State, reply string) (NodeID, bool, error) {
	suspended := NodeID(st.Next)
	if e.approvalTimeout > 0 && st.SuspendedAt != nil && e.now().Sub(*st.SuspendedAt) > e.approvalTimeout {
		if err := e.cp.Delete(ctx, threadID); err != nil {
			return "", false, fmt.Errorf("graph: discard %s: %w", threadID, err)
		}
		e.metrics.Approval("expired")
		return "", false, ErrApprovalExpired
	}

	n, ok := e.graph.nodes[suspended]
	if !ok || n.gate == nil {
		return "", false, fmt.Errorf("graph: thread %s suspended at ungated node %q", threadID, suspended)
	}
	st.Next = ""
	st.SuspendedAt = nil

	if Approved(reply) {
		e.metrics.Approval("approved")
		return suspended, true, nil
	}

	e.metrics.Approval("rejected")
	up, err := n.gate.Reject(ctx, *st, strings.TrimSpace(reply))
	if err != nil {
		return "", false, &NodeError{Node: suspended, Err: err}
	}
	apply(st, up)
	return n.gate.ResumeAt, false, nil
}

// execute runs a node. Agent nodes that return an empty reply are re-run with
// a nudge appended to a scratch copy of the state; the nudge itself is never
// persisted. Messages the node produced ahead of the empty reply are kept.
func (e *Engine) execute(ctx context.Context, n *node, st dialog.State) (Update, error) {
	attempt := st
	var prefix []dialog.Message
	for try := 0; ; try++ {
		up, err := n.fn(ctx, attempt)
		if err != nil {
			return Update{}, &NodeError{Node: n.id, Err: err}
		}
		if !n.agent || !up.degenerate() {
			up.Messages = append(prefix, up.Messages...)
			return up, nil
		}
		if len(up.Messages) > 1 {
			prefix = append(prefix, up.Messages[:len(up.Messages)-1]...)
		}
		if try >= e.maxRetries {
			log.Warn().Str("thread", ThreadID(ctx)).Str("node", string(n.id)).Int("retries", try).Msg("graph: giving up on empty agent output")
			return Update{Messages: append(prefix, dialog.Assistant(FallbackReply))}, nil
		}
		e.metrics.DegenerateRetry()
		attempt = st.Clone()
		attempt.Messages = append(attempt.Messages, prefix...)
		attempt.Messages = append(attempt.Messages, dialog.User(DegenerateNudge))
	}
}

// Discard removes a thread's checkpoint. It waits for any running turn.
func (e *Engine) Discard(ctx context.Context, threadID string) error {
	release, err := e.locks.acquire(ctx, threadID)
	if err != nil {
		return err
	}
	defer release()
	if err := e.cp.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("graph: discard %s: %w", threadID, err)
	}
	return nil
}

// Pending returns the approval threadID is waiting on, or nil when the thread
// is not suspended.
func (e *Engine) Pending(ctx context.Context, threadID string) (*Interrupt, error) {
	st, ok, err := e.State(ctx, threadID)
	if err != nil || !ok || !st.Suspended() {
		return nil, err
	}
	id := NodeID(st.Next)
	n, ok := e.graph.nodes[id]
	if !ok || n.gate == nil {
		return nil, fmt.Errorf("graph: thread %s suspended at ungated node %q", threadID, id)
	}
	intr := n.gate.Check(st)
	if intr == nil {
		intr = &Interrupt{}
	}
	intr.Node = id
	return intr, nil
}

// State returns the saved state for threadID without taking the thread lock.
func (e *Engine) State(ctx context.Context, threadID string) (dialog.State, bool, error) {
	st, ok, err := e.cp.Load(ctx, threadID)
	if err != nil {
		return dialog.State{}, false, fmt.Errorf("graph: load %s: %w", threadID, err)
	}
	return st, ok, nil
}

func apply(st *dialog.State, up Update) {
	st.Messages = append(st.Messages, up.Messages...)
	if up.Criteria != nil {
		st.Criteria = *up.Criteria
	}
}

func lastAssistantContent(msgs []dialog.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == dialog.RoleAssistant && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return ""
}
