// Package channel defines the messages exchanged with users and the loop that
// drives a persistent connection through conversation turns.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Outbound message types.
const (
	TypeBotResponse = "bot_response"
	TypeToolCall    = "tool_call"
	TypeError       = "error"
)

var (
	// ErrClosed is returned by Receive when the peer went away.
	ErrClosed = errors.New("channel: closed")

	// ErrMalformed is returned by Receive for a frame that could not be
	// decoded. The connection stays usable.
	ErrMalformed = errors.New("channel: malformed frame")

	// ErrApprovalTimeout ends a conversation whose approval prompt went
	// unanswered.
	ErrApprovalTimeout = errors.New("channel: approval timed out")
)

// Inbound is one user message: either new content or an answer to an
// approval prompt.
type Inbound struct {
	Content  string  `json:"content,omitempty"`
	Approval *string `json:"approval,omitempty"`
	// Reminder marks a prompt generated because the user went quiet. It
	// never answers a pending approval.
	Reminder bool `json:"-"`
}

// Text returns the approval reply if present, else the content.
func (in Inbound) Text() string {
	if in.Approval != nil {
		return *in.Approval
	}
	return in.Content
}

// Empty reports whether the message carries nothing to act on.
func (in Inbound) Empty() bool {
	return in.Approval == nil && strings.TrimSpace(in.Content) == ""
}

// Outbound is one message to the user.
type Outbound struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func newOutbound(typ, content string) Outbound {
	return Outbound{Type: typ, Content: content, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// BotResponse builds an assistant reply.
func BotResponse(content string) Outbound { return newOutbound(TypeBotResponse, content) }

// ToolCall builds an approval prompt.
func ToolCall(content string) Outbound { return newOutbound(TypeToolCall, content) }

// Error builds an error notice.
func Error(content string) Outbound { return newOutbound(TypeError, content) }

// Reply is what handling one inbound produced.
type Reply struct {
	Outbound []Outbound
	// Awaiting is true when the thread now waits on an approval reply.
	Awaiting bool
}

// Contents returns the text of every outbound message.
func (r Reply) Contents() []string {
	out := make([]string, 0, len(r.Outbound))
	for _, o := range r.Outbound {
		out = append(out, o.Content)
	}
	return out
}

// Channel is a bidirectional connection with one user.
type Channel interface {
	Receive(ctx context.Context) (Inbound, error)
	Send(ctx context.Context, out Outbound) error
}

// TurnFunc handles one inbound message.
type TurnFunc func(ctx context.Context, in Inbound) Reply

// ConverseOpts holds parameters for Converse.
type ConverseOpts struct {
	// ApprovalTimeout bounds the wait for a reply to an approval prompt.
	// Zero disables the bound.
	ApprovalTimeout time.Duration
	// TimeoutNotice is sent before the conversation ends on an approval
	// timeout.
	TimeoutNotice string
}

// Converse receives messages from ch, hands each to turn, and sends back what
// it produced, until the peer disconnects or ctx ends. Malformed frames get
// an error reply and are otherwise ignored.
func Converse(ctx context.Context, ch Channel, turn TurnFunc, opts ConverseOpts) error {
	awaiting := false
	for {
		rctx, cancel := ctx, context.CancelFunc(func() {})
		if awaiting && opts.ApprovalTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, opts.ApprovalTimeout)
		}
		in, err := ch.Receive(rctx)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, ErrMalformed):
			if serr := ch.Send(ctx, Error(err.Error())); serr != nil {
				return fmt.Errorf("channel: send: %w", serr)
			}
			continue
		case errors.Is(err, ErrClosed):
			return nil
		case awaiting && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
			log.Info().Dur("timeout", opts.ApprovalTimeout).Msg("channel: approval timed out")
			if opts.TimeoutNotice != "" {
				_ = ch.Send(ctx, BotResponse(opts.TimeoutNotice))
			}
			return ErrApprovalTimeout
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("channel: receive: %w", err)
		}

		reply := turn(ctx, in)
		for _, out := range reply.Outbound {
			if err := ch.Send(ctx, out); err != nil {
				return fmt.Errorf("channel: send: %w", err)
			}
		}
		awaiting = reply.Awaiting
	}
}
