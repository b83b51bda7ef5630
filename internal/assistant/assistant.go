// Package assistant is the entry point every channel talks to. It keeps the
// session map current, runs turns on the dialogue engine, and turns results
// and failures into outbound messages.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/channel"
	"github.com/zulandar/openhouse/internal/criteria"
	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/graph"
	"github.com/zulandar/openhouse/internal/session"
	"github.com/zulandar/openhouse/internal/tools"
)

// ErrMalformedInput is reported for an inbound message with nothing to act on.
var ErrMalformedInput = errors.New("assistant: malformed input")

// User-facing texts.
const (
	ConfirmPrompt      = "Confirmation Required, to confirm please reply with 'yes'"
	InternalErrorReply = "Sorry, an internal error occurred. Please try again."
	BusyReply          = "I'm still working on your previous message."
	NoPendingReply     = "There is nothing waiting for your approval."
	MalformedReply     = "Malformed input: send a message or an approval reply."
	IdleNotice         = "This conversation was closed after a period of inactivity."
)

// Notifier delivers out-of-band notices to users of one channel, e.g. an
// SMS when an approval prompt expired.
type Notifier interface {
	Notify(ctx context.Context, t session.Thread, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, t session.Thread, text string) error

func (f NotifierFunc) Notify(ctx context.Context, t session.Thread, text string) error {
	return f(ctx, t, text)
}

// Request identifies who sent an inbound message and on which thread.
type Request struct {
	ThreadID string
	Channel  string
	UserID   string
	Input    channel.Inbound
}

// ServiceOpts holds parameters for NewService.
type ServiceOpts struct {
	Engine   *graph.Engine
	Sessions *session.Manager
}

// Service runs conversation turns for every channel.
type Service struct {
	engine   *graph.Engine
	sessions *session.Manager

	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewService creates a Service and registers its expiry hook with the
// session manager.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("assistant: engine is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("assistant: session manager is required")
	}
	s := &Service{
		engine:    opts.Engine,
		sessions:  opts.Sessions,
		notifiers: make(map[string]Notifier),
	}
	opts.Sessions.OnExpire(s.expire)
	return s, nil
}

// Engine returns the dialogue engine.
func (s *Service) Engine() *graph.Engine { return s.engine }

// Sessions returns the session manager.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// RegisterNotifier sets the notifier used for threads of channelName.
func (s *Service) RegisterNotifier(channelName string, n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers[channelName] = n
}

// Handle runs one turn and returns what should be sent back. It never fails:
// every error becomes an outbound message.
func (s *Service) Handle(ctx context.Context, req Request) channel.Reply {
	logger := log.With().Str("thread", req.ThreadID).Str("channel", req.Channel).Logger()
	if req.ThreadID == "" || req.Input.Empty() {
		logger.Warn().Err(ErrMalformedInput).Msg("assistant: rejected inbound")
		return channel.Reply{Outbound: []channel.Outbound{channel.Error(MalformedReply)}}
	}

	if _, _, err := s.sessions.Touch(ctx, req.ThreadID, req.Channel, req.UserID); err != nil {
		logger.Error().Err(err).Msg("assistant: touch session")
	}

	if req.Input.Reminder {
		intr, err := s.engine.Pending(ctx, req.ThreadID)
		if err != nil {
			logger.Error().Err(err).Msg("assistant: load thread")
			return channel.Reply{Outbound: []channel.Outbound{channel.Error(InternalErrorReply)}}
		}
		if intr != nil {
			logger.Debug().Msg("assistant: repeating approval prompt")
			return channel.Reply{Outbound: []channel.Outbound{channel.ToolCall(ApprovalPrompt(intr))}, Awaiting: true}
		}
	}

	in, err := s.input(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("assistant: load thread")
		return channel.Reply{Outbound: []channel.Outbound{channel.Error(InternalErrorReply)}}
	}

	ctx = tools.WithCaller(ctx, tools.Caller{Channel: req.Channel, UserID: req.UserID})
	res, err := s.engine.Run(ctx, req.ThreadID, in)
	if err != nil {
		// A failed turn may still have resolved a pending approval.
		if intr, perr := s.engine.Pending(ctx, req.ThreadID); perr == nil {
			s.sessions.MarkAwaiting(req.ThreadID, intr != nil)
		}
		return s.failure(req, err)
	}

	if res.Status == graph.StatusInterrupted {
		s.sessions.MarkAwaiting(req.ThreadID, true)
		var out []channel.Outbound
		if strings.TrimSpace(res.Reply) != "" {
			out = append(out, channel.BotResponse(res.Reply))
		}
		out = append(out, channel.ToolCall(ApprovalPrompt(res.Interrupt)))
		return channel.Reply{Outbound: out, Awaiting: true}
	}

	s.sessions.MarkAwaiting(req.ThreadID, false)
	reply := res.Reply
	if strings.TrimSpace(reply) == "" {
		reply = graph.FallbackReply
	}
	return channel.Reply{Outbound: []channel.Outbound{channel.BotResponse(reply)}}
}

// input turns the inbound into an engine input. Plain text sent to a
// suspended thread answers its approval prompt, so channels without a
// separate approval field work unchanged. Reminders never get here while a
// thread is suspended.
func (s *Service) input(ctx context.Context, req Request) (graph.Input, error) {
	if req.Input.Approval != nil {
		return graph.ApprovalInput(*req.Input.Approval), nil
	}
	st, ok, err := s.engine.State(ctx, req.ThreadID)
	if err != nil {
		return graph.Input{}, err
	}
	if ok && st.Suspended() {
		return graph.ApprovalInput(req.Input.Content), nil
	}
	return graph.UserInput(req.Input.Content), nil
}

func (s *Service) failure(req Request, err error) channel.Reply {
	logger := log.With().Str("thread", req.ThreadID).Str("channel", req.Channel).Logger()
	var re *graph.RoutingError

	switch {
	case errors.Is(err, graph.ErrApprovalExpired):
		s.sessions.MarkAwaiting(req.ThreadID, false)
		logger.Info().Msg("assistant: approval reply arrived too late")
		return channel.Reply{Outbound: []channel.Outbound{channel.BotResponse(graph.TimeoutNotice)}}
	case errors.Is(err, graph.ErrNoPendingApproval):
		return channel.Reply{Outbound: []channel.Outbound{channel.Error(NoPendingReply)}}
	case errors.Is(err, graph.ErrThreadBusy):
		return channel.Reply{Outbound: []channel.Outbound{channel.Error(BusyReply)}}
	case errors.Is(err, graph.ErrEmptyInput):
		return channel.Reply{Outbound: []channel.Outbound{channel.Error(MalformedReply)}}
	case errors.As(err, &re):
		logger.Error().Err(err).Msg("assistant: routing failed")
		return channel.Reply{Outbound: []channel.Outbound{channel.Error(InternalErrorReply)}}
	default:
		logger.Error().Err(err).Msg("assistant: turn failed")
		return channel.Reply{Outbound: []channel.Outbound{channel.Error(InternalErrorReply)}}
	}
}

// ApprovalPrompt is the text shown when a turn waits on approval.
func ApprovalPrompt(intr *graph.Interrupt) string {
	if intr == nil {
		return ConfirmPrompt
	}
	return intr.Description + "\n\n" + ConfirmPrompt
}

// Close tears a thread down. Its checkpoint is discarded even when the
// session was no longer live.
func (s *Service) Close(ctx context.Context, threadID string, reason session.Reason) error {
	if s.sessions.Close(ctx, threadID, reason) {
		return nil
	}
	return s.engine.Discard(ctx, threadID)
}

func (s *Service) expire(ctx context.Context, t session.Thread, reason session.Reason) {
	logger := log.With().Str("thread", t.ID).Str("reason", string(reason)).Logger()
	if err := s.engine.Discard(ctx, t.ID); err != nil {
		logger.Error().Err(err).Msg("assistant: discard thread")
	}

	var text string
	switch reason {
	case session.ReasonApprovalTimeout:
		text = graph.TimeoutNotice
	case session.ReasonIdle:
		text = IdleNotice
	default:
		return
	}
	s.mu.RLock()
	n, ok := s.notifiers[t.Channel]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if err := n.Notify(ctx, t, text); err != nil {
		logger.Warn().Err(err).Msg("assistant: notify")
	}
}

// Snapshot is the externally visible state of a thread.
type Snapshot struct {
	ThreadID    string                  `json:"thread_id"`
	Criteria    criteria.SearchCriteria `json:"search_criteria"`
	Messages    []dialog.Message        `json:"messages"`
	Awaiting    bool                    `json:"awaiting_approval"`
	Next        string                  `json:"next,omitempty"`
	SuspendedAt *time.Time              `json:"suspended_at,omitempty"`
	Channel     string                  `json:"channel,omitempty"`
	Live        bool                    `json:"live"`
}

// Thread returns the snapshot of a thread's saved state.
func (s *Service) Thread(ctx context.Context, threadID string) (Snapshot, bool, error) {
	st, ok, err := s.engine.State(ctx, threadID)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("assistant: thread %s: %w", threadID, err)
	}
	live, isLive := s.sessions.Get(threadID)
	if !ok && !isLive {
		return Snapshot{}, false, nil
	}
	snap := Snapshot{
		ThreadID:    threadID,
		Criteria:    st.Criteria,
		Messages:    st.Messages,
		Awaiting:    st.Suspended(),
		Next:        st.Next,
		SuspendedAt: st.SuspendedAt,
		Channel:     live.Channel,
		Live:        isLive,
	}
	if snap.Messages == nil {
		snap.Messages = []dialog.Message{}
	}
	return snap, true, nil
}
