package telegraph

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/assistant"
	"github.com/zulandar/openhouse/internal/channel"
	"github.com/zulandar/openhouse/internal/session"
)

// Handler runs one conversation turn.
type Handler interface {
	Handle(ctx context.Context, req assistant.Request) channel.Reply
}

// Bridge pumps chat platform messages through a Handler and posts the
// replies back into the same thread. Messages of one thread are handled in
// arrival order; different threads run concurrently.
type Bridge struct {
	adapter     Adapter
	handler     Handler
	platform    string
	homeChannel string

	mu     sync.Mutex
	queues map[string]*threadQueue
	wg     sync.WaitGroup
}

type threadQueue struct {
	pending []InboundMessage
}

// BridgeOpts holds parameters for NewBridge.
type BridgeOpts struct {
	Adapter  Adapter
	Handler  Handler
	Platform string // "slack" or "discord"
	// HomeChannel receives OnlineNotice when the bridge connects. Optional.
	HomeChannel string
}

// OnlineNotice is posted to the home channel on startup.
const OnlineNotice = "OpenHouse is online. Mention me to start a home search."

// NewBridge creates a Bridge.
func NewBridge(opts BridgeOpts) (*Bridge, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("telegraph: handler is required")
	}
	if opts.Platform == "" {
		return nil, fmt.Errorf("telegraph: platform is required")
	}
	return &Bridge{
		adapter:     opts.Adapter,
		handler:     opts.Handler,
		platform:    opts.Platform,
		homeChannel: opts.HomeChannel,
		queues:      make(map[string]*threadQueue),
	}, nil
}

// ThreadKey names the conversation thread of a platform thread.
func ThreadKey(platform, channelID, threadID string) string {
	return platform + ":" + channelID + ":" + threadID
}

// ParseThreadKey splits a key built by ThreadKey.
func ParseThreadKey(key string) (platform, channelID, threadID string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// resolveThreadID returns the effective thread ID. For top-level channel
// messages (empty threadID), the channel ID is the thread.
func resolveThreadID(channelID, threadID string) string {
	if threadID == "" {
		return channelID
	}
	return threadID
}

// Run connects the adapter and handles messages until ctx is cancelled or
// the adapter closes its inbound channel.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}
	inbound, err := b.adapter.Listen(ctx)
	if err != nil {
		b.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	var botUserID string
	if bui, ok := b.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}
	log.Info().Str("platform", b.platform).Msg("telegraph: online")
	if b.homeChannel != "" {
		if err := b.adapter.Send(ctx, OutboundMessage{ChannelID: b.homeChannel, Text: OnlineNotice}); err != nil {
			log.Warn().Err(err).Str("channel", b.homeChannel).Msg("telegraph: announce")
		}
	}

	defer func() {
		if err := b.adapter.Close(); err != nil {
			log.Warn().Err(err).Msg("telegraph: close adapter")
		}
		b.wg.Wait()
		log.Info().Str("platform", b.platform).Msg("telegraph: stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if botUserID != "" && msg.UserID == botUserID {
				continue
			}
			b.enqueue(ctx, msg)
		}
	}
}

func (b *Bridge) enqueue(ctx context.Context, msg InboundMessage) {
	key := ThreadKey(b.platform, msg.ChannelID, resolveThreadID(msg.ChannelID, msg.ThreadID))

	b.mu.Lock()
	defer b.mu.Unlock()
	q, running := b.queues[key]
	if !running {
		q = &threadQueue{}
		b.queues[key] = q
	}
	q.pending = append(q.pending, msg)
	if !running {
		b.wg.Add(1)
		go b.drain(ctx, key, q)
	}
}

// drain handles a thread's messages one at a time and exits once the queue
// is empty.
func (b *Bridge) drain(ctx context.Context, key string, q *threadQueue) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if len(q.pending) == 0 {
			delete(b.queues, key)
			b.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		b.mu.Unlock()

		b.handle(ctx, key, msg)
	}
}

// mentionRe matches Slack <@U123> and Discord <@123> / <@!123> mentions.
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9_]+>`)

func (b *Bridge) handle(ctx context.Context, key string, msg InboundMessage) {
	text := strings.TrimSpace(mentionRe.ReplaceAllString(msg.Text, ""))
	if text == "" {
		return
	}
	log.Debug().Str("thread", key).Str("user", msg.UserName).Msg("telegraph: inbound")

	reply := b.handler.Handle(ctx, assistant.Request{
		ThreadID: key,
		Channel:  b.platform,
		UserID:   msg.UserID,
		Input:    channel.Inbound{Content: text},
	})
	threadID := resolveThreadID(msg.ChannelID, msg.ThreadID)
	for _, out := range reply.Outbound {
		if err := b.adapter.Send(ctx, Render(msg.ChannelID, threadID, out)); err != nil {
			log.Error().Err(err).Str("thread", key).Msg("telegraph: send reply")
		}
	}
}

// Render turns an outbound message into a platform message. Approval
// prompts and errors become cards.
func Render(channelID, threadID string, out channel.Outbound) OutboundMessage {
	msg := OutboundMessage{ChannelID: channelID, ThreadID: threadID, Text: out.Content}
	if threadID == channelID {
		msg.ThreadID = ""
	}
	switch out.Type {
	case channel.TypeToolCall:
		body, prompt, _ := strings.Cut(out.Content, "\n\n")
		if prompt == "" {
			prompt = assistant.ConfirmPrompt
		}
		msg.Card = &Card{
			Title: "Confirmation required",
			Body:  body,
			Color: ColorWarning,
			Fields: []Field{
				{Name: "To approve", Value: "Reply \"yes\"", Short: true},
				{Name: "To decline", Value: "Reply with the reason", Short: true},
			},
		}
		msg.Text = body + "\n" + prompt
	case channel.TypeError:
		msg.Card = &Card{Title: "Something went wrong", Body: out.Content, Color: ColorError}
	}
	return msg
}

// Notify posts a notice into the thread's chat thread. It implements
// assistant.Notifier.
func (b *Bridge) Notify(ctx context.Context, t session.Thread, text string) error {
	platform, channelID, threadID, ok := ParseThreadKey(t.ID)
	if !ok || platform != b.platform {
		return fmt.Errorf("telegraph: thread %q does not belong to %s", t.ID, b.platform)
	}
	return b.adapter.Send(ctx, Render(channelID, threadID, channel.BotResponse(text)))
}
