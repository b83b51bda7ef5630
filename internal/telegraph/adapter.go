// Package telegraph carries conversations over chat platforms (Slack,
// Discord). Every platform thread is one assistant conversation.
package telegraph

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message sending/receiving
// for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string // e.g. "slack", "discord"
	ChannelID string // platform-specific channel identifier
	// ThreadID is the conversation thread. Empty for a top-level message on
	// platforms where the channel itself is the conversation.
	ThreadID  string
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string
	ThreadID  string // thread to reply in (empty for a top-level message)
	Text      string // plain text, also the fallback when Card is set
	Card      *Card
}

// Card is a highlighted block, used for approval prompts.
type Card struct {
	Title  string
	Body   string
	Color  string // sidebar color hint, e.g. "#ff9800"
	Fields []Field
}

// Field is a key-value pair displayed on a card.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Card colors.
const (
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
