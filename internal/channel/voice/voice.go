// Package voice speaks the Retell custom LLM WebSocket protocol: Retell
// sends live call transcripts and asks for responses, and replies are
// streamed back in chunks.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/channel"
)

// Interaction types sent by Retell.
const (
	InteractionCallDetails      = "call_details"
	InteractionPingPong         = "ping_pong"
	InteractionUpdateOnly       = "update_only"
	InteractionResponseRequired = "response_required"
	InteractionReminderRequired = "reminder_required"
)

// ReminderNudge stands in for the user when Retell asks for a reminder.
const ReminderNudge = "(Now the user has not responded in a while, you would say:)"

const defaultChunkWords = 12

// Utterance is one transcript entry.
type Utterance struct {
	Role    string `json:"role"` // "agent" or "user"
	Content string `json:"content"`
}

// Request is an inbound Retell frame.
type Request struct {
	InteractionType string          `json:"interaction_type"`
	ResponseID      int64           `json:"response_id"`
	Transcript      []Utterance     `json:"transcript"`
	Timestamp       int64           `json:"timestamp,omitempty"`
	Call            json.RawMessage `json:"call,omitempty"`
}

// Response is a streamed reply chunk.
type Response struct {
	ResponseType    string `json:"response_type"`
	ResponseID      int64  `json:"response_id"`
	Content         string `json:"content"`
	ContentComplete bool   `json:"content_complete"`
	EndCall         bool   `json:"end_call"`
}

// Config is sent once when the socket opens.
type Config struct {
	ResponseType string `json:"response_type"`
	Config       struct {
		AutoReconnect bool `json:"auto_reconnect"`
		CallDetails   bool `json:"call_details"`
	} `json:"config"`
	ResponseID int64 `json:"response_id"`
}

type pingPong struct {
	ResponseType string `json:"response_type"`
	Timestamp    int64  `json:"timestamp"`
}

// Opts holds parameters for Serve.
type Opts struct {
	CallID       string
	BeginMessage string
	Turn         channel.TurnFunc
	// ChunkWords is how many words go in each streamed chunk.
	ChunkWords int
}

type call struct {
	conn   *ws.Conn
	opts   Opts
	wmu    sync.Mutex
	latest atomic.Int64
	wg     sync.WaitGroup
}

// Serve runs the protocol on conn until Retell hangs up or ctx ends.
func Serve(ctx context.Context, conn *ws.Conn, opts Opts) error {
	if opts.Turn == nil {
		return fmt.Errorf("voice: turn handler is required")
	}
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = defaultChunkWords
	}
	c := &call{conn: conn, opts: opts}
	defer c.wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	logger := log.With().Str("call_id", opts.CallID).Logger()

	// Turns on one call run in arrival order. Requests overtaken by a newer
	// response_id while queued are dropped without reaching the assistant.
	turns := make(chan Request, 16)
	defer close(turns)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for req := range turns {
			if c.latest.Load() > req.ResponseID {
				logger.Debug().Int64("response_id", req.ResponseID).Msg("voice: skipping superseded request")
				continue
			}
			c.respond(ctx, req)
		}
	}()

	cfg := Config{ResponseType: "config", ResponseID: 1}
	cfg.Config.AutoReconnect = true
	cfg.Config.CallDetails = true
	if err := c.write(cfg); err != nil {
		return fmt.Errorf("voice: send config: %w", err)
	}
	if err := c.write(Response{ResponseType: "response", Content: opts.BeginMessage, ContentComplete: true}); err != nil {
		return fmt.Errorf("voice: send begin message: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce *ws.CloseError
			if errors.As(err, &ce) {
				logger.Info().Int("code", ce.Code).Msg("voice: call socket closed")
				return nil
			}
			return fmt.Errorf("voice: read: %w", err)
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn().Err(err).Msg("voice: undecodable frame")
			continue
		}

		switch req.InteractionType {
		case InteractionCallDetails:
			logger.Info().RawJSON("call", nonEmpty(req.Call)).Msg("voice: call details")
		case InteractionPingPong:
			if err := c.write(pingPong{ResponseType: "ping_pong", Timestamp: req.Timestamp}); err != nil {
				return fmt.Errorf("voice: ping: %w", err)
			}
		case InteractionUpdateOnly:
		case InteractionResponseRequired, InteractionReminderRequired:
			c.latest.Store(req.ResponseID)
			select {
			case turns <- req:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			logger.Warn().Str("interaction_type", req.InteractionType).Msg("voice: unknown interaction")
		}
	}
}

// Utterance picks the text to hand to the assistant for req.
func (r Request) Utterance() string {
	if r.InteractionType == InteractionReminderRequired {
		return ReminderNudge
	}
	for i := len(r.Transcript) - 1; i >= 0; i-- {
		if r.Transcript[i].Role != "agent" && strings.TrimSpace(r.Transcript[i].Content) != "" {
			return r.Transcript[i].Content
		}
	}
	return ""
}

func (c *call) respond(ctx context.Context, req Request) {
	logger := log.With().Str("call_id", c.opts.CallID).Int64("response_id", req.ResponseID).Logger()
	text := req.Utterance()
	if text == "" {
		_ = c.write(Response{ResponseType: "response", ResponseID: req.ResponseID, ContentComplete: true})
		return
	}

	reply := c.opts.Turn(ctx, channel.Inbound{
		Content:  text,
		Reminder: req.InteractionType == InteractionReminderRequired,
	})
	for _, out := range reply.Outbound {
		for _, chunk := range Chunks(out.Content, c.opts.ChunkWords) {
			if c.latest.Load() > req.ResponseID {
				logger.Info().Msg("voice: abandoning superseded response")
				return
			}
			if err := c.write(Response{ResponseType: "response", ResponseID: req.ResponseID, Content: chunk}); err != nil {
				logger.Warn().Err(err).Msg("voice: send chunk")
				return
			}
		}
	}
	if c.latest.Load() > req.ResponseID {
		return
	}
	if err := c.write(Response{ResponseType: "response", ResponseID: req.ResponseID, ContentComplete: true}); err != nil {
		logger.Warn().Err(err).Msg("voice: send completion")
	}
}

func (c *call) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

// Chunks splits text into pieces of at most n words, each ending with a
// space so the concatenation reads naturally.
func Chunks(text string, n int) []string {
	words := strings.Fields(text)
	var out []string
	for len(words) > 0 {
		k := min(n, len(words))
		out = append(out, strings.Join(words[:k], " ")+" ")
		words = words[k:]
	}
	return out
}

func nonEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
