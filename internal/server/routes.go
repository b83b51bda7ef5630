package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/assistant"
	"github.com/zulandar/openhouse/internal/channel"
	"github.com/zulandar/openhouse/internal/channel/voice"
	"github.com/zulandar/openhouse/internal/channel/websocket"
	"github.com/zulandar/openhouse/internal/graph"
	"github.com/zulandar/openhouse/internal/session"
	"github.com/zulandar/openhouse/internal/sms"
)

// Channel names recorded on sessions.
const (
	ChannelWeb   = "web"
	ChannelSMS   = "sms"
	ChannelVoice = "voice"
)

// Greeting is the liveness text served at /.
const Greeting = "Hello World! I'm a Real Estate Assistant"

const maxWebhookBody = 1 << 20

// WebThreadID names the thread of a web chat. Thread ids are scoped to
// the embedding website.
func WebThreadID(websiteID, threadID string) string {
	return "web_" + websiteID + "_" + threadID
}

// VoiceThreadID names the thread of a phone call.
func VoiceThreadID(callID string) string {
	return "voice_" + callID
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, Greeting) })
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))

	r.GET("/ws/:website_id/:thread_id", s.handleWebChat)
	r.POST("/sms", s.handleSMS)
	r.POST("/retell-webhook", s.handleVoiceWebhook)
	r.GET("/retell-llm-websocket/:call_id", s.handleVoiceSocket)

	api := r.Group("/api")
	api.GET("/threads/:id", s.handleGetThread)
	api.DELETE("/threads/:id", s.handleDeleteThread)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.opts.DB != nil {
		sqlDB, err := s.opts.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWebChat runs a browser conversation over a WebSocket. The thread is
// torn down when the socket closes.
func (s *Server) handleWebChat(c *gin.Context) {
	websiteID, threadID := c.Param("website_id"), c.Param("thread_id")
	id := WebThreadID(websiteID, threadID)

	conn, err := websocket.NewUpgrader(s.opts.AllowedOrigins).Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("thread", id).Msg("server: websocket upgrade")
		return
	}
	sock := websocket.New(conn)
	defer sock.Close()

	ctx := c.Request.Context()
	logger := log.With().Str("thread", id).Logger()
	logger.Info().Msg("server: web chat connected")

	err = channel.Converse(ctx, sock, func(ctx context.Context, in channel.Inbound) channel.Reply {
		return s.opts.Service.Handle(ctx, assistant.Request{
			ThreadID: id, Channel: ChannelWeb, UserID: websiteID, Input: in,
		})
	}, channel.ConverseOpts{
		ApprovalTimeout: s.opts.ApprovalTimeout,
		TimeoutNotice:   graph.TimeoutNotice,
	})

	reason := session.ReasonDisconnect
	switch {
	case errors.Is(err, channel.ErrApprovalTimeout):
		reason = session.ReasonApprovalTimeout
	case err != nil && ctx.Err() == nil:
		logger.Warn().Err(err).Msg("server: web chat ended")
	}
	if cerr := s.opts.Service.Close(context.WithoutCancel(ctx), id, reason); cerr != nil {
		logger.Error().Err(cerr).Msg("server: close thread")
	}
	logger.Info().Str("reason", string(reason)).Msg("server: web chat disconnected")
}

// handleSMS answers a Twilio webhook with one TwiML reply. An approval is
// simply the next text on the same thread.
func (s *Server) handleSMS(c *gin.Context) {
	in, params, err := sms.ParseInbound(c.Request)
	if err != nil {
		log.Warn().Err(err).Msg("server: sms webhook")
		s.twiml(c, http.StatusBadRequest, "An error occurred. Please try again later.")
		return
	}
	if s.opts.SMSValidator != nil {
		url := s.opts.SMSPublicURL
		if url == "" {
			url = requestURL(c.Request)
		}
		if !s.opts.SMSValidator.Valid(url, params, c.GetHeader(sms.SignatureHeader)) {
			log.Warn().Str("from", in.From).Msg("server: sms signature rejected")
			c.Status(http.StatusForbidden)
			return
		}
	}

	reply := s.opts.Service.Handle(c.Request.Context(), assistant.Request{
		ThreadID: sms.ThreadID(in.From),
		Channel:  ChannelSMS,
		UserID:   in.From,
		Input:    channel.Inbound{Content: in.Body},
	})
	s.twiml(c, http.StatusOK, reply.Contents()...)
}

func (s *Server) twiml(c *gin.Context, status int, bodies ...string) {
	out, err := sms.Reply(bodies...)
	if err != nil {
		log.Error().Err(err).Msg("server: render twiml")
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/xml", []byte(out))
}

// handleVoiceWebhook authenticates call lifecycle events. A finished call
// tears its thread down.
func (s *Server) handleVoiceWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "unreadable body"})
		return
	}
	sig := c.GetHeader(voice.SignatureHeader)
	if sig == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Missing signature header"})
		return
	}
	if !voice.Verify(body, s.opts.VoiceAPIKey, sig, s.opts.Now()) {
		log.Warn().Msg("server: voice webhook signature rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	var ev voice.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON format"})
		return
	}

	logger := log.With().Str("call_id", ev.Data.CallID).Str("event", ev.Event).Logger()
	switch ev.Event {
	case voice.EventCallStarted, voice.EventCallAnalyzed:
		logger.Info().Msg("server: voice call event")
	case voice.EventCallEnded:
		logger.Info().Msg("server: voice call event")
		if ev.Data.CallID != "" {
			if err := s.opts.Service.Close(c.Request.Context(), VoiceThreadID(ev.Data.CallID), session.ReasonClosed); err != nil {
				logger.Error().Err(err).Msg("server: close call thread")
			}
		}
	default:
		logger.Warn().Msg("server: unknown voice event")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// handleVoiceSocket speaks the voice provider's LLM socket protocol for one
// call. The thread survives reconnects and ends with the call_ended event.
func (s *Server) handleVoiceSocket(c *gin.Context) {
	callID := c.Param("call_id")
	if callID == "" {
		callID = uuid.NewString()
	}
	id := VoiceThreadID(callID)

	conn, err := websocket.NewUpgrader(nil).Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("call_id", callID).Msg("server: voice upgrade")
		return
	}
	defer conn.Close()

	err = voice.Serve(c.Request.Context(), conn, voice.Opts{
		CallID:       callID,
		BeginMessage: s.opts.VoiceBeginMessage,
		Turn: func(ctx context.Context, in channel.Inbound) channel.Reply {
			return s.opts.Service.Handle(ctx, assistant.Request{
				ThreadID: id, Channel: ChannelVoice, UserID: callID, Input: in,
			})
		},
	})
	if err != nil && c.Request.Context().Err() == nil {
		log.Warn().Err(err).Str("call_id", callID).Msg("server: voice socket ended")
	}
}

func (s *Server) handleGetThread(c *gin.Context) {
	snap, ok, err := s.opts.Service.Thread(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Error().Err(err).Str("thread", c.Param("id")).Msg("server: load thread")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleDeleteThread(c *gin.Context) {
	if err := s.opts.Service.Close(c.Request.Context(), c.Param("id"), session.ReasonClosed); err != nil {
		log.Error().Err(err).Str("thread", c.Param("id")).Msg("server: delete thread")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// requestURL reconstructs the URL a webhook caller used.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
