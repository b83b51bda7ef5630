// Package server exposes the assistant over HTTP: web chat and voice
// sockets, the SMS and voice webhooks, thread inspection, health and
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/assistant"
	"github.com/zulandar/openhouse/internal/channel"
	"github.com/zulandar/openhouse/internal/metrics"
	"github.com/zulandar/openhouse/internal/session"
	"github.com/zulandar/openhouse/internal/sms"
	"gorm.io/gorm"
)

// Service is the part of assistant.Service the routes use.
type Service interface {
	Handle(ctx context.Context, req assistant.Request) channel.Reply
	Close(ctx context.Context, threadID string, reason session.Reason) error
	Thread(ctx context.Context, threadID string) (assistant.Snapshot, bool, error)
}

// Opts holds configuration for the HTTP server.
type Opts struct {
	Service Service
	Metrics *metrics.Metrics
	DB      *gorm.DB // optional; pinged by /healthz
	Port    int
	Out     io.Writer

	// AllowedOrigins restricts web chat origins. Empty allows any.
	AllowedOrigins []string
	// ApprovalTimeout bounds the wait for an approval reply on a socket.
	ApprovalTimeout time.Duration

	// SMSValidator checks Twilio signatures when set. SMSPublicURL is the
	// URL Twilio signed; it defaults to the request URL.
	SMSValidator *sms.Validator
	SMSPublicURL string

	// VoiceAPIKey verifies voice webhook signatures.
	VoiceAPIKey       string
	VoiceBeginMessage string

	// Now is the clock used for webhook signature windows.
	Now func() time.Time
}

// Server is the HTTP front of the assistant.
type Server struct {
	opts   Opts
	router *gin.Engine
}

// New builds the router.
func New(opts Opts) (*Server, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("server: service is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	s := &Server{opts: opts, router: router}
	s.registerRoutes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
// Open sockets see ctx's cancellation through their request contexts.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server: shutdown")
		}
	}()

	if s.opts.Out != nil {
		fmt.Fprintf(s.opts.Out, "OpenHouse listening on http://localhost:%d\n", s.opts.Port)
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("server: request")
	}
}
