package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/openhouse/internal/config"
	"github.com/zulandar/openhouse/internal/server"
	"github.com/zulandar/openhouse/internal/sms"
	"github.com/zulandar/openhouse/internal/telegraph"
	discordadapter "github.com/zulandar/openhouse/internal/telegraph/discord"
	slackadapter "github.com/zulandar/openhouse/internal/telegraph/slack"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant server",
		Long: `Serves web chat, SMS and voice endpoints, runs the session reaper and,
when telegraph.platform is set, the Slack or Discord bridge.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, cmd.Flags().Changed("config"), port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OpenHouse config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, explicit bool, port int) error {
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, os.Stderr)
	if port > 0 {
		cfg.Server.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := newApp(ctx, cfg, appOpts{})
	if err != nil {
		return err
	}
	return a.serve(ctx, cmd)
}

// serve runs every long-lived component until ctx ends or one of them fails.
func (a *app) serve(ctx context.Context, cmd *cobra.Command) error {
	if a.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srvOpts := server.Opts{
		Service:           a.service,
		Metrics:           a.metrics,
		DB:                a.db,
		Port:              a.cfg.Server.Port,
		Out:               cmd.OutOrStdout(),
		AllowedOrigins:    a.cfg.Server.AllowedOrigins,
		ApprovalTimeout:   time.Duration(a.cfg.Approval.TimeoutSec) * time.Second,
		VoiceAPIKey:       config.Secret(a.cfg.Voice.APIKeyEnv),
		VoiceBeginMessage: a.cfg.Voice.BeginMessage,
	}
	if a.cfg.SMS.ValidateSignature {
		srvOpts.SMSValidator = sms.NewValidator(config.Secret(a.cfg.SMS.AuthTokenEnv))
		srvOpts.SMSPublicURL = a.cfg.SMS.PublicURL
	}
	srv, err := server.New(srvOpts)
	if err != nil {
		return err
	}

	var bridge *telegraph.Bridge
	if a.cfg.Telegraph.Platform != "" {
		adapter, err := newAdapter(a.cfg.Telegraph)
		if err != nil {
			return err
		}
		bridge, err = telegraph.NewBridge(telegraph.BridgeOpts{
			Adapter:     adapter,
			Handler:     a.service,
			Platform:    a.cfg.Telegraph.Platform,
			HomeChannel: a.cfg.Telegraph.Channel,
		})
		if err != nil {
			return err
		}
		a.service.RegisterNotifier(a.cfg.Telegraph.Platform, bridge)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return a.sessions.Start(gctx) })
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}

	err = g.Wait()
	log.Info().Msg("openhouse: stopped")
	return err
}

// newAdapter builds the chat platform adapter named by cfg.
func newAdapter(cfg config.TelegraphConfig) (telegraph.Adapter, error) {
	switch cfg.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: config.Secret(cfg.Slack.AppTokenEnv),
			BotToken: config.Secret(cfg.Slack.BotTokenEnv),
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: config.Secret(cfg.Discord.BotTokenEnv),
		})
	default:
		return nil, fmt.Errorf("telegraph: unsupported platform %q", cfg.Platform)
	}
}
