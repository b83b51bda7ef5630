package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/agent"
	"github.com/zulandar/openhouse/internal/assistant"
	"github.com/zulandar/openhouse/internal/calendar"
	"github.com/zulandar/openhouse/internal/checkpoint"
	"github.com/zulandar/openhouse/internal/config"
	"github.com/zulandar/openhouse/internal/db"
	"github.com/zulandar/openhouse/internal/graph"
	"github.com/zulandar/openhouse/internal/llm"
	"github.com/zulandar/openhouse/internal/metrics"
	"github.com/zulandar/openhouse/internal/property"
	"github.com/zulandar/openhouse/internal/session"
	"github.com/zulandar/openhouse/internal/sms"
	"github.com/zulandar/openhouse/internal/tools"
	"golang.org/x/term"
	"gorm.io/gorm"
)

const defaultConfigPath = "openhouse.yaml"

// loadConfig reads .env and the config file. A missing file at the default
// path falls back to built-in defaults; an explicitly named one is an error.
func loadConfig(configPath string, explicit bool) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogging points the global logger at w. Terminals get the console
// writer, everything else gets JSON lines.
func setupLogging(level string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		w = zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// connectFromConfig opens the configured database and migrates it.
func connectFromConfig(cfg *config.Config) (*gorm.DB, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}

// app holds every collaborator built from one config.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	metrics  *metrics.Metrics
	sender   sms.Sender
	engine   *graph.Engine
	sessions *session.Manager
	service  *assistant.Service
}

// appOpts lets tests swap the outer clients.
type appOpts struct {
	Model    llm.Model
	Calendar calendar.Service
	Sender   sms.Sender
}

func newApp(ctx context.Context, cfg *config.Config, opts appOpts) (*app, error) {
	gormDB, err := connectFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	m := metrics.New(nil)

	model := opts.Model
	if model == nil {
		model, err = newModel(cfg.LLM)
		if err != nil {
			return nil, err
		}
	}

	cal := opts.Calendar
	if cal == nil {
		cal, err = newCalendar(ctx, cfg.Calendar)
		if err != nil {
			return nil, err
		}
	}

	sender := opts.Sender
	if sender == nil {
		sender, err = newSender(cfg)
		if err != nil {
			return nil, err
		}
	}

	store := checkpoint.New(gormDB)
	registry := tools.NewRegistry()
	if err := tools.NewCalendarTools(cal, time.Now).Register(registry); err != nil {
		return nil, err
	}
	if err := tools.RegisterConfirmation(registry, sender); err != nil {
		return nil, err
	}
	executor, err := tools.NewExecutor(tools.ExecutorOpts{
		Registry: registry,
		Ledger:   store,
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}

	g, err := agent.Build(agent.Deps{
		Model:                 model,
		Properties:            property.New(gormDB, cfg.Agent.ResultLimit),
		Executor:              executor,
		MaxExtractionAttempts: cfg.Agent.MaxExtractionAttempts,
	})
	if err != nil {
		return nil, err
	}

	approvalTimeout := time.Duration(cfg.Approval.TimeoutSec) * time.Second
	engine, err := graph.NewEngine(graph.EngineOpts{
		Graph:                g,
		Checkpointer:         store,
		Metrics:              m,
		MaxSteps:             cfg.Agent.MaxSteps,
		MaxDegenerateRetries: cfg.Agent.MaxDegenerateRetries,
		ApprovalTimeout:      approvalTimeout,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewManager(session.ManagerOpts{
		DB:              gormDB,
		Timeout:         time.Duration(cfg.Session.TimeoutSec) * time.Second,
		ApprovalTimeout: approvalTimeout,
		Schedule:        cfg.Session.ReapSchedule,
		Metrics:         m,
	})
	if err != nil {
		return nil, err
	}

	svc, err := assistant.NewService(assistant.ServiceOpts{Engine: engine, Sessions: sessions})
	if err != nil {
		return nil, err
	}
	if cfg.SMSEnabled() {
		svc.RegisterNotifier(channelSMS, smsNotifier(sender))
	}

	return &app{
		cfg:      cfg,
		db:       gormDB,
		metrics:  m,
		sender:   sender,
		engine:   engine,
		sessions: sessions,
		service:  svc,
	}, nil
}

const channelSMS = "sms"

func newModel(cfg config.LLMConfig) (llm.Model, error) {
	switch cfg.Provider {
	case "scripted":
		log.Warn().Msg("llm: scripted provider has no script; every turn will fail")
		return llm.NewScripted(), nil
	default:
		return llm.NewOpenAI(llm.OpenAIOpts{
			APIKey:            config.Secret(cfg.APIKeyEnv),
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Temperature:       cfg.Temperature,
			Timeout:           time.Duration(cfg.TimeoutSec) * time.Second,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	}
}

func newCalendar(ctx context.Context, cfg config.CalendarConfig) (calendar.Service, error) {
	switch cfg.Provider {
	case "google":
		return calendar.NewGoogle(ctx, calendar.GoogleOpts{
			CredentialsFile: cfg.CredentialsFile,
			TokenFile:       cfg.TokenFile,
			CalendarID:      cfg.CalendarID,
		})
	default:
		return calendar.NewMemory(cfg.TimeZone), nil
	}
}

// newSender returns the Twilio sender when credentials are configured. Without
// them confirmations are only logged.
func newSender(cfg *config.Config) (sms.Sender, error) {
	if !cfg.SMSEnabled() {
		return logSender{}, nil
	}
	return sms.NewTwilio(sms.TwilioOpts{
		AccountSID: config.Secret(cfg.SMS.AccountSIDEnv),
		AuthToken:  config.Secret(cfg.SMS.AuthTokenEnv),
		From:       cfg.SMS.FromNumber,
	})
}

type logSender struct{}

func (logSender) Send(_ context.Context, to, body string) error {
	log.Info().Str("to", to).Str("body", body).Msg("sms: not configured, message logged")
	return nil
}

// smsNotifier texts expiry notices to the phone number behind an SMS thread.
func smsNotifier(sender sms.Sender) assistant.Notifier {
	return assistant.NotifierFunc(func(ctx context.Context, t session.Thread, text string) error {
		if t.UserID == "" {
			return fmt.Errorf("sms: thread %s has no phone number", t.ID)
		}
		return sender.Send(ctx, t.UserID, text)
	})
}
