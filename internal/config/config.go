// Package config provides YAML-based configuration loading for OpenHouse.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level OpenHouse configuration, loaded from openhouse.yaml.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Session   SessionConfig   `yaml:"session"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Agent     AgentConfig     `yaml:"agent"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	SMS       SMSConfig       `yaml:"sms"`
	Voice     VoiceConfig     `yaml:"voice"`
	Telegraph TelegraphConfig `yaml:"telegraph"`
}

// DatabaseConfig selects and locates the backing database.
type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // sqlite or mysql
	Path        string `yaml:"path"`   // sqlite file, ":memory:" allowed
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LLMConfig holds language model client settings.
type LLMConfig struct {
	Provider          string  `yaml:"provider"` // openai or scripted
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	Temperature       float32 `yaml:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SessionConfig controls thread expiry.
type SessionConfig struct {
	TimeoutSec   int    `yaml:"timeout_sec"`
	ReapSchedule string `yaml:"reap_schedule"`
}

// ApprovalConfig controls how long a suspended thread waits for a reply.
type ApprovalConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// AgentConfig bounds agent behaviour within a turn.
type AgentConfig struct {
	MaxDegenerateRetries  int `yaml:"max_degenerate_retries"`
	MaxSteps              int `yaml:"max_steps"`
	ResultLimit           int `yaml:"result_limit"`
	MaxExtractionAttempts int `yaml:"max_extraction_attempts"`
}

// CalendarConfig selects the calendar backend.
type CalendarConfig struct {
	Provider        string `yaml:"provider"` // google or memory
	CalendarID      string `yaml:"calendar_id"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	TimeZone        string `yaml:"time_zone"` // memory provider only
}

// SMSConfig holds Twilio settings. Leaving it unset disables SMS.
type SMSConfig struct {
	AccountSIDEnv     string `yaml:"account_sid_env"`
	AuthTokenEnv      string `yaml:"auth_token_env"`
	FromNumber        string `yaml:"from_number"`
	ValidateSignature bool   `yaml:"validate_signature"`
	PublicURL         string `yaml:"public_url"` // URL Twilio signs, e.g. https://host/sms
}

// VoiceConfig holds voice-call settings.
type VoiceConfig struct {
	APIKeyEnv    string `yaml:"api_key_env"`
	BeginMessage string `yaml:"begin_message"`
}

// TelegraphConfig holds chat platform settings. An empty platform disables
// the chat bridge.
type TelegraphConfig struct {
	Platform string        `yaml:"platform"` // slack or discord
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig names the env vars holding Slack tokens.
type SlackConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	AppTokenEnv string `yaml:"app_token_env"`
}

// DiscordConfig names the env var holding the Discord bot token.
type DiscordConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
}

// DefaultBeginMessage greets callers at the start of a voice call.
const DefaultBeginMessage = "Hey there, I'm an AI real estate assistant. How can I help you?"

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: sqlite,
// in-memory calendar, OpenAI model.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadEnv loads KEY=value pairs from the given .env files into the process
// environment without overriding variables already set. Missing files are
// ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

// Secret returns the value of the named environment variable, or "" when
// name is empty.
func Secret(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "openhouse.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "openhouse"
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 60
	}
	if c.LLM.RequestsPerSecond == 0 {
		c.LLM.RequestsPerSecond = 5
	}

	if c.Session.TimeoutSec == 0 {
		c.Session.TimeoutSec = 3600
	}
	if c.Session.ReapSchedule == "" {
		c.Session.ReapSchedule = "@every 1m"
	}
	if c.Approval.TimeoutSec == 0 {
		c.Approval.TimeoutSec = 3600
	}

	if c.Agent.MaxDegenerateRetries == 0 {
		c.Agent.MaxDegenerateRetries = 3
	}
	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = 25
	}
	if c.Agent.ResultLimit == 0 {
		c.Agent.ResultLimit = 3
	}
	if c.Agent.MaxExtractionAttempts == 0 {
		c.Agent.MaxExtractionAttempts = 2
	}

	if c.Calendar.Provider == "" {
		c.Calendar.Provider = "memory"
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = "primary"
	}
	if c.Calendar.Provider == "google" {
		if c.Calendar.CredentialsFile == "" {
			c.Calendar.CredentialsFile = "credentials.json"
		}
		if c.Calendar.TokenFile == "" {
			c.Calendar.TokenFile = "token.json"
		}
	}
	if c.Calendar.TimeZone == "" {
		c.Calendar.TimeZone = "UTC"
	}

	if c.SMS.AccountSIDEnv == "" {
		c.SMS.AccountSIDEnv = "TWILIO_ACCOUNT_SID"
	}
	if c.SMS.AuthTokenEnv == "" {
		c.SMS.AuthTokenEnv = "TWILIO_AUTH_TOKEN"
	}

	if c.Voice.APIKeyEnv == "" {
		c.Voice.APIKeyEnv = "RETELL_API_KEY"
	}
	if c.Voice.BeginMessage == "" {
		c.Voice.BeginMessage = DefaultBeginMessage
	}

	switch c.Telegraph.Platform {
	case "slack":
		if c.Telegraph.Slack.BotTokenEnv == "" {
			c.Telegraph.Slack.BotTokenEnv = "SLACK_BOT_TOKEN"
		}
		if c.Telegraph.Slack.AppTokenEnv == "" {
			c.Telegraph.Slack.AppTokenEnv = "SLACK_APP_TOKEN"
		}
	case "discord":
		if c.Telegraph.Discord.BotTokenEnv == "" {
			c.Telegraph.Discord.BotTokenEnv = "DISCORD_BOT_TOKEN"
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level %q must be debug, info, warn, or error", c.LogLevel))
	}

	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	switch c.LLM.Provider {
	case "openai", "scripted":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q must be openai or scripted", c.LLM.Provider))
	}
	if c.LLM.TimeoutSec < 0 {
		errs = append(errs, "llm.timeout_sec must not be negative")
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, "llm.requests_per_second must not be negative")
	}

	if c.Session.TimeoutSec < 0 {
		errs = append(errs, "session.timeout_sec must not be negative")
	}

	if c.Agent.MaxDegenerateRetries < 0 {
		errs = append(errs, "agent.max_degenerate_retries must not be negative")
	}
	if c.Agent.MaxSteps < 1 {
		errs = append(errs, "agent.max_steps must be positive")
	}
	if c.Agent.ResultLimit < 1 || c.Agent.ResultLimit > 3 {
		errs = append(errs, fmt.Sprintf("agent.result_limit %d must be between 1 and 3", c.Agent.ResultLimit))
	}
	if c.Agent.MaxExtractionAttempts < 1 {
		errs = append(errs, "agent.max_extraction_attempts must be positive")
	}

	switch c.Calendar.Provider {
	case "google", "memory":
	default:
		errs = append(errs, fmt.Sprintf("calendar.provider %q must be google or memory", c.Calendar.Provider))
	}

	if c.SMS.ValidateSignature && c.SMS.PublicURL == "" {
		errs = append(errs, "sms.public_url is required when sms.validate_signature is set")
	}

	switch c.Telegraph.Platform {
	case "":
	case "slack", "discord":
		if c.Telegraph.Channel == "" {
			errs = append(errs, "telegraph.channel is required when telegraph.platform is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("telegraph.platform %q must be slack or discord", c.Telegraph.Platform))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SMSEnabled reports whether Twilio credentials are present.
func (c *Config) SMSEnabled() bool {
	return c.SMS.FromNumber != "" && Secret(c.SMS.AccountSIDEnv) != "" && Secret(c.SMS.AuthTokenEnv) != ""
}
