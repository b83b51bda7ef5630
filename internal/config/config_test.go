package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
log_level: debug

database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  name: listings
  user: app
  password_env: DB_PASSWORD

server:
  port: 9090
  allowed_origins: ["https://example.com"]

llm:
  provider: openai
  model: gpt-4o-mini
  base_url: http://localhost:11434/v1
  api_key_env: MY_KEY
  timeout_sec: 30
  temperature: 0.2
  requests_per_second: 2

session:
  timeout_sec: 600
  reap_schedule: "@every 30s"

approval:
  timeout_sec: 120

agent:
  max_degenerate_retries: 2
  max_steps: 10
  result_limit: 2
  max_extraction_attempts: 3

calendar:
  provider: google
  calendar_id: viewings@example.com

sms:
  from_number: "+15125550199"
  validate_signature: true
  public_url: https://openhouse.example.com/sms

telegraph:
  platform: slack
  channel: C024BE91L
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.Database.Host != "10.0.0.5" || cfg.Database.Port != 3307 {
		t.Errorf("Database = %s:%d, want 10.0.0.5:3307", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q, want gpt-4o-mini", cfg.LLM.Model)
	}
	if cfg.LLM.APIKeyEnv != "MY_KEY" {
		t.Errorf("LLM.APIKeyEnv = %q, want MY_KEY", cfg.LLM.APIKeyEnv)
	}
	if cfg.Session.ReapSchedule != "@every 30s" {
		t.Errorf("Session.ReapSchedule = %q", cfg.Session.ReapSchedule)
	}
	if cfg.Approval.TimeoutSec != 120 {
		t.Errorf("Approval.TimeoutSec = %d, want 120", cfg.Approval.TimeoutSec)
	}
	if cfg.Agent.ResultLimit != 2 {
		t.Errorf("Agent.ResultLimit = %d, want 2", cfg.Agent.ResultLimit)
	}
	if cfg.Calendar.CredentialsFile != "credentials.json" {
		t.Errorf("Calendar.CredentialsFile = %q, want default credentials.json", cfg.Calendar.CredentialsFile)
	}
	if cfg.Calendar.TokenFile != "token.json" {
		t.Errorf("Calendar.TokenFile = %q, want default token.json", cfg.Calendar.TokenFile)
	}
	if cfg.Telegraph.Slack.BotTokenEnv != "SLACK_BOT_TOKEN" {
		t.Errorf("Telegraph.Slack.BotTokenEnv = %q, want SLACK_BOT_TOKEN", cfg.Telegraph.Slack.BotTokenEnv)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "openhouse.db" {
		t.Errorf("Database = %+v, want sqlite openhouse.db", cfg.Database)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.LLM.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("LLM.APIKeyEnv = %q, want OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
	}
	if cfg.Session.TimeoutSec != 3600 || cfg.Approval.TimeoutSec != 3600 {
		t.Errorf("timeouts = %d/%d, want 3600/3600", cfg.Session.TimeoutSec, cfg.Approval.TimeoutSec)
	}
	if cfg.Session.ReapSchedule != "@every 1m" {
		t.Errorf("Session.ReapSchedule = %q, want @every 1m", cfg.Session.ReapSchedule)
	}
	if cfg.Agent.MaxDegenerateRetries != 3 || cfg.Agent.MaxSteps != 25 {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Agent.ResultLimit != 3 || cfg.Agent.MaxExtractionAttempts != 2 {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Calendar.Provider != "memory" {
		t.Errorf("Calendar.Provider = %q, want memory", cfg.Calendar.Provider)
	}
	if cfg.Voice.BeginMessage != DefaultBeginMessage {
		t.Errorf("Voice.BeginMessage = %q", cfg.Voice.BeginMessage)
	}
	if cfg.Telegraph.Platform != "" {
		t.Errorf("Telegraph.Platform = %q, want empty", cfg.Telegraph.Platform)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad driver", "database:\n  driver: postgres\n", "database.driver"},
		{"bad provider", "llm:\n  provider: anthropic\n", "llm.provider"},
		{"result limit too high", "agent:\n  result_limit: 5\n", "agent.result_limit"},
		{"bad calendar", "calendar:\n  provider: outlook\n", "calendar.provider"},
		{"signature without url", "sms:\n  validate_signature: true\n", "sms.public_url"},
		{"telegraph without channel", "telegraph:\n  platform: discord\n", "telegraph.channel"},
		{"bad platform", "telegraph:\n  platform: irc\n  channel: x\n", "telegraph.platform"},
		{"bad log level", "log_level: loud\n", "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "config: validation failed") {
				t.Errorf("error = %q, want validation prefix", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParse_CollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: x\nllm:\n  provider: y\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "database.driver") || !strings.Contains(err.Error(), "llm.provider") {
		t.Errorf("error = %q, want both problems", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want parse prefix", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openhouse.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want read prefix", err)
	}
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OPENHOUSE_TEST_SECRET=s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENHOUSE_TEST_SECRET", "")
	os.Unsetenv("OPENHOUSE_TEST_SECRET")

	if err := LoadEnv(path, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := Secret("OPENHOUSE_TEST_SECRET"); got != "s3cret" {
		t.Errorf("Secret = %q, want s3cret", got)
	}
	if got := Secret(""); got != "" {
		t.Errorf("Secret(\"\") = %q, want empty", got)
	}
}

func TestLoadEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OPENHOUSE_TEST_KEEP=file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENHOUSE_TEST_KEEP", "process")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := Secret("OPENHOUSE_TEST_KEEP"); got != "process" {
		t.Errorf("Secret = %q, want process", got)
	}
}

func TestSMSEnabled(t *testing.T) {
	cfg := Default()
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	if cfg.SMSEnabled() {
		t.Error("SMSEnabled without from number = true")
	}
	cfg.SMS.FromNumber = "+15125550199"
	if !cfg.SMSEnabled() {
		t.Error("SMSEnabled = false, want true")
	}
}
