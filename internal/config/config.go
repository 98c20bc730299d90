// Package config loads service configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes configuration environment variables. A double underscore
// separates nested keys: ESCALATOR_ESCALATION__ACKNOWLEDGE_TIMEOUT=10m.
const EnvPrefix = "ESCALATOR_"

// Config is the full service configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Database   DatabaseConfig   `koanf:"database"`
	Feed       FeedConfig       `koanf:"feed"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Escalation EscalationConfig `koanf:"escalation"`
	Slack      SlackConfig      `koanf:"slack"`
	SMS        SMSConfig        `koanf:"sms"`
	Secrets    SecretsConfig    `koanf:"secrets"`
	AWS        AWSConfig        `koanf:"aws"`

	// TestMode switches to test tables and the test chat channel.
	TestMode bool `koanf:"test_mode"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// ServerConfig configures the health and metrics listeners.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	MetricsPort     int           `koanf:"metrics_port" validate:"min=1,max=65535,nefield=Port"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver           string `koanf:"driver" validate:"oneof=postgres memory"`
	IncidentsTable   string `koanf:"incidents_table" validate:"omitempty,max=63"`
	EscalationsTable string `koanf:"escalations_table" validate:"omitempty,max=63"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns" validate:"min=1"`
	MinConns        int32         `koanf:"min_conns" validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"min=1"`
	Migrate         bool          `koanf:"migrate"`
}

// FeedConfig configures the status page client.
type FeedConfig struct {
	Name      string        `koanf:"name" validate:"required"`
	BaseURL   string        `koanf:"base_url" validate:"required,url"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	UserAgent string        `koanf:"user_agent"`
}

// IngestConfig configures the ingestion loop.
type IngestConfig struct {
	Interval   time.Duration `koanf:"interval" validate:"gte=1s"`
	MaxRetries int           `koanf:"max_retries" validate:"min=1"`
}

// EscalationConfig configures the escalation engine and its thresholds.
type EscalationConfig struct {
	Interval time.Duration `koanf:"interval" validate:"gte=1s"`
	// AcknowledgeTimeout pages the first tier when nobody reacted in time.
	AcknowledgeTimeout time.Duration `koanf:"acknowledge_timeout" validate:"gt=0"`
	// CancelNextEscalationTimeout pages the second tier.
	CancelNextEscalationTimeout time.Duration `koanf:"cancel_next_escalation_timeout" validate:"gtfield=AcknowledgeTimeout"`
	// ConcludeActionTimeout is the reminder interval for acknowledged incidents. Zero disables reminders.
	ConcludeActionTimeout time.Duration `koanf:"conclude_action_timeout" validate:"gte=0"`
	// OnCall is the chat display name mentioned on new incidents.
	OnCall string `koanf:"on_call"`
}

// SlackConfig configures the chat client.
type SlackConfig struct {
	APIURL      string        `koanf:"api_url" validate:"required,url"`
	ProdChannel string        `koanf:"prod_channel" validate:"required"`
	TestChannel string        `koanf:"test_channel" validate:"required"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimit   float64       `koanf:"rate_limit" validate:"gt=0"`
}

// SMSConfig configures SMS delivery.
type SMSConfig struct {
	Enabled   bool    `koanf:"enabled"`
	SenderID  string  `koanf:"sender_id" validate:"omitempty,max=11"`
	SMSType   string  `koanf:"sms_type" validate:"oneof=Transactional Promotional"`
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
}

// SecretsConfig selects where secrets are read from.
type SecretsConfig struct {
	Provider string `koanf:"provider" validate:"oneof=aws file env"`
	File     string `koanf:"file" validate:"required_if=Provider file"`
	Prefix   string `koanf:"prefix"`
}

// AWSConfig configures the AWS SDK.
type AWSConfig struct {
	Region string `koanf:"region"`
}

// Channel returns the chat channel for the current mode.
func (c *Config) Channel() string {
	if c.TestMode {
		return c.Slack.TestChannel
	}
	return c.Slack.ProdChannel
}

// UsesAWS reports whether any AWS client is needed.
func (c *Config) UsesAWS() bool {
	return c.Secrets.Provider == "aws" || c.SMS.Enabled
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MetricsPort:     9090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "postgres",
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			ConnectAttempts: 5,
			Migrate:         true,
		},
		Feed: FeedConfig{
			Name:      "Github",
			BaseURL:   "https://www.githubstatus.com",
			Timeout:   10 * time.Second,
			UserAgent: "incident-escalator",
		},
		Ingest: IngestConfig{
			Interval:   300 * time.Second,
			MaxRetries: 3,
		},
		Escalation: EscalationConfig{
			Interval:                    60 * time.Second,
			AcknowledgeTimeout:          600 * time.Second,
			CancelNextEscalationTimeout: 900 * time.Second,
			ConcludeActionTimeout:       1800 * time.Second,
		},
		Slack: SlackConfig{
			APIURL:      "https://slack.com/api",
			ProdChannel: "incident-alerts",
			TestChannel: "incident-testing",
			Timeout:     10 * time.Second,
			RateLimit:   1,
		},
		SMS: SMSConfig{
			SMSType:   "Transactional",
			RateLimit: 1,
		},
		Secrets: SecretsConfig{
			Provider: "env",
		},
	}
}

// Load reads configuration: defaults, then the optional YAML file at path,
// then environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps ESCALATOR_SLACK__PROD_CHANNEL to slack.prod_channel.
// Secret variables are read by the secrets package and ESCALATOR_CONFIG
// names the file itself; both are skipped here.
func envKey(s string) string {
	key := strings.TrimPrefix(s, EnvPrefix)
	if key == "CONFIG" || strings.HasPrefix(key, "SECRET_") {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Driver == "postgres" && c.Database.URL == "" {
		return errors.New("invalid config: database.url is required for the postgres store")
	}
	return nil
}
