// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/M3R1ttt/nof1-tracker/internal/exchange"
	"github.com/M3R1ttt/nof1-tracker/internal/executor"
	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Agents   []AgentConfig  `yaml:"agents"`
	Feed     FeedConfig     `yaml:"feed"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Alerting AlertingConfig `yaml:"alerting"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// AgentConfig holds one following session's settings.
type AgentConfig struct {
	ID                string  `yaml:"id"`
	PollIntervalSec   int     `yaml:"poll_interval_sec"`
	RiskOnly          bool    `yaml:"risk_only"`
	PriceTolerancePct float64 `yaml:"price_tolerance_pct"`
	MarginBudget      float64 `yaml:"margin_budget"`
}

// FeedConfig holds signal source settings.
type FeedConfig struct {
	BaseURL            string `yaml:"base_url"`
	TimeoutSec         int    `yaml:"timeout_sec"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
}

// ExchangeConfig holds exchange gateway settings.
type ExchangeConfig struct {
	Type               string `yaml:"type"` // binance | paper
	APIKey             string `yaml:"api_key"`
	APISecret          string `yaml:"api_secret"`
	BaseURL            string `yaml:"base_url"`
	Testnet            bool   `yaml:"testnet"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
	TimeoutSec         int    `yaml:"timeout_sec"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // console | telegram
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// JournalConfig holds trade journal settings.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment variables
// in the file are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Agents) == 0 {
		errs = append(errs, "at least one agent is required")
	}
	seen := make(map[string]bool)
	for i, agent := range c.Agents {
		if agent.ID == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].id is required", i))
		}
		if seen[agent.ID] {
			errs = append(errs, fmt.Sprintf("duplicate agent id %q", agent.ID))
		}
		seen[agent.ID] = true
		if agent.PollIntervalSec < 0 {
			errs = append(errs, fmt.Sprintf("agents[%d].poll_interval_sec must not be negative", i))
		}
		if agent.PriceTolerancePct < 0 {
			errs = append(errs, fmt.Sprintf("agents[%d].price_tolerance_pct must not be negative", i))
		}
		if agent.MarginBudget < 0 {
			errs = append(errs, fmt.Sprintf("agents[%d].margin_budget must not be negative", i))
		}
	}

	switch c.Exchange.Type {
	case "", "paper":
	case "binance":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			errs = append(errs, "exchange.api_key and exchange.api_secret are required for binance")
		}
	default:
		errs = append(errs, fmt.Sprintf("exchange.type %q is not supported", c.Exchange.Type))
	}

	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "console":
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d] telegram requires bot_token and chat_id", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type %q is not supported", i, ch.Type))
		}
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the poll interval for an agent, defaulting to 30s.
func (a AgentConfig) PollInterval() time.Duration {
	if a.PollIntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.PollIntervalSec) * time.Second
}

// ToExchangeConfig converts to exchange.Config.
func (c *Config) ToExchangeConfig() exchange.Config {
	return exchange.Config{
		Type:               c.Exchange.Type,
		APIKey:             c.Exchange.APIKey,
		APISecret:          c.Exchange.APISecret,
		BaseURL:            c.Exchange.BaseURL,
		Testnet:            c.Exchange.Testnet,
		RateLimitPerSecond: c.Exchange.RateLimitPerSecond,
		Timeout:            time.Duration(c.Exchange.TimeoutSec) * time.Second,
	}
}

// ToExecutorConfig converts one agent's settings to executor.Config.
func (a AgentConfig) ToExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.RiskOnly = a.RiskOnly
	if a.PriceTolerancePct > 0 {
		cfg.PriceTolerancePct = decimal.NewFromFloat(a.PriceTolerancePct)
	}
	if a.MarginBudget > 0 {
		cfg.MarginBudget = decimal.NewFromFloat(a.MarginBudget)
	}
	return cfg
}

// ShutdownTimeout returns the shutdown timeout duration, defaulting to 15s.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Shutdown.TimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}
