package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Agents    AgentsConfig     `json:"agents"`
	Approval  ApprovalConfig   `json:"approval"`
	Tasks     TasksConfig      `json:"tasks"`
	Redis     RedisConfig      `json:"redis"`
	Postgres  PostgresConfig   `json:"postgres"`
	Notify    NotifyConfig     `json:"notify"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Model    string            `json:"model,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// AgentsConfig points at the external agent services, one per step kind.
type AgentsConfig struct {
	Research       AgentEndpoint `json:"research"`
	Context        AgentEndpoint `json:"context"`
	PR             AgentEndpoint `json:"pr"`
	TimeoutSeconds int           `json:"timeout_seconds"`
}

type AgentEndpoint struct {
	BaseURL string `json:"base_url"`
}

type ApprovalConfig struct {
	// DefaultTimeoutSeconds is the decision window for every request.
	// Zero keeps the per-risk defaults.
	DefaultTimeoutSeconds int `json:"default_timeout_seconds"`
	MaxHistory            int `json:"max_history"`
}

type TasksConfig struct {
	RetentionHours         int `json:"retention_hours"`
	QueueSize              int `json:"queue_size"`
	CleanupIntervalMinutes int `json:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	URL      string `json:"url"`
	TTLHours int    `json:"ttl_hours"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type NotifyConfig struct {
	Slack   SlackNotifyConfig   `json:"slack"`
	Discord DiscordNotifyConfig `json:"discord"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
