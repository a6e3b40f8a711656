// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the placement relay.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Submission SubmissionConfig `yaml:"submission"`
	Graph      GraphConfig      `yaml:"graph"`
	Forwarding ForwardingConfig `yaml:"forwarding"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig holds the HTTP front-end configuration.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// AuthConfig holds identity platform configuration. SubmissionScopes and
// MailboxScopes are the two independent scope sets the token broker caches
// separately.
type AuthConfig struct {
	TenantID         string   `yaml:"tenant_id"`
	ClientID         string   `yaml:"client_id"`
	Account          string   `yaml:"account"`
	RefreshToken     string   `yaml:"refresh_token"`
	SubmissionScopes []string `yaml:"submission_scopes"`
	MailboxScopes    []string `yaml:"mailbox_scopes"`
}

// SubmissionConfig holds placement submission API configuration.
type SubmissionConfig struct {
	BaseURL         string `yaml:"base_url"`
	SubscriptionKey string `yaml:"subscription_key"`
}

// GraphConfig holds mailbox REST API configuration. BaseURL exists so
// tests can point the client at a local server.
type GraphConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ForwardingConfig holds the forwarding target.
type ForwardingConfig struct {
	SharedMailbox string `yaml:"shared_mailbox"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// AuthConfigured returns true if the identity platform settings needed for
// token acquisition are present.
func (c *Config) AuthConfigured() bool {
	return c.Auth.TenantID != "" &&
		c.Auth.ClientID != "" &&
		len(c.Auth.SubmissionScopes) > 0 &&
		len(c.Auth.MailboxScopes) > 0
}

// SubmissionConfigured returns true if the placement API settings are present.
func (c *Config) SubmissionConfigured() bool {
	return c.Submission.BaseURL != "" && c.Submission.SubscriptionKey != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8085"
	c.Graph.BaseURL = "https://graph.microsoft.com/v1.0"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("RELAY_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}

	if v := os.Getenv("AUTH_TENANT_ID"); v != "" {
		c.Auth.TenantID = v
	}
	if v := os.Getenv("AUTH_CLIENT_ID"); v != "" {
		c.Auth.ClientID = v
	}
	if v := os.Getenv("AUTH_ACCOUNT"); v != "" {
		c.Auth.Account = v
	}
	if v := os.Getenv("AUTH_REFRESH_TOKEN"); v != "" {
		c.Auth.RefreshToken = v
	}
	if v := os.Getenv("AUTH_SUBMISSION_SCOPES"); v != "" {
		c.Auth.SubmissionScopes = splitScopes(v)
	}
	if v := os.Getenv("AUTH_MAILBOX_SCOPES"); v != "" {
		c.Auth.MailboxScopes = splitScopes(v)
	}

	if v := os.Getenv("SUBMISSION_BASE_URL"); v != "" {
		c.Submission.BaseURL = v
	}
	if v := os.Getenv("SUBMISSION_SUBSCRIPTION_KEY"); v != "" {
		c.Submission.SubscriptionKey = v
	}

	if v := os.Getenv("GRAPH_BASE_URL"); v != "" {
		c.Graph.BaseURL = v
	}

	if v := os.Getenv("FORWARD_SHARED_MAILBOX"); v != "" {
		c.Forwarding.SharedMailbox = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// splitScopes parses a space- or comma-separated scope list.
func splitScopes(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ' ' || r == ','
	})
	scopes := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			scopes = append(scopes, f)
		}
	}
	return scopes
}
