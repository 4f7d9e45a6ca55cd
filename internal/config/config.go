// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Supported IMAP authentication methods.
const (
	AuthPassword    = "password"
	AuthOAuthBearer = "oauthbearer"
	AuthXOAuth2     = "xoauth2"
)

// OAuthConfig holds client-credentials settings used to obtain IMAP access tokens.
type OAuthConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// IMAPConfig describes the mailbox to poll.
type IMAPConfig struct {
	Host               string
	Port               int
	TLS                bool
	StartTLS           bool
	InsecureSkipVerify bool
	Username           string
	Password           string
	Folder             string
	Auth               string
	OAuth              OAuthConfig
	Timeout            time.Duration

	// Peek leaves fetched messages unread. When false the fetch flags them
	// \Seen so the next pass does not pick them up again.
	Peek bool
}

// Addr returns host:port.
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string // "postgres" or "sqlite"
	URL    string
}

// SummaryConfig configures the summarization provider.
type SummaryConfig struct {
	Provider      string // "gemini" or "none"
	APIKey        string
	Model         string
	BaseURL       string
	Timeout       time.Duration
	MessagePrompt string
	DayPrompt     string
}

// Config holds all configuration for the digest service.
type Config struct {
	IMAP     IMAPConfig
	Database DatabaseConfig
	Summary  SummaryConfig

	// Canonical timezone for day buckets.
	Timezone string
	Location *time.Location

	// Cron expression driving periodic ingestion.
	Schedule string

	// Redis (optional; empty disables dedup and event publishing)
	RedisURL    string
	EventsQueue string

	// HTTP API
	Port int

	LogLevel string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	IMAP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		TLS                *bool  `yaml:"tls"`
		StartTLS           bool   `yaml:"starttls"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		Folder             string `yaml:"folder"`
		Auth               string `yaml:"auth"`
		Timeout            string `yaml:"timeout"`
		Peek               bool   `yaml:"peek"`
		OAuth              struct {
			TenantID     string   `yaml:"tenant_id"`
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			TokenURL     string   `yaml:"token_url"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"oauth"`
	} `yaml:"imap"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Summary struct {
		Provider      string `yaml:"provider"`
		APIKey        string `yaml:"api_key"`
		Model         string `yaml:"model"`
		BaseURL       string `yaml:"base_url"`
		Timeout       string `yaml:"timeout"`
		MessagePrompt string `yaml:"message_prompt"`
		DayPrompt     string `yaml:"day_prompt"`
	} `yaml:"summary"`
	Timezone string `yaml:"timezone"`
	Schedule string `yaml:"schedule"`
	Port     int    `yaml:"port"`
}

// Load reads configuration from the file at CONFIG_PATH (with env var
// expansion) and environment variables for settings the file leaves empty.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes. ${VAR} references are expanded
// before unmarshalling.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	useTLS := true
	if raw.IMAP.TLS != nil {
		useTLS = *raw.IMAP.TLS
	}
	defaultPort := 993
	if !useTLS {
		defaultPort = 143
	}

	cfg := &Config{
		IMAP: IMAPConfig{
			Host:               firstNonEmpty(raw.IMAP.Host, os.Getenv("IMAP_SERVER")),
			Port:               firstPositive(raw.IMAP.Port, envOrDefaultInt("IMAP_PORT", defaultPort)),
			TLS:                useTLS,
			StartTLS:           raw.IMAP.StartTLS,
			InsecureSkipVerify: raw.IMAP.InsecureSkipVerify,
			Username:           firstNonEmpty(raw.IMAP.Username, os.Getenv("IMAP_USERNAME")),
			Password:           firstNonEmpty(raw.IMAP.Password, os.Getenv("IMAP_PASSWORD")),
			Folder:             firstNonEmpty(raw.IMAP.Folder, envOrDefault("IMAP_FOLDER", "INBOX")),
			Auth:               strings.ToLower(firstNonEmpty(raw.IMAP.Auth, AuthPassword)),
			Timeout:            durationOrDefault(raw.IMAP.Timeout, envOrDefaultDuration("IMAP_TIMEOUT", 30*time.Second)),
			Peek:               raw.IMAP.Peek,
			OAuth: OAuthConfig{
				TenantID:     raw.IMAP.OAuth.TenantID,
				ClientID:     raw.IMAP.OAuth.ClientID,
				ClientSecret: raw.IMAP.OAuth.ClientSecret,
				TokenURL:     raw.IMAP.OAuth.TokenURL,
				Scopes:       raw.IMAP.OAuth.Scopes,
			},
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(firstNonEmpty(raw.Database.Driver, envOrDefault("DATABASE_DRIVER", "postgres"))),
			URL:    firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		},
		Summary: SummaryConfig{
			Provider:      strings.ToLower(firstNonEmpty(raw.Summary.Provider, envOrDefault("SUMMARY_PROVIDER", "gemini"))),
			APIKey:        firstNonEmpty(raw.Summary.APIKey, os.Getenv("GEMINI_KEY")),
			Model:         firstNonEmpty(raw.Summary.Model, envOrDefault("MODEL_GEMINI", "gemini-2.5-flash")),
			BaseURL:       firstNonEmpty(raw.Summary.BaseURL, "https://generativelanguage.googleapis.com/v1beta"),
			Timeout:       durationOrDefault(raw.Summary.Timeout, envOrDefaultDuration("SUMMARY_TIMEOUT", 60*time.Second)),
			MessagePrompt: raw.Summary.MessagePrompt,
			DayPrompt:     raw.Summary.DayPrompt,
		},
		Timezone:    firstNonEmpty(raw.Timezone, envOrDefault("TIMEZONE", "Europe/Madrid")),
		Schedule:    firstNonEmpty(raw.Schedule, envOrDefault("SCHEDULE", "@every 15m")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		EventsQueue: firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "digest-events")),
		Port:        firstPositive(raw.Port, envOrDefaultInt("PORT", 8080)),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
	}

	if cfg.IMAP.Auth != AuthPassword && cfg.IMAP.OAuth.TenantID != "" && cfg.IMAP.OAuth.TokenURL == "" {
		cfg.IMAP.OAuth.TokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.IMAP.OAuth.TenantID)
	}
	if cfg.IMAP.Auth != AuthPassword && len(cfg.IMAP.OAuth.Scopes) == 0 {
		cfg.IMAP.OAuth.Scopes = []string{"https://outlook.office365.com/.default"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if c.IMAP.Username == "" {
		return fmt.Errorf("imap.username is required")
	}
	switch c.IMAP.Auth {
	case AuthPassword:
	case AuthOAuthBearer, AuthXOAuth2:
		if c.IMAP.OAuth.ClientID == "" || c.IMAP.OAuth.ClientSecret == "" || c.IMAP.OAuth.TokenURL == "" {
			return fmt.Errorf("imap.oauth requires client_id, client_secret and tenant_id or token_url")
		}
	default:
		return fmt.Errorf("unknown imap.auth %q", c.IMAP.Auth)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func durationOrDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
