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

	"gopkg.in/yaml.v3"

	"github.com/oneboxhq/syncd/internal/mailbox"
)

// AccountConfig holds credentials for a single mailbox account.
type AccountConfig struct {
	ID       string                `yaml:"id"`
	Host     string                `yaml:"host"`
	Port     int                   `yaml:"port"`
	Username string                `yaml:"username"`
	Password string                `yaml:"password"`
	TLS      bool                  `yaml:"tls"`
	Folder   string                `yaml:"folder"`
	OAuth2   *mailbox.OAuth2Config `yaml:"oauth2"`
}

// Credentials converts the account entry into the form the sync engine
// consumes.
func (a AccountConfig) Credentials() mailbox.Credentials {
	return mailbox.Credentials{
		AccountID: a.ID,
		Host:      a.Host,
		Port:      a.Port,
		Username:  a.Username,
		Password:  a.Password,
		UseTLS:    a.TLS,
		Folder:    a.Folder,
		OAuth2:    a.OAuth2,
	}
}

// Config holds all configuration for the sync service.
type Config struct {
	Accounts []AccountConfig

	// Sync engine tuning
	WatchdogPeriod        time.Duration
	IdleTimeout           time.Duration
	MaxReconnectAttempts  int
	InitialReconnectDelay time.Duration
	FetchBatchLimit       int
	DialTimeout           time.Duration

	// Postgres (document sink)
	DatabaseURL string

	// Redis (classification queue + dedup)
	RedisURL      string
	ClassifyQueue string

	// Control surface + health
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Accounts []AccountConfig `yaml:"accounts"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Classify string `yaml:"classify"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Sync struct {
		WatchdogPeriod        string `yaml:"watchdog_period"`
		IdleTimeout           string `yaml:"idle_timeout"`
		MaxReconnectAttempts  int    `yaml:"max_reconnect_attempts"`
		InitialReconnectDelay string `yaml:"initial_reconnect_delay"`
		FetchBatchLimit       int    `yaml:"fetch_batch_limit"`
		DialTimeout           string `yaml:"dial_timeout"`
	} `yaml:"sync"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for overrides.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse builds a Config from raw YAML bytes, expanding ${VAR} references
// and applying environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		IdleTimeout:           firstDuration(raw.Sync.IdleTimeout, envOrDefaultDuration("IDLE_TIMEOUT", 30*time.Minute)),
		MaxReconnectAttempts:  firstInt(raw.Sync.MaxReconnectAttempts, envOrDefaultInt("MAX_RECONNECT_ATTEMPTS", 5)),
		InitialReconnectDelay: firstDuration(raw.Sync.InitialReconnectDelay, envOrDefaultDuration("INITIAL_RECONNECT_DELAY", 5*time.Second)),
		FetchBatchLimit:       firstInt(raw.Sync.FetchBatchLimit, envOrDefaultInt("FETCH_BATCH_LIMIT", 10)),
		DialTimeout:           firstDuration(raw.Sync.DialTimeout, envOrDefaultDuration("DIAL_TIMEOUT", 30*time.Second)),
		DatabaseURL:           firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/onebox")),
		RedisURL:              firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		ClassifyQueue:         firstNonEmpty(raw.Redis.Queues.Classify, envOrDefault("CLASSIFY_QUEUE", "classify")),
		Port:                  envOrDefaultInt("PORT", 8080),
	}

	// The watchdog must fire before the server's idle ceiling would drop
	// the connection; default to one minute inside it.
	cfg.WatchdogPeriod = firstDuration(raw.Sync.WatchdogPeriod, envOrDefaultDuration("WATCHDOG_PERIOD", 0))
	if cfg.WatchdogPeriod <= 0 {
		cfg.WatchdogPeriod = cfg.IdleTimeout - time.Minute
	}

	// Build account configs
	for _, a := range raw.Accounts {
		// Skip accounts with empty credentials (commented out in YAML)
		if a.Host == "" || a.Username == "" {
			continue
		}
		if a.Password == "" && a.OAuth2 == nil {
			continue
		}

		if a.ID == "" {
			a.ID = a.Username
		}
		if a.Port == 0 {
			if a.TLS {
				a.Port = 993
			} else {
				a.Port = 143
			}
		}

		cfg.Accounts = append(cfg.Accounts, a)
	}

	return cfg, nil
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstDuration(raw string, fallback time.Duration) time.Duration {
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func firstInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
