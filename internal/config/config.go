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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// OAuthConfig holds an OAuth2 client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// TenantID selects the Microsoft identity tenant; "common" when empty.
	TenantID string
	TokenURL string
}

// Config holds all configuration for the pipeline.
type Config struct {
	// Store
	StoreDriver string
	StoreDSN    string

	// Redis
	RedisURL    string
	EnrichQueue string
	DedupTTL    time.Duration

	// Mailbox
	GraphBaseURL    string
	GmailEndpoint   string
	Graph           OAuthConfig
	Gmail           OAuthConfig
	PageSize        int
	MailboxTimeout  time.Duration
	IMAPInsecureTLS bool

	// Generation
	GenerationProvider string
	GenerationAPIKey   string
	GenerationBaseURL  string
	GenerationModel    string
	GenerationTimeout  time.Duration
	RatePerSecond      float64
	RateBurst          int

	// Sync
	SyncInterval time.Duration
	MaxPages     int
	LeaseTTL     time.Duration
	Owners       []string

	// Enrichment
	Concurrency   int
	BatchSize     int
	WorkerEnabled bool
	DraftReplies  bool

	// Search
	CandidateCap int
	Threshold    float64
	ScanLimit    int

	// Digest
	DigestLocation *time.Location

	// Backfill
	BackfillLookback  time.Duration
	BackfillPageDelay time.Duration

	// Server (health and metrics only)
	Port     int
	LogLevel slog.Level
}

// rawConfig mirrors the YAML structure for unmarshalling. Durations are
// strings in time.ParseDuration form.
type rawConfig struct {
	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Enrich string `yaml:"enrich"`
		} `yaml:"queues"`
		DedupTTL string `yaml:"dedup_ttl"`
	} `yaml:"redis"`
	Mailbox struct {
		PageSize    int    `yaml:"page_size"`
		Timeout     string `yaml:"timeout"`
		InsecureTLS bool   `yaml:"imap_insecure_tls"`
		Graph       struct {
			BaseURL      string `yaml:"base_url"`
			TenantID     string `yaml:"tenant_id"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			TokenURL     string `yaml:"token_url"`
		} `yaml:"graph"`
		Gmail struct {
			Endpoint     string `yaml:"endpoint"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			TokenURL     string `yaml:"token_url"`
		} `yaml:"gmail"`
	} `yaml:"mailbox"`
	Generation struct {
		Provider      string  `yaml:"provider"`
		APIKey        string  `yaml:"api_key"`
		BaseURL       string  `yaml:"base_url"`
		Model         string  `yaml:"model"`
		Timeout       string  `yaml:"timeout"`
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"generation"`
	Sync struct {
		Interval string `yaml:"interval"`
		MaxPages int    `yaml:"max_pages"`
		LeaseTTL string `yaml:"lease_ttl"`
	} `yaml:"sync"`
	Enrichment struct {
		Concurrency int   `yaml:"concurrency"`
		BatchSize   int   `yaml:"batch_size"`
		Worker      *bool `yaml:"worker"`
		Draft       *bool `yaml:"draft_replies"`
	} `yaml:"enrichment"`
	Search struct {
		CandidateCap int     `yaml:"candidate_cap"`
		Threshold    float64 `yaml:"threshold"`
		ScanLimit    int     `yaml:"scan_limit"`
	} `yaml:"search"`
	Digest struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"digest"`
	Backfill struct {
		Lookback  string `yaml:"lookback"`
		PageDelay string `yaml:"page_delay"`
	} `yaml:"backfill"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Owners []string `yaml:"owners"`
}

// Load reads .env (if present), then config.yaml (with env var expansion)
// and environment variables. A missing config file is only an error when
// CONFIG_PATH names it explicitly.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	configPath, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		data = nil
	}
	return Parse(data)
}

// Parse builds a Config from YAML. ${VAR} references are expanded before
// parsing; unset fields fall back to environment variables and defaults.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	var errs []error
	duration := func(name, value, envKey string, fallback time.Duration) time.Duration {
		if strings.TrimSpace(value) == "" {
			return envOrDefaultDuration(envKey, fallback)
		}
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, value))
			return fallback
		}
		return d
	}

	cfg := &Config{
		StoreDriver: firstNonEmpty(raw.Store.Driver, envOrDefault("STORE_DRIVER", "sqlite")),
		StoreDSN:    firstNonEmpty(raw.Store.DSN, os.Getenv("DATABASE_URL"), "inbox.db"),

		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EnrichQueue: firstNonEmpty(raw.Redis.Queues.Enrich, envOrDefault("ENRICH_QUEUE", "enrich")),
		DedupTTL:    duration("redis.dedup_ttl", raw.Redis.DedupTTL, "DEDUP_TTL", 24*time.Hour),

		GraphBaseURL:  firstNonEmpty(raw.Mailbox.Graph.BaseURL, os.Getenv("GRAPH_BASE_URL")),
		GmailEndpoint: raw.Mailbox.Gmail.Endpoint,
		Graph: OAuthConfig{
			ClientID:     firstNonEmpty(raw.Mailbox.Graph.ClientID, os.Getenv("GRAPH_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Mailbox.Graph.ClientSecret, os.Getenv("GRAPH_CLIENT_SECRET")),
			TenantID:     firstNonEmpty(raw.Mailbox.Graph.TenantID, envOrDefault("GRAPH_TENANT_ID", "common")),
			TokenURL:     raw.Mailbox.Graph.TokenURL,
		},
		Gmail: OAuthConfig{
			ClientID:     firstNonEmpty(raw.Mailbox.Gmail.ClientID, os.Getenv("GMAIL_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Mailbox.Gmail.ClientSecret, os.Getenv("GMAIL_CLIENT_SECRET")),
			TokenURL:     raw.Mailbox.Gmail.TokenURL,
		},
		PageSize:        positiveOr(raw.Mailbox.PageSize, envOrDefaultInt("MAILBOX_PAGE_SIZE", 50)),
		MailboxTimeout:  duration("mailbox.timeout", raw.Mailbox.Timeout, "MAILBOX_TIMEOUT", 30*time.Second),
		IMAPInsecureTLS: raw.Mailbox.InsecureTLS,

		GenerationProvider: firstNonEmpty(raw.Generation.Provider, os.Getenv("GENERATION_PROVIDER")),
		GenerationAPIKey:   firstNonEmpty(raw.Generation.APIKey, os.Getenv("GEMINI_API_KEY")),
		GenerationBaseURL:  firstNonEmpty(raw.Generation.BaseURL, os.Getenv("GENERATION_BASE_URL")),
		GenerationModel:    firstNonEmpty(raw.Generation.Model, os.Getenv("GENERATION_MODEL")),
		GenerationTimeout:  duration("generation.timeout", raw.Generation.Timeout, "GENERATION_TIMEOUT", 30*time.Second),
		RatePerSecond:      raw.Generation.RatePerSecond,
		RateBurst:          positiveOr(raw.Generation.Burst, 1),

		SyncInterval: duration("sync.interval", raw.Sync.Interval, "SYNC_INTERVAL", 5*time.Minute),
		MaxPages:     positiveOr(raw.Sync.MaxPages, envOrDefaultInt("SYNC_MAX_PAGES", 20)),
		LeaseTTL:     duration("sync.lease_ttl", raw.Sync.LeaseTTL, "SYNC_LEASE_TTL", 15*time.Minute),
		Owners:       raw.Owners,

		Concurrency:   positiveOr(raw.Enrichment.Concurrency, envOrDefaultInt("ENRICH_CONCURRENCY", 4)),
		BatchSize:     positiveOr(raw.Enrichment.BatchSize, envOrDefaultInt("ENRICH_BATCH_SIZE", 25)),
		WorkerEnabled: boolOr(raw.Enrichment.Worker, true),
		DraftReplies:  boolOr(raw.Enrichment.Draft, true),

		CandidateCap: positiveOr(raw.Search.CandidateCap, 25),
		Threshold:    raw.Search.Threshold,
		ScanLimit:    positiveOr(raw.Search.ScanLimit, 200),

		BackfillLookback:  duration("backfill.lookback", raw.Backfill.Lookback, "BACKFILL_LOOKBACK", 30*24*time.Hour),
		BackfillPageDelay: duration("backfill.page_delay", raw.Backfill.PageDelay, "BACKFILL_PAGE_DELAY", 500*time.Millisecond),

		Port: positiveOr(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
	}

	if cfg.Threshold == 0 {
		cfg.Threshold = 0.25
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		errs = append(errs, fmt.Errorf("search.threshold: %v outside [0, 1]", cfg.Threshold))
	}
	if cfg.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("generation.rate_per_second: must not be negative"))
	}

	switch cfg.StoreDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", cfg.StoreDriver))
	}
	switch cfg.GenerationProvider {
	case "", "gemini", "ollama":
	default:
		errs = append(errs, fmt.Errorf("generation.provider: unknown provider %q", cfg.GenerationProvider))
	}

	tz := firstNonEmpty(raw.Digest.Timezone, envOrDefault("DIGEST_TIMEZONE", "UTC"))
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("digest.timezone: %w", err))
		loc = time.UTC
	}
	cfg.DigestLocation = loc

	level := firstNonEmpty(raw.Log.Level, envOrDefault("LOG_LEVEL", "info"))
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
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

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
