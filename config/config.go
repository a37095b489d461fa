// Package config loads runtime configuration from a JSON file with
// environment-variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Defaults.
const (
	DefaultProxyURL = "https://proxy.scrapeops.io/v1/"
	DefaultPageSize = 20
	DefaultMaxPages = 3

	// DefaultMaxHoursWithoutSuccess is the staleness threshold.
	DefaultMaxHoursWithoutSuccess = 2

	// DefaultErrorThreshold is the consecutive-failure alert threshold.
	DefaultErrorThreshold = 5
)

// Config is the full configuration surface. Every field can be set in the
// config file; the string fields can also come from the environment
// (SCRAPE_PROXY_KEY, WEBHOOK_URL, HEALTH_CHECK_URL, STORAGE_BUCKET,
// DATA_DIR), which wins over the file.
type Config struct {
	ScrapeProxyKey string `json:"scrape_proxy_key"` // scraping proxy credential
	ProxyURL       string `json:"proxy_url"`        // scraping proxy endpoint
	WebhookURL     string `json:"webhook_url"`      // chat webhook for post notifications
	HealthCheckURL string `json:"health_check_url"` // operator alert endpoint

	TargetURL  string `json:"target_url"`  // statuses API of the watched account
	AccountURL string `json:"account_url"` // public account page, for probes

	ArchiveURL      string `json:"archive_url"`       // published archive snapshot
	UseLocalArchive bool   `json:"use_local_archive"` // ignore ArchiveURL, seed from own storage

	StorageBucket string `json:"storage_bucket"` // GCS bucket; empty means local mode
	DataDir       string `json:"data_dir"`       // local data directory

	ErrorThreshold         int `json:"error_threshold"`
	MaxPages               int `json:"max_pages"`
	PageSize               int `json:"page_size"`
	MaxHoursWithoutSuccess int `json:"max_hours_without_success"`
}

func defaults() Config {
	return Config{
		ProxyURL:               DefaultProxyURL,
		UseLocalArchive:        true,
		DataDir:                "./data",
		ErrorThreshold:         DefaultErrorThreshold,
		MaxPages:               DefaultMaxPages,
		PageSize:               DefaultPageSize,
		MaxHoursWithoutSuccess: DefaultMaxHoursWithoutSuccess,
	}
}

// Load reads configuration from path. A missing file is not an error: the
// defaults are written there so the operator has something to edit.
// Environment variables override the file either way.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		applyEnv(&cfg)
		if saveErr := save(path, cfg); saveErr != nil {
			return Config{}, fmt.Errorf("write default config: %w", saveErr)
		}
		return cfg, nil
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	for env, field := range map[string]*string{
		"SCRAPE_PROXY_KEY": &cfg.ScrapeProxyKey,
		"WEBHOOK_URL":      &cfg.WebhookURL,
		"HEALTH_CHECK_URL": &cfg.HealthCheckURL,
		"STORAGE_BUCKET":   &cfg.StorageBucket,
		"DATA_DIR":         &cfg.DataDir,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

func save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
