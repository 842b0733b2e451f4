// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for SOURCE.
//
// Supports TOML configuration with sensible defaults and environment
// variable overrides.
//
// Configuration file locations (in order of precedence):
//   - ~/.source/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yessusuper/alpha-source/internal/model"
	"github.com/yessusuper/alpha-source/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete SOURCE configuration, shared by the
// server binary and the terminal client.
type Config struct {
	Version string `toml:"version"`

	Server     ServerConfig     `toml:"server"`
	Client     ClientConfig     `toml:"client"`
	Retry      RetryConfig      `toml:"retry"`
	Poll       PollConfig       `toml:"poll"`
	Generation GenerationConfig `toml:"generation"`
	Provider   ProviderConfig   `toml:"provider"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":3000".
	Addr string `toml:"addr"`
	// DataDir holds the SQLite database.
	DataDir string `toml:"data_dir"`
	// ImagesDir holds uploaded attachments, served under /images/.
	ImagesDir string `toml:"images_dir"`
	// UploadsDir holds deposited course files, served under /uploads/.
	UploadsDir string `toml:"uploads_dir"`
	// RateLimitRPS and RateLimitBurst configure the per-IP limiter.
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
	// AllowedOrigins for CORS; empty allows all.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// ClientConfig contains terminal client settings.
type ClientConfig struct {
	// BaseURL is the SOURCE server the client talks to.
	BaseURL string `toml:"base_url"`
	// Username is sent as the author on community posts.
	Username string `toml:"username"`
}

// RetryConfig configures the bounded retry executor.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per request cycle.
	MaxAttempts int `toml:"max_attempts"`
	// DelayMS is the fixed pause between attempts in milliseconds.
	DelayMS int `toml:"delay_ms"`
}

// Delay returns the inter-attempt pause as a duration.
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// PollConfig configures the background feed synchronizer.
type PollConfig struct {
	// IntervalMS is the polling period in milliseconds.
	IntervalMS int `toml:"interval_ms"`
	// StaleAfter is the merge-generation age past which an unconfirmed
	// provisional entry is reported as stale.
	StaleAfter int `toml:"stale_after"`
}

// Interval returns the polling period as a duration.
func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// GenerationConfig holds the default completion parameters. Requests can
// override any of them per call.
type GenerationConfig struct {
	Creativity     float64 `toml:"creativity"`
	ResponseLength int     `toml:"response_length"`
	Mode           string  `toml:"mode"`
	SchoolLevel    string  `toml:"school_level"`
}

// Params converts to the wire parameter struct.
func (g GenerationConfig) Params() model.GenerationParams {
	return model.GenerationParams{
		Creativity:     g.Creativity,
		ResponseLength: g.ResponseLength,
		Mode:           g.Mode,
		SchoolLevel:    g.SchoolLevel,
	}
}

// ProviderConfig configures the upstream completion provider.
type ProviderConfig struct {
	BaseURL string `toml:"base_url"`
	// APIKey is usually supplied via GEMINI_API_KEY instead of the file.
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:           ":3000",
			DataDir:        "./data",
			ImagesDir:      "./data/images",
			UploadsDir:     "./data/uploads",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},

		Client: ClientConfig{
			BaseURL:  "http://127.0.0.1:3000",
			Username: "anonymous",
		},

		Retry: RetryConfig{
			MaxAttempts: 5,
			DelayMS:     500,
		},

		Poll: PollConfig{
			IntervalMS: 3000,
			StaleAfter: 10,
		},

		Generation: GenerationConfig{
			Creativity:     0.7,
			ResponseLength: 200,
			Mode:           "tutor",
			SchoolLevel:    "lycee",
		},

		Provider: ProviderConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.5-flash",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the SOURCE configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".source"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file, falling back to
// defaults if no file exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path. A missing
// file is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SetDefaults fills in any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = defaults.Server.DataDir
	}
	if c.Server.ImagesDir == "" {
		c.Server.ImagesDir = defaults.Server.ImagesDir
	}
	if c.Server.UploadsDir == "" {
		c.Server.UploadsDir = defaults.Server.UploadsDir
	}
	if c.Server.RateLimitRPS <= 0 {
		c.Server.RateLimitRPS = defaults.Server.RateLimitRPS
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = defaults.Server.RateLimitBurst
	}

	if c.Client.BaseURL == "" {
		c.Client.BaseURL = defaults.Client.BaseURL
	}
	if c.Client.Username == "" {
		c.Client.Username = defaults.Client.Username
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if c.Retry.DelayMS <= 0 {
		c.Retry.DelayMS = defaults.Retry.DelayMS
	}

	if c.Poll.IntervalMS <= 0 {
		c.Poll.IntervalMS = defaults.Poll.IntervalMS
	}
	if c.Poll.StaleAfter <= 0 {
		c.Poll.StaleAfter = defaults.Poll.StaleAfter
	}

	if c.Generation.Creativity <= 0 {
		c.Generation.Creativity = defaults.Generation.Creativity
	}
	if c.Generation.ResponseLength <= 0 {
		c.Generation.ResponseLength = defaults.Generation.ResponseLength
	}
	if c.Generation.Mode == "" {
		c.Generation.Mode = defaults.Generation.Mode
	}
	if c.Generation.SchoolLevel == "" {
		c.Generation.SchoolLevel = defaults.Generation.SchoolLevel
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = defaults.Provider.BaseURL
	}
	if c.Provider.Model == "" {
		c.Provider.Model = defaults.Provider.Model
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if _, err := url.Parse(c.Client.BaseURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "client.base_url",
			Message: fmt.Sprintf("invalid URL: %v", err),
		})
	}

	if _, err := url.Parse(c.Provider.BaseURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "provider.base_url",
			Message: fmt.Sprintf("invalid URL: %v", err),
		})
	}

	if c.Retry.MaxAttempts > 100 {
		errs = append(errs, ValidationError{
			Field:   "retry.max_attempts",
			Message: fmt.Sprintf("must be at most 100, got %d", c.Retry.MaxAttempts),
		})
	}

	if c.Poll.IntervalMS < 250 {
		errs = append(errs, ValidationError{
			Field:   "poll.interval_ms",
			Message: fmt.Sprintf("must be at least 250ms, got %d", c.Poll.IntervalMS),
		})
	}

	if c.Generation.Creativity < 0 || c.Generation.Creativity > 2 {
		errs = append(errs, ValidationError{
			Field:   "generation.creativity",
			Message: fmt.Sprintf("must be between 0.0 and 2.0, got %g", c.Generation.Creativity),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath saves the configuration to a TOML file atomically, with
// restrictive permissions since the file may carry a provider key.
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# SOURCE configuration file\n")
	buf.WriteString("# Edit with care; the server reloads this file on change.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - SOURCE_ADDR: overrides server.addr
//   - SOURCE_DATA_DIR: overrides server.data_dir
//   - SOURCE_BASE_URL: overrides client.base_url
//   - SOURCE_USERNAME: overrides client.username
//   - SOURCE_RETRY_ATTEMPTS: overrides retry.max_attempts
//   - SOURCE_POLL_INTERVAL_MS: overrides poll.interval_ms
//   - GEMINI_API_KEY: overrides provider.api_key
//   - SOURCE_PROVIDER_MODEL: overrides provider.model
func (c *Config) ApplyEnvOverrides() {
	if addr := os.Getenv("SOURCE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}

	if dir := os.Getenv("SOURCE_DATA_DIR"); dir != "" {
		c.Server.DataDir = dir
	}

	if base := os.Getenv("SOURCE_BASE_URL"); base != "" {
		c.Client.BaseURL = base
	}

	if user := os.Getenv("SOURCE_USERNAME"); user != "" {
		c.Client.Username = user
	}

	if attempts := os.Getenv("SOURCE_RETRY_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil && n > 0 {
			c.Retry.MaxAttempts = n
		}
	}

	if interval := os.Getenv("SOURCE_POLL_INTERVAL_MS"); interval != "" {
		if n, err := strconv.Atoi(interval); err == nil && n > 0 {
			c.Poll.IntervalMS = n
		}
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}

	if m := os.Getenv("SOURCE_PROVIDER_MODEL"); m != "" {
		c.Provider.Model = m
	}
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String returns a printable representation with the provider key redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Provider.APIKey != "" {
		safe.Provider.APIKey = "[REDACTED]"
	}

	var buf bytes.Buffer
	toml.NewEncoder(&buf).Encode(safe)
	return buf.String()
}
