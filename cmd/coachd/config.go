// Copyright 2026 the Chess-GPT authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	coachconfig "github.com/Hbos123/chessgpt/pkg/config"
)

const (
	// ServiceName for keyring storage
	ServiceName = "chessgpt"
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "coachd"
)

// Config holds all configuration for the coach server.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is the coach data directory. It is computed from the
	// COACH_DATA_DIR env var, never from the config file.
	DataDir string `mapstructure:"-"`

	Server     ServerConfig     `mapstructure:"server"`
	Controller ControllerConfig `mapstructure:"controller"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Session    SessionConfig    `mapstructure:"session"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string           `mapstructure:"host"`
	Port int              `mapstructure:"port"`
	CORS CORSServerConfig `mapstructure:"cors"`
}

// CORSServerConfig holds CORS configuration for the SSE endpoint.
// The wildcard default is only appropriate for development; set
// allowed_origins to specific domains in production.
type CORSServerConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// ControllerConfig holds the primary pipeline's tuning knobs.
type ControllerConfig struct {
	// Enabled selects the primary pipeline; when false every request
	// goes straight to the legacy pipeline.
	Enabled bool `mapstructure:"enabled"`

	// CandidateTopN is the number of candidate moves evaluated per position.
	CandidateTopN int `mapstructure:"candidate_topn"`

	// CompareTopM is how many of the top candidates get a follow-up
	// comparison pass (0 disables the pass).
	CompareTopM int `mapstructure:"compare_topm"`

	// CompareDepth is the search depth of the comparison pass.
	CompareDepth int `mapstructure:"compare_depth"`

	// StopConfidenceThreshold is the confidence fraction (0..1) at which
	// the self-check loop stops early.
	StopConfidenceThreshold float64 `mapstructure:"stop_confidence_threshold"`

	// TimeBudgetSeconds bounds one request end to end.
	TimeBudgetSeconds int `mapstructure:"time_budget_seconds"`

	// NoteMaxTokens caps each continuity note written by the compressor.
	NoteMaxTokens int `mapstructure:"note_max_tokens"`

	// PolicyFile is the hot-reloaded confidence policy file.
	PolicyFile string `mapstructure:"policy_file"`
}

// EngineConfig holds the engine bridge client configuration.
type EngineConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// InferenceConfig holds the LLM provider configuration.
type InferenceConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Model           string `mapstructure:"model"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"` // From CLI/env/keyring only
	MaxTokens       int    `mapstructure:"max_tokens"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// DatabaseConfig holds session persistence configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	// TTLMinutes is the idle lifetime of a session before the sweeper
	// evicts it.
	TTLMinutes int `mapstructure:"ttl_minutes"`

	// TranscriptMax caps entries per session transcript.
	TranscriptMax int `mapstructure:"transcript_max"`

	// SweepSchedule is a cron expression for the eviction sweeper.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LoadConfig loads configuration from multiple sources with proper priority:
// 1. Command line flags (highest priority)
// 2. Config file
// 3. Environment variables
// 4. Defaults (lowest priority)
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config search paths (in order of priority)
		viper.AddConfigPath(coachconfig.GetDataDir()) // Coach data directory (respects COACH_DATA_DIR)
		viper.AddConfigPath(".")                      // Current directory
		viper.AddConfigPath("/etc/chessgpt/")         // System-wide
		viper.SetConfigName(DefaultConfigFileName)    // coachd.yaml
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	// Bind environment variables (COACH_INFERENCE_ANTHROPIC_API_KEY etc.)
	viper.SetEnvPrefix("COACH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.DataDir = coachconfig.GetDataDir()

	// Load secrets from keyring if not provided via CLI/env.
	// Non-fatal: keyring might not be available on this host.
	if config.Inference.AnthropicAPIKey == "" {
		if key, err := GetSecretFromKeyring("anthropic_api_key"); err == nil {
			config.Inference.AnthropicAPIKey = key
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 5006)
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("server.cors.allowed_headers", []string{"*"})
	viper.SetDefault("server.cors.max_age", 86400) // 24 hours

	viper.SetDefault("controller.enabled", true)
	viper.SetDefault("controller.candidate_topn", 3)
	viper.SetDefault("controller.compare_topm", 2)
	viper.SetDefault("controller.compare_depth", 18)
	viper.SetDefault("controller.stop_confidence_threshold", 0.66)
	viper.SetDefault("controller.time_budget_seconds", 45)
	viper.SetDefault("controller.note_max_tokens", 200)
	viper.SetDefault("controller.policy_file", coachconfig.GetSubPath("policies.yaml"))

	viper.SetDefault("engine.endpoint", "http://localhost:7015")
	viper.SetDefault("engine.timeout_seconds", 30)

	viper.SetDefault("inference.endpoint", "") // empty = Anthropic messages API
	viper.SetDefault("inference.model", "claude-sonnet-4-5-20250929")
	// Registered so AutomaticEnv can surface it through Unmarshal.
	viper.SetDefault("inference.anthropic_api_key", "")
	viper.SetDefault("inference.max_tokens", 4096)
	viper.SetDefault("inference.timeout_seconds", 120)

	viper.SetDefault("database.path", coachconfig.GetSubPath("coach.db"))

	viper.SetDefault("session.ttl_minutes", 240)
	viper.SetDefault("session.transcript_max", 200)
	viper.SetDefault("session.sweep_schedule", "@every 5m")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// Validate checks that the configuration is usable for serving.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Engine.Endpoint == "" {
		return fmt.Errorf("engine endpoint is required (set via --engine-endpoint or COACH_ENGINE_ENDPOINT)")
	}
	if c.Inference.AnthropicAPIKey == "" {
		return fmt.Errorf("anthropic API key is required (set via --anthropic-key, COACH_INFERENCE_ANTHROPIC_API_KEY, or save to keyring with 'coachd config set-key anthropic_api_key')")
	}
	if c.Controller.StopConfidenceThreshold < 0 || c.Controller.StopConfidenceThreshold > 1 {
		return fmt.Errorf("stop_confidence_threshold must be in [0, 1], got %v", c.Controller.StopConfidenceThreshold)
	}
	return nil
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}
