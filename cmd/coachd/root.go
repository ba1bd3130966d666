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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Hbos123/chessgpt/internal/version"
	coachconfig "github.com/Hbos123/chessgpt/pkg/config"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "coachd",
	Short:   "Chess-GPT coach server - engine-grounded chess coaching over SSE",
	Long:    `Chess-GPT coach server (coachd) answers chess coaching questions by combining engine analysis with LLM explanation, streaming each answer as server-sent events.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $COACH_DATA_DIR/coachd.yaml)")

	// Server flags
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "HTTP server host")
	rootCmd.PersistentFlags().Int("port", 5006, "HTTP server port")

	// Pipeline flags
	rootCmd.PersistentFlags().Bool("controller", true, "enable the primary pipeline (use --controller=false for fallback-only)")
	rootCmd.PersistentFlags().Int("topn", 3, "candidate moves to evaluate per position")
	rootCmd.PersistentFlags().Float64("stop-threshold", 0.66, "self-check confidence fraction that stops further passes")
	rootCmd.PersistentFlags().Int("time-budget", 45, "per-request time budget in seconds")

	// Engine flags
	rootCmd.PersistentFlags().String("engine-endpoint", "http://localhost:7015", "engine bridge base URL")

	// Inference flags
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or use keyring/env)")
	rootCmd.PersistentFlags().String("anthropic-model", "claude-sonnet-4-5-20250929", "Anthropic model")

	// Database flags
	// GetDataDir respects the COACH_DATA_DIR environment variable
	defaultDBPath := filepath.Join(coachconfig.GetDataDir(), "coach.db")
	rootCmd.PersistentFlags().String("db", defaultDBPath, "SQLite database path")

	// Policy flags
	defaultPolicyPath := filepath.Join(coachconfig.GetDataDir(), "policies.yaml")
	rootCmd.PersistentFlags().String("policy-file", defaultPolicyPath, "confidence policy file (hot-reloaded)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))

	_ = viper.BindPFlag("controller.enabled", rootCmd.PersistentFlags().Lookup("controller"))
	_ = viper.BindPFlag("controller.candidate_topn", rootCmd.PersistentFlags().Lookup("topn"))
	_ = viper.BindPFlag("controller.stop_confidence_threshold", rootCmd.PersistentFlags().Lookup("stop-threshold"))
	_ = viper.BindPFlag("controller.time_budget_seconds", rootCmd.PersistentFlags().Lookup("time-budget"))
	_ = viper.BindPFlag("controller.policy_file", rootCmd.PersistentFlags().Lookup("policy-file"))

	_ = viper.BindPFlag("engine.endpoint", rootCmd.PersistentFlags().Lookup("engine-endpoint"))

	_ = viper.BindPFlag("inference.anthropic_api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("inference.model", rootCmd.PersistentFlags().Lookup("anthropic-model"))

	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
