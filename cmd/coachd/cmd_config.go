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
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// secretKeys are the keyring entries coachd knows how to use.
var secretKeys = []string{"anthropic_api_key"}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage coach server configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Run:   runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save API key to system keyring",
	Args:  cobra.ExactArgs(1),
	Run:   runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve API key from system keyring (masked)",
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete API key from system keyring",
	Args:  cobra.ExactArgs(1),
	Run:   runConfigDeleteKey,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Run:   runConfigShow,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func validSecretKey(name string) bool {
	for _, k := range secretKeys {
		if k == name {
			return true
		}
	}
	return false
}

func runConfigSetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]
	if !validSecretKey(keyName) {
		fmt.Fprintf(os.Stderr, "Invalid key name: %s\nAvailable keys:\n", keyName)
		for _, k := range secretKeys {
			fmt.Fprintf(os.Stderr, "  - %s\n", k)
		}
		os.Exit(1)
	}

	// Read secret from stdin (without echo)
	fmt.Printf("Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}

	secret := string(secretBytes)
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Secret cannot be empty")
		os.Exit(1)
	}

	if err := SaveSecretToKeyring(keyName, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving to keyring: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Saved %s to system keyring\n", keyName)
}

func runConfigGetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	secret, err := GetSecretFromKeyring(keyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error retrieving key: %v\n", err)
		fmt.Fprintf(os.Stderr, "Key not found in keyring. Set it with: coachd config set-key %s\n", keyName)
		os.Exit(1)
	}
	fmt.Printf("%s: %s\n", keyName, maskSecret(secret))
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	if err := DeleteSecretFromKeyring(keyName); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Deleted %s from system keyring\n", keyName)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	fmt.Printf("Data directory: %s\n\n", config.DataDir)
	fmt.Printf("server.host: %s\n", config.Server.Host)
	fmt.Printf("server.port: %d\n", config.Server.Port)
	fmt.Printf("controller.enabled: %v\n", config.Controller.Enabled)
	fmt.Printf("controller.candidate_topn: %d\n", config.Controller.CandidateTopN)
	fmt.Printf("controller.compare_topm: %d\n", config.Controller.CompareTopM)
	fmt.Printf("controller.compare_depth: %d\n", config.Controller.CompareDepth)
	fmt.Printf("controller.stop_confidence_threshold: %v\n", config.Controller.StopConfidenceThreshold)
	fmt.Printf("controller.time_budget_seconds: %d\n", config.Controller.TimeBudgetSeconds)
	fmt.Printf("controller.policy_file: %s\n", config.Controller.PolicyFile)
	fmt.Printf("engine.endpoint: %s\n", config.Engine.Endpoint)
	fmt.Printf("inference.model: %s\n", config.Inference.Model)
	fmt.Printf("inference.anthropic_api_key: %s\n", maskSecret(config.Inference.AnthropicAPIKey))
	fmt.Printf("database.path: %s\n", config.Database.Path)
	fmt.Printf("session.ttl_minutes: %d\n", config.Session.TTLMinutes)
	fmt.Printf("session.transcript_max: %d\n", config.Session.TranscriptMax)
	fmt.Printf("logging.level: %s\n", config.Logging.Level)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path := filepath.Join(config.DataDir, DefaultConfigFileName+".yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config file already exists: %s\n", path)
		os.Exit(1)
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
		os.Exit(1)
	}

	example := heredoc.Doc(`
		# Chess-GPT coach server configuration
		# Secrets never live in this file.
		# Use the keyring: coachd config set-key anthropic_api_key

		server:
		  host: 0.0.0.0
		  port: 5006

		controller:
		  enabled: true
		  candidate_topn: 3
		  compare_topm: 2
		  compare_depth: 18
		  stop_confidence_threshold: 0.66
		  time_budget_seconds: 45

		engine:
		  endpoint: http://localhost:7015

		inference:
		  model: claude-sonnet-4-5-20250929

		session:
		  ttl_minutes: 240
		  transcript_max: 200

		logging:
		  level: info
		  format: text
	`)

	if err := os.WriteFile(path, []byte(example), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Wrote example configuration to %s\n", path)
}

// maskSecret shows the first and last few characters of a secret.
func maskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", 8) + secret[len(secret)-4:]
}
