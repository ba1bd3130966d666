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
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/controller"
	"github.com/Hbos123/chessgpt/pkg/engine"
	"github.com/Hbos123/chessgpt/pkg/fallback"
	"github.com/Hbos123/chessgpt/pkg/inference"
	"github.com/Hbos123/chessgpt/pkg/server"
	"github.com/Hbos123/chessgpt/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coach HTTP server",
	Long: heredoc.Doc(`
		Start the coach server with the SSE streaming API.

		The server will:
		- Set up session persistence with SQLite (in-memory fallback on failure)
		- Watch the confidence policy file for hot reloads
		- Connect to the engine bridge and the configured LLM provider
		- Listen for coaching requests on the specified port

		Press Ctrl+C to gracefully shutdown.`),
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func buildLogger(config *Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	logLevel := zap.InfoLevel
	if config.Logging.Level != "" {
		if err := logLevel.UnmarshalText([]byte(config.Logging.Level)); err != nil {
			log.Printf("Invalid log level %q, using INFO: %v", config.Logging.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	if config.Logging.File != "" {
		zapConfig.OutputPaths = []string{config.Logging.File}
		zapConfig.ErrorOutputPaths = []string{config.Logging.File}
	}

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}

// buildSessionStore opens the SQLite store with an in-memory fallback
// behind it. A database that cannot be opened at all degrades to
// memory-only from the start.
func buildSessionStore(config *Config, logger *zap.Logger) (session.Store, func()) {
	ttl := time.Duration(config.Session.TTLMinutes) * time.Minute
	memory := session.NewMemoryStore(session.MemoryStoreConfig{
		TTL:           ttl,
		MaxTranscript: config.Session.TranscriptMax,
		Logger:        logger,
	})

	if err := os.MkdirAll(filepath.Dir(config.Database.Path), 0o755); err != nil {
		logger.Warn("failed to create data directory, sessions will not persist",
			zap.String("path", config.Database.Path), zap.Error(err))
		return memory, func() {}
	}

	sqlite, err := session.NewSQLiteStore(session.SQLiteStoreConfig{
		Path:          config.Database.Path,
		TTL:           ttl,
		MaxTranscript: config.Session.TranscriptMax,
		Logger:        logger,
	})
	if err != nil {
		logger.Warn("failed to open session database, sessions will not persist",
			zap.String("path", config.Database.Path), zap.Error(err))
		return memory, func() {}
	}

	logger.Info("Session store initialized", zap.String("path", config.Database.Path))
	store := session.NewFailoverStore(sqlite, memory, logger)
	return store, func() { _ = sqlite.Close() }
}

func runServe(cmd *cobra.Command, args []string) {
	if err := config.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, err := buildLogger(config)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting coach server", zap.String("version", rootCmd.Version))

	// Show actual config file used (not just the --config flag)
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("Config file loaded", zap.String("path", used))
	} else {
		logger.Info("No config file found, using defaults + environment variables",
			zap.String("searched", "$COACH_DATA_DIR/coachd.yaml, ./coachd.yaml, /etc/chessgpt/coachd.yaml"))
	}

	// Session persistence
	store, closeStore := buildSessionStore(config, logger)
	defer closeStore()

	sweeper := session.NewSweeper(store, config.Session.SweepSchedule, logger)
	if err := sweeper.Start(); err != nil {
		logger.Warn("session sweeper failed to start, expired sessions will accumulate", zap.Error(err))
	} else {
		defer sweeper.Stop()
	}

	// Confidence policies, hot-reloaded from disk
	policies := controller.NewPolicyStore(config.Controller.PolicyFile, logger)
	if err := policies.Watch(); err != nil {
		logger.Warn("policy file watch failed, using current values until restart", zap.Error(err))
	}
	defer policies.Stop()

	// Engine bridge
	eng := engine.NewHTTPEngine(engine.HTTPEngineConfig{
		BaseURL: config.Engine.Endpoint,
		Timeout: time.Duration(config.Engine.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	logger.Info("Engine bridge configured", zap.String("endpoint", config.Engine.Endpoint))

	// LLM provider, wrapped with per-call instrumentation
	provider := inference.NewInstrumented(inference.NewHTTPProvider(inference.HTTPProviderConfig{
		APIKey:    config.Inference.AnthropicAPIKey,
		Model:     config.Inference.Model,
		Endpoint:  config.Inference.Endpoint,
		Timeout:   time.Duration(config.Inference.TimeoutSeconds) * time.Second,
		MaxTokens: config.Inference.MaxTokens,
	}), logger)

	coach := controller.New(store, eng, provider, policies, controller.Config{
		TopN:                    config.Controller.CandidateTopN,
		CompareTopM:             config.Controller.CompareTopM,
		CompareDepth:            config.Controller.CompareDepth,
		StopConfidenceThreshold: config.Controller.StopConfidenceThreshold,
		TimeBudget:              time.Duration(config.Controller.TimeBudgetSeconds) * time.Second,
		NoteMaxTokens:           config.Controller.NoteMaxTokens,
	}, logger)

	legacy := fallback.NewPipeline(provider, logger)

	srv := server.New(coach, legacy, server.Config{
		Host:              config.Server.Host,
		Port:              config.Server.Port,
		ControllerEnabled: config.Controller.Enabled,
		CORS: server.CORSConfig{
			Enabled:        config.Server.CORS.Enabled,
			AllowedOrigins: config.Server.CORS.AllowedOrigins,
			AllowedMethods: config.Server.CORS.AllowedMethods,
			AllowedHeaders: config.Server.CORS.AllowedHeaders,
			MaxAge:         config.Server.CORS.MaxAge,
		},
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
