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

// Package server exposes the coaching pipeline over HTTP:
// POST /v1/coach:stream answers one request as a server-sent event
// stream, GET /health reports liveness.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/controller"
	"github.com/Hbos123/chessgpt/pkg/fallback"
	"github.com/Hbos123/chessgpt/pkg/types"
)

// coachRunner is the primary pipeline's contract.
type coachRunner interface {
	Run(ctx context.Context, req *types.CoachRequest, em *controller.Emitter) (*controller.Result, error)
}

// fallbackRunner is the legacy pipeline's contract.
type fallbackRunner interface {
	Run(ctx context.Context, req *types.CoachRequest) (*fallback.Result, error)
}

// Config holds server configuration.
type Config struct {
	Host string
	Port int
	// ControllerEnabled selects the primary pipeline; when false every
	// request goes straight to the legacy pipeline.
	ControllerEnabled bool
	CORS              CORSConfig
}

// Server is the HTTP front for the coaching pipelines.
type Server struct {
	httpServer *http.Server
	coach      coachRunner
	legacy     fallbackRunner
	cfg        Config
	logger     *zap.Logger
}

// New creates a server over the given pipelines.
func New(coach coachRunner, legacy fallbackRunner, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{coach: coach, legacy: legacy, cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/coach:stream", s.handleCoachStream)
	mux.HandleFunc("/health", s.handleHealth)

	var handler http.Handler = mux
	if cfg.CORS.Enabled {
		handler = corsMiddleware(cfg.CORS, mux)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until Stop or a listener error.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
