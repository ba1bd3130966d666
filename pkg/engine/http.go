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
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/types"
)

// HTTPEngine talks JSON to an evaluation-engine bridge service.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPEngineConfig configures an HTTPEngine.
type HTTPEngineConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewHTTPEngine creates an engine client for the given bridge endpoint.
func NewHTTPEngine(cfg HTTPEngineConfig) *HTTPEngine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &HTTPEngine{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}
}

type evaluateRequest struct {
	FEN     string `json:"fen"`
	Depth   int    `json:"depth"`
	MultiPV int    `json:"multipv"`
}

type evaluateResponse struct {
	EvalCP    int               `json:"eval_cp"`
	Depth     int               `json:"depth"`
	TimeMs    int64             `json:"time_ms"`
	Exact     bool              `json:"exact"`
	TopMoves  []types.Candidate `json:"top_moves"`
}

type compareRequest struct {
	FEN   string   `json:"fen"`
	Moves []string `json:"moves"`
	Depth int      `json:"depth"`
}

type compareResponse struct {
	Ranked []types.Candidate `json:"ranked"`
}

// Evaluate implements Engine.
func (e *HTTPEngine) Evaluate(ctx context.Context, fen string, depth, multipv int) (*Evaluation, error) {
	start := time.Now()
	var resp evaluateResponse
	if err := e.post(ctx, "/evaluate", evaluateRequest{FEN: fen, Depth: depth, MultiPV: multipv}, &resp); err != nil {
		return nil, &AdapterError{Op: "evaluate", Err: err}
	}

	e.logger.Debug("engine evaluation complete",
		zap.String("fen", fen),
		zap.Int("depth", resp.Depth),
		zap.Int("candidates", len(resp.TopMoves)),
		zap.Duration("latency", time.Since(start)))

	return &Evaluation{
		FEN:       fen,
		EvalCP:    resp.EvalCP,
		Depth:     resp.Depth,
		TimeSpent: time.Duration(resp.TimeMs) * time.Millisecond,
		Exact:     resp.Exact,
		TopMoves:  resp.TopMoves,
	}, nil
}

// Compare implements Engine.
func (e *HTTPEngine) Compare(ctx context.Context, fen string, moves []string, depth int) ([]types.Candidate, error) {
	start := time.Now()
	var resp compareResponse
	if err := e.post(ctx, "/compare", compareRequest{FEN: fen, Moves: moves, Depth: depth}, &resp); err != nil {
		return nil, &AdapterError{Op: "compare", Err: err}
	}

	// The bridge must rank only moves it was handed. Filter anything else
	// so a misbehaving bridge cannot put a synthesized move in front of
	// the explainer.
	allowed := make(map[string]bool, len(moves))
	for _, m := range moves {
		allowed[m] = true
	}
	ranked := make([]types.Candidate, 0, len(resp.Ranked))
	for _, c := range resp.Ranked {
		if allowed[c.Move] {
			ranked = append(ranked, c)
		} else {
			e.logger.Warn("engine compare returned unknown move, dropping",
				zap.String("move", c.Move))
		}
	}

	e.logger.Debug("engine comparison complete",
		zap.String("fen", fen),
		zap.Int("depth", depth),
		zap.Int("ranked", len(ranked)),
		zap.Duration("latency", time.Since(start)))

	return ranked, nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var _ Engine = (*HTTPEngine)(nil)
