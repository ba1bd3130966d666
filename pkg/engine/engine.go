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

// Package engine wraps the external position-evaluation engine behind a
// narrow request/response boundary. The engine process, its binary and
// its native protocol are an external collaborator; only the shapes in
// this package are relied upon.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Hbos123/chessgpt/pkg/types"
)

// ErrUnavailable is returned when the engine endpoint cannot be reached.
var ErrUnavailable = errors.New("evaluation engine unavailable")

// AdapterError wraps an engine transport or protocol failure.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Evaluation is the result of a single position evaluation.
type Evaluation struct {
	FEN       string            `json:"fen"`
	EvalCP    int               `json:"eval_cp"` // mover-relative centipawns
	Depth     int               `json:"depth"`
	TimeSpent time.Duration     `json:"time_spent"`
	Exact     bool              `json:"exact"` // forced mate or tablebase hit
	TopMoves  []types.Candidate `json:"top_moves"`
}

// Engine is the evaluation boundary consumed by the controller.
type Engine interface {
	// Evaluate analyzes fen to the given depth, returning up to multipv
	// candidate lines ordered best-first.
	Evaluate(ctx context.Context, fen string, depth, multipv int) (*Evaluation, error)

	// Compare re-searches the given candidate moves at a deeper depth and
	// returns them ranked best-first. The result contains only moves from
	// the input set.
	Compare(ctx context.Context, fen string, moves []string, depth int) ([]types.Candidate, error)
}
