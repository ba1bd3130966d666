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
package controller

import (
	"context"

	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/engine"
	"github.com/Hbos123/chessgpt/pkg/types"
)

// Candidate gathering bounds. topN outside [MinTopN, MaxTopN] is
// clamped, never rejected.
const (
	MinTopN          = 1
	MaxTopN          = 8
	DefaultEvalDepth = 14
)

// Selector gathers candidate moves engine-first and optionally ranks
// the best few at a deeper search depth.
type Selector struct {
	engine engine.Engine
	logger *zap.Logger
}

// NewSelector creates a selector over the given engine.
func NewSelector(eng engine.Engine, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{engine: eng, logger: logger}
}

// Select evaluates fen with multipv=topN and, when compareTopM > 1,
// re-searches the best compareTopM moves at compareDepth. Every move in
// the result came from the engine; nothing is synthesized here.
func (s *Selector) Select(ctx context.Context, fen string, topN, compareTopM, compareDepth int) (*types.FactsPacket, error) {
	topN = clamp(topN, MinTopN, MaxTopN)

	eval, err := s.engine.Evaluate(ctx, fen, DefaultEvalDepth, topN)
	if err != nil {
		return nil, err
	}
	if len(eval.TopMoves) > topN {
		eval.TopMoves = eval.TopMoves[:topN]
	}

	var compared []types.Candidate
	if compareTopM > 1 && len(eval.TopMoves) > 1 {
		if compareTopM > len(eval.TopMoves) {
			compareTopM = len(eval.TopMoves)
		}
		moves := make([]string, 0, compareTopM)
		for _, c := range eval.TopMoves[:compareTopM] {
			moves = append(moves, c.Move)
		}
		compared, err = s.engine.Compare(ctx, fen, moves, compareDepth)
		if err != nil {
			// The shallow evaluation already stands on its own; a
			// failed comparison degrades the packet, it does not sink
			// the request.
			s.logger.Warn("candidate comparison failed, keeping shallow evaluation",
				zap.String("fen", fen), zap.Error(err))
			compared = nil
		}
	}

	return engine.BuildFacts(eval, compared), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
