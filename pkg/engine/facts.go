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
	"github.com/Hbos123/chessgpt/pkg/types"
)

// BuildFacts assembles an immutable facts packet from an evaluation and
// an optional deeper comparison. Certainty is derived from the engine's
// own signals: depth reached, time spent, and the centipawn spread
// between the best and worst retained candidate. A wide spread means
// one move stands out; a narrow one means the position is unresolved.
func BuildFacts(eval *Evaluation, compared []types.Candidate) *types.FactsPacket {
	facts := &types.FactsPacket{
		FEN:         eval.FEN,
		EvalCP:      eval.EvalCP,
		TopMoves:    eval.TopMoves,
		MoveCompare: compared,
		Certainty: types.Certainty{
			Depth:      eval.Depth,
			TimeSpent:  eval.TimeSpent,
			PVSpreadCP: pvSpread(eval.TopMoves),
			Exact:      eval.Exact,
		},
	}
	return facts
}

func pvSpread(moves []types.Candidate) int {
	if len(moves) < 2 {
		return 0
	}
	best, worst := moves[0].EvalCP, moves[0].EvalCP
	for _, c := range moves[1:] {
		if c.EvalCP > best {
			best = c.EvalCP
		}
		if c.EvalCP < worst {
			worst = c.EvalCP
		}
	}
	return best - worst
}
