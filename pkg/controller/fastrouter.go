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
	"fmt"
	"strings"

	"github.com/Hbos123/chessgpt/pkg/engine"
	"github.com/Hbos123/chessgpt/pkg/types"
)

// Resolution is a fast-router answer produced without any inference or
// engine call.
type Resolution struct {
	Answer     string
	Confidence types.Confidence
}

// FastRoute classifies a request and answers it directly when it is
// provably resolvable from the FEN's static fields. It never guesses:
// anything ambiguous returns (nil, false) and control passes to the
// interpreter. Pure function, no I/O.
func FastRoute(req *types.CoachRequest) (*Resolution, bool) {
	fen, err := engine.ParseFEN(req.FEN)
	if err != nil {
		return nil, false
	}

	text := strings.ToLower(req.Text)

	if res, ok := routeCastling(fen, text); ok {
		return res, true
	}
	if res, ok := routeSideToMove(fen, text); ok {
		return res, true
	}
	return nil, false
}

// routeCastling answers castling-rights questions. Rights record only
// that castling has not been forfeited; a question about rights is
// decidable from the FEN alone, a question about legality this very
// move is not, so the latter only resolves in the negative case where
// forfeited rights already settle it.
func routeCastling(fen *engine.FEN, text string) (*Resolution, bool) {
	mentionsCastling := strings.Contains(text, "castl") ||
		strings.Contains(text, "o-o")
	if !mentionsCastling {
		return nil, false
	}
	// Questions about the opponent's rights need more parsing than a
	// substring check can carry; stay conservative.
	if strings.Contains(text, "opponent") || strings.Contains(text, "they") {
		return nil, false
	}

	mover := fen.SideToMove
	queenside := strings.Contains(text, "queenside") ||
		strings.Contains(text, "long") ||
		strings.Contains(text, "o-o-o")
	kingside := strings.Contains(text, "kingside") ||
		strings.Contains(text, "short") ||
		(strings.Contains(text, "o-o") && !strings.Contains(text, "o-o-o"))

	switch {
	case queenside && !kingside:
		if !fen.CanCastle(mover, engine.Queenside) {
			return &Resolution{
				Answer:     fmt.Sprintf("No. %s has already lost the right to castle queenside in this position.", sideName(mover)),
				Confidence: types.ConfidenceHigh,
			}, true
		}
	case kingside && !queenside:
		if !fen.CanCastle(mover, engine.Kingside) {
			return &Resolution{
				Answer:     fmt.Sprintf("No. %s has already lost the right to castle kingside in this position.", sideName(mover)),
				Confidence: types.ConfidenceHigh,
			}, true
		}
	default:
		if !fen.AnyCastling(mover) {
			return &Resolution{
				Answer:     fmt.Sprintf("No. %s has no castling rights left in this position, on either side.", sideName(mover)),
				Confidence: types.ConfidenceHigh,
			}, true
		}
	}

	// Rights are intact, so legality now depends on checks and occupied
	// squares. That needs the engine; do not guess.
	return nil, false
}

func routeSideToMove(fen *engine.FEN, text string) (*Resolution, bool) {
	asksTurn := strings.Contains(text, "whose move") ||
		strings.Contains(text, "whose turn") ||
		strings.Contains(text, "who is to move") ||
		strings.Contains(text, "who moves")
	if !asksTurn {
		return nil, false
	}
	return &Resolution{
		Answer:     fmt.Sprintf("It is %s to move.", strings.ToLower(sideName(fen.SideToMove))),
		Confidence: types.ConfidenceHigh,
	}, true
}

func sideName(c engine.Color) string {
	if c == engine.White {
		return "White"
	}
	return "Black"
}
