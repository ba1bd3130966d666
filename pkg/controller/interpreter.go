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
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/inference"
	"github.com/Hbos123/chessgpt/pkg/types"
)

// Intent is the interpreter's structured classification of a request.
type Intent struct {
	Label              string `json:"intent"`
	NeedsInvestigation bool   `json:"needs_investigation"`
}

// Intent labels the interpreter may return.
const (
	IntentMoveGuidance = "move_guidance"
	IntentPositionEval = "position_eval"
	IntentConcept      = "concept_question"
	IntentGameReview   = "game_review"
	IntentOther        = "other"
)

var intentSchema = json.RawMessage(`{
	"type": "object",
	"required": ["intent", "needs_investigation"],
	"properties": {
		"intent": {
			"type": "string",
			"enum": ["move_guidance", "position_eval", "concept_question", "game_review", "other"]
		},
		"needs_investigation": {"type": "boolean"}
	},
	"additionalProperties": false
}`)

const interpreterSystem = `You classify one chess-coaching question. ` +
	`"move_guidance" asks what to play, "position_eval" asks who is better and why, ` +
	`"concept_question" asks about ideas or rules without needing this position analyzed, ` +
	`"game_review" asks about moves already played, anything else is "other". ` +
	`Set needs_investigation when answering well requires engine analysis of the position.`

// Interpreter runs the single intent-classification call.
type Interpreter struct {
	provider inference.Provider
	logger   *zap.Logger
}

// NewInterpreter creates an interpreter over the given provider.
func NewInterpreter(provider inference.Provider, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{provider: provider, logger: logger}
}

// Interpret classifies the request. Failure is never fatal: a malformed
// payload or adapter error yields conservative defaults
// (needs_investigation=true) and a parse-failure log.
func (i *Interpreter) Interpret(ctx context.Context, key types.SessionKey, req *types.CoachRequest) Intent {
	conservative := Intent{Label: IntentOther, NeedsInvestigation: true}

	resp, err := i.provider.Complete(ctx, &inference.Request{
		Stage:      inference.StageInterpret,
		SessionKey: key,
		System:     interpreterSystem,
		Turns: []types.TranscriptEntry{{
			Role:    types.RoleUser,
			Content: fmt.Sprintf("Position: %s\nQuestion: %s", req.FEN, req.Text),
		}},
		Schema:    intentSchema,
		MaxTokens: 128,
	})
	if err != nil {
		i.logger.Warn("interpreter call failed, using conservative defaults",
			zap.String("session", key.String()), zap.Error(err))
		return conservative
	}

	var intent Intent
	if err := inference.DecodeStructured(inference.StageInterpret, resp.Content, intentSchema, &intent); err != nil {
		i.logger.Warn("interpreter returned malformed output, using conservative defaults",
			zap.String("session", key.String()), zap.Error(err))
		return conservative
	}
	return intent
}
