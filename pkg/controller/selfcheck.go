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
	"strings"

	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/inference"
	"github.com/Hbos123/chessgpt/pkg/types"
)

// MaxSelfCheckIterations bounds the evidence-sufficiency loop. When it
// exhausts without stop=true, the pipeline proceeds with the last-known
// ceiling rather than waiting for certainty.
const MaxSelfCheckIterations = 3

// Verdict is one self-check decision.
type Verdict struct {
	Stop              bool             `json:"stop"`
	ConfidenceAllowed types.Confidence `json:"confidence_allowed"`
	Missing           []string         `json:"missing"`
}

var verdictSchema = json.RawMessage(`{
	"type": "object",
	"required": ["stop", "confidence_allowed"],
	"properties": {
		"stop": {"type": "boolean"},
		"confidence_allowed": {"type": "string", "enum": ["low", "medium", "high"]},
		"missing": {"type": "array", "items": {"type": "string"}}
	},
	"additionalProperties": false
}`)

const selfCheckSystem = `You audit whether gathered chess-engine evidence suffices to answer the question. ` +
	`Set stop=true when the evidence supports a useful answer. ` +
	`Set confidence_allowed to the strongest claim the evidence can carry. ` +
	`List what is missing when stop=false.`

// SelfChecker runs the bounded evidence-sufficiency loop. The declared
// confidence is always capped by the policy ceiling derived from engine
// certainty signals; the explainer cannot negotiate it back up.
type SelfChecker struct {
	provider inference.Provider
	policies *PolicyStore
	logger   *zap.Logger
}

// NewSelfChecker creates a self-checker.
func NewSelfChecker(provider inference.Provider, policies *PolicyStore, logger *zap.Logger) *SelfChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SelfChecker{provider: provider, policies: policies, logger: logger}
}

// Check evaluates evidence sufficiency once. Adapter failures and
// malformed payloads degrade to a stop verdict at the policy ceiling:
// the loop must never be the reason a request cannot finish.
func (s *SelfChecker) Check(ctx context.Context, key types.SessionKey, facts *types.FactsPacket, tail []types.TranscriptEntry, question string) Verdict {
	ceiling := s.policies.Current().Ceiling(facts)
	degraded := Verdict{Stop: true, ConfidenceAllowed: ceiling}

	resp, err := s.provider.Complete(ctx, &inference.Request{
		Stage:      inference.StageSelfCheck,
		SessionKey: key,
		System:     selfCheckSystem,
		Turns: []types.TranscriptEntry{{
			Role:    types.RoleUser,
			Content: s.buildPrompt(facts, tail, question),
		}},
		Schema:    verdictSchema,
		MaxTokens: 256,
	})
	if err != nil {
		s.logger.Warn("self-check call failed, stopping at policy ceiling",
			zap.String("session", key.String()), zap.Error(err))
		return degraded
	}

	var verdict Verdict
	if err := inference.DecodeStructured(inference.StageSelfCheck, resp.Content, verdictSchema, &verdict); err != nil {
		s.logger.Warn("self-check returned malformed output, stopping at policy ceiling",
			zap.String("session", key.String()), zap.Error(err))
		return degraded
	}

	// Weak certainty signals cap the declared confidence downward.
	verdict.ConfidenceAllowed = verdict.ConfidenceAllowed.Min(ceiling)
	return verdict
}

func (s *SelfChecker) buildPrompt(facts *types.FactsPacket, tail []types.TranscriptEntry, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	if facts == nil {
		b.WriteString("Evidence: none gathered.\n")
	} else {
		fmt.Fprintf(&b, "Position: %s\nEvaluation: %+d cp for the side to move (depth %d",
			facts.FEN, facts.EvalCP, facts.Certainty.Depth)
		if facts.Certainty.Exact {
			b.WriteString(", exact")
		}
		b.WriteString(")\nCandidates:\n")
		for _, c := range facts.TopMoves {
			fmt.Fprintf(&b, "  %s (%+d cp) pv %s\n", c.Move, c.EvalCP, strings.Join(c.PV, " "))
		}
		for _, c := range facts.MoveCompare {
			fmt.Fprintf(&b, "deep-compared: %s (%+d cp)\n", c.Move, c.EvalCP)
		}
	}

	if len(tail) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, e := range tail {
			fmt.Fprintf(&b, "  [%s] %s\n", e.Role, e.Content)
		}
	}
	return b.String()
}
