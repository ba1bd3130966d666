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

// Package fallback is the legacy coaching pipeline: four fixed
// sequential inference stages with no engine integration and no
// streaming. It answers when the primary controller is disabled or
// fails, trading answer quality for a much smaller failure surface.
package fallback

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/inference"
	"github.com/Hbos123/chessgpt/pkg/types"
)

// Stage order is fixed; each stage is exactly one provider call whose
// output feeds the next stage's prompt.
var stages = []struct {
	stage  inference.Stage
	system string
}{
	{inference.StageInterpret, "Restate what this chess student is asking, in one sentence."},
	{inference.StagePlan, "Given the restated question, outline in two or three bullet points what a coach should cover."},
	{inference.StageInvestigate, "Work through the outlined points for this position, reasoning from general principles. Do not invent engine evaluations."},
	{inference.StageSummarize, "Condense the analysis into a short, friendly coaching answer for the student."},
}

// Result is the pipeline's answer.
type Result struct {
	RequestID  string
	Answer     string
	Confidence types.Confidence
}

// Pipeline runs the four-stage legacy flow.
type Pipeline struct {
	provider inference.Provider
	logger   *zap.Logger
}

// NewPipeline creates a pipeline over the given provider.
func NewPipeline(provider inference.Provider, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{provider: provider, logger: logger}
}

// Run executes the stages sequentially. Any stage failure fails the
// whole pipeline; there is nothing simpler left to degrade to.
func (p *Pipeline) Run(ctx context.Context, req *types.CoachRequest) (*Result, error) {
	requestID := uuid.NewString()
	key := req.Key()
	previous := fmt.Sprintf("Position: %s\nQuestion: %s", req.FEN, req.Text)

	var outputs []string
	for i, s := range stages {
		resp, err := p.provider.Complete(ctx, &inference.Request{
			Stage:      s.stage,
			SessionKey: key,
			System:     s.system,
			Turns: []types.TranscriptEntry{{
				Role:    types.RoleUser,
				Content: p.buildStagePrompt(previous, outputs),
			}},
			MaxTokens: 1024,
		})
		if err != nil {
			return nil, fmt.Errorf("fallback stage %d (%s) failed: %w", i+1, s.stage, err)
		}

		p.logger.Debug("fallback stage complete",
			zap.String("request_id", requestID),
			zap.String("stage", string(s.stage)),
			zap.Int("output_chars", len(resp.Content)))

		previous = resp.Content
		outputs = append(outputs, resp.Content)
	}

	return &Result{
		RequestID: requestID,
		Answer:    strings.TrimSpace(previous),
		// The legacy flow never sees engine evidence, so its answers
		// never claim more than low confidence.
		Confidence: types.ConfidenceLow,
	}, nil
}

// buildStagePrompt hands each stage the previous output plus the trail
// of earlier stage outputs for context.
func (p *Pipeline) buildStagePrompt(previous string, outputs []string) string {
	if len(outputs) == 0 {
		return previous
	}
	var b strings.Builder
	b.WriteString("Earlier steps:\n")
	for i, out := range outputs[:len(outputs)-1] {
		fmt.Fprintf(&b, "%d. %s\n", i+1, out)
	}
	fmt.Fprintf(&b, "\nWork with this:\n%s", previous)
	return b.String()
}
