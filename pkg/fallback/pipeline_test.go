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
package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hbos123/chessgpt/pkg/inference"
	"github.com/Hbos123/chessgpt/pkg/types"
)

type scriptedProvider struct {
	calls   []inference.Stage
	outputs map[inference.Stage]string
	failAt  inference.Stage
}

func (s *scriptedProvider) Complete(_ context.Context, req *inference.Request) (*inference.Response, error) {
	s.calls = append(s.calls, req.Stage)
	if req.Stage == s.failAt {
		return nil, errors.New("unreachable")
	}
	return &inference.Response{Content: s.outputs[req.Stage]}, nil
}

func (s *scriptedProvider) CompleteStream(ctx context.Context, req *inference.Request, _ inference.ChunkFunc) (*inference.Response, error) {
	return s.Complete(ctx, req)
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	provider := &scriptedProvider{outputs: map[inference.Stage]string{
		inference.StageInterpret:   "The student asks about the opening.",
		inference.StagePlan:        "- development\n- center control",
		inference.StageInvestigate: "Development first, then the center.",
		inference.StageSummarize:   "Develop your pieces before pushing pawns.",
	}}
	p := NewPipeline(provider, nil)

	res, err := p.Run(context.Background(), &types.CoachRequest{TaskID: "t1", Text: "what now?"})
	require.NoError(t, err)
	assert.Equal(t, "Develop your pieces before pushing pawns.", res.Answer)
	assert.Equal(t, types.ConfidenceLow, res.Confidence)
	assert.NotEmpty(t, res.RequestID)

	assert.Equal(t, []inference.Stage{
		inference.StageInterpret,
		inference.StagePlan,
		inference.StageInvestigate,
		inference.StageSummarize,
	}, provider.calls)
}

func TestPipelineStageFailureFailsRun(t *testing.T) {
	provider := &scriptedProvider{
		outputs: map[inference.Stage]string{inference.StageInterpret: "x"},
		failAt:  inference.StagePlan,
	}
	p := NewPipeline(provider, nil)

	_, err := p.Run(context.Background(), &types.CoachRequest{TaskID: "t2", Text: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan")
	// No stage after the failure ran.
	assert.Equal(t, []inference.Stage{inference.StageInterpret, inference.StagePlan}, provider.calls)
}
