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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hbos123/chessgpt/pkg/engine"
	"github.com/Hbos123/chessgpt/pkg/inference"
	"github.com/Hbos123/chessgpt/pkg/session"
	"github.com/Hbos123/chessgpt/pkg/types"
)

// fakeEngine serves canned evaluations.
type fakeEngine struct {
	mu        sync.Mutex
	eval      *engine.Evaluation
	evalErr   error
	ranked    []types.Candidate
	rankedErr error
	evalCalls int
}

func (f *fakeEngine) Evaluate(_ context.Context, fen string, depth, multipv int) (*engine.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalCalls++
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	eval := *f.eval
	eval.FEN = fen
	return &eval, nil
}

func (f *fakeEngine) Compare(_ context.Context, fen string, moves []string, depth int) ([]types.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rankedErr != nil {
		return nil, f.rankedErr
	}
	return f.ranked, nil
}

var _ engine.Engine = (*fakeEngine)(nil)

// stageProvider answers by pipeline stage and records call order.
type stageProvider struct {
	mu        sync.Mutex
	responses map[inference.Stage]string
	errs      map[inference.Stage]error
	calls     []inference.Stage
	systems   map[inference.Stage]string
}

func (p *stageProvider) record(req *inference.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req.Stage)
	if p.systems == nil {
		p.systems = map[inference.Stage]string{}
	}
	p.systems[req.Stage] = req.System
}

func (p *stageProvider) lastSystem(stage inference.Stage) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.systems[stage]
}

func (p *stageProvider) count(stage inference.Stage) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.calls {
		if s == stage {
			n++
		}
	}
	return n
}

func (p *stageProvider) called(stage inference.Stage) bool {
	return p.count(stage) > 0
}

func (p *stageProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *stageProvider) Complete(_ context.Context, req *inference.Request) (*inference.Response, error) {
	p.record(req)
	if err := p.errs[req.Stage]; err != nil {
		return nil, err
	}
	return &inference.Response{Content: p.responses[req.Stage]}, nil
}

func (p *stageProvider) CompleteStream(_ context.Context, req *inference.Request, onChunk inference.ChunkFunc) (*inference.Response, error) {
	p.record(req)
	if err := p.errs[req.Stage]; err != nil {
		return nil, err
	}
	content := p.responses[req.Stage]
	// Stream in small uneven pieces so marker handling across chunk
	// boundaries gets exercised.
	for i := 0; i < len(content); i += 7 {
		end := i + 7
		if end > len(content) {
			end = len(content)
		}
		if onChunk != nil {
			onChunk(content[i:end])
		}
	}
	return &inference.Response{Content: content}, nil
}

var _ inference.Provider = (*stageProvider)(nil)

const explainResponse = "Play e2e4 here. It keeps the initiative.\n" +
	`CITATIONS: {"moves":["e2e4"],"evals":[35],"recommended":"e2e4"}`

func goodProvider() *stageProvider {
	return &stageProvider{
		responses: map[inference.Stage]string{
			inference.StageInterpret: `{"intent":"move_guidance","needs_investigation":true}`,
			inference.StageSelfCheck: `{"stop":true,"confidence_allowed":"high"}`,
			inference.StageExplain:   explainResponse,
			inference.StageCompress:  "Student asked about the opening; advised e4.",
		},
		errs: map[inference.Stage]error{},
	}
}

func goodEngine() *fakeEngine {
	return &fakeEngine{
		eval: &engine.Evaluation{
			EvalCP: 35,
			Depth:  20,
			TopMoves: []types.Candidate{
				{Move: "e2e4", EvalCP: 35, PV: []string{"e2e4", "e7e5"}},
				{Move: "d2d4", EvalCP: 30, PV: []string{"d2d4", "d7d5"}},
			},
		},
		ranked: []types.Candidate{
			{Move: "e2e4", EvalCP: 38},
			{Move: "d2d4", EvalCP: 28},
		},
	}
}

func newTestController(store session.Store, eng engine.Engine, provider inference.Provider, cfg Config) *Controller {
	policies := NewPolicyStore("", nil)
	return New(store, eng, provider, policies, cfg, nil)
}

func runRequest(t *testing.T, c *Controller, req *types.CoachRequest) (*Result, error, []types.Event) {
	t.Helper()
	em := NewEmitter(128, nil)
	res, err := c.Run(context.Background(), req, em)
	return res, err, drain(em)
}

func eventTypes(events []types.Event) []types.EventType {
	out := make([]types.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestControllerHappyPath(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	c := newTestController(store, goodEngine(), provider, Config{TopN: 5, CompareTopM: 2, CompareDepth: 22})

	res, err, events := runRequest(t, c, &types.CoachRequest{
		TaskID: "t1", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Play e2e4 here. It keeps the initiative.", res.Answer)
	assert.Equal(t, types.ConfidenceHigh, res.Confidence)
	assert.NotEmpty(t, res.RequestID)

	// facts_ready strictly precedes every explainer chunk.
	var factsSeq, firstChunkSeq uint64
	var chunkText strings.Builder
	for _, ev := range events {
		switch ev.Type {
		case types.EventFactsReady:
			factsSeq = ev.Seq
		case types.EventExplainerChunk:
			if firstChunkSeq == 0 {
				firstChunkSeq = ev.Seq
			}
			var payload types.ChunkPayload
			require.NoError(t, json.Unmarshal(ev.Payload, &payload))
			chunkText.WriteString(payload.Text)
		}
	}
	require.NotZero(t, factsSeq)
	require.NotZero(t, firstChunkSeq)
	assert.Less(t, factsSeq, firstChunkSeq)

	// Streamed chunks carry the prose and never the citation block.
	assert.Equal(t, "Play e2e4 here. It keeps the initiative.", chunkText.String())

	// Transcript: system prompt, user turn, assistant answer, then the
	// async continuity note.
	require.Eventually(t, func() bool {
		entries, err := store.Read(context.Background(), types.SessionKey{TaskID: "t1", Subsession: "main"})
		return err == nil && len(entries) == 4
	}, 3*time.Second, 20*time.Millisecond)

	entries, err := store.Read(context.Background(), types.SessionKey{TaskID: "t1", Subsession: "main"})
	require.NoError(t, err)
	assert.Equal(t, types.RoleSystem, entries[0].Role)
	assert.Equal(t, "what should I play?", entries[1].Content)
	assert.Equal(t, types.RoleAssistant, entries[2].Role)
	assert.Contains(t, entries[3].Content, "Continuity note:")
}

func TestControllerFastRouteShortCircuits(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	eng := goodEngine()
	c := newTestController(store, eng, provider, Config{TopN: 5})

	res, err, events := runRequest(t, c, &types.CoachRequest{
		TaskID: "t2", FEN: fenNoWhiteCastling, Text: "is O-O legal right now?",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "No")

	// No inference or engine call happened.
	assert.Zero(t, provider.totalCalls())
	assert.Zero(t, eng.evalCalls)

	// Only status events before the transport's terminal complete.
	for _, typ := range eventTypes(events) {
		assert.Equal(t, types.EventStatus, typ)
	}
}

func TestControllerEngineFailureDegrades(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	// Facts-free prose must not cite anything.
	provider.responses[inference.StageExplain] = "Without analysis I can only talk ideas: develop and castle early.\n" +
		`CITATIONS: {"moves":[],"evals":[]}`
	provider.responses[inference.StageSelfCheck] = `{"stop":true,"confidence_allowed":"high"}`
	c := newTestController(store, &fakeEngine{evalErr: errors.New("engine timeout")}, provider, Config{TopN: 5})

	res, err, events := runRequest(t, c, &types.CoachRequest{
		TaskID: "t3", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.NoError(t, err)
	// No facts: the policy ceiling pins confidence to low even though
	// self-check declared high.
	assert.Equal(t, types.ConfidenceLow, res.Confidence)
	assert.NotContains(t, eventTypes(events), types.EventFactsReady)
}

func TestControllerInterpreterFailureIsNotFatal(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	provider.errs[inference.StageInterpret] = errors.New("unreachable")
	c := newTestController(store, goodEngine(), provider, Config{TopN: 5})

	res, err, _ := runRequest(t, c, &types.CoachRequest{
		TaskID: "t4", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.NoError(t, err)
	// Conservative default still investigates, so facts were gathered.
	assert.Equal(t, "Play e2e4 here. It keeps the initiative.", res.Answer)
}

func TestControllerExplainerFailurePromotes(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	provider.errs[inference.StageExplain] = errors.New("unrecoverable")
	c := newTestController(store, goodEngine(), provider, Config{TopN: 5})

	res, err, _ := runRequest(t, c, &types.CoachRequest{
		TaskID: "t5", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.Error(t, err)
	assert.Nil(t, res)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StateExplaining, failure.Stage)
}

func TestControllerGroundingViolationSuppresses(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	provider.responses[inference.StageExplain] = "Play h2h4, a brilliant novelty.\n" +
		`CITATIONS: {"moves":["h2h4"],"evals":[35],"recommended":"h2h4"}`
	c := newTestController(store, goodEngine(), provider, Config{TopN: 5})

	_, err, _ := runRequest(t, c, &types.CoachRequest{
		TaskID: "t6", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.Error(t, err)
	assert.True(t, IsGroundingViolation(err))
}

func TestControllerMissingCitationBlockIsFatal(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	provider.responses[inference.StageExplain] = "Play e2e4, trust me."
	c := newTestController(store, goodEngine(), provider, Config{TopN: 5})

	_, err, _ := runRequest(t, c, &types.CoachRequest{
		TaskID: "t7", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.Error(t, err)
	assert.True(t, inference.IsMalformedOutput(err))
}

func TestControllerBudgetDegradesNotFails(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	provider.responses[inference.StageExplain] = "Time is short, so briefly: keep developing.\n" +
		`CITATIONS: {"moves":[],"evals":[]}`
	eng := goodEngine()
	// Budget below the explainer reserve: every evidence stage is
	// already exhausted at entry.
	c := newTestController(store, eng, provider, Config{TopN: 5, TimeBudget: time.Millisecond})

	res, err, events := runRequest(t, c, &types.CoachRequest{
		TaskID: "t8", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ConfidenceLow, res.Confidence)

	assert.Zero(t, eng.evalCalls)
	assert.False(t, provider.called(inference.StageInterpret))
	assert.False(t, provider.called(inference.StageSelfCheck))
	assert.True(t, provider.called(inference.StageExplain))
	assert.NotContains(t, eventTypes(events), types.EventFactsReady)
}

func TestControllerSelfCheckLoopBounded(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	// Never stops voluntarily.
	provider.responses[inference.StageSelfCheck] = `{"stop":false,"confidence_allowed":"medium","missing":["deeper line"]}`
	c := newTestController(store, goodEngine(), provider, Config{TopN: 5})

	res, err, _ := runRequest(t, c, &types.CoachRequest{
		TaskID: "t9", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ConfidenceMedium, res.Confidence)
	assert.Equal(t, MaxSelfCheckIterations, provider.count(inference.StageSelfCheck))
}

func TestControllerSeedsTaskPreambleOnce(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	c := newTestController(store, goodEngine(), provider, Config{TopN: 5, CompareTopM: 2, CompareDepth: 22})
	key := types.SessionKey{TaskID: "t11", Subsession: "main"}

	_, err, _ := runRequest(t, c, &types.CoachRequest{
		TaskID: "t11", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.NoError(t, err)

	sess, err := store.Resolve(context.Background(), key)
	require.NoError(t, err)
	require.NotEmpty(t, sess.SeedPrefix)
	assert.Contains(t, sess.SeedPrefix, fenAllCastling)
	assert.Contains(t, provider.lastSystem(inference.StageExplain), sess.SeedPrefix)

	// A later request carrying a different position keeps the set-once
	// preamble, and the explainer still sees the original one.
	_, err, _ = runRequest(t, c, &types.CoachRequest{
		TaskID: "t11", FEN: fenNoWhiteCastling, Text: "and after that?",
	})
	require.NoError(t, err)

	after, err := store.Resolve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, sess.SeedPrefix, after.SeedPrefix)
	assert.Contains(t, provider.lastSystem(inference.StageExplain), sess.SeedPrefix)
}

func TestControllerStopThresholdEndsLoopEarly(t *testing.T) {
	store := session.NewMemoryStore(session.MemoryStoreConfig{})
	provider := goodProvider()
	provider.responses[inference.StageSelfCheck] = `{"stop":false,"confidence_allowed":"high","missing":[]}`
	c := newTestController(store, goodEngine(), provider, Config{TopN: 5, StopConfidenceThreshold: 0.9})

	_, err, _ := runRequest(t, c, &types.CoachRequest{
		TaskID: "t10", FEN: fenAllCastling, Text: "what should I play?",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.count(inference.StageSelfCheck))
}
