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

// Package controller orchestrates one coaching request through a
// bounded pipeline: route, interpret, gather engine evidence, audit
// sufficiency, stream an explanation, then compress memory in the
// background. Recoverable stage failures degrade in place; only a
// failure that cannot be defaulted is returned to the caller, which
// runs the fallback pipeline at most once.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/engine"
	"github.com/Hbos123/chessgpt/pkg/inference"
	"github.com/Hbos123/chessgpt/pkg/session"
	"github.com/Hbos123/chessgpt/pkg/types"
)

// Pipeline states, emitted as status-event phases.
const (
	StateRouting      = "routing"
	StateInterpreting = "interpreting"
	StateEvaluating   = "evaluating"
	StateSelfChecking = "self_checking"
	StateExplaining   = "explaining"
)

const (
	// DefaultTimeBudget is the per-request wall-clock ceiling.
	DefaultTimeBudget = 45 * time.Second
	// explainReserve is budget held back for the explainer: budget
	// exhaustion short-circuits evidence gathering, it never silences
	// the answer.
	explainReserve = 8 * time.Second
	// transcriptTailTurns is how much recent conversation the prose
	// stages see.
	transcriptTailTurns = 10
)

// DefaultSystemPrompt seeds new sessions.
const DefaultSystemPrompt = "You are a patient chess coach. Ground every claim in engine analysis when it is available."

// Config is the controller's tuning surface.
type Config struct {
	TopN                    int
	CompareTopM             int
	CompareDepth            int
	StopConfidenceThreshold float64
	TimeBudget              time.Duration
	SystemPrompt            string
	NoteMaxTokens           int
}

// Result is the controller's answer for one request.
type Result struct {
	RequestID  string
	Answer     string
	Confidence types.Confidence
}

// Controller wires the stages together.
type Controller struct {
	store       session.Store
	selector    *Selector
	interpreter *Interpreter
	checker     *SelfChecker
	explainer   *Explainer
	compressor  *Compressor
	cfg         Config
	logger      *zap.Logger
}

// New builds a controller from its collaborators.
func New(store session.Store, eng engine.Engine, provider inference.Provider,
	policies *PolicyStore, cfg Config, logger *zap.Logger) *Controller {

	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = DefaultTimeBudget
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Controller{
		store:       store,
		selector:    NewSelector(eng, logger),
		interpreter: NewInterpreter(provider, logger),
		checker:     NewSelfChecker(provider, policies, logger),
		explainer:   NewExplainer(provider, logger),
		compressor:  NewCompressor(provider, store, cfg.NoteMaxTokens, logger),
		cfg:         cfg,
		logger:      logger,
	}
}

// Run executes the pipeline for one request. On success the result is
// returned and the caller emits the terminal complete event; on error
// the caller discards all controller state and dispatches the fallback
// pipeline. Events produced here never include a terminal event.
func (c *Controller) Run(ctx context.Context, req *types.CoachRequest, em *Emitter) (*Result, error) {
	requestID := uuid.NewString()
	key := req.Key()
	ctx = session.WithRequestID(session.WithKey(ctx, key), requestID)
	deadline := time.Now().Add(c.cfg.TimeBudget)
	logger := c.logger.With(zap.String("request_id", requestID), zap.String("session", key.String()))

	// ROUTING
	em.Status(StateRouting, "resolving session")
	transcript, seedPrefix, err := c.prepareSession(ctx, key, req)
	if err != nil {
		return nil, &Failure{Stage: StateRouting, Err: err}
	}

	if res, ok := FastRoute(req); ok {
		logger.Info("fast router resolved request")
		c.appendAnswer(key, res.Answer)
		return &Result{RequestID: requestID, Answer: res.Answer, Confidence: res.Confidence}, nil
	}

	// Evidence stages run against the budget minus the explainer
	// reserve; exhaustion skips ahead instead of failing.
	evidenceCtx, cancelEvidence := context.WithDeadline(ctx, deadline.Add(-explainReserve))
	defer cancelEvidence()
	exhausted := func() bool { return time.Until(deadline) <= explainReserve }

	// INTERPRETING
	intent := Intent{Label: IntentOther, NeedsInvestigation: true}
	if !exhausted() {
		em.Status(StateInterpreting, "classifying intent")
		intent = c.interpreter.Interpret(evidenceCtx, key, req)
		if ctx.Err() != nil {
			return nil, &Failure{Stage: StateInterpreting, Err: ctx.Err()}
		}
	} else {
		logger.Warn("budget exhausted before interpretation, using conservative intent")
	}

	// EVALUATING / CANDIDATE_SELECTING
	var facts *types.FactsPacket
	if intent.NeedsInvestigation && req.FEN != "" && !exhausted() {
		em.Status(StateEvaluating, "gathering engine evidence")
		facts, err = c.selector.Select(evidenceCtx, req.FEN, c.cfg.TopN, c.cfg.CompareTopM, c.cfg.CompareDepth)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &Failure{Stage: StateEvaluating, Err: ctx.Err()}
			}
			// Engine trouble degrades to a facts-free answer.
			logger.Warn("engine evidence unavailable, proceeding without facts", zap.Error(err))
			facts = nil
		}
	}
	if facts != nil {
		em.FactsReady(facts)
	}

	// SELF_CHECKING
	confidence := types.ConfidenceLow
	if !exhausted() {
		em.Status(StateSelfChecking, "auditing evidence")
		confidence = c.selfCheckLoop(evidenceCtx, key, facts, transcript, req.Text, logger)
	} else {
		logger.Warn("budget exhausted before self-check, capping confidence low")
	}

	// EXPLAINING
	em.Status(StateExplaining, "writing explanation")
	explanation, err := c.explainer.Explain(ctx, key, seedPrefix, facts, confidence, session.Tail(transcript, transcriptTailTurns), req.Text, em.Chunk)
	if err != nil {
		if IsGroundingViolation(err) {
			logger.Error("grounding violation, suppressing response", zap.Error(err))
		}
		return nil, &Failure{Stage: StateExplaining, Err: err}
	}

	c.appendAnswer(key, explanation.Answer)

	// COMPRESSING runs detached; a client disconnect after delivery
	// must not cancel it, a compressor failure must not surface.
	if ctx.Err() == nil {
		c.compressor.CompressAsync(key)
	}

	return &Result{
		RequestID:  requestID,
		Answer:     explanation.Answer,
		Confidence: explanation.Confidence,
	}, nil
}

// prepareSession seeds the system prompt and the task preamble on first
// use, appends the user turn, and returns the transcript as it stood
// before this request plus the session's seed prefix.
func (c *Controller) prepareSession(ctx context.Context, key types.SessionKey, req *types.CoachRequest) ([]types.TranscriptEntry, string, error) {
	sess, err := c.store.Resolve(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve session: %w", err)
	}

	if sess.SystemPrompt == "" {
		err := c.store.Append(ctx, key, types.TranscriptEntry{
			Role:    types.RoleSystem,
			Content: c.cfg.SystemPrompt,
		})
		if err != nil && !session.IsImmutabilityViolation(err) {
			// A concurrent request won the race; any other failure is real.
			return nil, "", fmt.Errorf("failed to seed system prompt: %w", err)
		}
	}

	seedPrefix := sess.SeedPrefix
	if seedPrefix == "" && req.FEN != "" {
		seedPrefix = seedPrefixFor(req.FEN)
		if err := c.store.SetSeedPrefix(ctx, key, seedPrefix); err != nil {
			if !session.IsImmutabilityViolation(err) {
				return nil, "", fmt.Errorf("failed to seed task preamble: %w", err)
			}
			// A concurrent request anchored a position first; its
			// preamble is the stable one.
			sess, err = c.store.Resolve(ctx, key)
			if err != nil {
				return nil, "", fmt.Errorf("failed to resolve session: %w", err)
			}
			seedPrefix = sess.SeedPrefix
		}
	}

	transcript, err := c.store.Read(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read transcript: %w", err)
	}

	if err := c.store.Append(ctx, key, types.TranscriptEntry{
		Role:    types.RoleUser,
		Content: req.Text,
	}); err != nil {
		if errors.Is(err, session.ErrTranscriptFull) {
			c.logger.Warn("transcript full, answering without recording the turn",
				zap.String("session", key.String()))
			// The rejected append did not refresh activity, so keep the
			// still-live session from expiring under the user.
			if terr := c.store.Touch(ctx, key); terr != nil {
				c.logger.Warn("failed to refresh session", zap.String("session", key.String()), zap.Error(terr))
			}
			return transcript, seedPrefix, nil
		}
		return nil, "", fmt.Errorf("failed to append user turn: %w", err)
	}
	return transcript, seedPrefix, nil
}

// seedPrefixFor renders the set-once task preamble. Derived only from
// the task position so every request in a session produces the same
// bytes and the inference prompt prefix stays cacheable.
func seedPrefixFor(fen string) string {
	return "Task position (FEN): " + fen
}

// selfCheckLoop audits evidence sufficiency a bounded number of times.
// Each pass may lower the allowed confidence; exhausting the loop
// proceeds with the last ceiling rather than stalling.
func (c *Controller) selfCheckLoop(ctx context.Context, key types.SessionKey, facts *types.FactsPacket,
	transcript []types.TranscriptEntry, question string, logger *zap.Logger) types.Confidence {

	tail := session.Tail(transcript, transcriptTailTurns)
	confidence := types.ConfidenceLow

	for i := 0; i < MaxSelfCheckIterations; i++ {
		verdict := c.checker.Check(ctx, key, facts, tail, question)
		confidence = verdict.ConfidenceAllowed
		if verdict.Stop {
			return confidence
		}
		if c.cfg.StopConfidenceThreshold > 0 && confidence.Fraction() >= c.cfg.StopConfidenceThreshold {
			return confidence
		}
		logger.Debug("self-check requested more evidence",
			zap.Int("iteration", i+1),
			zap.Strings("missing", verdict.Missing))
		// One request carries one immutable facts packet, so there is
		// nothing more to gather; the next pass re-audits knowing that.
		question = fmt.Sprintf("%s\n(No further evidence can be gathered. Previously missing: %v)", question, verdict.Missing)
	}

	logger.Warn("self-check loop exhausted, proceeding with last ceiling",
		zap.String("confidence", string(confidence)))
	return confidence
}

// appendAnswer records the assistant turn, best effort.
func (c *Controller) appendAnswer(key types.SessionKey, answer string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Append(ctx, key, types.TranscriptEntry{
		Role:    types.RoleAssistant,
		Content: answer,
	}); err != nil {
		c.logger.Warn("failed to record assistant turn",
			zap.String("session", key.String()), zap.Error(err))
	}
}
