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

// Package types contains shared types used across the coaching backend.
// This package breaks import cycles by providing common types that the
// session, engine, inference and controller packages all depend on.
package types

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Session types
// ============================================================================

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SubsessionMain is the user-visible transcript stream. Other subsession
// values are internal work-streams and must never be rendered to the user.
const SubsessionMain = "main"

// SessionKey identifies one transcript: a task plus a subsession stream.
type SessionKey struct {
	TaskID     string
	Subsession string
}

// String renders the wire form "{task_id}:{subsession}".
func (k SessionKey) String() string {
	return k.TaskID + ":" + k.Subsession
}

// ParseSessionKey parses the wire form "{task_id}:{subsession}".
// A missing subsession defaults to "main".
func ParseSessionKey(s string) (SessionKey, error) {
	if s == "" {
		return SessionKey{}, fmt.Errorf("empty session key")
	}
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return SessionKey{TaskID: s, Subsession: SubsessionMain}, nil
	}
	if idx == 0 {
		return SessionKey{}, fmt.Errorf("session key %q has empty task id", s)
	}
	sub := s[idx+1:]
	if sub == "" {
		sub = SubsessionMain
	}
	return SessionKey{TaskID: s[:idx], Subsession: sub}, nil
}

// TranscriptEntry is one committed turn. Entries are append-only: once a
// store accepts an entry it is never edited, reordered or removed. That
// invariant is what keeps the inference service's prefix cache valid.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================================
// Engine facts
// ============================================================================

// Candidate is one engine-returned move with its evaluation.
type Candidate struct {
	// Move in UCI notation (e.g. "e2e4"), exactly as the engine returned it.
	Move string `json:"move"`

	// EvalCP is the centipawn score from the mover's perspective.
	EvalCP int `json:"eval_cp"`

	// PV is the principal variation following the move.
	PV []string `json:"pv,omitempty"`
}

// Certainty carries the engine's own confidence signals for one analysis.
// SelfCheck uses these to cap the confidence the Explainer may claim.
type Certainty struct {
	// Depth the engine reached.
	Depth int `json:"depth"`

	// TimeSpent on the analysis.
	TimeSpent time.Duration `json:"time_spent"`

	// PVSpreadCP is the centipawn gap between the best and worst retained
	// candidate. A narrow spread means the choice of move matters little;
	// a wide spread with shallow depth means the ranking is unreliable.
	PVSpreadCP int `json:"pv_spread_cp"`

	// Exact is true for tablebase or forced-mate results.
	Exact bool `json:"exact"`
}

// FactsPacket is the deterministic evidence bundle for one request.
// Immutable once produced; the Explainer may only assert evaluations,
// variations and moves that literally appear here.
type FactsPacket struct {
	FEN string `json:"fen"`

	// EvalCP is the position evaluation (mover-relative centipawns).
	EvalCP int `json:"eval_cp"`

	// TopMoves are the engine's candidates in rank order.
	TopMoves []Candidate `json:"top_moves"`

	// MoveCompare is the optional deeper re-ranking of a subset of TopMoves.
	MoveCompare []Candidate `json:"move_compare,omitempty"`

	Certainty Certainty `json:"certainty"`
}

// HasMove reports whether the move appears in TopMoves or MoveCompare.
func (f *FactsPacket) HasMove(move string) bool {
	if f == nil {
		return false
	}
	for _, c := range f.TopMoves {
		if c.Move == move {
			return true
		}
	}
	for _, c := range f.MoveCompare {
		if c.Move == move {
			return true
		}
	}
	return false
}

// Moves returns every move present in the packet, TopMoves first.
func (f *FactsPacket) Moves() []string {
	if f == nil {
		return nil
	}
	seen := make(map[string]bool, len(f.TopMoves))
	out := make([]string, 0, len(f.TopMoves))
	for _, c := range f.TopMoves {
		if !seen[c.Move] {
			seen[c.Move] = true
			out = append(out, c.Move)
		}
	}
	for _, c := range f.MoveCompare {
		if !seen[c.Move] {
			seen[c.Move] = true
			out = append(out, c.Move)
		}
	}
	return out
}

// ============================================================================
// Confidence
// ============================================================================

// Confidence is the ceiling SelfCheck grants the Explainer.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// rank orders confidence levels for comparison. Unknown values rank lowest.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// Min returns the lower of two confidence levels.
func (c Confidence) Min(other Confidence) Confidence {
	if other.rank() < c.rank() {
		return other
	}
	return c
}

// Valid reports whether c is one of the three defined levels.
func (c Confidence) Valid() bool {
	return c.rank() > 0
}

// Fraction maps the level onto [0,1] for comparison against a
// configured threshold.
func (c Confidence) Fraction() float64 {
	return float64(c.rank()) / 3
}

// ============================================================================
// Request
// ============================================================================

// CoachRequest is one inbound coaching question.
type CoachRequest struct {
	// TaskID groups requests into one long-running coaching task.
	TaskID string `json:"task_id"`

	// Subsession selects the transcript stream; empty means "main".
	Subsession string `json:"subsession,omitempty"`

	// FEN is the position under discussion.
	FEN string `json:"fen"`

	// Text is the user's question.
	Text string `json:"text"`
}

// Key returns the session key for this request.
func (r *CoachRequest) Key() SessionKey {
	sub := r.Subsession
	if sub == "" {
		sub = SubsessionMain
	}
	return SessionKey{TaskID: r.TaskID, Subsession: sub}
}
