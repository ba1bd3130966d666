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

// citationMarker separates streamed prose from the structured citation
// block. Everything before it is forwarded to the caller chunk by
// chunk; the block itself is machine-audited and never rendered.
const citationMarker = "\nCITATIONS:"

// Citations is the explainer's structured declaration of every concrete
// claim its prose made.
type Citations struct {
	Moves       []string `json:"moves"`
	Evals       []int    `json:"evals"`
	Recommended string   `json:"recommended"`
}

var citationSchema = json.RawMessage(`{
	"type": "object",
	"required": ["moves", "evals"],
	"properties": {
		"moves": {"type": "array", "items": {"type": "string"}},
		"evals": {"type": "array", "items": {"type": "integer"}},
		"recommended": {"type": "string"}
	},
	"additionalProperties": false
}`)

// Explanation is the delivered prose plus its audited citations.
type Explanation struct {
	Answer     string
	Citations  Citations
	Confidence types.Confidence
}

// Explainer produces the streamed user-facing prose, constrained to the
// facts packet. Asserting a move or evaluation absent from the packet
// is a grounding failure, detected by auditing the citation block after
// the stream completes.
type Explainer struct {
	provider inference.Provider
	logger   *zap.Logger
}

// NewExplainer creates an explainer.
func NewExplainer(provider inference.Provider, logger *zap.Logger) *Explainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Explainer{provider: provider, logger: logger}
}

// Explain streams prose chunks through onChunk as they arrive and
// returns the audited explanation. A missing or malformed citation
// block, or a citation outside the facts packet, is an error: the
// caller must not deliver the response as a normal completion.
func (e *Explainer) Explain(ctx context.Context, key types.SessionKey, seedPrefix string,
	facts *types.FactsPacket, confidence types.Confidence, transcript []types.TranscriptEntry,
	question string, onChunk func(string)) (*Explanation, error) {

	turns := make([]types.TranscriptEntry, 0, len(transcript)+1)
	turns = append(turns, transcript...)
	turns = append(turns, types.TranscriptEntry{
		Role:    types.RoleUser,
		Content: question,
	})

	splitter := newCitationSplitter(onChunk)
	resp, err := e.provider.CompleteStream(ctx, &inference.Request{
		Stage:      inference.StageExplain,
		SessionKey: key,
		System:     e.buildSystem(seedPrefix, facts, confidence),
		Turns:      turns,
		PrefixEnd:  len(transcript),
		MaxTokens:  1024,
	}, splitter.feed)
	if err != nil {
		return nil, fmt.Errorf("explainer stream failed: %w", err)
	}
	splitter.flush()

	prose, block, found := strings.Cut(resp.Content, citationMarker)
	if !found {
		return nil, &inference.MalformedOutputError{
			Stage:    inference.StageExplain,
			Raw:      resp.Content,
			Problems: []string{"missing citation block"},
		}
	}

	var cited Citations
	if err := inference.DecodeStructured(inference.StageExplain, strings.TrimSpace(block), citationSchema, &cited); err != nil {
		return nil, err
	}
	if err := auditCitations(facts, cited); err != nil {
		return nil, err
	}

	return &Explanation{
		Answer:     strings.TrimSpace(prose),
		Citations:  cited,
		Confidence: confidence,
	}, nil
}

func (e *Explainer) buildSystem(seedPrefix string, facts *types.FactsPacket, confidence types.Confidence) string {
	var b strings.Builder
	if seedPrefix != "" {
		b.WriteString(seedPrefix + "\n")
	}
	b.WriteString("You are a chess coach. Explain clearly for a club player.\n")
	fmt.Fprintf(&b, "You may express at most %s confidence; hedge accordingly.\n", confidence)

	if facts == nil {
		b.WriteString("No engine analysis is available. Discuss ideas only: " +
			"do not state any numeric evaluation, concrete line, or specific move recommendation.\n")
	} else {
		b.WriteString("You may only cite evaluations and moves from this engine analysis, verbatim:\n")
		fmt.Fprintf(&b, "Position: %s\nOverall: %+d cp for the side to move\n", facts.FEN, facts.EvalCP)
		for _, c := range facts.TopMoves {
			fmt.Fprintf(&b, "  %s (%+d cp) pv %s\n", c.Move, c.EvalCP, strings.Join(c.PV, " "))
		}
		for _, c := range facts.MoveCompare {
			fmt.Fprintf(&b, "  deep: %s (%+d cp)\n", c.Move, c.EvalCP)
		}
	}

	b.WriteString("\nAfter your answer, on a new line, write CITATIONS: followed by one JSON object " +
		`{"moves": [...], "evals": [...], "recommended": "..."} listing every move and centipawn value ` +
		"your answer asserted. Use empty lists if you asserted none, and omit recommended if you made no recommendation.")
	return b.String()
}

// auditCitations checks every declared claim against the facts packet.
func auditCitations(facts *types.FactsPacket, cited Citations) error {
	var violations []string

	for _, move := range cited.Moves {
		if facts == nil || !facts.HasMove(move) {
			violations = append(violations, fmt.Sprintf("move %s", move))
		}
	}
	if cited.Recommended != "" && (facts == nil || !facts.HasMove(cited.Recommended)) {
		violations = append(violations, fmt.Sprintf("recommended move %s", cited.Recommended))
	}
	for _, eval := range cited.Evals {
		if facts == nil || !knownEval(facts, eval) {
			violations = append(violations, fmt.Sprintf("eval %+d cp", eval))
		}
	}

	if len(violations) > 0 {
		return &GroundingError{Claims: violations}
	}
	return nil
}

func knownEval(facts *types.FactsPacket, eval int) bool {
	if eval == facts.EvalCP {
		return true
	}
	for _, c := range facts.TopMoves {
		if c.EvalCP == eval {
			return true
		}
	}
	for _, c := range facts.MoveCompare {
		if c.EvalCP == eval {
			return true
		}
	}
	return false
}

// citationSplitter forwards streamed text up to the citation marker and
// withholds the rest. It keeps a small tail across chunk boundaries so
// a marker split between two chunks is still caught.
type citationSplitter struct {
	onChunk func(string)
	pending string
	done    bool
}

func newCitationSplitter(onChunk func(string)) *citationSplitter {
	return &citationSplitter{onChunk: onChunk}
}

func (s *citationSplitter) feed(text string) {
	if s.done || s.onChunk == nil {
		return
	}
	s.pending += text

	if idx := strings.Index(s.pending, citationMarker); idx >= 0 {
		if idx > 0 {
			s.onChunk(s.pending[:idx])
		}
		s.pending = ""
		s.done = true
		return
	}

	// Hold back a marker-sized tail in case the marker straddles the
	// next chunk boundary.
	if keep := len(citationMarker); len(s.pending) > keep {
		s.onChunk(s.pending[:len(s.pending)-keep])
		s.pending = s.pending[len(s.pending)-keep:]
	}
}

func (s *citationSplitter) flush() {
	if s.done || s.onChunk == nil {
		return
	}
	if s.pending != "" {
		s.onChunk(s.pending)
		s.pending = ""
	}
	s.done = true
}
