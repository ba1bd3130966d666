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

// Package inference wraps the hosted language-model service. Every call
// goes through the Instrumented wrapper so prefix-cache behavior stays
// observable; constructing a bare provider for production use defeats
// that and is a bug.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Hbos123/chessgpt/pkg/types"
)

// Stage names the pipeline stage issuing an inference call. It appears
// in the per-call log line and in error values.
type Stage string

const (
	StageInterpret   Stage = "interpret"
	StageSelfCheck   Stage = "self_check"
	StageExplain     Stage = "explain"
	StageCompress    Stage = "compress"
	StagePlan        Stage = "plan"
	StageInvestigate Stage = "investigate"
	StageSummarize   Stage = "summarize"
)

// Request is a single inference call.
type Request struct {
	Stage      Stage
	SessionKey types.SessionKey
	System     string
	Turns      []types.TranscriptEntry

	// PrefixEnd is the index into Turns where content new to this
	// request begins. Turns[:PrefixEnd] were already in the transcript
	// on a previous call and should be served from the provider's
	// prefix cache.
	PrefixEnd int

	// Schema, when set, is a JSON schema the response must satisfy.
	Schema json.RawMessage

	MaxTokens int
}

// Usage is the provider-reported token accounting for one call.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_input_tokens"`
	CacheWriteTokens int `json:"cache_creation_input_tokens"`
}

// Response is the completed result of an inference call.
type Response struct {
	Content    string
	StopReason string
	Usage      Usage
}

// ChunkFunc receives streamed text fragments as they arrive.
type ChunkFunc func(text string)

// Provider is the inference boundary consumed by the controller and the
// fallback pipeline.
type Provider interface {
	// Complete performs a blocking call and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// CompleteStream performs a streaming call, invoking onChunk for
	// each text fragment, and returns the assembled response.
	CompleteStream(ctx context.Context, req *Request, onChunk ChunkFunc) (*Response, error)
}

// MalformedOutputError reports a structured-output payload that failed
// schema validation. The raw payload is preserved for the caller's
// parse-failure log; it is never coerced into a best guess.
type MalformedOutputError struct {
	Stage    Stage
	Raw      string
	Problems []string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("stage %s returned malformed structured output: %d schema violations", e.Stage, len(e.Problems))
}

// IsMalformedOutput reports whether err is a structured-output failure.
func IsMalformedOutput(err error) bool {
	var m *MalformedOutputError
	return errors.As(err, &m)
}
