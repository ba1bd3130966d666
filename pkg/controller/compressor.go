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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/Hbos123/chessgpt/pkg/inference"
	"github.com/Hbos123/chessgpt/pkg/session"
	"github.com/Hbos123/chessgpt/pkg/types"
)

const (
	// CompressTailTurns is how many recent turns feed one summary.
	CompressTailTurns = 12
	// DefaultNoteMaxTokens bounds the continuity note so long-running
	// tasks do not grow the transcript without bound.
	DefaultNoteMaxTokens = 200
	// compressTimeout bounds the detached background call.
	compressTimeout = 30 * time.Second
)

const compressorSystem = `Summarize this coaching conversation fragment into a short continuity note ` +
	`for a future session: positions discussed, advice given, recurring student weaknesses. ` +
	`Plain prose, no preamble.`

// Compressor writes best-effort continuity notes after a response has
// already been delivered. It is the only component that appends
// system-authored entries to an existing transcript; failures here are
// logged and never surfaced to the request path.
type Compressor struct {
	provider  inference.Provider
	store     session.Store
	maxTokens int
	logger    *zap.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// NewCompressor creates a compressor bounded to maxNoteTokens.
func NewCompressor(provider inference.Provider, store session.Store, maxNoteTokens int, logger *zap.Logger) *Compressor {
	if maxNoteTokens <= 0 {
		maxNoteTokens = DefaultNoteMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{provider: provider, store: store, maxTokens: maxNoteTokens, logger: logger}
}

// CompressAsync dispatches compression detached from the request
// context, so client disconnects after delivery do not cancel it. The
// returned channel closes when the work finishes; tests use it, the
// request path ignores it.
func (c *Compressor) CompressAsync(key types.SessionKey) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), compressTimeout)
		defer cancel()
		if err := c.compress(ctx, key); err != nil {
			c.logger.Debug("memory compression failed",
				zap.String("session", key.String()), zap.Error(err))
		}
	}()
	return done
}

func (c *Compressor) compress(ctx context.Context, key types.SessionKey) error {
	entries, err := c.store.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}
	tail := session.Tail(entries, CompressTailTurns)
	if len(tail) < 2 {
		return nil
	}

	var b strings.Builder
	for _, e := range tail {
		fmt.Fprintf(&b, "[%s] %s\n", e.Role, e.Content)
	}

	resp, err := c.provider.Complete(ctx, &inference.Request{
		Stage:      inference.StageCompress,
		SessionKey: key,
		System:     compressorSystem,
		Turns: []types.TranscriptEntry{{
			Role:    types.RoleUser,
			Content: b.String(),
		}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return fmt.Errorf("summary call failed: %w", err)
	}

	note := c.truncate(strings.TrimSpace(resp.Content))
	if note == "" {
		return nil
	}
	if err := c.store.AppendNote(ctx, key, "Continuity note: "+note); err != nil {
		return fmt.Errorf("failed to append continuity note: %w", err)
	}
	return nil
}

// truncate enforces the token bound even when the provider overruns
// MaxTokens accounting.
func (c *Compressor) truncate(note string) string {
	c.encOnce.Do(func() {
		c.enc, c.encErr = tiktoken.GetEncoding("cl100k_base")
	})
	if c.encErr != nil {
		if max := c.maxTokens * 4; len(note) > max {
			return note[:max]
		}
		return note
	}
	tokens := c.enc.Encode(note, nil, nil)
	if len(tokens) <= c.maxTokens {
		return note
	}
	return c.enc.Decode(tokens[:c.maxTokens])
}
