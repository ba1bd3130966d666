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
package inference

import (
	"context"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Instrumented wraps a Provider and emits one log line per call with
// the call shape: stage, session key, stable prefix size in tokens, new
// tokens this call, time to first token, total latency, and the
// provider-reported usage. The prefix/new split is what makes prefix
// cache regressions visible; a shrinking cache_read count with a stable
// prefix_tokens count means the transcript stopped being prefix-stable
// somewhere upstream.
type Instrumented struct {
	provider Provider
	logger   *zap.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// NewInstrumented wraps provider with call-shape logging.
func NewInstrumented(provider Provider, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{provider: provider, logger: logger}
}

// countTokens returns the cl100k_base token count of text, or an
// approximation when the encoding is unavailable offline.
func (i *Instrumented) countTokens(text string) int {
	i.encOnce.Do(func() {
		i.enc, i.encErr = tiktoken.GetEncoding("cl100k_base")
		if i.encErr != nil {
			i.logger.Warn("tiktoken unavailable, using byte approximation", zap.Error(i.encErr))
		}
	})
	if i.encErr != nil {
		return len(text) / 4
	}
	return len(i.enc.Encode(text, nil, nil))
}

func (i *Instrumented) callShape(req *Request) (prefixTokens, newTokens int) {
	prefixTokens = i.countTokens(req.System)
	for idx, turn := range req.Turns {
		n := i.countTokens(turn.Content)
		if idx < req.PrefixEnd {
			prefixTokens += n
		} else {
			newTokens += n
		}
	}
	return prefixTokens, newTokens
}

func (i *Instrumented) log(req *Request, resp *Response, err error, ttft, latency time.Duration, prefixTokens, newTokens int) {
	fields := []zap.Field{
		zap.String("stage", string(req.Stage)),
		zap.String("session", req.SessionKey.String()),
		zap.Int("prefix_tokens", prefixTokens),
		zap.Int("new_tokens", newTokens),
		zap.Duration("ttft", ttft),
		zap.Duration("latency", latency),
	}
	if resp != nil {
		fields = append(fields,
			zap.Int("input_tokens", resp.Usage.InputTokens),
			zap.Int("output_tokens", resp.Usage.OutputTokens),
			zap.Int("cache_read_tokens", resp.Usage.CacheReadTokens),
			zap.Int("cache_write_tokens", resp.Usage.CacheWriteTokens))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		i.logger.Warn("inference call failed", fields...)
		return
	}
	i.logger.Info("inference call", fields...)
}

// Complete implements Provider.
func (i *Instrumented) Complete(ctx context.Context, req *Request) (*Response, error) {
	prefixTokens, newTokens := i.callShape(req)
	start := time.Now()
	resp, err := i.provider.Complete(ctx, req)
	latency := time.Since(start)
	// No streaming; first token and last token arrive together.
	i.log(req, resp, err, latency, latency, prefixTokens, newTokens)
	return resp, err
}

// CompleteStream implements Provider.
func (i *Instrumented) CompleteStream(ctx context.Context, req *Request, onChunk ChunkFunc) (*Response, error) {
	prefixTokens, newTokens := i.callShape(req)
	start := time.Now()

	var ttft time.Duration
	var first sync.Once
	wrapped := func(text string) {
		first.Do(func() { ttft = time.Since(start) })
		if onChunk != nil {
			onChunk(text)
		}
	}

	resp, err := i.provider.CompleteStream(ctx, req, wrapped)
	latency := time.Since(start)
	if ttft == 0 {
		ttft = latency
	}
	i.log(req, resp, err, ttft, latency, prefixTokens, newTokens)
	return resp, err
}

var _ Provider = (*Instrumented)(nil)
