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

// Package session provides the append-only transcript store.
//
// A session holds one prefix-stable transcript per (task, subsession) key.
// The load-bearing invariant is append-only: entries are never edited,
// reordered or truncated, and the system prompt and seed prefix are
// set-once. That is what lets the inference service reuse its prompt cache
// across calls byte-for-byte.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Hbos123/chessgpt/pkg/types"
)

// DefaultTTL is how long an untouched session survives.
const DefaultTTL = 24 * time.Hour

// DefaultMaxTranscript caps entries per session. Generous: the memory
// compressor keeps real transcripts far below this.
const DefaultMaxTranscript = 4096

var (
	// ErrNotFound is returned by Read/Touch/Evict for unknown keys.
	ErrNotFound = errors.New("session not found")

	// ErrTranscriptFull is returned when a session reached its entry cap.
	ErrTranscriptFull = errors.New("session transcript full")
)

// ImmutabilityError reports an attempt to rewrite a set-once session field.
// This is a programming error on the caller's side and is never ignored.
type ImmutabilityError struct {
	Key   types.SessionKey
	Field string // "system_prompt" or "seed_prefix"
}

func (e *ImmutabilityError) Error() string {
	return fmt.Sprintf("session %s: %s is immutable once set", e.Key, e.Field)
}

// IsImmutabilityViolation reports whether err is an ImmutabilityError.
func IsImmutabilityViolation(err error) bool {
	var ie *ImmutabilityError
	return errors.As(err, &ie)
}

// Session is a point-in-time view of one session's metadata.
// Transcript entries are read separately via Store.Read.
type Session struct {
	Key          types.SessionKey
	SystemPrompt string
	SeedPrefix   string
	Entries      int
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// Store is the transcript store consumed by the controller. Backing storage
// may be in-process or durable; the controller never knows which.
//
// Concurrency contract: appends against the same key are serialized by the
// store (single logical writer per key); distinct keys proceed in parallel.
type Store interface {
	// Resolve returns the session for key, creating it on first use.
	Resolve(ctx context.Context, key types.SessionKey) (*Session, error)

	// Append commits one entry. An entry with RoleSystem sets the session's
	// system prompt; if a system prompt already exists the append fails with
	// *ImmutabilityError and the transcript is unchanged.
	Append(ctx context.Context, key types.SessionKey, entry types.TranscriptEntry) error

	// AppendNote commits a system-authored continuity note. This is the
	// memory compressor's write path; it does not touch the system prompt.
	AppendNote(ctx context.Context, key types.SessionKey, content string) error

	// SetSeedPrefix sets the deterministic per-task preamble. Setting the
	// same value again is a no-op; a different value fails with
	// *ImmutabilityError.
	SetSeedPrefix(ctx context.Context, key types.SessionKey, prefix string) error

	// Read returns the transcript in append order.
	Read(ctx context.Context, key types.SessionKey) ([]types.TranscriptEntry, error)

	// Touch refreshes the session's TTL.
	Touch(ctx context.Context, key types.SessionKey) error

	// Evict removes the session and its transcript.
	Evict(ctx context.Context, key types.SessionKey) error

	// SweepExpired evicts every session whose TTL elapsed before now and
	// returns how many were removed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Tail returns up to n trailing entries of a transcript.
func Tail(entries []types.TranscriptEntry, n int) []types.TranscriptEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
