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
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Hbos123/chessgpt/pkg/types"
	"go.uber.org/zap"
)

// FailoverStore wraps a durable primary with an in-process fallback.
// Infrastructure failures on the primary flip the store into degraded
// mode and traffic continues against the fallback; domain errors such
// as immutability violations or a full transcript are never treated as
// failover triggers and propagate unchanged.
//
// Failover is one-way for the process lifetime. Sessions created while
// degraded live only in memory, so flipping back would silently lose
// them mid-conversation.
type FailoverStore struct {
	primary  Store
	fallback Store
	degraded atomic.Bool
	logger   *zap.Logger
}

// NewFailoverStore wraps primary with fallback.
func NewFailoverStore(primary, fallback Store, logger *zap.Logger) *FailoverStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

// Degraded reports whether the store has failed over.
func (f *FailoverStore) Degraded() bool {
	return f.degraded.Load()
}

// domainError reports whether err is a session-semantics error that the
// caller must see rather than an infrastructure fault.
func domainError(err error) bool {
	var imm *ImmutabilityError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTranscriptFull) ||
		errors.As(err, &imm)
}

func (f *FailoverStore) active() Store {
	if f.degraded.Load() {
		return f.fallback
	}
	return f.primary
}

func (f *FailoverStore) trip(ctx context.Context, op string, err error) {
	if f.degraded.CompareAndSwap(false, true) {
		fields := []zap.Field{
			zap.String("operation", op),
			zap.String("request_id", RequestIDFromContext(ctx)),
			zap.Error(err),
		}
		if key, ok := KeyFromContext(ctx); ok {
			fields = append(fields, zap.String("session", key.String()))
		}
		f.logger.Error("session store failing over to in-process fallback", fields...)
	}
}

// Resolve implements Store.
func (f *FailoverStore) Resolve(ctx context.Context, key types.SessionKey) (*Session, error) {
	sess, err := f.active().Resolve(ctx, key)
	if err != nil && !domainError(err) && !f.degraded.Load() {
		f.trip(ctx, "resolve", err)
		return f.fallback.Resolve(ctx, key)
	}
	return sess, err
}

// Append implements Store.
func (f *FailoverStore) Append(ctx context.Context, key types.SessionKey, entry types.TranscriptEntry) error {
	err := f.active().Append(ctx, key, entry)
	if err != nil && !domainError(err) && !f.degraded.Load() {
		f.trip(ctx, "append", err)
		return f.fallback.Append(ctx, key, entry)
	}
	return err
}

// AppendNote implements Store.
func (f *FailoverStore) AppendNote(ctx context.Context, key types.SessionKey, content string) error {
	err := f.active().AppendNote(ctx, key, content)
	if err != nil && !domainError(err) && !f.degraded.Load() {
		f.trip(ctx, "append_note", err)
		return f.fallback.AppendNote(ctx, key, content)
	}
	return err
}

// SetSeedPrefix implements Store.
func (f *FailoverStore) SetSeedPrefix(ctx context.Context, key types.SessionKey, prefix string) error {
	err := f.active().SetSeedPrefix(ctx, key, prefix)
	if err != nil && !domainError(err) && !f.degraded.Load() {
		f.trip(ctx, "set_seed_prefix", err)
		return f.fallback.SetSeedPrefix(ctx, key, prefix)
	}
	return err
}

// Read implements Store.
func (f *FailoverStore) Read(ctx context.Context, key types.SessionKey) ([]types.TranscriptEntry, error) {
	entries, err := f.active().Read(ctx, key)
	if err != nil && !domainError(err) && !f.degraded.Load() {
		f.trip(ctx, "read", err)
		return f.fallback.Read(ctx, key)
	}
	return entries, err
}

// Touch implements Store.
func (f *FailoverStore) Touch(ctx context.Context, key types.SessionKey) error {
	err := f.active().Touch(ctx, key)
	if err != nil && !domainError(err) && !f.degraded.Load() {
		f.trip(ctx, "touch", err)
		return f.fallback.Touch(ctx, key)
	}
	return err
}

// Evict implements Store.
func (f *FailoverStore) Evict(ctx context.Context, key types.SessionKey) error {
	err := f.active().Evict(ctx, key)
	if err != nil && !domainError(err) && !f.degraded.Load() {
		f.trip(ctx, "evict", err)
		return f.fallback.Evict(ctx, key)
	}
	return err
}

// SweepExpired implements Store.
func (f *FailoverStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := f.active().SweepExpired(ctx, now)
	if err != nil && !f.degraded.Load() {
		f.trip(ctx, "sweep", err)
		return f.fallback.SweepExpired(ctx, now)
	}
	return n, err
}

var _ Store = (*FailoverStore)(nil)
