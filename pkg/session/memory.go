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
	"sync"
	"time"

	"github.com/Hbos123/chessgpt/pkg/types"
	"go.uber.org/zap"
)

// memorySession is the in-process representation of one session.
// Each session carries its own mutex so appends against one key serialize
// while distinct keys proceed fully in parallel.
type memorySession struct {
	mu sync.Mutex

	systemPrompt string
	systemSet    bool
	seedPrefix   string
	seedSet      bool

	entries []types.TranscriptEntry

	createdAt    time.Time
	lastActiveAt time.Time
	expiresAt    time.Time
}

// MemoryStore is the process-scoped volatile store. Sessions are created on
// first use and evicted by TTL sweep or explicit eviction; everything is
// lost on restart. It is also the fail-open target when a durable backing
// store is unavailable.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[types.SessionKey]*memorySession

	ttl           time.Duration
	maxTranscript int
	logger        *zap.Logger
}

// MemoryStoreConfig configures a MemoryStore. Zero values use defaults.
type MemoryStoreConfig struct {
	TTL           time.Duration
	MaxTranscript int
	Logger        *zap.Logger
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxTranscript <= 0 {
		cfg.MaxTranscript = DefaultMaxTranscript
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &MemoryStore{
		sessions:      make(map[types.SessionKey]*memorySession),
		ttl:           cfg.TTL,
		maxTranscript: cfg.MaxTranscript,
		logger:        cfg.Logger,
	}
}

// resolve returns the live session for key, creating it if absent.
func (s *MemoryStore) resolve(key types.SessionKey) *memorySession {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[key]; ok {
		return sess
	}
	now := time.Now()
	sess = &memorySession{
		createdAt:    now,
		lastActiveAt: now,
		expiresAt:    now.Add(s.ttl),
	}
	s.sessions[key] = sess
	s.logger.Debug("session created", zap.String("session_key", key.String()))
	return sess
}

// lookup returns the live session for key without creating it.
func (s *MemoryStore) lookup(key types.SessionKey) (*memorySession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

// Resolve implements Store.
func (s *MemoryStore) Resolve(_ context.Context, key types.SessionKey) (*Session, error) {
	sess := s.resolve(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return snapshotLocked(key, sess), nil
}

func snapshotLocked(key types.SessionKey, sess *memorySession) *Session {
	return &Session{
		Key:          key,
		SystemPrompt: sess.systemPrompt,
		SeedPrefix:   sess.seedPrefix,
		Entries:      len(sess.entries),
		CreatedAt:    sess.createdAt,
		LastActiveAt: sess.lastActiveAt,
		ExpiresAt:    sess.expiresAt,
	}
}

// Append implements Store. A RoleSystem entry sets the set-once system
// prompt; a rejected append leaves the session untouched.
func (s *MemoryStore) Append(_ context.Context, key types.SessionKey, entry types.TranscriptEntry) error {
	sess := s.resolve(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if entry.Role == types.RoleSystem && sess.systemSet {
		return &ImmutabilityError{Key: key, Field: "system_prompt"}
	}
	if err := s.appendLocked(key, sess, entry); err != nil {
		return err
	}
	if entry.Role == types.RoleSystem {
		sess.systemPrompt = entry.Content
		sess.systemSet = true
	}
	return nil
}

// AppendNote implements Store. Notes share the system role on the wire but
// bypass the system-prompt check; this is the compressor's only write path.
func (s *MemoryStore) AppendNote(_ context.Context, key types.SessionKey, content string) error {
	sess := s.resolve(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.appendLocked(key, sess, types.TranscriptEntry{
		Role:      types.RoleSystem,
		Content:   content,
		CreatedAt: time.Now(),
	})
}

func (s *MemoryStore) appendLocked(key types.SessionKey, sess *memorySession, entry types.TranscriptEntry) error {
	if len(sess.entries) >= s.maxTranscript {
		return ErrTranscriptFull
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	sess.entries = append(sess.entries, entry)
	sess.lastActiveAt = time.Now()
	sess.expiresAt = sess.lastActiveAt.Add(s.ttl)
	return nil
}

// SetSeedPrefix implements Store. Idempotent for the same value.
func (s *MemoryStore) SetSeedPrefix(_ context.Context, key types.SessionKey, prefix string) error {
	sess := s.resolve(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.seedSet {
		if sess.seedPrefix != prefix {
			return &ImmutabilityError{Key: key, Field: "seed_prefix"}
		}
		return nil
	}
	sess.seedPrefix = prefix
	sess.seedSet = true
	return nil
}

// Read implements Store. Returns a copy so callers never observe a
// concurrent append mid-slice.
func (s *MemoryStore) Read(_ context.Context, key types.SessionKey) ([]types.TranscriptEntry, error) {
	sess, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]types.TranscriptEntry, len(sess.entries))
	copy(out, sess.entries)
	return out, nil
}

// Touch implements Store.
func (s *MemoryStore) Touch(_ context.Context, key types.SessionKey) error {
	sess, ok := s.lookup(key)
	if !ok {
		return ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastActiveAt = time.Now()
	sess.expiresAt = sess.lastActiveAt.Add(s.ttl)
	return nil
}

// Evict implements Store.
func (s *MemoryStore) Evict(_ context.Context, key types.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, key)
	return nil
}

// SweepExpired implements Store.
func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, sess := range s.sessions {
		sess.mu.Lock()
		expired := sess.expiresAt.Before(now)
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, key)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("swept expired sessions", zap.Int("evicted", evicted))
	}
	return evicted, nil
}

// Len returns the number of live sessions. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var _ Store = (*MemoryStore)(nil)
