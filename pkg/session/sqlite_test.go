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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hbos123/chessgpt/pkg/types"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteStoreConfig{
		Path: filepath.Join(t.TempDir(), "sessions.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	key := testKey("game-1")

	require.NoError(t, store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleSystem, Content: "prompt"}))
	require.NoError(t, store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleUser, Content: "what now?"}))
	require.NoError(t, store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleAssistant, Content: "develop the knight"}))

	entries, err := store.Read(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, types.RoleSystem, entries[0].Role)
	assert.Equal(t, "what now?", entries[1].Content)
	assert.Equal(t, "develop the knight", entries[2].Content)

	sess, err := store.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "prompt", sess.SystemPrompt)
	assert.Equal(t, 3, sess.Entries)
}

func TestSQLiteStoreSystemPromptSetOnce(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	key := testKey("game-2")

	require.NoError(t, store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleSystem, Content: "first"}))

	err := store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleSystem, Content: "second"})
	require.Error(t, err)
	assert.True(t, IsImmutabilityViolation(err))

	// The failed append rolled back: no transcript row was written.
	entries, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLiteStoreAppendNote(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	key := testKey("game-3")

	require.NoError(t, store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleSystem, Content: "prompt"}))
	require.NoError(t, store.AppendNote(ctx, key, "compressed history"))

	entries, err := store.Read(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.RoleSystem, entries[1].Role)
	assert.Equal(t, "compressed history", entries[1].Content)

	// The note did not overwrite the set-once prompt.
	sess, err := store.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "prompt", sess.SystemPrompt)
}

func TestSQLiteStoreSeedPrefix(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	key := testKey("game-4")

	require.NoError(t, store.SetSeedPrefix(ctx, key, "seed"))
	require.NoError(t, store.SetSeedPrefix(ctx, key, "seed"))
	err := store.SetSeedPrefix(ctx, key, "other")
	assert.True(t, IsImmutabilityViolation(err))

	sess, err := store.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "seed", sess.SeedPrefix)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")
	ctx := context.Background()
	key := testKey("game-5")

	store, err := NewSQLiteStore(SQLiteStoreConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleUser, Content: "persist me"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(SQLiteStoreConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	entries, err := reopened.Read(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "persist me", entries[0].Content)
}

func TestSQLiteStoreSweepExpired(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, testKey("a"), types.TranscriptEntry{Role: types.RoleUser, Content: "x"}))
	require.NoError(t, store.Append(ctx, testKey("b"), types.TranscriptEntry{Role: types.RoleUser, Content: "x"}))

	n, err := store.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = store.SweepExpired(ctx, time.Now().Add(DefaultTTL+time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Read(ctx, testKey("a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreTranscriptCap(t *testing.T) {
	store, err := NewSQLiteStore(SQLiteStoreConfig{
		Path:          filepath.Join(t.TempDir(), "sessions.db"),
		MaxTranscript: 2,
	})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	key := testKey("game-6")
	require.NoError(t, store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleUser, Content: "1"}))
	require.NoError(t, store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleUser, Content: "2"}))
	assert.ErrorIs(t, store.Append(ctx, key, types.TranscriptEntry{Role: types.RoleUser, Content: "3"}), ErrTranscriptFull)
}
