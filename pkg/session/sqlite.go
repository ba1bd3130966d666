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
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/Hbos123/chessgpt/pkg/types"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable store variant: sessions survive restarts and
// can be shared by workers pointing at the same database file. Appends are
// plain inserts; nothing ever UPDATEs or DELETEs a transcript row outside
// of whole-session eviction.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex // sqlite single-writer; also serializes per-key appends
	ttl    time.Duration
	max    int
	logger *zap.Logger
}

// SQLiteStoreConfig configures a SQLiteStore.
type SQLiteStoreConfig struct {
	Path          string
	TTL           time.Duration
	MaxTranscript int
	Logger        *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxTranscript <= 0 {
		cfg.MaxTranscript = DefaultMaxTranscript
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: cfg.TTL, max: cfg.MaxTranscript, logger: cfg.Logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		subsession TEXT NOT NULL,
		system_prompt TEXT,
		seed_prefix TEXT,
		created_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcript (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		is_note INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_key) REFERENCES sessions(key) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript(session_key, id);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Resolve implements Store.
func (s *SQLiteStore) Resolve(ctx context.Context, key types.SessionKey) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, task_id, subsession, created_at, last_active_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		key.String(), key.TaskID, key.Subsession, now.Unix(), now.Unix(), now.Add(s.ttl).Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	return s.loadLocked(ctx, key)
}

func (s *SQLiteStore) loadLocked(ctx context.Context, key types.SessionKey) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT system_prompt, seed_prefix, created_at, last_active_at, expires_at,
			(SELECT COUNT(*) FROM transcript WHERE session_key = sessions.key)
		FROM sessions WHERE key = ?`, key.String())

	var systemPrompt, seedPrefix sql.NullString
	var createdAt, lastActiveAt, expiresAt int64
	var entries int
	if err := row.Scan(&systemPrompt, &seedPrefix, &createdAt, &lastActiveAt, &expiresAt, &entries); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return &Session{
		Key:          key,
		SystemPrompt: systemPrompt.String,
		SeedPrefix:   seedPrefix.String,
		Entries:      entries,
		CreatedAt:    time.Unix(createdAt, 0),
		LastActiveAt: time.Unix(lastActiveAt, 0),
		ExpiresAt:    time.Unix(expiresAt, 0),
	}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, key types.SessionKey, entry types.TranscriptEntry) error {
	return s.append(ctx, key, entry, false)
}

// AppendNote implements Store.
func (s *SQLiteStore) AppendNote(ctx context.Context, key types.SessionKey, content string) error {
	return s.append(ctx, key, types.TranscriptEntry{
		Role:      types.RoleSystem,
		Content:   content,
		CreatedAt: time.Now(),
	}, true)
}

func (s *SQLiteStore) append(ctx context.Context, key types.SessionKey, entry types.TranscriptEntry, note bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Create-on-first-use, same as Resolve but without re-locking.
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, task_id, subsession, created_at, last_active_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		key.String(), key.TaskID, key.Subsession, now.Unix(), now.Unix(), now.Add(s.ttl).Unix()); err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if entry.Role == types.RoleSystem && !note {
		var existing sql.NullString
		if err := tx.QueryRowContext(ctx,
			`SELECT system_prompt FROM sessions WHERE key = ?`, key.String()).Scan(&existing); err != nil {
			return fmt.Errorf("failed to check system prompt: %w", err)
		}
		if existing.Valid {
			return &ImmutabilityError{Key: key, Field: "system_prompt"}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET system_prompt = ? WHERE key = ?`, entry.Content, key.String()); err != nil {
			return fmt.Errorf("failed to set system prompt: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcript WHERE session_key = ?`, key.String()).Scan(&count); err != nil {
		return fmt.Errorf("failed to count transcript: %w", err)
	}
	if count >= s.max {
		return ErrTranscriptFull
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	isNote := 0
	if note {
		isNote = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcript (session_key, role, content, is_note, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		key.String(), string(entry.Role), entry.Content, isNote, entry.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET last_active_at = ?, expires_at = ? WHERE key = ?`,
		now.Unix(), now.Add(s.ttl).Unix(), key.String()); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return tx.Commit()
}

// SetSeedPrefix implements Store.
func (s *SQLiteStore) SetSeedPrefix(ctx context.Context, key types.SessionKey, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, task_id, subsession, created_at, last_active_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		key.String(), key.TaskID, key.Subsession, now.Unix(), now.Unix(), now.Add(s.ttl).Unix()); err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}

	var existing sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT seed_prefix FROM sessions WHERE key = ?`, key.String()).Scan(&existing); err != nil {
		return fmt.Errorf("failed to check seed prefix: %w", err)
	}
	if existing.Valid {
		if existing.String != prefix {
			return &ImmutabilityError{Key: key, Field: "seed_prefix"}
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET seed_prefix = ? WHERE key = ?`, prefix, key.String()); err != nil {
		return fmt.Errorf("failed to set seed prefix: %w", err)
	}
	return nil
}

// Read implements Store.
func (s *SQLiteStore) Read(ctx context.Context, key types.SessionKey) ([]types.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE key = ?`, key.String()).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM transcript
		WHERE session_key = ? ORDER BY id ASC`, key.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.TranscriptEntry
	for rows.Next() {
		var role, content string
		var createdAt int64
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, types.TranscriptEntry{
			Role:      types.Role(role),
			Content:   content,
			CreatedAt: time.Unix(createdAt, 0),
		})
	}
	return out, rows.Err()
}

// Touch implements Store.
func (s *SQLiteStore) Touch(ctx context.Context, key types.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_active_at = ?, expires_at = ? WHERE key = ?`,
		now.Unix(), now.Add(s.ttl).Unix(), key.String())
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Evict implements Store.
func (s *SQLiteStore) Evict(ctx context.Context, key types.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM transcript WHERE session_key = ?`, key.String()); err != nil {
		return fmt.Errorf("failed to evict transcript: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key.String())
	if err != nil {
		return fmt.Errorf("failed to evict session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepExpired implements Store.
func (s *SQLiteStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM transcript WHERE session_key IN
			(SELECT key FROM sessions WHERE expires_at < ?)`, now.Unix()); err != nil {
		return 0, fmt.Errorf("failed to sweep transcripts: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("swept expired sessions", zap.Int64("evicted", n))
	}
	return int(n), nil
}

var _ Store = (*SQLiteStore)(nil)
