// Package postgres implements storage.Store over PostgreSQL for
// self-hosted installs that want the companion state on a shared server
// instead of a local file. The contract is identical to the sqlite
// engine; only the dialect differs.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/scrypster/buddy/internal/storage"
	"github.com/scrypster/buddy/pkg/types"
)

const settingsKey = "current_config"

// Schema creates the three logical stores on first run.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id        TEXT PRIMARY KEY,
    content   TEXT NOT NULL,
    timestamp BIGINT NOT NULL,
    tags      JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS chat_history (
    id        TEXT PRIMARY KEY,
    role      TEXT NOT NULL,
    content   TEXT NOT NULL,
    timestamp BIGINT NOT NULL,
    skill     JSONB
);

CREATE INDEX IF NOT EXISTS idx_chat_history_timestamp ON chat_history(timestamp);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value JSONB NOT NULL
);
`

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	nuked bool
}

// New connects to Postgres with the given DSN and ensures the schema
// exists. Connection failures are wrapped in storage.ErrInitFailed.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", storage.ErrInitFailed, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to reach database: %v", storage.ErrInitFailed, err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", storage.ErrInitFailed, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) checkLive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nuked {
		return storage.ErrNuked
	}
	return nil
}

// GetSettings returns the settings singleton, or (nil, nil) when absent.
func (s *Store) GetSettings(ctx context.Context) (*types.UserSettings, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = $1", settingsKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read settings: %w", err)
	}

	var settings types.UserSettings
	if err := json.Unmarshal(value, &settings); err != nil {
		return nil, nil
	}
	return &settings, nil
}

// SaveSettings upserts the settings singleton under its fixed key.
func (s *Store) SaveSettings(ctx context.Context, settings types.UserSettings) error {
	if err := s.checkLive(); err != nil {
		return err
	}

	value, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, settingsKey, value)
	if err != nil {
		return fmt.Errorf("postgres: failed to save settings: %w", err)
	}
	return nil
}

// GetAllMemories returns every stored memory.
func (s *Store) GetAllMemories(ctx context.Context) ([]types.Memory, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content, timestamp, tags FROM memories")
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []types.Memory
	for rows.Next() {
		var m types.Memory
		var tagsJSON []byte
		if err := rows.Scan(&m.ID, &m.Content, &m.Timestamp, &tagsJSON); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory: %w", err)
		}
		if err := json.Unmarshal(tagsJSON, &m.Tags); err != nil {
			m.Tags = nil
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// AddMemory persists a memory.
func (s *Store) AddMemory(ctx context.Context, m types.Memory) error {
	if err := s.checkLive(); err != nil {
		return err
	}

	if m.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}

	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, timestamp, tags) VALUES ($1, $2, $3, $4)
	`, m.ID, m.Content, m.Timestamp, tagsJSON)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert memory: %w", err)
	}
	return nil
}

// DeleteMemory removes a memory by id. Absent ids are a no-op.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if err := s.checkLive(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete memory: %w", err)
	}
	return nil
}

// GetChatHistory returns all messages sorted ascending by timestamp.
func (s *Store) GetChatHistory(ctx context.Context) ([]types.Message, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, timestamp, skill
		FROM chat_history
		ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query chat history: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var m types.Message
		var skill []byte
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp, &skill); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan message: %w", err)
		}
		if len(skill) > 0 {
			var payload types.SkillPayload
			if err := json.Unmarshal(skill, &payload); err == nil {
				m.Skill = &payload
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SaveMessage upserts a message by id.
func (s *Store) SaveMessage(ctx context.Context, m types.Message) error {
	if err := s.checkLive(); err != nil {
		return err
	}

	if m.ID == "" {
		return fmt.Errorf("%w: message ID is required", storage.ErrInvalidInput)
	}

	var skillJSON []byte
	if m.Skill != nil {
		var err error
		skillJSON, err = json.Marshal(m.Skill)
		if err != nil {
			return fmt.Errorf("postgres: failed to marshal skill payload: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (id, role, content, timestamp, skill)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			content = EXCLUDED.content,
			timestamp = EXCLUDED.timestamp,
			skill = EXCLUDED.skill
	`, m.ID, string(m.Role), m.Content, m.Timestamp, skillJSON)
	if err != nil {
		return fmt.Errorf("postgres: failed to save message: %w", err)
	}
	return nil
}

// ClearChat removes all chat records.
func (s *Store) ClearChat(ctx context.Context) error {
	if err := s.checkLive(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM chat_history")
	if err != nil {
		return fmt.Errorf("postgres: failed to clear chat: %w", err)
	}
	return nil
}

// Nuke drops all three tables and closes the connection. The store is
// unusable afterwards; the caller reinitializes.
func (s *Store) Nuke(ctx context.Context) error {
	s.mu.Lock()
	if s.nuked {
		s.mu.Unlock()
		return storage.ErrNuked
	}
	s.nuked = true
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DROP TABLE IF EXISTS memories, chat_history, settings")
	if err != nil {
		return fmt.Errorf("postgres: failed to drop tables: %w", err)
	}
	return s.db.Close()
}

// Close releases the database connection. Safe to call after Nuke.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nuked {
		return nil
	}
	return s.db.Close()
}

// Compile-time assertion that Store satisfies the persistence contract.
var _ storage.Store = (*Store)(nil)
