// Package sqlite implements storage.Store over an embedded SQLite
// database. It is the default engine: a single per-installation file
// holding the three record collections (memories, chat_history, settings).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/buddy/internal/storage"
	"github.com/scrypster/buddy/pkg/types"
)

// settingsKey is the fixed singleton key for the settings record.
const settingsKey = "current_config"

// Schema creates the three logical stores on first run.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id        TEXT PRIMARY KEY,
    content   TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    tags      TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS chat_history (
    id        TEXT PRIMARY KEY,
    role      TEXT NOT NULL,
    content   TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    skill     TEXT
);

CREATE INDEX IF NOT EXISTS idx_chat_history_timestamp ON chat_history(timestamp);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store implements storage.Store using SQLite.
type Store struct {
	db   *sql.DB
	path string // database file path; empty for :memory:

	mu    sync.Mutex
	nuked bool
}

// New opens (or creates) the database at the given path and ensures the
// schema exists. Engine-level failures are wrapped in storage.ErrInitFailed
// so callers can degrade to in-memory defaults instead of aborting.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", storage.ErrInitFailed, err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode lets readers proceed without blocking the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %v", storage.ErrInitFailed, err)
	}

	// Busy timeout so callers wait instead of getting an immediate
	// SQLITE_BUSY while the connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to set busy timeout: %v", storage.ErrInitFailed, err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", storage.ErrInitFailed, err)
	}

	filePath := path
	if path == ":memory:" {
		filePath = ""
	}
	return &Store{db: db, path: filePath}, nil
}

// checkLive returns ErrNuked once the store has been destroyed.
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

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", settingsKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read settings: %w", err)
	}

	var settings types.UserSettings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		// A corrupt durable record is treated as absent, not fatal.
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
		return fmt.Errorf("sqlite: failed to marshal settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, settingsKey, string(value))
	if err != nil {
		return fmt.Errorf("sqlite: failed to save settings: %w", err)
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
		return nil, fmt.Errorf("sqlite: failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []types.Memory
	for rows.Next() {
		var m types.Memory
		var tagsJSON string
		if err := rows.Scan(&m.ID, &m.Content, &m.Timestamp, &tagsJSON); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan memory: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
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
		return fmt.Errorf("sqlite: failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, timestamp, tags) VALUES (?, ?, ?, ?)
	`, m.ID, m.Content, m.Timestamp, string(tagsJSON))
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert memory: %w", err)
	}
	return nil
}

// DeleteMemory removes a memory by id. Absent ids are a no-op.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if err := s.checkLive(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete memory: %w", err)
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
		return nil, fmt.Errorf("sqlite: failed to query chat history: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var m types.Message
		var skill sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp, &skill); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan message: %w", err)
		}
		if skill.Valid && skill.String != "" {
			var payload types.SkillPayload
			if err := json.Unmarshal([]byte(skill.String), &payload); err == nil {
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

	var skillJSON sql.NullString
	if m.Skill != nil {
		data, err := json.Marshal(m.Skill)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal skill payload: %w", err)
		}
		skillJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (id, role, content, timestamp, skill)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			timestamp = excluded.timestamp,
			skill = excluded.skill
	`, m.ID, string(m.Role), m.Content, m.Timestamp, skillJSON)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save message: %w", err)
	}
	return nil
}

// ClearChat removes all chat records, leaving memories and settings alone.
func (s *Store) ClearChat(ctx context.Context) error {
	if err := s.checkLive(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM chat_history")
	if err != nil {
		return fmt.Errorf("sqlite: failed to clear chat: %w", err)
	}
	return nil
}

// Nuke closes the database and deletes its files (including WAL
// sidecars). The store is unusable afterwards; the caller reinitializes.
func (s *Store) Nuke(ctx context.Context) error {
	s.mu.Lock()
	if s.nuked {
		s.mu.Unlock()
		return storage.ErrNuked
	}
	s.nuked = true
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: failed to close database for nuke: %w", err)
	}

	if s.path != "" {
		for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("sqlite: failed to remove %s: %w", p, err)
			}
		}
	}
	return nil
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
