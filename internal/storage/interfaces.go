// Package storage defines the persistence contract for the Buddy
// application: durable storage of the settings singleton, memories, and
// chat history, plus the fast-path settings mirror and the portable
// sync-code encoding.
//
// The interface is deliberately small. Every operation is independently
// atomic at single-record granularity; there are no cross-record
// transactions. A crash between the user turn and the following assistant
// turn loses at most the second write.
package storage

import (
	"context"
	"errors"

	"github.com/scrypster/buddy/pkg/types"
)

// ErrNotFound is returned when a requested record doesn't exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidInput is returned when input validation fails.
var ErrInvalidInput = errors.New("invalid input")

// ErrInitFailed wraps engine-level failures during store initialization.
// Callers should surface it as a warning and continue with in-memory
// defaults rather than aborting startup.
var ErrInitFailed = errors.New("storage initialization failed")

// ErrNuked is returned by any operation invoked after Nuke. The store is
// uninitialized at that point; the caller owns reinitialization.
var ErrNuked = errors.New("store has been nuked")

// Store is the persistence service. Implementations exist for SQLite
// (the default, single-device embedded database) and Postgres (optional,
// for self-hosted multi-device installs).
type Store interface {
	// GetSettings returns the stored settings singleton, or (nil, nil)
	// when no record has ever been saved. Callers substitute defaults.
	GetSettings(ctx context.Context) (*types.UserSettings, error)

	// SaveSettings writes the settings singleton under its fixed key.
	SaveSettings(ctx context.Context, s types.UserSettings) error

	// GetAllMemories returns every stored memory, unordered.
	GetAllMemories(ctx context.Context) ([]types.Memory, error)

	// AddMemory persists a memory. No content dedupe happens here; that
	// is the application shell's responsibility.
	AddMemory(ctx context.Context, m types.Memory) error

	// DeleteMemory removes a memory by id. Deleting an absent id is not
	// an error.
	DeleteMemory(ctx context.Context, id string) error

	// GetChatHistory returns all messages sorted ascending by timestamp.
	// The store has no intrinsic order, so every read re-sorts.
	GetChatHistory(ctx context.Context) ([]types.Message, error)

	// SaveMessage upserts a message by id.
	SaveMessage(ctx context.Context, m types.Message) error

	// ClearChat removes all chat records. Memories and settings are
	// untouched.
	ClearChat(ctx context.Context) error

	// Nuke irreversibly destroys the entire database. The store is left
	// uninitialized; every subsequent call returns ErrNuked.
	Nuke(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
