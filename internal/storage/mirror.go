package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/buddy/pkg/types"
)

// mirrorFilename is the settings mirror sidecar, the analog of the
// original client's localStorage mirror key.
const mirrorFilename = "buddy_settings_v4_mirror.json"

// SettingsMirror is a zero-latency read path for the settings singleton:
// a small JSON sidecar file kept write-through-equal to the durable store.
// A corrupt or missing mirror is a cache miss, never an error.
type SettingsMirror struct {
	path string
	log  *logrus.Entry
}

// NewSettingsMirror creates a mirror rooted in the given data directory.
func NewSettingsMirror(dataPath string) *SettingsMirror {
	return &SettingsMirror{
		path: filepath.Join(dataPath, mirrorFilename),
		log:  logrus.WithField("component", "settings-mirror"),
	}
}

// Load returns the mirrored settings, or nil on miss. Unreadable and
// unparsable entries are both treated as misses.
func (m *SettingsMirror) Load() *types.UserSettings {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil
	}

	var s types.UserSettings
	if err := json.Unmarshal(data, &s); err != nil {
		m.log.WithError(err).Warn("corrupt settings mirror, falling back to durable store")
		return nil
	}
	return &s
}

// Save overwrites the mirror entry. The write is atomic (temp file +
// rename) so a crash mid-write can't leave a torn mirror.
func (m *SettingsMirror) Save(s types.UserSettings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("mirror: failed to marshal settings: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("mirror: failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("mirror: failed to replace %s: %w", m.path, err)
	}
	return nil
}

// Remove deletes the mirror entry. Removing an absent mirror is a no-op.
func (m *SettingsMirror) Remove() {
	_ = os.Remove(m.path)
}

// MirroredStore decorates a Store with the settings mirror.
//
// GetSettings consults the mirror first; SaveSettings writes through to
// both the durable store and the mirror in the same logical call, so the
// mirror is always equal to the durable store immediately after a
// successful save. Nuke destroys both.
type MirroredStore struct {
	Store
	mirror *SettingsMirror
}

// WithMirror wraps a store with the settings mirror.
func WithMirror(store Store, mirror *SettingsMirror) *MirroredStore {
	return &MirroredStore{Store: store, mirror: mirror}
}

// GetSettings returns the mirrored copy when it parses cleanly, otherwise
// falls back to the durable store.
func (s *MirroredStore) GetSettings(ctx context.Context) (*types.UserSettings, error) {
	if cached := s.mirror.Load(); cached != nil {
		return cached, nil
	}
	return s.Store.GetSettings(ctx)
}

// SaveSettings writes to the durable store and then overwrites the mirror.
// The durable write happens first: a failure there leaves the mirror stale
// rather than ahead of the store.
func (s *MirroredStore) SaveSettings(ctx context.Context, settings types.UserSettings) error {
	if err := s.Store.SaveSettings(ctx, settings); err != nil {
		return err
	}
	return s.mirror.Save(settings)
}

// Nuke destroys the durable database and the mirror entry.
func (s *MirroredStore) Nuke(ctx context.Context) error {
	if err := s.Store.Nuke(ctx); err != nil {
		return err
	}
	s.mirror.Remove()
	return nil
}
