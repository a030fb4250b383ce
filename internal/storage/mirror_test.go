package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/buddy/pkg/types"
)

// stubStore is a minimal in-memory Store for exercising the mirror
// decorator without a real database.
type stubStore struct {
	settings     *types.UserSettings
	settingsGets int
	nuked        bool
}

func (s *stubStore) GetSettings(ctx context.Context) (*types.UserSettings, error) {
	s.settingsGets++
	return s.settings, nil
}

func (s *stubStore) SaveSettings(ctx context.Context, settings types.UserSettings) error {
	s.settings = &settings
	return nil
}

func (s *stubStore) GetAllMemories(ctx context.Context) ([]types.Memory, error) { return nil, nil }
func (s *stubStore) AddMemory(ctx context.Context, m types.Memory) error        { return nil }
func (s *stubStore) DeleteMemory(ctx context.Context, id string) error          { return nil }
func (s *stubStore) GetChatHistory(ctx context.Context) ([]types.Message, error) {
	return nil, nil
}
func (s *stubStore) SaveMessage(ctx context.Context, m types.Message) error { return nil }
func (s *stubStore) ClearChat(ctx context.Context) error                    { return nil }
func (s *stubStore) Nuke(ctx context.Context) error                         { s.nuked = true; return nil }
func (s *stubStore) Close() error                                           { return nil }

func TestMirrorMissOnAbsent(t *testing.T) {
	mirror := NewSettingsMirror(t.TempDir())
	assert.Nil(t, mirror.Load())
}

func TestMirrorMissOnCorrupt(t *testing.T) {
	dir := t.TempDir()
	mirror := NewSettingsMirror(dir)

	// A corrupt entry is a cache miss, never an error.
	require.NoError(t, os.WriteFile(filepath.Join(dir, mirrorFilename), []byte("{truncated"), 0o600))
	assert.Nil(t, mirror.Load())
}

func TestMirrorRoundTrip(t *testing.T) {
	mirror := NewSettingsMirror(t.TempDir())

	want := types.UserSettings{Name: "Ada", Tone: types.ToneConcise, Theme: types.ThemeAuto}
	require.NoError(t, mirror.Save(want))

	got := mirror.Load()
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestMirroredStoreWriteThrough(t *testing.T) {
	ctx := context.Background()
	stub := &stubStore{}
	mirror := NewSettingsMirror(t.TempDir())
	store := WithMirror(stub, mirror)

	want := types.UserSettings{Name: "Grace", Tone: types.ToneEnthusiastic, Theme: types.ThemeDark}
	require.NoError(t, store.SaveSettings(ctx, want))

	// The durable store and the mirror hold the same record.
	require.NotNil(t, stub.settings)
	assert.Equal(t, want, *stub.settings)
	mirrored := mirror.Load()
	require.NotNil(t, mirrored)
	assert.Equal(t, want, *mirrored)

	// Reads after a save never touch the durable store.
	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.Equal(t, 0, stub.settingsGets)
}

func TestMirroredStoreFallsBackToDurable(t *testing.T) {
	ctx := context.Background()
	want := types.UserSettings{Name: "Lin", Tone: types.ToneFriendly, Theme: types.ThemeLight}
	stub := &stubStore{settings: &want}
	store := WithMirror(stub, NewSettingsMirror(t.TempDir()))

	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
	assert.Equal(t, 1, stub.settingsGets)
}

func TestMirroredStoreNukeRemovesMirror(t *testing.T) {
	ctx := context.Background()
	stub := &stubStore{}
	mirror := NewSettingsMirror(t.TempDir())
	store := WithMirror(stub, mirror)

	require.NoError(t, store.SaveSettings(ctx, types.DefaultSettings()))
	require.NotNil(t, mirror.Load())

	require.NoError(t, store.Nuke(ctx))
	assert.True(t, stub.nuked)
	assert.Nil(t, mirror.Load())
}
