package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/buddy/internal/config"
	"github.com/scrypster/buddy/internal/gateway"
	"github.com/scrypster/buddy/internal/shell"
	"github.com/scrypster/buddy/internal/storage"
	"github.com/scrypster/buddy/internal/storage/sqlite"
	"github.com/scrypster/buddy/pkg/types"
)

// startTestServer boots the full stack on a random port: sqlite store
// with mirror, gateway over a scripted backend, shell, HTTP server.
func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	dataDir := t.TempDir()
	store, err := sqlite.New(filepath.Join(dataDir, "buddy.db"))
	require.NoError(t, err)
	mirrored := storage.WithMirror(store, storage.NewSettingsMirror(dataDir))

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"backend says hi"}]}}]}`)
	}))
	t.Cleanup(backend.Close)

	clock := time.Now()
	gw := gateway.New(gateway.NewClient(gateway.ClientConfig{APIKey: "k", BaseURL: backend.URL}), gateway.Config{
		FlashModel: "flash",
		FastModel:  "fast",
		FullModel:  "full",
		MapsModel:  "maps",
		ImageModel: "image",
		// Advance far enough per call that the cooldown never trips.
		Clock: func() time.Time { clock = clock.Add(2 * time.Second); return clock },
		Sleep: func(time.Duration) {},
	})

	app := shell.New(mirrored, gw)
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { app.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if cfg == nil {
		cfg = &config.Config{}
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.Port = 0
		cfg.Security.SecurityMode = "development"
	}

	addr, err := Start(ctx, cfg, app, gw)
	require.NoError(t, err)
	return "http://" + addr
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	base := startTestServer(t, nil)

	var health map[string]string
	code := getJSON(t, base+"/api/health", &health)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", health["status"])
}

func TestSettingsRoundTripOverHTTP(t *testing.T) {
	base := startTestServer(t, nil)

	var settings types.UserSettings
	code := getJSON(t, base+"/api/settings", &settings)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, types.DefaultSettings(), settings)

	updated := types.UserSettings{
		Name: "Ada", Tone: types.ToneConcise, Interests: []string{"Math"}, Theme: types.ThemeLight,
	}
	code = postJSON(t, base+"/api/settings", updated, nil)
	require.Equal(t, http.StatusOK, code)

	var fetched types.UserSettings
	code = getJSON(t, base+"/api/settings", &fetched)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ada", fetched.Name)
}

func TestChatOverHTTP(t *testing.T) {
	base := startTestServer(t, nil)

	var resp struct {
		Reply types.Message `json:"reply"`
	}
	code := postJSON(t, base+"/api/chat", map[string]string{"message": "hello"}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "backend says hi", resp.Reply.Content)

	var history []types.Message
	code = getJSON(t, base+"/api/chat/history", &history)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, history, 2)
	assert.Equal(t, types.RoleUser, history[0].Role)
	assert.Equal(t, types.RoleAssistant, history[1].Role)
}

func TestMemoriesOverHTTP(t *testing.T) {
	base := startTestServer(t, nil)

	var created types.Memory
	code := postJSON(t, base+"/api/memories",
		map[string]interface{}{"content": "likes chess", "tags": []string{"hobby"}}, &created)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, created.ID)

	var memories []types.Memory
	code = getJSON(t, base+"/api/memories", &memories)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, memories)

	req, err := http.NewRequest(http.MethodDelete, base+"/api/memories/"+created.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestNukeOverHTTP(t *testing.T) {
	base := startTestServer(t, nil)

	code := postJSON(t, base+"/api/memories", map[string]string{"content": "doomed"}, nil)
	require.Equal(t, http.StatusCreated, code)

	code = postJSON(t, base+"/api/nuke", nil, nil)
	require.Equal(t, http.StatusOK, code)

	var settings types.UserSettings
	code = getJSON(t, base+"/api/settings", &settings)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, types.DefaultSettings(), settings)
}

func TestProductionModeRequiresToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Security.SecurityMode = "production"
	cfg.Security.APIToken = "secret-token"

	base := startTestServer(t, cfg)

	resp, err := http.Get(base + "/api/settings")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, base+"/api/settings", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open for monitoring.
	resp, err = http.Get(base + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
