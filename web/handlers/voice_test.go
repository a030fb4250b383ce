package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/buddy/internal/voice"
	"github.com/scrypster/buddy/pkg/types"
)

type fakeVoiceSession struct {
	mu     sync.Mutex
	sent   []string
	closed bool
}

func (f *fakeVoiceSession) SendAudio(ctx context.Context, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeVoiceSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeVoiceSession) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// startRelay spins up the relay over a fake upstream and returns the
// browser-side connection plus the captured upstream callbacks.
func startRelay(t *testing.T, app *fakeApp) (*websocket.Conn, voice.Callbacks, *fakeVoiceSession) { //nolint:staticcheck
	t.Helper()

	session := &fakeVoiceSession{}
	callbackCh := make(chan voice.Callbacks, 1)
	dial := func(ctx context.Context, settings types.UserSettings, cb voice.Callbacks) (VoiceSession, error) {
		callbackCh <- cb
		return session, nil
	}

	srv := httptest.NewServer(NewVoiceHandler(app, dial))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil) //nolint:staticcheck
	require.NoError(t, err)
	conn.SetReadLimit(-1)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") }) //nolint:staticcheck

	select {
	case cb := <-callbackCh:
		return conn, cb, session
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upstream dial")
		return nil, voice.Callbacks{}, nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame { //nolint:staticcheck
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame serverFrame
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame clientFrame) { //nolint:staticcheck
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

// pcmChunk builds a base64 chunk of the given duration at the downstream
// rate.
func pcmChunk(d time.Duration) string {
	samples := int(d.Seconds() * voice.DownstreamSampleRate)
	return base64.StdEncoding.EncodeToString(make([]byte, samples*2))
}

func TestVoiceRelayReadyAndAudioScheduling(t *testing.T) {
	app := newFakeApp()
	conn, cb, _ := startRelay(t, app)

	cb.OnOpen()
	frame := readFrame(t, conn)
	assert.Equal(t, "ready", frame.Type)

	chunk := pcmChunk(100 * time.Millisecond)
	cb.OnAudio(chunk)
	first := readFrame(t, conn)
	require.Equal(t, "audio", first.Type)
	assert.Equal(t, chunk, first.Data)

	cb.OnAudio(chunk)
	second := readFrame(t, conn)
	require.Equal(t, "audio", second.Type)
	assert.Greater(t, second.StartAt, first.StartAt, "chunks must be laid out back to back")
}

func TestVoiceRelayInterruptResetsSchedule(t *testing.T) {
	app := newFakeApp()
	conn, cb, _ := startRelay(t, app)

	cb.OnAudio(pcmChunk(5 * time.Second))
	first := readFrame(t, conn)
	require.Equal(t, "audio", first.Type)

	cb.OnInterrupted()
	frame := readFrame(t, conn)
	assert.Equal(t, "interrupted", frame.Type)

	cb.OnAudio(pcmChunk(100 * time.Millisecond))
	next := readFrame(t, conn)
	require.Equal(t, "audio", next.Type)
	assert.Less(t, next.StartAt, first.StartAt+5.0, "schedule must rewind after interrupt")
}

func TestVoiceRelayUpstreamAudioAndTranscript(t *testing.T) {
	app := newFakeApp()
	conn, cb, session := startRelay(t, app)

	writeFrame(t, conn, clientFrame{Type: "audio", Data: "bWljLXBjbQ=="})
	require.Eventually(t, func() bool { return session.sentCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	cb.OnTranscript("see you tomorrow")
	frame := readFrame(t, conn)
	assert.Equal(t, "transcript", frame.Type)
	assert.Equal(t, "see you tomorrow", frame.Text)

	writeFrame(t, conn, clientFrame{Type: "stop"})
	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.closed
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return len(app.ingestedTranscripts()) == 1 },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "see you tomorrow", app.ingestedTranscripts()[0])
}

func TestVoiceRelayDialFailure(t *testing.T) {
	app := newFakeApp()
	dial := func(ctx context.Context, settings types.UserSettings, cb voice.Callbacks) (VoiceSession, error) {
		return nil, errors.New("backend unreachable")
	}
	srv := httptest.NewServer(NewVoiceHandler(app, dial))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil) //nolint:staticcheck
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
}
