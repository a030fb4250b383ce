package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

// liveStub is a minimal in-process stand-in for the live endpoint: it
// acknowledges setup, then replays a scripted sequence of server frames.
type liveStub struct {
	t      *testing.T
	frames []string
	setup  chan setupMessage
	audio  chan realtimeInput
}

func newLiveStub(t *testing.T, frames ...string) *liveStub {
	return &liveStub{
		t:      t,
		frames: frames,
		setup:  make(chan setupMessage, 1),
		audio:  make(chan realtimeInput, 16),
	}
}

func (s *liveStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil) //nolint:staticcheck
	if err != nil {
		s.t.Errorf("accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck

	ctx := r.Context()

	_, payload, err := conn.Read(ctx)
	if err != nil {
		s.t.Errorf("read setup: %v", err)
		return
	}
	var setup setupMessage
	if err := json.Unmarshal(payload, &setup); err != nil {
		s.t.Errorf("unmarshal setup: %v", err)
		return
	}
	s.setup <- setup

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"setupComplete":{}}`)); err != nil {
		return
	}
	for _, frame := range s.frames {
		if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
			return
		}
	}

	// Drain client frames until the session hangs up.
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var input realtimeInput
		if err := json.Unmarshal(payload, &input); err == nil && input.RealtimeInput.Audio.Data != "" {
			s.audio <- input
		}
	}
}

func dialStub(t *testing.T, stub *liveStub, cb Callbacks) *Session {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := Dial(ctx, SessionConfig{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		Model:             "audio-model",
		VoiceName:         "Zephyr",
		SystemInstruction: "You are Buddy.",
	}, cb)
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestSessionSetupFrame(t *testing.T) {
	stub := newLiveStub(t)
	opened := make(chan struct{}, 1)
	dialStub(t, stub, Callbacks{OnOpen: func() { opened <- struct{}{} }})

	select {
	case setup := <-stub.setup:
		if setup.Setup.Model != "models/audio-model" {
			t.Errorf("model = %q", setup.Setup.Model)
		}
		mods := setup.Setup.GenerationConfig.ResponseModalities
		if len(mods) != 1 || mods[0] != "AUDIO" {
			t.Errorf("modalities = %v, want [AUDIO]", mods)
		}
		voice := setup.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName
		if voice != "Zephyr" {
			t.Errorf("voice = %q, want Zephyr", voice)
		}
		if setup.Setup.SystemInstruction == nil || len(setup.Setup.SystemInstruction.Parts) == 0 ||
			setup.Setup.SystemInstruction.Parts[0].Text != "You are Buddy." {
			t.Error("system instruction not carried in setup frame")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for setup frame")
	}

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}
}

func TestSessionDispatchesServerEvents(t *testing.T) {
	stub := newLiveStub(t,
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAAA"}}]}}}`,
		`{"serverContent":{"outputTranscription":{"text":"hello "}}}`,
		`{"serverContent":{"interrupted":true}}`,
		`{"serverContent":{"turnComplete":true}}`,
	)

	audio := make(chan string, 1)
	transcript := make(chan string, 1)
	interrupted := make(chan struct{}, 1)
	turnDone := make(chan struct{}, 1)

	dialStub(t, stub, Callbacks{
		OnAudio:       func(data string) { audio <- data },
		OnTranscript:  func(text string) { transcript <- text },
		OnInterrupted: func() { interrupted <- struct{}{} },
		OnTurnDone:    func() { turnDone <- struct{}{} },
	})

	wait := func(name string, ch interface{}) {
		t.Helper()
		timeout := time.After(5 * time.Second)
		switch c := ch.(type) {
		case chan string:
			select {
			case <-c:
			case <-timeout:
				t.Fatalf("timed out waiting for %s", name)
			}
		case chan struct{}:
			select {
			case <-c:
			case <-timeout:
				t.Fatalf("timed out waiting for %s", name)
			}
		}
	}

	select {
	case data := <-audio:
		if data != "AAAA" {
			t.Errorf("audio = %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for audio")
	}
	wait("transcript", transcript)
	wait("interrupted", interrupted)
	wait("turn complete", turnDone)
}

func TestSessionSendAudio(t *testing.T) {
	stub := newLiveStub(t)
	session := dialStub(t, stub, Callbacks{})

	if err := session.SendAudio(context.Background(), "c29tZXBjbQ=="); err != nil {
		t.Fatalf("SendAudio error = %v", err)
	}

	select {
	case input := <-stub.audio:
		if input.RealtimeInput.Audio.Data != "c29tZXBjbQ==" {
			t.Errorf("data = %q", input.RealtimeInput.Audio.Data)
		}
		if input.RealtimeInput.Audio.MimeType != UpstreamMIME {
			t.Errorf("mime = %q, want %q", input.RealtimeInput.Audio.MimeType, UpstreamMIME)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for audio frame")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	stub := newLiveStub(t)
	closed := make(chan error, 1)
	session := dialStub(t, stub, Callbacks{OnClose: func(err error) { closed <- err }})

	if err := session.Close(); err != nil {
		t.Errorf("first Close error = %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("OnClose err = %v, want nil for local close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

func TestToWebsocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://generativelanguage.googleapis.com", "wss://generativelanguage.googleapis.com"},
		{"http://127.0.0.1:9999", "ws://127.0.0.1:9999"},
		{"wss://already.ws", "wss://already.ws"},
	}
	for _, tt := range tests {
		if got := toWebsocketURL(tt.in); got != tt.want {
			t.Errorf("toWebsocketURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
