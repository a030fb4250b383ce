package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/buddy/internal/voice"
	"github.com/scrypster/buddy/pkg/types"
)

// VoiceSession is the upstream live-audio connection as the relay sees
// it. The gateway's session satisfies it.
type VoiceSession interface {
	SendAudio(ctx context.Context, data string) error
	Close() error
}

// VoiceDialer opens an upstream session for the given user settings.
type VoiceDialer func(ctx context.Context, settings types.UserSettings, cb voice.Callbacks) (VoiceSession, error)

// VoiceApp is the slice of the application shell the voice relay needs.
type VoiceApp interface {
	Settings() types.UserSettings
	IngestTranscript(tail string)
}

// clientFrame is a message from the browser: microphone audio or a stop
// request.
type clientFrame struct {
	Type string `json:"type"` // "audio" | "stop"
	Data string `json:"data,omitempty"`
}

// serverFrame is a message to the browser.
type serverFrame struct {
	Type    string  `json:"type"` // ready | audio | transcript | interrupted | turnComplete | error
	Data    string  `json:"data,omitempty"`
	StartAt float64 `json:"startAt,omitempty"` // playout offset in seconds
	Text    string  `json:"text,omitempty"`
	Message string  `json:"message,omitempty"`
}

// VoiceHandler relays duplex audio between the browser and the live
// backend: microphone chunks go up unmodified, synthesized speech comes
// back annotated with a gap-free playout offset, and the transcript tail
// feeds fact extraction when the session ends.
type VoiceHandler struct {
	app  VoiceApp
	dial VoiceDialer
	log  *logrus.Entry
}

// NewVoiceHandler creates the websocket voice relay.
func NewVoiceHandler(app VoiceApp, dial VoiceDialer) *VoiceHandler {
	return &VoiceHandler{
		app:  app,
		dial: dial,
		log:  logrus.WithField("component", "voice-relay"),
	}
}

// ServeHTTP handles GET /ws/voice.
func (h *VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil) //nolint:staticcheck
	if err != nil {
		h.log.WithError(err).Error("websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck

	ctx := r.Context()

	var writeMu sync.Mutex
	send := func(frame serverFrame) {
		payload, err := json.Marshal(frame)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = conn.Write(wctx, websocket.MessageText, payload) //nolint:staticcheck
	}

	started := time.Now()
	scheduler := voice.NewScheduler(func() time.Duration { return time.Since(started) })
	var transcript voice.Transcript

	session, err := h.dial(ctx, h.app.Settings(), voice.Callbacks{
		OnOpen: func() {
			send(serverFrame{Type: "ready"})
		},
		OnAudio: func(data string) {
			raw, err := voice.DecodeChunk(data)
			if err != nil {
				h.log.WithError(err).Debug("dropping malformed audio chunk")
				return
			}
			start, _ := scheduler.Schedule(voice.ChunkDuration(raw, voice.DownstreamSampleRate), nil)
			send(serverFrame{Type: "audio", Data: data, StartAt: start.Seconds()})
		},
		OnTranscript: func(text string) {
			transcript.Append(text)
			send(serverFrame{Type: "transcript", Text: text})
		},
		OnInterrupted: func() {
			scheduler.Interrupt()
			send(serverFrame{Type: "interrupted"})
		},
		OnTurnDone: func() {
			send(serverFrame{Type: "turnComplete"})
		},
		OnClose: func(err error) {
			if err != nil {
				send(serverFrame{Type: "error", Message: "voice session lost"})
			}
		},
	})
	if err != nil {
		h.log.WithError(err).Error("failed to open voice session")
		send(serverFrame{Type: "error", Message: "failed to reach voice backend"})
		return
	}
	defer func() {
		_ = session.Close()
		h.app.IngestTranscript(transcript.Tail())
	}()

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			h.log.WithError(err).Debug("unparsable client frame")
			continue
		}

		switch frame.Type {
		case "audio":
			if frame.Data == "" {
				continue
			}
			if err := session.SendAudio(ctx, frame.Data); err != nil {
				h.log.WithError(err).Warn("upstream audio write failed")
				send(serverFrame{Type: "error", Message: "voice session lost"})
				return
			}
		case "stop":
			return
		}
	}
}
