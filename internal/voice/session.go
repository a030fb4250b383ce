package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

// livePath is the bidirectional streaming endpoint of the generative
// backend.
const livePath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const writeTimeout = 10 * time.Second

// SessionConfig configures one duplex voice session.
type SessionConfig struct {
	APIKey            string
	BaseURL           string // http(s) base of the backend; rewritten to ws(s)
	Model             string
	VoiceName         string
	SystemInstruction string
}

// Callbacks receive server events from the session's read loop. All
// callbacks are invoked from a single goroutine; nil callbacks are
// skipped.
type Callbacks struct {
	OnOpen        func()                // setup acknowledged, audio may flow
	OnAudio       func(data string)     // base64 24kHz PCM chunk
	OnTranscript  func(text string)     // output transcription fragment
	OnInterrupted func()                // model speech was barged over
	OnTurnDone    func()                // model finished a speaking turn
	OnClose       func(err error)       // read loop ended; nil on clean close
}

// Session is one live duplex audio connection. Dial opens it; Close is
// idempotent and safe from any goroutine.
type Session struct {
	conn      *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	log       *logrus.Entry
	closeOnce sync.Once
	done      chan struct{}
}

// setupMessage is the first client frame, fixing model, voice, modality,
// and persona for the whole session.
type setupMessage struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
			SpeechConfig       struct {
				VoiceConfig struct {
					PrebuiltVoiceConfig struct {
						VoiceName string `json:"voiceName"`
					} `json:"prebuiltVoiceConfig"`
				} `json:"voiceConfig"`
			} `json:"speechConfig"`
		} `json:"generationConfig"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction,omitempty"`
		OutputAudioTranscription struct{} `json:"outputAudioTranscription"`
	} `json:"setup"`
}

// realtimeInput is the client frame carrying one microphone chunk.
type realtimeInput struct {
	RealtimeInput struct {
		Audio struct {
			Data     string `json:"data"`
			MimeType string `json:"mimeType"`
		} `json:"audio"`
	} `json:"realtimeInput"`
}

// serverMessage is the union of server frames the session cares about.
type serverMessage struct {
	SetupComplete *struct{} `json:"setupComplete,omitempty"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"modelTurn,omitempty"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription,omitempty"`
		Interrupted  bool `json:"interrupted,omitempty"`
		TurnComplete bool `json:"turnComplete,omitempty"`
	} `json:"serverContent,omitempty"`
}

// Dial connects to the live endpoint, sends the setup frame, and starts
// the read loop. The context governs the handshake only; the session
// itself lives until Close or a read error.
func Dial(ctx context.Context, cfg SessionConfig, cb Callbacks) (*Session, error) {
	wsURL := toWebsocketURL(cfg.BaseURL) + livePath + "?key=" + cfg.APIKey

	conn, _, err := websocket.Dial(ctx, wsURL, nil) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	if err != nil {
		return nil, fmt.Errorf("failed to dial live endpoint: %w", err)
	}
	// Audio frames are large relative to the library default.
	conn.SetReadLimit(1 << 22)

	s := &Session{
		conn: conn,
		log:  logrus.WithField("component", "voice"),
		done: make(chan struct{}),
	}

	if err := s.sendSetup(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}

	go s.readLoop(cb)
	return s, nil
}

// toWebsocketURL rewrites an http(s) base URL to its ws(s) counterpart.
func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func (s *Session) sendSetup(ctx context.Context, cfg SessionConfig) error {
	var msg setupMessage
	msg.Setup.Model = "models/" + cfg.Model
	msg.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.VoiceName
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		}{Parts: []struct {
			Text string `json:"text"`
		}{{Text: cfg.SystemInstruction}}}
	}

	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("failed to send session setup: %w", err)
	}
	return nil
}

// SendAudio forwards one base64 microphone chunk upstream.
func (s *Session) SendAudio(ctx context.Context, data string) error {
	var msg realtimeInput
	msg.RealtimeInput.Audio.Data = data
	msg.RealtimeInput.Audio.MimeType = UpstreamMIME
	return s.writeJSON(ctx, msg)
}

func (s *Session) writeJSON(ctx context.Context, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, payload) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
}

// readLoop dispatches server frames to the callbacks until the
// connection drops.
func (s *Session) readLoop(cb Callbacks) {
	var closeErr error
	defer func() {
		s.Close()
		if cb.OnClose != nil {
			cb.OnClose(closeErr)
		}
	}()

	for {
		_, payload, err := s.conn.Read(context.Background()) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure { //nolint:staticcheck
				select {
				case <-s.done:
					// Closed locally; not an error.
				default:
					closeErr = err
				}
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.WithError(err).Debug("unparsable server frame")
			continue
		}

		if msg.SetupComplete != nil && cb.OnOpen != nil {
			cb.OnOpen()
		}

		sc := msg.ServerContent
		if sc == nil {
			continue
		}
		if sc.Interrupted && cb.OnInterrupted != nil {
			cb.OnInterrupted()
		}
		if sc.OutputTranscription != nil && cb.OnTranscript != nil {
			cb.OnTranscript(sc.OutputTranscription.Text)
		}
		if sc.ModelTurn != nil && cb.OnAudio != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					cb.OnAudio(part.InlineData.Data)
				}
			}
		}
		if sc.TurnComplete && cb.OnTurnDone != nil {
			cb.OnTurnDone()
		}
	}
}

// Close tears the connection down. Safe to call multiple times and
// concurrently with the read loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	})
	return nil
}
