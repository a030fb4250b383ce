// Package gateway turns user utterances plus conversation and memory
// context into replies from an external generative backend: plain text,
// grounded maps answers, or structured skill results (plans, images, QR
// codes). It owns the request cooldown, intent routing, retry policy, and
// the duplex voice session entry point.
//
// The gateway never lets a backend failure propagate to its callers as an
// exception-like error: apart from the cooldown rejection, every failure
// is folded into a normal text result.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/buddy/internal/voice"
	"github.com/scrypster/buddy/pkg/types"
)

// ErrCooldownActive is returned when a request arrives within the
// cooldown interval of the previous one. It is the only error
// ProcessRequest ever returns, so callers can map it to a distinct
// cooldown notice instead of a generic failure.
var ErrCooldownActive = errors.New("neural cooldown active: please wait before sending another command")

// ResponseMode selects the effort level for the default path.
type ResponseMode string

const (
	ModeFast     ResponseMode = "fast"
	ModeStandard ResponseMode = "standard"
	ModeThink    ResponseMode = "think"
)

// thinkBudget is the extended reasoning budget requested in think mode.
const thinkBudget = 32768

// mapsKeywords mark a prompt as location-seeking.
var mapsKeywords = []string{"near me", "nearby", "location", "find a"}

// Config holds gateway configuration. Clock and Sleep are injectable so
// tests control time without global state; both default to the real
// clock.
type Config struct {
	FlashModel string // skills and fact extraction
	FastModel  string // fast response mode
	FullModel  string // standard/think modes
	MapsModel  string // location-aware model
	ImageModel string // image synthesis

	VoiceModel   string // real-time audio model
	DefaultVoice string // voice identity when settings carry none

	Cooldown time.Duration // minimum interval between prompts (default: 1.5s)

	Clock    func() time.Time    // test hook; defaults to time.Now
	Sleep    func(time.Duration) // test hook for retry backoff; defaults to time.Sleep
	Location LocationProvider    // optional coordinates source for maps bias
}

// Request carries one user utterance with its full context.
type Request struct {
	Prompt   string
	History  []types.Message
	Settings types.UserSettings
	Memories []types.Memory
	Mode     ResponseMode
}

// Result is the gateway's uniform response shape.
type Result struct {
	Text      string           `json:"text"`
	Type      types.ResultType `json:"type"`
	Sources   []types.Source   `json:"sources,omitempty"`
	SkillData interface{}      `json:"skillData,omitempty"`
}

// Fact is one memorable fact extracted from chat text.
type Fact struct {
	Fact string   `json:"fact"`
	Tags []string `json:"tags"`
}

// factNoneSentinel is the backend's way of saying "nothing worth
// remembering".
const factNoneSentinel = "NONE"

// Gateway is the AI gateway service. Construct with New; the zero value
// is not usable.
type Gateway struct {
	client *Client
	cfg    Config
	retry  retrier
	log    *logrus.Entry

	mu          sync.Mutex
	lastRequest time.Time
}

// New creates a gateway over the given backend client.
func New(client *Client, cfg Config) *Gateway {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 1500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	retry := newRetrier()
	if cfg.Sleep != nil {
		retry.sleep = cfg.Sleep
	}

	return &Gateway{
		client: client,
		cfg:    cfg,
		retry:  retry,
		log:    logrus.WithField("component", "gateway"),
	}
}

// ProcessRequest is the primary request path: cooldown check, then the
// ordered intent rules, then the default conversational path. Backend
// failures come back as error-flavored text results, never as errors.
func (g *Gateway) ProcessRequest(ctx context.Context, req Request) (*Result, error) {
	now := g.cfg.Clock()

	g.mu.Lock()
	if !g.lastRequest.IsZero() && now.Sub(g.lastRequest) < g.cfg.Cooldown {
		g.mu.Unlock()
		return nil, ErrCooldownActive
	}
	// The timestamp advances even when routing later fails; the cooldown
	// meters submissions, not successes.
	g.lastRequest = now
	g.mu.Unlock()

	lowPrompt := strings.ToLower(req.Prompt)
	for _, rule := range intentRules {
		if !rule.matches(lowPrompt) {
			continue
		}
		if result, handled := rule.handle(ctx, g, req.Prompt); handled {
			g.log.WithField("intent", rule.name).Debug("skill intent handled")
			return result, nil
		}
	}

	return g.converse(ctx, req, lowPrompt), nil
}

// converse is the default path: model selection, tool attachment, retried
// backend call.
func (g *Gateway) converse(ctx context.Context, req Request, lowPrompt string) *Result {
	isMapsQuery := false
	for _, kw := range mapsKeywords {
		if strings.Contains(lowPrompt, kw) {
			isMapsQuery = true
			break
		}
	}

	model := g.cfg.FullModel
	switch {
	case isMapsQuery:
		model = g.cfg.MapsModel
	case req.Mode == ModeFast:
		model = g.cfg.FastModel
	}

	genReq := &GenerateRequest{
		Model:    model,
		Contents: buildContents(req.History, req.Prompt),
		SystemInstruction: &Content{
			Parts: []Part{{Text: buildSystemInstruction(req.Settings, req.Memories)}},
		},
		Tools: []Tool{{GoogleSearch: &struct{}{}}},
	}

	if isMapsQuery {
		genReq.Tools = append(genReq.Tools, Tool{GoogleMaps: &struct{}{}})
		if pos := resolvePosition(ctx, g.cfg.Location); pos != nil {
			genReq.ToolConfig = &ToolConfig{
				RetrievalConfig: &RetrievalConfig{LatLng: pos},
			}
		}
	}

	if req.Mode == ModeThink {
		genReq.GenerationConfig = &GenerationConfig{
			ThinkingConfig: &ThinkingConfig{ThinkingBudget: thinkBudget},
		}
	}

	resp, err := g.retry.do(ctx, func() (*GenerateResponse, error) {
		return g.client.GenerateContent(ctx, genReq)
	})
	if err != nil {
		g.log.WithError(err).Warn("backend request failed")
		return &Result{Text: "Neural Error: " + err.Error(), Type: types.ResultText}
	}

	text := resp.Text()
	if text == "" {
		text = "Neural connection timeout."
	}

	resultType := types.ResultText
	if isMapsQuery {
		resultType = types.ResultMap
	}

	return &Result{Text: text, Type: resultType, Sources: resp.Sources()}
}

// ExtractMemorableFact asks the backend for at most one fact worth
// remembering from the given text. It is best-effort by contract: any
// failure, parse error, or the NONE sentinel yields nil, never an error.
func (g *Gateway) ExtractMemorableFact(ctx context.Context, text string) *Fact {
	resp, err := g.client.GenerateContent(ctx, &GenerateRequest{
		Model:            g.cfg.FlashModel,
		Contents:         []Content{{Role: "user", Parts: []Part{{Text: factPrompt(text)}}}},
		GenerationConfig: &GenerationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		g.log.WithError(err).Debug("fact extraction failed")
		return nil
	}

	var fact Fact
	if err := json.Unmarshal([]byte(extractJSON(resp.Text())), &fact); err != nil {
		g.log.WithError(err).Debug("fact response unparsable")
		return nil
	}
	if fact.Fact == "" || fact.Fact == factNoneSentinel {
		return nil
	}
	return &fact
}

// ConnectVoice opens a duplex live-audio session configured with the
// user's selected voice identity and a short name/tone persona prompt.
// The caller owns the session lifecycle.
func (g *Gateway) ConnectVoice(ctx context.Context, settings types.UserSettings, callbacks voice.Callbacks) (*voice.Session, error) {
	voiceName := settings.VoiceName
	if voiceName == "" {
		voiceName = g.cfg.DefaultVoice
	}

	clientCfg := g.client.Config()
	return voice.Dial(ctx, voice.SessionConfig{
		APIKey:            clientCfg.APIKey,
		BaseURL:           clientCfg.BaseURL,
		Model:             g.cfg.VoiceModel,
		VoiceName:         voiceName,
		SystemInstruction: voiceSystemInstruction(settings),
	}, callbacks)
}
