// Package shell wires the persistence layer and the AI gateway into the
// application core: it owns the in-memory state snapshot, orchestrates a
// chat turn end to end, and runs background fact extraction after each
// exchange.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scrypster/buddy/internal/gateway"
	"github.com/scrypster/buddy/internal/storage"
	"github.com/scrypster/buddy/pkg/types"
)

// extractTimeout bounds the background fact-extraction call so shutdown
// never waits on a hung request.
const extractTimeout = 30 * time.Second

// Assistant is the slice of the AI gateway the shell depends on. Tests
// substitute a fake.
type Assistant interface {
	ProcessRequest(ctx context.Context, req gateway.Request) (*gateway.Result, error)
	ExtractMemorableFact(ctx context.Context, text string) *gateway.Fact
}

// App is the application core. Construct with New, then call Init before
// serving requests.
type App struct {
	store storage.Store
	gw    Assistant
	log   *logrus.Entry

	mu    sync.RWMutex
	state types.AppState

	bg sync.WaitGroup
}

// New creates the application shell over a store and an assistant.
func New(store storage.Store, gw Assistant) *App {
	return &App{
		store: store,
		gw:    gw,
		log:   logrus.WithField("component", "shell"),
	}
}

// Init hydrates the in-memory state from storage. A missing or failed
// settings load falls back to defaults with a warning; the app always
// comes up usable.
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	settings, err := a.store.GetSettings(ctx)
	if err != nil {
		a.log.WithError(err).Warn("settings load failed, using defaults")
	}
	if settings == nil || !settings.Tone.Valid() {
		a.state.Settings = types.DefaultSettings()
	} else {
		a.state.Settings = *settings
	}

	memories, err := a.store.GetAllMemories(ctx)
	if err != nil {
		return fmt.Errorf("failed to load memories: %w", err)
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].Timestamp > memories[j].Timestamp })
	a.state.Memories = memories

	history, err := a.store.GetChatHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chat history: %w", err)
	}
	a.state.ChatHistory = history

	return nil
}

// State returns a snapshot of the current application state. Slices are
// copied so callers cannot race the shell's own mutations.
func (a *App) State() types.AppState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snapshot := types.AppState{Settings: a.state.Settings}
	snapshot.Memories = append([]types.Memory(nil), a.state.Memories...)
	snapshot.ChatHistory = append([]types.Message(nil), a.state.ChatHistory...)
	return snapshot
}

// Settings returns the current settings singleton.
func (a *App) Settings() types.UserSettings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Settings
}

// UpdateSettings validates and persists new settings, then updates the
// snapshot.
func (a *App) UpdateSettings(ctx context.Context, settings types.UserSettings) error {
	if strings.TrimSpace(settings.Name) == "" {
		return fmt.Errorf("%w: name is required", storage.ErrInvalidInput)
	}
	if !settings.Tone.Valid() {
		return fmt.Errorf("%w: unknown tone %q", storage.ErrInvalidInput, settings.Tone)
	}

	if err := a.store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	a.mu.Lock()
	a.state.Settings = settings
	a.mu.Unlock()
	return nil
}

// AddMemory stores a new memory unless one with identical content already
// exists. Dedupe is by exact content match after whitespace trimming;
// case-variant contents are distinct facts. Untagged memories get the
// auto-learned tag. It returns the stored record, or nil when
// deduplicated away.
func (a *App) AddMemory(ctx context.Context, content string, tags []string) (*types.Memory, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: memory content is empty", storage.ErrInvalidInput)
	}

	a.mu.Lock()
	for _, existing := range a.state.Memories {
		if existing.Content == content {
			a.mu.Unlock()
			return nil, nil
		}
	}
	a.mu.Unlock()

	if len(tags) == 0 {
		tags = []string{types.DefaultMemoryTag}
	}
	memory := types.Memory{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: types.NowMillis(),
		Tags:      tags,
	}

	if err := a.store.AddMemory(ctx, memory); err != nil {
		return nil, fmt.Errorf("failed to save memory: %w", err)
	}

	a.mu.Lock()
	a.state.Memories = append([]types.Memory{memory}, a.state.Memories...)
	a.mu.Unlock()

	return &memory, nil
}

// DeleteMemory removes a memory by id. Deleting an unknown id is not an
// error.
func (a *App) DeleteMemory(ctx context.Context, id string) error {
	if err := a.store.DeleteMemory(ctx, id); err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}

	a.mu.Lock()
	kept := a.state.Memories[:0]
	for _, m := range a.state.Memories {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	a.state.Memories = kept
	a.mu.Unlock()
	return nil
}

// SendMessage runs one chat turn: the prompt goes to the assistant with
// the current context, both sides of the exchange are persisted, and fact
// extraction runs in the background. The only error surfaced is the
// gateway cooldown; backend failures arrive as normal assistant text.
func (a *App) SendMessage(ctx context.Context, prompt string, mode gateway.ResponseMode) (*types.Message, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is empty", storage.ErrInvalidInput)
	}

	a.mu.RLock()
	req := gateway.Request{
		Prompt:   prompt,
		History:  append([]types.Message(nil), a.state.ChatHistory...),
		Settings: a.state.Settings,
		Memories: append([]types.Memory(nil), a.state.Memories...),
		Mode:     mode,
	}
	a.mu.RUnlock()

	result, err := a.gw.ProcessRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	userMsg := types.Message{
		ID:        uuid.NewString(),
		Role:      types.RoleUser,
		Content:   prompt,
		Timestamp: types.NowMillis(),
	}
	assistantMsg := types.Message{
		ID:        uuid.NewString(),
		Role:      types.RoleAssistant,
		Content:   result.Text,
		Timestamp: userMsg.Timestamp + 1,
		Skill:     skillPayload(result),
	}

	if err := a.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}
	if err := a.store.SaveMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	a.mu.Lock()
	a.state.ChatHistory = append(a.state.ChatHistory, userMsg, assistantMsg)
	a.mu.Unlock()

	a.extractInBackground(prompt)
	return &assistantMsg, nil
}

// skillPayload converts a non-text result into the persisted side
// channel. Plain text with citations still gets a payload so the sources
// survive a reload.
func skillPayload(result *gateway.Result) *types.SkillPayload {
	if result.Type == types.ResultText && len(result.Sources) == 0 {
		return nil
	}
	payload := &types.SkillPayload{Type: result.Type, Sources: result.Sources}
	if result.SkillData != nil {
		if data, err := json.Marshal(result.SkillData); err == nil {
			payload.Data = data
		}
	}
	return payload
}

// extractInBackground asks the assistant for a memorable fact without
// blocking the chat turn. Failures are logged and dropped.
func (a *App) extractInBackground(text string) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), extractTimeout)
		defer cancel()

		fact := a.gw.ExtractMemorableFact(ctx, text)
		if fact == nil {
			return
		}
		if _, err := a.AddMemory(ctx, fact.Fact, fact.Tags); err != nil {
			a.log.WithError(err).Warn("failed to store extracted fact")
		}
	}()
}

// IngestTranscript runs fact extraction over the tail of a finished voice
// session.
func (a *App) IngestTranscript(tail string) {
	if strings.TrimSpace(tail) == "" {
		return
	}
	a.extractInBackground(tail)
}

// ClearChat wipes the conversation, leaving settings and memories alone.
func (a *App) ClearChat(ctx context.Context) error {
	if err := a.store.ClearChat(ctx); err != nil {
		return fmt.Errorf("failed to clear chat: %w", err)
	}
	a.mu.Lock()
	a.state.ChatHistory = nil
	a.mu.Unlock()
	return nil
}

// Nuke destroys all persisted data and resets the in-memory state to
// factory defaults. The store is unusable afterwards; the caller is
// expected to shut down or rebuild it.
func (a *App) Nuke(ctx context.Context) error {
	if err := a.store.Nuke(ctx); err != nil {
		return fmt.Errorf("failed to nuke storage: %w", err)
	}
	a.mu.Lock()
	a.state = types.AppState{Settings: types.DefaultSettings()}
	a.mu.Unlock()
	return nil
}

// Close waits for background extraction to finish and closes the store.
func (a *App) Close() error {
	a.bg.Wait()
	return a.store.Close()
}
