// Package types defines the core data model shared across the Buddy
// application: user settings, memories, chat messages, and the structured
// skill results produced by the AI gateway.
package types

import (
	"encoding/json"
	"time"
)

// Tone is the conversational persona applied to every assistant response.
type Tone string

// Valid tones. The zero value is not valid; callers should fall back to
// DefaultSettings when a stored tone fails validation.
const (
	ToneFriendly     Tone = "Friendly"
	ToneProfessional Tone = "Professional"
	ToneConcise      Tone = "Concise"
	ToneEnthusiastic Tone = "Enthusiastic"
)

// Valid reports whether t is one of the known tones.
func (t Tone) Valid() bool {
	switch t {
	case ToneFriendly, ToneProfessional, ToneConcise, ToneEnthusiastic:
		return true
	}
	return false
}

// Theme is the UI color scheme preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// UserSettings is the singleton per-installation settings record.
// It is stored under a fixed key rather than a generated id.
type UserSettings struct {
	Name      string   `json:"name"`
	Tone      Tone     `json:"tone"`
	Interests []string `json:"interests"`
	Theme     Theme    `json:"theme"`
	VoiceName string   `json:"voiceName,omitempty"`
}

// DefaultSettings returns the hard-coded settings used whenever no stored
// record exists or a stored record fails to load.
func DefaultSettings() UserSettings {
	return UserSettings{
		Name:      "Friend",
		Tone:      ToneFriendly,
		Interests: []string{"Technology", "Learning"},
		Theme:     ThemeDark,
		VoiceName: "Zephyr",
	}
}

// DefaultMemoryTag is assigned to memories created without explicit tags,
// which in practice means facts the assistant extracted on its own.
const DefaultMemoryTag = "Auto-learned"

// Memory is a single remembered fact. Memories are immutable after
// creation and deleted individually by id. Content uniqueness is enforced
// by the application shell, not the storage layer.
type Memory struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Timestamp int64    `json:"timestamp"` // milliseconds since epoch
	Tags      []string `json:"tags"`
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ResultType discriminates the shape of a gateway result and of the skill
// payload attached to an assistant message.
type ResultType string

const (
	ResultText  ResultType = "text"
	ResultImage ResultType = "image"
	ResultQR    ResultType = "qr"
	ResultMap   ResultType = "map"
	ResultPlan  ResultType = "plan"
)

// Source is a grounding citation attached to a backend response.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// SkillPayload is the structured side-channel carried by messages whose
// response was rendered by a dedicated widget instead of plain text.
// Data is kept opaque here; the concrete shapes live with the gateway.
type SkillPayload struct {
	Type    ResultType      `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Sources []Source        `json:"sources,omitempty"`
}

// Message is a single chat turn, persisted individually for both user and
// assistant roles.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Timestamp int64         `json:"timestamp"` // milliseconds since epoch
	Skill     *SkillPayload `json:"skill,omitempty"`
}

// AppState aggregates the full in-memory application state: the settings
// singleton, memories ordered newest-first, and chat history ordered by
// timestamp ascending.
type AppState struct {
	Settings    UserSettings `json:"settings"`
	Memories    []Memory     `json:"memories"`
	ChatHistory []Message    `json:"chatHistory"`
}

// NowMillis returns the current wall clock in milliseconds since epoch,
// the timestamp unit used throughout the data model.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
