package handlers

import (
	"github.com/scrypster/buddy/internal/gateway"
	"github.com/scrypster/buddy/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// codeCooldown marks the 429 produced by the gateway cooldown, so the UI
// can show a "thinking too fast" notice instead of a generic rate-limit
// error.
const codeCooldown = "NEURAL_COOLDOWN"

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Message string               `json:"message"`
	Mode    gateway.ResponseMode `json:"mode,omitempty"`
}

// ChatResponse is the response body for POST /api/chat: both persisted
// sides of the exchange.
type ChatResponse struct {
	Reply types.Message `json:"reply"`
}

// CreateMemoryRequest is the request body for POST /api/memories.
type CreateMemoryRequest struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// SyncCodeResponse is the response body for GET /api/settings/sync-code.
type SyncCodeResponse struct {
	Code string `json:"code"`
}

// ImportSyncCodeRequest is the request body for POST /api/settings/import.
type ImportSyncCodeRequest struct {
	Code string `json:"code"`
}
