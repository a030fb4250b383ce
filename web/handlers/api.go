package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/buddy/internal/gateway"
	"github.com/scrypster/buddy/internal/storage"
	"github.com/scrypster/buddy/pkg/types"
)

// App is the application-core dependency of the REST handlers. The shell
// satisfies it; tests substitute a fake.
type App interface {
	State() types.AppState
	Settings() types.UserSettings
	UpdateSettings(ctx context.Context, settings types.UserSettings) error
	AddMemory(ctx context.Context, content string, tags []string) (*types.Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	SendMessage(ctx context.Context, prompt string, mode gateway.ResponseMode) (*types.Message, error)
	ClearChat(ctx context.Context) error
	Nuke(ctx context.Context) error
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	app App
	log *logrus.Entry
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(app App) *APIHandlers {
	return &APIHandlers{
		app: app,
		log: logrus.WithField("component", "api"),
	}
}

// Chat handles POST /api/chat - run one conversational turn.
func (h *APIHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.Mode == "" {
		req.Mode = gateway.ModeStandard
	}

	reply, err := h.app.SendMessage(r.Context(), req.Message, req.Mode)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrCooldownActive):
			respondJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error: "neural cooldown active",
				Code:  codeCooldown,
			})
		case errors.Is(err, storage.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, "invalid chat request", err)
		default:
			respondError(w, http.StatusInternalServerError, "failed to process message", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, ChatResponse{Reply: *reply})
}

// GetSettings handles GET /api/settings.
func (h *APIHandlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.app.Settings())
}

// PostSettings handles POST /api/settings - replace the settings singleton.
func (h *APIHandlers) PostSettings(w http.ResponseWriter, r *http.Request) {
	var settings types.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	if err := h.app.UpdateSettings(r.Context(), settings); err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid settings", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to save settings", err)
		return
	}

	respondJSON(w, http.StatusOK, settings)
}

// GetSyncCode handles GET /api/settings/sync-code - export the current
// settings as a portable code.
func (h *APIHandlers) GetSyncCode(w http.ResponseWriter, r *http.Request) {
	code := storage.GenerateSyncCode(h.app.Settings())
	respondJSON(w, http.StatusOK, SyncCodeResponse{Code: code})
}

// ImportSyncCode handles POST /api/settings/import - replace settings from
// a sync code. An undecodable code is a 400, never a crash.
func (h *APIHandlers) ImportSyncCode(w http.ResponseWriter, r *http.Request) {
	var req ImportSyncCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	settings := storage.ImportSyncCode(req.Code)
	if settings == nil {
		respondError(w, http.StatusBadRequest, "invalid sync code", nil)
		return
	}

	if err := h.app.UpdateSettings(r.Context(), *settings); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to apply sync code", err)
		return
	}
	respondJSON(w, http.StatusOK, *settings)
}

// ListMemories handles GET /api/memories - all memories, newest first.
func (h *APIHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.app.State().Memories)
}

// CreateMemory handles POST /api/memories.
func (h *APIHandlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req CreateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	memory, err := h.app.AddMemory(r.Context(), req.Content, req.Tags)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid memory", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to save memory", err)
		return
	}
	if memory == nil {
		// Duplicate content; nothing stored.
		respondJSON(w, http.StatusOK, ErrorResponse{Error: "duplicate memory", Code: "DUPLICATE"})
		return
	}

	respondJSON(w, http.StatusCreated, memory)
}

// DeleteMemory handles DELETE /api/memories/{id}.
func (h *APIHandlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	if err := h.app.DeleteMemory(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete memory", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetChatHistory handles GET /api/chat/history.
func (h *APIHandlers) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.app.State().ChatHistory)
}

// ClearChat handles DELETE /api/chat.
func (h *APIHandlers) ClearChat(w http.ResponseWriter, r *http.Request) {
	if err := h.app.ClearChat(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clear chat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Nuke handles POST /api/nuke - destroy all persisted data.
func (h *APIHandlers) Nuke(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Nuke(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to nuke storage", err)
		return
	}
	h.log.Warn("all persisted data destroyed")
	respondJSON(w, http.StatusOK, map[string]string{"status": "nuked"})
}

// Helper functions

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// If encoding fails, log but don't try to write another response
		// (headers already sent)
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
