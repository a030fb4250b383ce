// Package server provides HTTP server initialization and lifecycle
// management for the Buddy web app.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/buddy/internal/config"
	"github.com/scrypster/buddy/internal/gateway"
	"github.com/scrypster/buddy/internal/shell"
	"github.com/scrypster/buddy/internal/voice"
	"github.com/scrypster/buddy/pkg/types"
	"github.com/scrypster/buddy/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server over the application
// shell and gateway. It returns the actual listen address (useful for
// testing with port 0). The server shuts down when ctx is canceled.
func Start(ctx context.Context, cfg *config.Config, app *shell.App, gw *gateway.Gateway) (string, error) {
	log := logrus.WithField("component", "server")

	mux := http.NewServeMux()
	apiHandlers := handlers.NewAPIHandlers(app)

	// Rate limiter (10 req/sec, burst of 20)
	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/chat", apiHandlers.Chat)
	apiMux.HandleFunc("GET /api/chat/history", apiHandlers.GetChatHistory)
	apiMux.HandleFunc("DELETE /api/chat", apiHandlers.ClearChat)
	apiMux.HandleFunc("GET /api/settings", apiHandlers.GetSettings)
	apiMux.HandleFunc("POST /api/settings", apiHandlers.PostSettings)
	apiMux.HandleFunc("GET /api/settings/sync-code", apiHandlers.GetSyncCode)
	apiMux.HandleFunc("POST /api/settings/import", apiHandlers.ImportSyncCode)
	apiMux.HandleFunc("GET /api/memories", apiHandlers.ListMemories)
	apiMux.HandleFunc("POST /api/memories", apiHandlers.CreateMemory)
	apiMux.HandleFunc("DELETE /api/memories/{id}", apiHandlers.DeleteMemory)
	apiMux.HandleFunc("POST /api/nuke", apiHandlers.Nuke)

	// Health endpoint — no auth required, used by monitoring
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// Voice relay (no auth required - origin validation handles security)
	if gw != nil {
		dial := func(ctx context.Context, settings types.UserSettings, cb voice.Callbacks) (handlers.VoiceSession, error) {
			return gw.ConnectVoice(ctx, settings, cb)
		}
		mux.Handle("/ws/voice", handlers.NewVoiceHandler(app, dial))
	}

	// Static files and index page
	basePath := findBasePath()
	fs := http.FileServer(http.Dir(basePath + "/web/static"))
	mux.Handle("/static/", http.StripPrefix("/static/", fs))
	indexPath := basePath + "/web/templates/index.html"
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, indexPath)
	})

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("server shutdown error")
		}
	}()

	return actualAddr, nil
}

// findBasePath returns the base path for static assets and templates.
// When running from cmd/buddy-web, we need to go up two directories.
// When running tests, we may already be in the project root.
func findBasePath() string {
	if _, err := os.Stat("web/templates/index.html"); err == nil {
		return "."
	}
	if _, err := os.Stat("../web/templates/index.html"); err == nil {
		return ".."
	}
	if _, err := os.Stat("../../web/templates/index.html"); err == nil {
		return "../.."
	}
	return "."
}
