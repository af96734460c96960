// Package server provides HTTP server initialization and lifecycle management
// for the Mnemo API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/mnemograph/mnemo/internal/chat"
	"github.com/mnemograph/mnemo/internal/config"
	"github.com/mnemograph/mnemo/internal/memory"
	"github.com/mnemograph/mnemo/internal/pipeline"
	"github.com/mnemograph/mnemo/web/handlers"
)

// Services bundles the wired service layer the HTTP surface exposes.
type Services struct {
	Memories  *memory.Service
	History   *chat.HistoryService
	Chats     *chat.Processor
	Manifests pipeline.ManifestStore
	Executor  *pipeline.Executor
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// methodSwitch dispatches by HTTP method, responding 405 for anything else.
func methodSwitch(methods map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := methods[r.Method]; ok {
			h(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Start initializes and starts the HTTP server. It returns the actual address
// being listened on, which is useful for testing with port 0. The server
// shuts down gracefully when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, svc Services) (string, error) {
	mux := http.NewServeMux()
	api := handlers.NewAPIHandlers(svc.Memories, svc.History, svc.Chats, svc.Manifests, svc.Executor)

	apiMux := http.NewServeMux()

	// Memorygram routes
	apiMux.HandleFunc("/api/memorygrams", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet:  api.ListMemorygrams,
		http.MethodPost: api.CreateMemorygram,
	}))
	apiMux.HandleFunc("/api/memorygrams/search", methodSwitch(map[string]http.HandlerFunc{
		http.MethodPost: api.SearchMemorygrams,
	}))
	apiMux.HandleFunc("/api/memorygrams/{id}", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet:   api.GetMemorygram,
		http.MethodPatch: api.UpdateMemorygram,
	}))
	apiMux.HandleFunc("/api/memorygrams/{id}/associate", methodSwitch(map[string]http.HandlerFunc{
		http.MethodPost: api.AssociateMemorygrams,
	}))
	apiMux.HandleFunc("/api/memorygrams/{id}/relationships", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet: api.GetMemorygramRelationships,
	}))

	// Relationship routes
	apiMux.HandleFunc("/api/relationships", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet:  api.ListRelationships,
		http.MethodPost: api.CreateRelationship,
	}))
	apiMux.HandleFunc("/api/relationships/{id}", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet:    api.GetRelationship,
		http.MethodPatch:  api.UpdateRelationship,
		http.MethodDelete: api.DeleteRelationship,
	}))

	// Chat routes
	apiMux.HandleFunc("/api/chats", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet: api.ListChats,
	}))
	apiMux.HandleFunc("/api/chats/{chatId}/history", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet: api.GetChatHistory,
	}))
	apiMux.HandleFunc("/api/chats/{chatId}/messages", methodSwitch(map[string]http.HandlerFunc{
		http.MethodPost: api.PostChatMessage,
	}))

	// Pipeline routes
	apiMux.HandleFunc("/api/pipelines", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet:  api.ListPipelines,
		http.MethodPost: api.CreatePipeline,
	}))
	apiMux.HandleFunc("/api/pipelines/runs/{runId}", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet: api.GetRunStatus,
	}))
	apiMux.HandleFunc("/api/pipelines/{id}", methodSwitch(map[string]http.HandlerFunc{
		http.MethodGet:    api.GetPipeline,
		http.MethodPut:    api.UpdatePipeline,
		http.MethodDelete: api.DeletePipeline,
	}))
	apiMux.HandleFunc("/api/pipelines/{id}/execute", methodSwitch(map[string]http.HandlerFunc{
		http.MethodPost: api.ExecutePipeline,
	}))

	// Health endpoint. No auth required, used by monitoring.
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// Chat WebSocket endpoint. Origin validation happens in the handshake.
	wsOrigins := []string{
		fmt.Sprintf("localhost:%d", cfg.Server.Port),
		fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
	}
	mux.Handle("/ws/chat", handlers.NewChatSocket(svc.Chats, wsOrigins))

	// Wrap entire server with rate limiting, then security headers
	rateLimiter := handlers.NewRateLimiter(10.0, 20)
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
		return "", fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
	}()

	return actualAddr, nil
}
