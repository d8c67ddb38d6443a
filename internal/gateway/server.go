package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reagentd/reagent/internal/agent"
	"github.com/reagentd/reagent/internal/config"
	"github.com/reagentd/reagent/internal/store"
	"github.com/reagentd/reagent/pkg/protocol"
)

// Server exposes the agent over HTTP. Chat turns stream progress events as
// server-sent events; everything else is plain JSON.
type Server struct {
	cfg         *config.Config
	orch        *agent.Orchestrator
	store       *store.Store
	bookmarks   *store.Bookmarks
	rateLimiter *RateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, orch *agent.Orchestrator, st *store.Store, bm *store.Bookmarks) *Server {
	return &Server{
		cfg:         cfg,
		orch:        orch,
		store:       st,
		bookmarks:   bm,
		rateLimiter: NewRateLimiter(cfg.Gateway.RateLimitRPM, 5),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.withUser(s.handleChat))
	mux.HandleFunc("GET /api/conversations", s.withUser(s.handleListConversations))
	mux.HandleFunc("POST /api/conversations", s.withUser(s.handleCreateConversation))
	mux.HandleFunc("GET /api/conversations/{id}", s.withUser(s.handleGetConversation))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.withUser(s.handleDeleteConversation))
	mux.HandleFunc("GET /api/bookmarks", s.withUser(s.handleListBookmarks))
	mux.HandleFunc("PUT /api/conversations/{id}/bookmark", s.withUser(s.handleAddBookmark))
	mux.HandleFunc("DELETE /api/conversations/{id}/bookmark", s.withUser(s.handleRemoveBookmark))

	s.mux = mux
	return mux
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type userHandler func(w http.ResponseWriter, r *http.Request, username string)

// withUser extracts the caller identity from the X-Username header and
// applies the per-user rate limit.
func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get("X-Username"))
		if username == "" {
			writeError(w, http.StatusUnauthorized, "X-Username header required")
			return
		}
		if !s.rateLimiter.Allow(username) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, username)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
	ClientMsgID    string `json:"client_msg_id,omitempty"`
	Model          string `json:"model,omitempty"`
}

// handleChat runs one turn and streams progress events as SSE. The event name
// is the protocol event type; data is the event JSON.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, username string) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := s.orch.RunTurn(r.Context(), agent.RunRequest{
		Username:       username,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		ClientMsgID:    req.ClientMsgID,
		Model:          req.Model,
	}, func(ev protocol.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("marshaling event failed", "type", ev.Type, "error", err)
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	})
	if err != nil {
		// The final event already carried the failure; this is for the logs.
		slog.Warn("turn ended with error", "user", username, "error", err)
	}
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, username string) {
	var body struct {
		Model string `json:"model,omitempty"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body) // model is optional
	}
	conv, err := s.store.Create(username, body.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, username string) {
	entries := s.store.List(username)
	if entries == nil {
		entries = []store.IndexEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, username string) {
	conv, err := s.store.Get(username, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, username string) {
	id := r.PathValue("id")
	if err := s.store.Delete(username, id); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.bookmarks != nil {
		if err := s.bookmarks.Remove(username, id); err != nil {
			slog.Warn("removing bookmark on delete failed", "conversation", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request, username string) {
	if s.bookmarks == nil {
		writeJSON(w, http.StatusOK, []store.Bookmark{})
		return
	}
	marks, err := s.bookmarks.List(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if marks == nil {
		marks = []store.Bookmark{}
	}
	writeJSON(w, http.StatusOK, marks)
}

func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request, username string) {
	if s.bookmarks == nil {
		writeError(w, http.StatusNotImplemented, "bookmarks disabled")
		return
	}
	id := r.PathValue("id")
	// Only the owner's conversations can be bookmarked.
	if _, err := s.store.Get(username, id); err != nil {
		writeStoreError(w, err)
		return
	}
	var body struct {
		Filename string `json:"filename,omitempty"` // empty pins the conversation itself
		Note     string `json:"note,omitempty"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body) // body is optional
	}
	if err := s.bookmarks.Pin(username, id, body.Filename, body.Note); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"bookmarked": id})
}

func (s *Server) handleRemoveBookmark(w http.ResponseWriter, r *http.Request, username string) {
	if s.bookmarks == nil {
		writeError(w, http.StatusNotImplemented, "bookmarks disabled")
		return
	}
	var body struct {
		Filename string `json:"filename,omitempty"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	if err := s.bookmarks.Unpin(username, r.PathValue("id"), body.Filename); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": r.PathValue("id")})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
