package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reagentd/reagent/internal/agent"
	"github.com/reagentd/reagent/internal/config"
	"github.com/reagentd/reagent/internal/providers"
	"github.com/reagentd/reagent/internal/store"
	"github.com/reagentd/reagent/internal/tools"
	"github.com/reagentd/reagent/internal/workspace"
)

// cannedProvider always answers with the same text.
type cannedProvider struct{ reply string }

func (p *cannedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: p.reply, FinishReason: "stop"}, nil
}

func (p *cannedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	onChunk(providers.StreamChunk{Content: p.reply})
	return p.Chat(ctx, req)
}

func (p *cannedProvider) DefaultModel() string { return "fake-model" }
func (p *cannedProvider) Name() string         { return "openai" }

func newTestServer(t *testing.T, rpm int) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	st.SetWorkspace(ws)
	bm, err := store.OpenBookmarks(filepath.Join(t.TempDir(), "bookmarks.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bm.Close() })

	reg := providers.NewRegistry()
	reg.Register(&cannedProvider{reply: "hello from the model"})
	orch := agent.New(st, reg, tools.NewRegistry(), ws, agent.Config{MaxIterations: 5})

	cfg := config.Default()
	cfg.Gateway.RateLimitRPM = rpm
	return NewServer(cfg, orch, st, bm), st
}

func doJSON(t *testing.T, mux http.Handler, method, path, username, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if username != "" {
		req.Header.Set("X-Username", username)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	w := doJSON(t, srv.BuildMux(), "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestUsernameRequired(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	w := doJSON(t, srv.BuildMux(), "GET", "/api/conversations", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestChatStreamsSSE(t *testing.T) {
	srv, st := newTestServer(t, 0)
	w := doJSON(t, srv.BuildMux(), "POST", "/api/chat", "alice",
		`{"content":"hi there"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: iter_start") {
		t.Error("no iter_start event")
	}
	if !strings.Contains(body, "event: final") {
		t.Error("no final event")
	}
	if !strings.Contains(body, `"status":"success"`) {
		t.Errorf("final payload missing success: %s", body)
	}

	convs := st.List("alice")
	if len(convs) != 1 {
		t.Fatalf("conversations = %d", len(convs))
	}
}

func TestChatRejectsEmptyContent(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	w := doJSON(t, srv.BuildMux(), "POST", "/api/chat", "alice", `{"content":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateConversation(t *testing.T) {
	srv, st := newTestServer(t, 0)
	w := doJSON(t, srv.BuildMux(), "POST", "/api/conversations", "alice",
		`{"model":"fake-model"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var conv store.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil {
		t.Fatal(err)
	}
	if conv.ID == "" || conv.Model != "fake-model" {
		t.Errorf("conv = %+v", conv)
	}
	if len(st.List("alice")) != 1 {
		t.Error("conversation not indexed")
	}
}

func TestConversationOwnership(t *testing.T) {
	srv, st := newTestServer(t, 0)
	conv, err := st.Create("alice", "fake-model")
	if err != nil {
		t.Fatal(err)
	}
	mux := srv.BuildMux()

	w := doJSON(t, mux, "GET", "/api/conversations/"+conv.ID, "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("owner get = %d", w.Code)
	}

	w = doJSON(t, mux, "GET", "/api/conversations/"+conv.ID, "mallory", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign get = %d", w.Code)
	}

	w = doJSON(t, mux, "GET", "/api/conversations/deadbeef", "alice", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing get = %d", w.Code)
	}
}

func TestDeleteConversation(t *testing.T) {
	srv, st := newTestServer(t, 0)
	conv, _ := st.Create("alice", "")
	mux := srv.BuildMux()

	w := doJSON(t, mux, "DELETE", "/api/conversations/"+conv.ID, "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	if _, err := st.Get("alice", conv.ID); err == nil {
		t.Error("conversation still readable after delete")
	}
}

func TestBookmarkLifecycle(t *testing.T) {
	srv, st := newTestServer(t, 0)
	conv, _ := st.Create("alice", "")
	mux := srv.BuildMux()

	w := doJSON(t, mux, "PUT", "/api/conversations/"+conv.ID+"/bookmark", "alice",
		`{"note":"good run"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, mux, "GET", "/api/bookmarks", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var marks []store.Bookmark
	if err := json.Unmarshal(w.Body.Bytes(), &marks); err != nil {
		t.Fatal(err)
	}
	if len(marks) != 1 || marks[0].Note != "good run" {
		t.Errorf("marks = %+v", marks)
	}

	// Bookmarking someone else's conversation is forbidden.
	w = doJSON(t, mux, "PUT", "/api/conversations/"+conv.ID+"/bookmark", "mallory", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign bookmark = %d", w.Code)
	}

	w = doJSON(t, mux, "DELETE", "/api/conversations/"+conv.ID+"/bookmark", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("remove = %d", w.Code)
	}
	marks, _ = srv.bookmarks.List("alice")
	if len(marks) != 0 {
		t.Errorf("marks after remove = %+v", marks)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, 60)
	srv.rateLimiter = NewRateLimiter(60, 1) // burst of one for the test
	mux := srv.BuildMux()

	w := doJSON(t, mux, "GET", "/api/conversations", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	w = doJSON(t, mux, "GET", "/api/conversations", "alice", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d", w.Code)
	}

	// A different user has their own budget.
	w = doJSON(t, mux, "GET", "/api/conversations", "bob", "")
	if w.Code != http.StatusOK {
		t.Fatalf("other user = %d", w.Code)
	}
}
