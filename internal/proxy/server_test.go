package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/convo/internal/models"
	"github.com/zjregee/convo/internal/service/backend"
)

type fakeModel struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	prompts [][]*schema.Message
}

func (m *fakeModel) record(input []*schema.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, input)
}

func (m *fakeModel) lastPrompt() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return nil
	}
	return m.prompts[len(m.prompts)-1]
}

func (m *fakeModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.record(input)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(strings.Join(m.chunks, ""), nil), nil
}

func (m *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	if m.err != nil {
		return nil, m.err
	}
	msgs := make([]*schema.Message, 0, len(m.chunks))
	for _, c := range m.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

type fakeFactory struct {
	model    *fakeModel
	provider models.Provider
	modelID  string
	apiKey   string
}

func (f *fakeFactory) NewChatModel(ctx context.Context, p models.Provider, apiKey, modelID string) (model.BaseChatModel, error) {
	f.provider, f.apiKey, f.modelID = p, apiKey, modelID
	return f.model, nil
}

func newTestServer(t *testing.T, chunks ...string) (*httptest.Server, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{model: &fakeModel{chunks: chunks}}
	srv := httptest.NewServer(NewServer(StaticTokens{"tok": "u1", "other": "u2"}, factory, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, factory
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func TestStreamThroughClient(t *testing.T) {
	srv, factory := newTestServer(t, "Hel", "lo", "", " there")
	client := backend.NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	if _, err := client.Configure(ctx, "tok", backend.ConfigureRequest{
		Provider: models.ProviderGroq, APIKey: "gsk", Model: "llama-3.1-8b-instant", SessionID: "s1",
	}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if factory.provider != models.ProviderGroq || factory.apiKey != "gsk" {
		t.Errorf("factory got %s/%s", factory.provider, factory.apiKey)
	}

	stream, err := client.Stream(ctx, "tok", backend.StreamRequest{
		Message:   "hi",
		SessionID: "s1",
		History:   []models.HistoryEntry{{Role: schema.User, Content: "earlier"}, {Role: schema.Assistant, Content: "reply"}},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	done := false
	for stream.Next() {
		switch ev := stream.Event().(type) {
		case models.StreamChunk:
			text.WriteString(ev.Text)
		case models.StreamDone:
			done = true
		default:
			t.Errorf("unexpected event %#v", ev)
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if !done || text.String() != "Hello there" {
		t.Errorf("got %q, done=%v", text.String(), done)
	}

	prompt := factory.model.lastPrompt()
	if len(prompt) != 3 || prompt[0].Content != "earlier" || prompt[1].Role != schema.Assistant || prompt[2].Content != "hi" {
		t.Errorf("prompt: %+v", prompt)
	}

	resp, body := do(t, srv, http.MethodGet, "/api/history?session_id=s1", "tok", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status %d", resp.StatusCode)
	}
	var hist historyResponse
	_ = json.Unmarshal(body, &hist)
	if len(hist.History) != 2 || hist.History[1].Content != "Hello there" {
		t.Errorf("history: %+v", hist)
	}
}

func TestStreamUnconfiguredSessionEmitsError(t *testing.T) {
	srv, _ := newTestServer(t, "x")

	resp, body := do(t, srv, http.MethodPost, "/api/chat/stream", "tok", backend.StreamRequest{Message: "hi", SessionID: "nope"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	ev := backend.DecodeEvent(bytes.TrimSpace(body))
	errEv, ok := ev.(models.StreamError)
	if !ok || errEv.Message != "Session not configured. Please configure first." {
		t.Errorf("event: %#v", ev)
	}
}

func TestStreamModelFailureEmitsError(t *testing.T) {
	srv, factory := newTestServer(t)
	factory.model.err = errors.New("quota exceeded")

	do(t, srv, http.MethodPost, "/api/configure", "tok", backend.ConfigureRequest{Provider: "openai", APIKey: "k", Model: "gpt-4o"})
	_, body := do(t, srv, http.MethodPost, "/api/chat/stream", "tok", backend.StreamRequest{Message: "hi"})

	ev := backend.DecodeEvent(bytes.TrimSpace(body))
	errEv, ok := ev.(models.StreamError)
	if !ok || !strings.Contains(errEv.Message, "quota exceeded") {
		t.Errorf("event: %#v", ev)
	}
}

func TestConfigureValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		token  string
		body   backend.ConfigureRequest
		status int
		detail string
	}{
		{"no token", "", backend.ConfigureRequest{Provider: "openai", APIKey: "k", Model: "m"}, http.StatusUnauthorized, "Missing bearer token"},
		{"bad token", "nope", backend.ConfigureRequest{Provider: "openai", APIKey: "k", Model: "m"}, http.StatusUnauthorized, "Unable to resolve user id from token"},
		{"missing fields", "tok", backend.ConfigureRequest{Provider: "openai"}, http.StatusBadRequest, "Missing required fields: provider, api_key, model"},
		{"unknown provider", "tok", backend.ConfigureRequest{Provider: "cohere", APIKey: "k", Model: "m"}, http.StatusBadRequest, "Unsupported provider: cohere"},
		{"ok", "tok", backend.ConfigureRequest{Provider: "OpenAI", APIKey: "k", Model: "m"}, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, http.MethodPost, "/api/configure", tt.token, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status: got %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
			if tt.detail == "" {
				var out backend.ConfigureResponse
				_ = json.Unmarshal(body, &out)
				if out.Provider != "openai" || out.SessionID != defaultSessionID {
					t.Errorf("response: %+v", out)
				}
				return
			}
			var e errorBody
			_ = json.Unmarshal(body, &e)
			if e.Detail != tt.detail {
				t.Errorf("detail: got %q, want %q", e.Detail, tt.detail)
			}
		})
	}
}

func TestSessionsAreScopedPerUser(t *testing.T) {
	srv, _ := newTestServer(t, "ok")

	do(t, srv, http.MethodPost, "/api/configure", "tok", backend.ConfigureRequest{Provider: "gemini", APIKey: "k", Model: "gemini-1.5-flash", SessionID: "b"})
	do(t, srv, http.MethodPost, "/api/configure", "tok", backend.ConfigureRequest{Provider: "openai", APIKey: "k", Model: "gpt-4o", SessionID: "a"})
	do(t, srv, http.MethodPost, "/api/chat", "tok", backend.StreamRequest{Message: "hi", SessionID: "a"})

	_, body := do(t, srv, http.MethodGet, "/api/sessions", "tok", nil)
	var out map[string][]sessionSummary
	_ = json.Unmarshal(body, &out)
	got := out["sessions"]
	if len(got) != 2 || got[0].SessionID != "a" || got[0].MessageCount != 2 || got[1].Provider != "gemini" {
		t.Errorf("sessions: %+v", got)
	}

	_, body = do(t, srv, http.MethodGet, "/api/sessions", "other", nil)
	_ = json.Unmarshal(body, &out)
	if len(out["sessions"]) != 0 {
		t.Errorf("other user sees sessions: %+v", out["sessions"])
	}

	resp, _ := do(t, srv, http.MethodGet, "/api/history?session_id=a", "other", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-user history: status %d", resp.StatusCode)
	}
}

func TestChatAndClear(t *testing.T) {
	srv, _ := newTestServer(t, "answer")

	resp, _ := do(t, srv, http.MethodPost, "/api/chat", "tok", backend.StreamRequest{Message: "hi"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("chat before configure: status %d", resp.StatusCode)
	}

	do(t, srv, http.MethodPost, "/api/configure", "tok", backend.ConfigureRequest{Provider: "openai", APIKey: "k", Model: "gpt-4o"})
	resp, body := do(t, srv, http.MethodPost, "/api/chat", "tok", backend.StreamRequest{Message: "hi"})
	var out chatResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode != http.StatusOK || out.Response != "answer" || out.SessionID != defaultSessionID {
		t.Fatalf("chat: %d %+v", resp.StatusCode, out)
	}

	resp, _ = do(t, srv, http.MethodPost, "/api/clear", "tok", clearRequest{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status %d", resp.StatusCode)
	}
	_, body = do(t, srv, http.MethodGet, "/api/history", "tok", nil)
	var hist historyResponse
	_ = json.Unmarshal(body, &hist)
	if len(hist.History) != 0 {
		t.Errorf("history after clear: %+v", hist.History)
	}

	resp, _ = do(t, srv, http.MethodPost, "/api/clear", "tok", clearRequest{SessionID: "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("clear missing: status %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := do(t, srv, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Errorf("health: %d %s", resp.StatusCode, body)
	}
}

func TestStaticTokens(t *testing.T) {
	open := StaticTokens{}
	if id, ok := open.Authenticate("abc"); !ok || id != "abc" {
		t.Errorf("open table: %q %v", id, ok)
	}
	if _, ok := open.Authenticate(""); ok {
		t.Error("empty token accepted")
	}

	table := StaticTokens{"abc": "user-1"}
	if id, ok := table.Authenticate("abc"); !ok || id != "user-1" {
		t.Errorf("table: %q %v", id, ok)
	}
	if _, ok := table.Authenticate("xyz"); ok {
		t.Error("unknown token accepted")
	}
}

func TestUpstreamModelID(t *testing.T) {
	if got := upstreamModelID(models.ProviderGroq, "groq/llama-3.1-70b"); got != "llama-3.1-70b" {
		t.Errorf("groq: %q", got)
	}
	if got := upstreamModelID(models.ProviderOpenAI, "groq/x"); got != "groq/x" {
		t.Errorf("openai: %q", got)
	}
}

func TestOpenAIFactoryRejectsUnknownProvider(t *testing.T) {
	f := NewOpenAIFactory()
	if _, err := f.NewChatModel(context.Background(), models.Provider("cohere"), "k", "m"); err == nil {
		t.Error("expected error for unknown provider")
	}
	f.WithBaseURL(models.ProviderOpenAI, "http://localhost:1/v1")
	if f.providers[models.ProviderOpenAI].BaseURL != "http://localhost:1/v1" {
		t.Error("WithBaseURL not applied")
	}
}
