package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/convo/internal/models"
)

func TestConfigure(t *testing.T) {
	var gotAuth string
	var gotBody ConfigureRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != configurePath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"message":"ok","provider":"openai","model":"gpt-4o","session_id":"s1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", srv.Client())
	resp, err := c.Configure(context.Background(), "tok", ConfigureRequest{
		Provider:  models.ProviderOpenAI,
		APIKey:    "sk-1",
		Model:     "gpt-4o",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if resp.SessionID != "s1" || resp.Model != "gpt-4o" {
		t.Errorf("response: got %+v", resp)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	if gotBody.APIKey != "sk-1" || gotBody.Provider != models.ProviderOpenAI {
		t.Errorf("request body: got %+v", gotBody)
	}
}

func TestConfigureRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail", `{"detail":"Unsupported provider: foo"}`, "Unsupported provider: foo"},
		{"no detail", `oops`, "Failed to configure LLM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil).Configure(context.Background(), "", ConfigureRequest{})
			var cfgErr *ConfigureError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigureError, got %v", err)
			}
			if cfgErr.StatusCode != http.StatusBadRequest || cfgErr.Error() != tt.want {
				t.Errorf("got %d %q, want 400 %q", cfgErr.StatusCode, cfgErr.Error(), tt.want)
			}
		})
	}
}

func TestConfigureTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).Configure(context.Background(), "", ConfigureRequest{})
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Is the backend running at "+url) {
		t.Errorf("error should name backend url: %q", err.Error())
	}
}

func TestStream(t *testing.T) {
	var got StreamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"chunk\":\"Hi\"}\nnot json\n{\"done\":true}\n"))
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, nil).Stream(context.Background(), "tok", StreamRequest{
		Message:   "hello",
		SessionID: "s1",
		History:   []models.HistoryEntry{{Role: schema.User, Content: "earlier"}},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer s.Close()

	events := collect(t, s)
	if len(events) != 3 {
		t.Fatalf("events: got %#v", events)
	}
	if _, ok := events[1].(models.StreamUnparseable); !ok {
		t.Errorf("event 1: got %#v, want unparseable", events[1])
	}
	if got.Message != "hello" || len(got.History) != 1 || got.History[0].Role != schema.User {
		t.Errorf("request: got %+v", got)
	}
}

func TestStreamSendsEmptyHistoryArray(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte("{\"done\":true}\n"))
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, nil).Stream(context.Background(), "", StreamRequest{Message: "x"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	_ = s.Close()

	if string(raw["history"]) != "[]" {
		t.Errorf("history: got %s, want []", raw["history"])
	}
}

func TestStreamOpenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).Stream(context.Background(), "", StreamRequest{})
	var openErr *StreamOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected StreamOpenError, got %v", err)
	}
	if openErr.Error() != "Failed to get streaming response" {
		t.Errorf("message: got %q", openErr.Error())
	}
}
