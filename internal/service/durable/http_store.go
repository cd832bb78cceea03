package durable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
)

const dbPathPrefix = "/api/db"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPStore(baseURL, token string, httpClient *http.Client) *HTTPStore {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPStore{
		baseURL:    strings.TrimRight(baseURL, "/") + dbPathPrefix,
		token:      token,
		httpClient: httpClient,
	}
}

// wireID accepts both string and numeric ids.
type wireID string

func (id *wireID) UnmarshalJSON(data []byte) error {
	*id = wireID(gjson.ParseBytes(data).String())
	return nil
}

type sessionWire struct {
	ID            wireID `json:"id"`
	Title         string `json:"title"`
	ModelUsed     string `json:"model_used"`
	CreatedAt     string `json:"created_at"`
	LastMessageAt string `json:"last_message_at"`
	MessageCount  int    `json:"message_count"`
	IsArchived    bool   `json:"is_archived"`
}

func (w sessionWire) session() *Session {
	return &Session{
		ID:            string(w.ID),
		Title:         w.Title,
		ModelUsed:     w.ModelUsed,
		CreatedAt:     parseTime(w.CreatedAt),
		LastMessageAt: parseTime(w.LastMessageAt),
		MessageCount:  w.MessageCount,
		IsArchived:    w.IsArchived,
	}
}

type messageWire struct {
	ID         wireID `json:"id"`
	SessionID  wireID `json:"session_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	CreatedAt  string `json:"created_at"`
}

func (w messageWire) message() *Message {
	return &Message{
		ID:         string(w.ID),
		SessionID:  string(w.SessionID),
		Role:       schema.RoleType(w.Role),
		Content:    w.Content,
		Model:      w.Model,
		TokensUsed: w.TokensUsed,
		CreatedAt:  parseTime(w.CreatedAt),
	}
}

func (s *HTTPStore) CreateSession(ctx context.Context, title, model string) (*Session, error) {
	var out sessionWire
	body := map[string]string{"title": title, "model_used": model}
	if err := s.do(ctx, "create session", http.MethodPost, "/sessions", body, &out); err != nil {
		return nil, err
	}
	return out.session(), nil
}

func (s *HTTPStore) ListSessions(ctx context.Context) ([]*Session, error) {
	var out []sessionWire
	if err := s.do(ctx, "list sessions", http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(out))
	for _, w := range out {
		sessions = append(sessions, w.session())
	}
	return sessions, nil
}

func (s *HTTPStore) UpdateSession(ctx context.Context, id, title, model string) error {
	body := map[string]string{"title": title, "model_used": model}
	return s.do(ctx, "update session", http.MethodPut, "/sessions/"+url.PathEscape(id), body, nil)
}

func (s *HTTPStore) DeleteSession(ctx context.Context, id string) error {
	return s.do(ctx, "delete session", http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

func (s *HTTPStore) ArchiveSession(ctx context.Context, id string) error {
	return s.do(ctx, "archive session", http.MethodPost, "/sessions/"+url.PathEscape(id)+"/archive", nil, nil)
}

func (s *HTTPStore) CreateMessage(ctx context.Context, in MessageInput) (*Message, error) {
	var out messageWire
	if err := s.do(ctx, "create message", http.MethodPost, "/messages", in, &out); err != nil {
		return nil, err
	}
	return out.message(), nil
}

func (s *HTTPStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	var out []messageWire
	if err := s.do(ctx, "list messages", http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &out); err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(out))
	for _, w := range out {
		messages = append(messages, w.message())
	}
	return messages, nil
}

func (s *HTTPStore) DeleteMessage(ctx context.Context, id string) error {
	return s.do(ctx, "delete message", http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil)
}

func (s *HTTPStore) ClearSession(ctx context.Context, sessionID string) error {
	return s.do(ctx, "clear session", http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/clear", nil, nil)
}

func (s *HTTPStore) do(ctx context.Context, op, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		if gjson.ValidBytes(body) {
			apiErr.Detail = gjson.GetBytes(body, "detail").String()
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func httpStatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}
	return fmt.Sprintf("status %d", code)
}
