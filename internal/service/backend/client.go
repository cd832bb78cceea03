package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/zjregee/convo/internal/models"
)

const (
	configurePath = "/api/configure"
	streamPath    = "/api/chat/stream"
)

type ConfigureRequest struct {
	Provider  models.Provider `json:"provider"`
	APIKey    string          `json:"api_key"`
	Model     string          `json:"model"`
	SessionID string          `json:"session_id"`
}

type ConfigureResponse struct {
	Message   string `json:"message"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	SessionID string `json:"session_id"`
}

type StreamRequest struct {
	Message   string                `json:"message"`
	SessionID string                `json:"session_id"`
	History   []models.HistoryEntry `json:"history"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Configure(ctx context.Context, token string, req ConfigureRequest) (*ConfigureResponse, error) {
	resp, err := c.post(ctx, configurePath, token, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{BaseURL: c.baseURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ConfigureError{
			StatusCode: resp.StatusCode,
			Detail:     detailOf(body),
		}
	}

	var out ConfigureResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("failed to decode configure response: %w", err)
		}
	}
	return &out, nil
}

// Stream opens the chat stream. The caller owns the returned stream and must
// close it.
func (c *Client) Stream(ctx context.Context, token string, req StreamRequest) (*EventStream, error) {
	if req.History == nil {
		req.History = []models.HistoryEntry{}
	}

	resp, err := c.post(ctx, streamPath, token, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &StreamOpenError{
			StatusCode: resp.StatusCode,
			Detail:     detailOf(body),
		}
	}

	return NewEventStream(resp.Body), nil
}

func (c *Client) post(ctx context.Context, path, token string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{BaseURL: c.baseURL, Err: err}
	}
	return resp, nil
}

func detailOf(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "detail").String()
}
