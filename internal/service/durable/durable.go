// Package durable holds clients for the authoritative session and message
// store. The HTTP client talks to the hosted database proxy; the SQLite store
// serves the same contract from an embedded file.
package durable

import (
	"errors"
	"time"

	"github.com/cloudwego/eino/schema"
)

var ErrNotFound = errors.New("not found")

type Session struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	ModelUsed     string    `json:"model_used"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
	MessageCount  int       `json:"message_count"`
	IsArchived    bool      `json:"is_archived"`
}

type Message struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Role       schema.RoleType `json:"role"`
	Content    string          `json:"content"`
	Model      string          `json:"model"`
	TokensUsed int             `json:"tokens_used"`
	CreatedAt  time.Time       `json:"created_at"`
}

type MessageInput struct {
	SessionID  string          `json:"session_id"`
	Role       schema.RoleType `json:"role"`
	Content    string          `json:"content"`
	Model      string          `json:"model,omitempty"`
	TokensUsed int             `json:"tokens_used"`
}

// APIError is a non-2xx answer from the database proxy.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Op + ": " + e.Detail
	}
	return e.Op + ": " + httpStatusText(e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == 404 {
		return ErrNotFound
	}
	return nil
}
