package models

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// RoleError marks a local error bubble. It is never sent to the backend or
// the durable store.
const RoleError schema.RoleType = "error"

type Message struct {
	LocalID   string          `json:"local_id"`
	ID        string          `json:"id,omitempty"`
	Role      schema.RoleType `json:"role"`
	Content   string          `json:"content"`
	Provider  Provider        `json:"provider,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	SyncState SyncState       `json:"sync_state,omitempty"`
}

func (m Message) IsConversational() bool {
	return m.Role == schema.User || m.Role == schema.Assistant
}

// Persistable reports whether the message belongs in the durable store.
func (m Message) Persistable() bool {
	return m.IsConversational() && m.Content != ""
}

// HistoryEntry is one prior turn in the shape the backend proxy expects.
type HistoryEntry struct {
	Role    schema.RoleType `json:"role"`
	Content string          `json:"content"`
}
