package models

import (
	"time"
)

const DefaultSessionTitle = "New chat"

type SyncState string

const (
	SyncStateLocal         SyncState = ""
	SyncStateSynced        SyncState = "synced"
	SyncStatePendingCreate SyncState = "pending_create"
	SyncStatePendingDelete SyncState = "pending_delete"
	SyncStateSyncFailed    SyncState = "sync_failed"
)

type SessionInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastActivity time.Time `json:"last_activity"`
	ModelUsed    string    `json:"model_used,omitempty"`
	SyncState    SyncState `json:"sync_state,omitempty"`
}

// SessionUpdate carries the optional metadata fields of an upsert. Nil means
// the field is left untouched.
type SessionUpdate struct {
	Title     *string
	Timestamp *time.Time
	ModelUsed *string
}
