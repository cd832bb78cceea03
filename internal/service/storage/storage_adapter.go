package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zjregee/convo/internal/models"
)

const (
	sessionKeyPrefix = "session:"
	schemaVersionKey = "meta:schema_version"
)

type SessionRecord struct {
	Info     *models.SessionInfo `json:"info"`
	Messages []models.Message    `json:"messages"`
}

func (d *DB) SaveSession(info *models.SessionInfo, messages []models.Message) error {
	if info == nil {
		return fmt.Errorf("session info is required")
	}

	payload := SessionRecord{
		Info:     info,
		Messages: messages,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", info.ID, err)
	}

	return d.put([]byte(sessionKeyPrefix+info.ID), data)
}

func (d *DB) LoadSession(id string) (*SessionRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}

	value, err := d.get([]byte(sessionKeyPrefix + id))
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, nil
	}

	var stored SessionRecord
	if err := json.Unmarshal(value, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &stored, nil
}

// LoadSessions returns every readable session record. Records that fail to
// decode are skipped and reported together as a *CorruptRecordsError
// alongside the good ones.
func (d *DB) LoadSessions() ([]*SessionRecord, error) {
	entries, err := d.list([]byte(sessionKeyPrefix))
	if err != nil {
		return nil, err
	}

	sessions := make([]*SessionRecord, 0, len(entries))
	var corrupt *CorruptRecordsError
	for key, value := range entries {
		if len(value) == 0 {
			continue
		}

		var stored SessionRecord
		if err := json.Unmarshal(value, &stored); err != nil {
			if corrupt == nil {
				corrupt = &CorruptRecordsError{}
			}
			corrupt.Keys = append(corrupt.Keys, key)
			corrupt.Errs = append(corrupt.Errs, err)
			continue
		}

		if stored.Info == nil {
			continue
		}

		sessions = append(sessions, &stored)
	}

	if corrupt != nil {
		sort.Strings(corrupt.Keys)
		return sessions, corrupt
	}
	return sessions, nil
}

func (d *DB) DeleteSession(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	return d.delete([]byte(sessionKeyPrefix + id))
}

func (d *DB) DeleteAllSessions() error {
	return d.deletePrefix([]byte(sessionKeyPrefix))
}
