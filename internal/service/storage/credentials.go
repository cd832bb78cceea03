package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zjregee/convo/internal/models"
)

const credentialKeyPrefix = "credential:"

// Credentials keeps per-user provider API keys in the local mirror file.
// Keys never leave this bucket except as the configure call payload.
type Credentials struct {
	db *DB
}

func NewCredentials(db *DB) *Credentials {
	return &Credentials{db: db}
}

func credentialKey(userID string, provider models.Provider) []byte {
	return []byte(credentialKeyPrefix + userID + ":" + string(provider))
}

func (c *Credentials) Get(userID string, provider models.Provider) (string, bool, error) {
	if userID == "" {
		return "", false, fmt.Errorf("user id is required")
	}

	value, err := c.db.get(credentialKey(userID, provider))
	if err != nil {
		return "", false, fmt.Errorf("failed to read credential for %s: %w", provider, err)
	}
	if len(value) == 0 {
		return "", false, nil
	}
	return string(value), true, nil
}

func (c *Credentials) Set(userID string, provider models.Provider, value string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("credential for %s is empty", provider)
	}

	return c.db.put(credentialKey(userID, provider), []byte(value))
}

func (c *Credentials) Delete(userID string, provider models.Provider) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	return c.db.delete(credentialKey(userID, provider))
}

func (c *Credentials) Providers(userID string) ([]models.Provider, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	prefix := credentialKeyPrefix + userID + ":"
	entries, err := c.db.list([]byte(prefix))
	if err != nil {
		return nil, err
	}

	providers := make([]models.Provider, 0, len(entries))
	for key := range entries {
		providers = append(providers, models.Provider(strings.TrimPrefix(key, prefix)))
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	return providers, nil
}
