package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zjregee/convo/internal/models"
)

var ErrCredentialNotFound = errors.New("credential not found")

type CredentialStore interface {
	Get(userID string, provider models.Provider) (string, bool, error)
	Set(userID string, provider models.Provider, value string) error
	Delete(userID string, provider models.Provider) error
	Providers(userID string) ([]models.Provider, error)
}

type CredentialNotFoundError struct {
	Provider models.Provider
}

func (e *CredentialNotFoundError) Error() string {
	return fmt.Sprintf("No API key found for %s. Please configure it in Settings.", e.Provider)
}

func (e *CredentialNotFoundError) Unwrap() error {
	return ErrCredentialNotFound
}

type rule struct {
	substrings []string
	provider   models.Provider
}

// rules are checked in order and the first match wins.
var rules = []rule{
	{substrings: []string{"claude"}, provider: models.ProviderAnthropic},
	{substrings: []string{"gemini"}, provider: models.ProviderGemini},
	{substrings: []string{"mixtral", "llama"}, provider: models.ProviderGroq},
}

// ResolveProvider maps a model name to its provider. Unknown names fall back
// to OpenAI.
func ResolveProvider(model string) models.Provider {
	lower := strings.ToLower(model)
	for _, r := range rules {
		for _, s := range r.substrings {
			if strings.Contains(lower, s) {
				return r.provider
			}
		}
	}
	return models.ProviderOpenAI
}

type Resolver struct {
	credentials CredentialStore
}

func NewResolver(credentials CredentialStore) *Resolver {
	return &Resolver{credentials: credentials}
}

func (r *Resolver) Resolve(userID, model string) (models.Provider, string, error) {
	p := ResolveProvider(model)
	if r.credentials == nil {
		return p, "", &CredentialNotFoundError{Provider: p}
	}

	credential, ok, err := r.credentials.Get(userID, p)
	if err != nil {
		return p, "", fmt.Errorf("failed to look up credential for %s: %w", p, err)
	}
	if !ok || credential == "" {
		return p, "", &CredentialNotFoundError{Provider: p}
	}

	return p, credential, nil
}
