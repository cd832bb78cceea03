package provider

import (
	"errors"
	"strings"
	"testing"

	"github.com/zjregee/convo/internal/models"
)

type fakeCredentials struct {
	values map[string]string
	gets   int
	err    error
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{values: map[string]string{}}
}

func (f *fakeCredentials) key(userID string, p models.Provider) string {
	return userID + ":" + string(p)
}

func (f *fakeCredentials) Get(userID string, p models.Provider) (string, bool, error) {
	f.gets++
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.values[f.key(userID, p)]
	return v, ok, nil
}

func (f *fakeCredentials) Set(userID string, p models.Provider, value string) error {
	f.values[f.key(userID, p)] = value
	return nil
}

func (f *fakeCredentials) Delete(userID string, p models.Provider) error {
	delete(f.values, f.key(userID, p))
	return nil
}

func (f *fakeCredentials) Providers(userID string) ([]models.Provider, error) {
	return nil, nil
}

func TestResolveProvider(t *testing.T) {
	tests := []struct {
		model string
		want  models.Provider
	}{
		{"claude-opus-4.5", models.ProviderAnthropic},
		{"CLAUDE-SONNET-4", models.ProviderAnthropic},
		{"gemini-3-pro", models.ProviderGemini},
		{"groq/llama-3.3-70b-versatile", models.ProviderGroq},
		{"mixtral-8x7b", models.ProviderGroq},
		{"gpt-4o", models.ProviderOpenAI},
		{"some-unknown-model", models.ProviderOpenAI},
		{"", models.ProviderOpenAI},
		{"claude-llama-hybrid", models.ProviderAnthropic},
		{"gemini-llama", models.ProviderGemini},
	}

	for _, tt := range tests {
		if got := ResolveProvider(tt.model); got != tt.want {
			t.Errorf("ResolveProvider(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestResolveProviderIsTotal(t *testing.T) {
	known := map[models.Provider]bool{}
	for _, p := range models.Providers {
		known[p] = true
	}
	for _, info := range Catalog() {
		got := ResolveProvider(info.ID)
		if !known[got] {
			t.Errorf("ResolveProvider(%q) returned unknown provider %q", info.ID, got)
		}
		if got != info.Provider {
			t.Errorf("catalog model %q resolves to %q, listed under %q", info.ID, got, info.Provider)
		}
	}
}

func TestResolverResolve(t *testing.T) {
	creds := newFakeCredentials()
	_ = creds.Set("u1", models.ProviderAnthropic, "sk-ant")
	r := NewResolver(creds)

	p, key, err := r.Resolve("u1", "claude-haiku-4.5")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p != models.ProviderAnthropic || key != "sk-ant" {
		t.Errorf("Resolve: got %q, %q", p, key)
	}

	p, _, err = r.Resolve("u1", "gpt-4o")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
	if p != models.ProviderOpenAI {
		t.Errorf("provider on missing credential: got %q", p)
	}
	if !strings.Contains(err.Error(), "No API key found for openai") {
		t.Errorf("error message: got %q", err.Error())
	}

	if _, _, err := r.Resolve("u2", "claude-haiku-4.5"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("credential leaked across users: %v", err)
	}
}

func TestResolverStoreFailure(t *testing.T) {
	creds := newFakeCredentials()
	creds.err = errors.New("disk gone")
	r := NewResolver(creds)

	_, _, err := r.Resolve("u1", "gpt-4o")
	if err == nil || errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}

func TestCatalog(t *testing.T) {
	if _, ok := LookupModel(DefaultModelID); !ok {
		t.Errorf("default model %q missing from catalog", DefaultModelID)
	}
	if got := len(CatalogFor(models.ProviderGroq)); got != 2 {
		t.Errorf("groq models: got %d, want 2", got)
	}

	infos := Catalog()
	infos[0] = nil
	if Catalog()[0] == nil {
		t.Error("Catalog returned shared backing slice")
	}
}
