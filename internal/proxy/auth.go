package proxy

import (
	"net/http"
	"strings"
)

// Authenticator maps a bearer token to a user id.
type Authenticator interface {
	Authenticate(token string) (string, bool)
}

// StaticTokens is a fixed token to user id table. An empty table accepts any
// non-empty token as its own user id.
type StaticTokens map[string]string

func (t StaticTokens) Authenticate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	if len(t) == 0 {
		return token, true
	}
	userID, ok := t[token]
	return userID, ok && userID != ""
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
