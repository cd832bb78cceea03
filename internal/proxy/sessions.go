package proxy

import (
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/convo/internal/models"
)

const defaultSessionID = "default"

type chatSession struct {
	provider models.Provider
	modelID  string
	model    model.BaseChatModel
	history  []*schema.Message
}

type sessionSummary struct {
	SessionID    string `json:"session_id"`
	Provider     string `json:"provider"`
	MessageCount int    `json:"message_count"`
}

// sessionTable holds configured chat sessions keyed by "user:session".
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*chatSession
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*chatSession)}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// configure replaces any earlier configuration and its history.
func (t *sessionTable) configure(userID, sessionID string, sess *chatSession) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[sessionKey(userID, sessionID)] = sess
}

// get returns the session's model and a copy of its history.
func (t *sessionTable) get(userID, sessionID string) (*chatSession, []*schema.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[sessionKey(userID, sessionID)]
	if !ok {
		return nil, nil, false
	}
	history := make([]*schema.Message, len(sess.history))
	copy(history, sess.history)
	return sess, history, true
}

func (t *sessionTable) record(userID, sessionID string, sess *chatSession, user, assistant string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.sessions[sessionKey(userID, sessionID)]
	if !ok || current != sess {
		return
	}
	current.history = append(current.history, schema.UserMessage(user), schema.AssistantMessage(assistant, nil))
}

func (t *sessionTable) clear(userID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[sessionKey(userID, sessionID)]
	if !ok {
		return false
	}
	sess.history = nil
	return true
}

func (t *sessionTable) list(userID string) []sessionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := userID + ":"
	out := []sessionSummary{}
	for key, sess := range t.sessions {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, sessionSummary{
			SessionID:    strings.TrimPrefix(key, prefix),
			Provider:     string(sess.provider),
			MessageCount: len(sess.history),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SessionID < out[j].SessionID
	})
	return out
}
