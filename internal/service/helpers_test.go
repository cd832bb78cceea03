package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/zjregee/convo/internal/models"
	"github.com/zjregee/convo/internal/service/backend"
	"github.com/zjregee/convo/internal/service/durable"
	"github.com/zjregee/convo/internal/service/provider"
)

var errUnavailable = errors.New("durable store unavailable")

type fakeDurable struct {
	mu sync.Mutex

	sessions map[string]*durable.Session
	messages map[string][]*durable.Message
	nextID   int

	failCreateSession bool
	failCreateMessage bool
	failDelete        bool

	// holdCreate, when set, blocks CreateMessage until it is closed.
	holdCreate chan struct{}

	deletedSessions []string
	deletedMessages []string
	createdMessages []durable.MessageInput
	updates         []string
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		sessions: map[string]*durable.Session{},
		messages: map[string][]*durable.Message{},
	}
}

func (f *fakeDurable) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeDurable) CreateSession(ctx context.Context, title, model string) (*durable.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateSession {
		return nil, errUnavailable
	}
	sess := &durable.Session{ID: f.id("remote"), Title: title, ModelUsed: model, CreatedAt: time.Now(), LastMessageAt: time.Now()}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeDurable) ListSessions(ctx context.Context) ([]*durable.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*durable.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeDurable) UpdateSession(ctx context.Context, id, title, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id+":"+title)
	if s, ok := f.sessions[id]; ok {
		s.Title = title
		s.ModelUsed = model
	}
	return nil
}

func (f *fakeDurable) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedSessions = append(f.deletedSessions, id)
	if f.failDelete {
		return errUnavailable
	}
	delete(f.sessions, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeDurable) CreateMessage(ctx context.Context, in durable.MessageInput) (*durable.Message, error) {
	if f.holdCreate != nil {
		<-f.holdCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdMessages = append(f.createdMessages, in)
	if f.failCreateMessage {
		return nil, errUnavailable
	}
	msg := &durable.Message{ID: f.id("msg"), SessionID: in.SessionID, Role: in.Role, Content: in.Content, CreatedAt: time.Now()}
	f.messages[in.SessionID] = append(f.messages[in.SessionID], msg)
	return msg, nil
}

func (f *fakeDurable) ListMessages(ctx context.Context, sessionID string) ([]*durable.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[sessionID], nil
}

func (f *fakeDurable) DeleteMessage(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedMessages = append(f.deletedMessages, id)
	if f.failDelete {
		return errUnavailable
	}
	for sessionID, msgs := range f.messages {
		for i, m := range msgs {
			if m.ID == id {
				f.messages[sessionID] = append(msgs[:i:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (f *fakeDurable) messageCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[sessionID])
}

func (f *fakeDurable) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeDurable) ClearSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, sessionID)
	return nil
}

func (f *fakeDurable) created() []durable.MessageInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]durable.MessageInput, len(f.createdMessages))
	copy(out, f.createdMessages)
	return out
}

type fakeCredentials struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{values: map[string]string{}}
}

func (f *fakeCredentials) Get(userID string, p models.Provider) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[userID+":"+string(p)]
	return v, ok, nil
}

func (f *fakeCredentials) Set(userID string, p models.Provider, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[userID+":"+string(p)] = value
	return nil
}

func (f *fakeCredentials) Delete(userID string, p models.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, userID+":"+string(p))
	return nil
}

func (f *fakeCredentials) Providers(userID string) ([]models.Provider, error) {
	return nil, nil
}

// fakeBackend plays the proxy: it counts calls and replays scripted NDJSON
// lines on the stream endpoint.
type fakeBackend struct {
	mu sync.Mutex

	configureCalls  int
	streamCalls     int
	configureStatus int
	configureBody   string
	lines           []string
	hold            bool
	abort           bool
	lastConfigure   backend.ConfigureRequest
	lastStream      backend.StreamRequest
	streaming       chan struct{}
}

func newFakeBackend(t *testing.T, lines ...string) (*fakeBackend, *backend.Client) {
	t.Helper()
	f := &fakeBackend{lines: lines, streaming: make(chan struct{}, 1)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/configure", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.configureCalls++
		_ = json.NewDecoder(r.Body).Decode(&f.lastConfigure)
		status, body := f.configureStatus, f.configureBody
		f.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
		_, _ = w.Write([]byte(`{"message":"configured"}`))
	})
	mux.HandleFunc("POST /api/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.streamCalls++
		_ = json.NewDecoder(r.Body).Decode(&f.lastStream)
		lines, hold, abort := f.lines, f.hold, f.abort
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if abort {
			panic(http.ErrAbortHandler)
		}
		if hold {
			select {
			case f.streaming <- struct{}{}:
			default:
			}
			<-r.Context().Done()
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, backend.NewClient(srv.URL, srv.Client())
}

func (f *fakeBackend) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configureCalls, f.streamCalls
}

func drain(t *testing.T, events <-chan models.TurnEvent) []models.TurnEvent {
	t.Helper()
	var out []models.TurnEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("turn did not finish in time")
			return out
		}
	}
}

func finished(t *testing.T, events []models.TurnEvent) models.TurnFinished {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if f, ok := events[i].(models.TurnFinished); ok {
			return f
		}
	}
	t.Fatal("no TurnFinished event")
	return models.TurnFinished{}
}

func states(events []models.TurnEvent) []models.TurnState {
	var out []models.TurnState
	for _, ev := range events {
		if sc, ok := ev.(models.TurnStateChanged); ok {
			out = append(out, sc.To)
		}
	}
	return out
}

func countRole(msgs []models.Message, role string) int {
	n := 0
	for _, m := range msgs {
		if string(m.Role) == role {
			n++
		}
	}
	return n
}

type reconcilerFixture struct {
	store   *Store
	durable *fakeDurable
	creds   *fakeCredentials
	backend *fakeBackend
	rec     *Reconciler
}

func newReconcilerFixture(t *testing.T, lines ...string) *reconcilerFixture {
	t.Helper()
	remote := newFakeDurable()
	store := NewStore(nil, remote)
	creds := newFakeCredentials()
	_ = creds.Set("u1", models.ProviderOpenAI, "sk-test")
	fb, client := newFakeBackend(t, lines...)

	return &reconcilerFixture{
		store:   store,
		durable: remote,
		creds:   creds,
		backend: fb,
		rec:     NewReconciler(store, provider.NewResolver(creds), client, nil),
	}
}

var testIdentity = Identity{UserID: "u1", AccessToken: "tok"}
