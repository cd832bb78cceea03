package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/convo/internal/logger"
	"github.com/zjregee/convo/internal/models"
	"github.com/zjregee/convo/internal/service/backend"
	"github.com/zjregee/convo/internal/service/provider"
)

const (
	maxTitleRunes   = 60
	turnEventBuffer = 64
)

var transitions = map[models.TurnState][]models.TurnState{
	models.TurnStateIdle:           {models.TurnStateValidating},
	models.TurnStateValidating:     {models.TurnStateConfiguring, models.TurnStateFailed, models.TurnStateCancelled},
	models.TurnStateConfiguring:    {models.TurnStateAwaitingStream, models.TurnStateFailed, models.TurnStateCancelled},
	models.TurnStateAwaitingStream: {models.TurnStateStreaming, models.TurnStateFailed, models.TurnStateCancelled},
	models.TurnStateStreaming:      {models.TurnStateDone, models.TurnStateFailed, models.TurnStateCancelled},
}

func canTransition(from, to models.TurnState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Identity struct {
	UserID      string
	AccessToken string
}

func (i Identity) Authenticated() bool {
	return i.UserID != "" && i.AccessToken != ""
}

type TurnRequest struct {
	SessionID string
	Input     string
	Model     string
	Identity  Identity
}

type turnOptions struct {
	updateTitle bool
}

type turn struct {
	sessionID     string
	state         models.TurnState
	cancel        context.CancelFunc
	cancelled     atomic.Bool
	placeholderID string
	events        chan models.TurnEvent
}

// Reconciler runs one chat turn at a time per session: it validates the
// request, configures the backend, streams the reply and folds it into the
// store.
type Reconciler struct {
	store    *Store
	resolver *provider.Resolver
	backend  *backend.Client
	logger   *log.Logger

	mu     sync.Mutex
	active map[string]*turn
}

func NewReconciler(store *Store, resolver *provider.Resolver, client *backend.Client, l *log.Logger) *Reconciler {
	if l == nil {
		l = logger.Discard()
	}
	return &Reconciler{
		store:    store,
		resolver: resolver,
		backend:  client,
		logger:   l,
		active:   make(map[string]*turn),
	}
}

// Send starts a turn and returns its event channel, which is closed when the
// turn ends. The caller must drain the channel. A session is created when
// req.SessionID is empty.
func (r *Reconciler) Send(ctx context.Context, req TurnRequest) (<-chan models.TurnEvent, error) {
	return r.start(ctx, req, turnOptions{updateTitle: true})
}

// Regenerate re-submits the latest user message as a new turn. The session
// title is left alone.
func (r *Reconciler) Regenerate(ctx context.Context, sessionID, model string, identity Identity) (<-chan models.TurnEvent, error) {
	if _, ok := r.store.Session(sessionID); !ok {
		return nil, ErrSessionNotFound
	}

	msgs := r.store.Messages(sessionID)
	var content string
	for i := len(msgs) - 1; i >= 0; i -= 1 {
		if msgs[i].Role == schema.User {
			content = msgs[i].Content
			break
		}
	}
	if content == "" {
		return nil, ErrMessageNotFound
	}

	return r.start(ctx, TurnRequest{
		SessionID: sessionID,
		Input:     content,
		Model:     model,
		Identity:  identity,
	}, turnOptions{updateTitle: false})
}

// Cancel stops the session's running turn. The partial reply stays.
func (r *Reconciler) Cancel(sessionID string) bool {
	r.mu.Lock()
	t, ok := r.active[sessionID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	t.cancelled.Store(true)
	t.cancel()
	return true
}

func (r *Reconciler) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.active[sessionID]
	return ok
}

// EditMessage returns the content of a user message so it can be put back in
// the input box. History is not changed.
func (r *Reconciler) EditMessage(sessionID, ref string) (string, error) {
	msg, ok := r.store.FindMessage(sessionID, ref)
	if !ok {
		return "", ErrMessageNotFound
	}
	if msg.Role != schema.User {
		return "", ErrMessageNotFound
	}
	return msg.Content, nil
}

func (r *Reconciler) CopyMessage(sessionID, ref string) (string, error) {
	msg, ok := r.store.FindMessage(sessionID, ref)
	if !ok {
		return "", ErrMessageNotFound
	}
	return msg.Content, nil
}

// DeleteMessage refuses to delete the reply that is still streaming.
func (r *Reconciler) DeleteMessage(ctx context.Context, sessionID, ref string) error {
	msg, ok := r.store.FindMessage(sessionID, ref)
	if !ok {
		return ErrMessageNotFound
	}

	r.mu.Lock()
	t, streaming := r.active[sessionID]
	open := streaming && t.placeholderID == msg.LocalID
	r.mu.Unlock()
	if open {
		return ErrTurnInFlight
	}

	if !r.store.DeleteMessage(ctx, sessionID, ref) {
		return ErrMessageNotFound
	}
	return nil
}

func (r *Reconciler) start(ctx context.Context, req TurnRequest, opts turnOptions) (<-chan models.TurnEvent, error) {
	req.Input = strings.TrimSpace(req.Input)
	if req.Input == "" {
		return nil, ErrEmptyInput
	}
	if req.Model == "" {
		req.Model = provider.DefaultModelID
	}

	if req.SessionID == "" {
		var info models.SessionInfo
		if req.Identity.Authenticated() {
			info = r.store.CreateSession(ctx, models.DefaultSessionTitle, req.Model)
		} else {
			info = r.store.CreateLocalSession(models.DefaultSessionTitle, req.Model)
		}
		req.SessionID = info.ID
	} else if _, ok := r.store.Session(req.SessionID); !ok {
		return nil, ErrSessionNotFound
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{
		sessionID: req.SessionID,
		state:     models.TurnStateIdle,
		cancel:    cancel,
		events:    make(chan models.TurnEvent, turnEventBuffer),
	}

	r.mu.Lock()
	if _, busy := r.active[req.SessionID]; busy {
		r.mu.Unlock()
		cancel()
		return nil, ErrTurnInFlight
	}
	r.active[req.SessionID] = t
	r.mu.Unlock()

	go r.run(turnCtx, t, req, opts)

	return t.events, nil
}

func (r *Reconciler) run(ctx context.Context, t *turn, req TurnRequest, opts turnOptions) {
	defer close(t.events)
	defer func() {
		t.cancel()
		r.mu.Lock()
		delete(r.active, t.sessionID)
		r.mu.Unlock()
	}()

	sessionLog := r.logger.With("session", t.sessionID)

	r.transition(t, models.TurnStateValidating)
	if !req.Identity.Authenticated() {
		r.fail(ctx, t, &PreconditionError{Err: ErrNotAuthenticated})
		return
	}

	prior := r.store.Messages(t.sessionID)
	userMsg, err := r.store.AppendMessage(ctx, t.sessionID, models.Message{
		Role:    schema.User,
		Content: req.Input,
	})
	if err != nil {
		r.fail(ctx, t, err)
		return
	}
	t.events <- models.TurnMessageAppended{SessionID: t.sessionID, Message: userMsg}

	now := time.Now()
	update := models.SessionUpdate{Timestamp: &now, ModelUsed: &req.Model}
	if info, ok := r.store.Session(t.sessionID); ok && opts.updateTitle && info.Title == models.DefaultSessionTitle {
		title := deriveTitle(req.Input)
		update.Title = &title
	}
	r.store.UpdateSessionMetadata(ctx, t.sessionID, update)

	p, credential, err := r.resolver.Resolve(req.Identity.UserID, req.Model)
	if err != nil {
		r.fail(ctx, t, &PreconditionError{Err: err})
		return
	}

	r.transition(t, models.TurnStateConfiguring)
	_, err = r.backend.Configure(ctx, req.Identity.AccessToken, backend.ConfigureRequest{
		Provider:  p,
		APIKey:    credential,
		Model:     req.Model,
		SessionID: t.sessionID,
	})
	if err != nil {
		if r.stopped(ctx, t) {
			r.finishCancelled(ctx, t)
			return
		}
		sessionLog.Warn("Configure call failed", "provider", p, "model", req.Model, "err", err)
		r.fail(ctx, t, err)
		return
	}

	r.transition(t, models.TurnStateAwaitingStream)
	placeholder, err := r.store.AppendMessage(ctx, t.sessionID, models.Message{
		Role:     schema.Assistant,
		Provider: p,
	})
	if err != nil {
		r.fail(ctx, t, err)
		return
	}
	r.mu.Lock()
	t.placeholderID = placeholder.LocalID
	r.mu.Unlock()
	t.events <- models.TurnMessageAppended{SessionID: t.sessionID, Message: placeholder}

	stream, err := r.backend.Stream(ctx, req.Identity.AccessToken, backend.StreamRequest{
		Message:   req.Input,
		SessionID: t.sessionID,
		History:   buildHistory(prior),
	})
	if err != nil {
		if r.stopped(ctx, t) {
			r.finishCancelled(ctx, t)
			return
		}
		sessionLog.Warn("Stream call failed", "err", err)
		r.fail(ctx, t, err)
		return
	}
	defer stream.Close()

	r.transition(t, models.TurnStateStreaming)

	var acc strings.Builder
	var streamErr error
	skipped := 0
fold:
	for stream.Next() {
		switch ev := stream.Event().(type) {
		case models.StreamChunk:
			acc.WriteString(ev.Text)
			content := EnhanceHeadings(acc.String())
			r.store.UpdateMessageContent(t.sessionID, placeholder.LocalID, content, p)
			t.events <- models.TurnContentUpdated{
				SessionID: t.sessionID,
				LocalID:   placeholder.LocalID,
				Chunk:     ev.Text,
				Content:   content,
			}
		case models.StreamError:
			streamErr = &StreamEventError{Message: ev.Message}
			break fold
		case models.StreamDone:
			break fold
		case models.StreamUnparseable:
			skipped += 1
		}
	}
	_ = stream.Close()

	if skipped > 0 {
		sessionLog.Debug("Skipped unparseable stream lines", "count", skipped)
	}

	switch {
	case r.stopped(ctx, t):
		r.finishCancelled(ctx, t)
	case streamErr != nil:
		r.store.PersistMessage(ctx, t.sessionID, placeholder.LocalID)
		r.fail(ctx, t, streamErr)
	case stream.Err() != nil:
		r.store.PersistMessage(ctx, t.sessionID, placeholder.LocalID)
		r.fail(ctx, t, &StreamReadError{Err: stream.Err()})
	default:
		r.store.PersistMessage(ctx, t.sessionID, placeholder.LocalID)
		r.transition(t, models.TurnStateDone)
		t.events <- models.TurnFinished{SessionID: t.sessionID, State: models.TurnStateDone}
	}
}

func (r *Reconciler) transition(t *turn, to models.TurnState) {
	from := t.state
	if !canTransition(from, to) {
		r.logger.Error("Invalid turn transition", "session", t.sessionID, "from", from, "to", to)
		return
	}
	t.state = to
	t.events <- models.TurnStateChanged{SessionID: t.sessionID, From: from, To: to}
}

func (r *Reconciler) stopped(ctx context.Context, t *turn) bool {
	return t.cancelled.Load() || ctx.Err() != nil
}

func (r *Reconciler) fail(ctx context.Context, t *turn, err error) {
	errMsg, appendErr := r.store.AppendMessage(ctx, t.sessionID, models.Message{
		Role:    models.RoleError,
		Content: errorBubbleText(err),
	})
	if appendErr == nil {
		t.events <- models.TurnMessageAppended{SessionID: t.sessionID, Message: errMsg}
	}
	r.transition(t, models.TurnStateFailed)
	t.events <- models.TurnFinished{SessionID: t.sessionID, State: models.TurnStateFailed, Err: err}
}

func (r *Reconciler) finishCancelled(ctx context.Context, t *turn) {
	if t.placeholderID != "" {
		r.store.PersistMessage(ctx, t.sessionID, t.placeholderID)
	}
	r.transition(t, models.TurnStateCancelled)
	t.events <- models.TurnFinished{SessionID: t.sessionID, State: models.TurnStateCancelled, Err: context.Canceled}
}

// buildHistory keeps prior user and assistant turns with content.
func buildHistory(msgs []models.Message) []models.HistoryEntry {
	history := make([]models.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		if !m.Persistable() {
			continue
		}
		history = append(history, models.HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return history
}

func deriveTitle(input string) string {
	title := strings.TrimSpace(input)
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	return string([]rune(title)[:maxTitleRunes])
}
