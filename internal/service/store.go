package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/zjregee/convo/internal/logger"
	"github.com/zjregee/convo/internal/models"
	"github.com/zjregee/convo/internal/service/durable"
	"github.com/zjregee/convo/internal/service/storage"
	"github.com/zjregee/convo/internal/utils"
)

const (
	defaultPersistTimeout = 15 * time.Second
	defaultClearLimit     = 4
)

// DurableStore is the authoritative remote copy of sessions and messages.
type DurableStore interface {
	CreateSession(ctx context.Context, title, model string) (*durable.Session, error)
	ListSessions(ctx context.Context) ([]*durable.Session, error)
	UpdateSession(ctx context.Context, id, title, model string) error
	DeleteSession(ctx context.Context, id string) error
	CreateMessage(ctx context.Context, in durable.MessageInput) (*durable.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*durable.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ClearSession(ctx context.Context, sessionID string) error
}

// Store owns the ordered session list and each session's message log. Every
// mutation lands in memory and in the local mirror before any remote call
// returns. Message slices are replaced, never modified in place, so slices
// handed out by Messages stay valid without locking.
type Store struct {
	mu       sync.RWMutex
	sessions []*models.SessionInfo
	messages map[string][]models.Message

	mirror   *storage.DB
	mirrorMu sync.Mutex
	durable  DurableStore
	logger   *log.Logger

	persistTimeout time.Duration
	clearLimit     int
	pending        sync.WaitGroup
}

type StoreOption func(*Store)

func WithLogger(l *log.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithPersistTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

func WithClearConcurrency(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.clearLimit = n
		}
	}
}

// NewStore builds a store over an optional mirror and an optional durable
// store. With neither, the store is memory only.
func NewStore(mirror *storage.DB, remote DurableStore, opts ...StoreOption) *Store {
	s := &Store{
		sessions:       []*models.SessionInfo{},
		messages:       make(map[string][]models.Message),
		mirror:         mirror,
		durable:        remote,
		logger:         logger.Discard(),
		persistTimeout: defaultPersistTimeout,
		clearLimit:     defaultClearLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fills the store from the mirror, then merges the durable session list.
// A durable failure keeps whatever the mirror had.
func (s *Store) Load(ctx context.Context) error {
	if s.mirror != nil {
		records, err := s.mirror.LoadSessions()
		var corrupt *storage.CorruptRecordsError
		if errors.As(err, &corrupt) {
			s.logger.Warn("Skipping corrupt mirror records", "keys", corrupt.Keys, "err", corrupt.Unwrap())
		} else if err != nil {
			return err
		}

		s.mu.Lock()
		for _, record := range records {
			info := *record.Info
			s.upsertLocked(&info)
			s.messages[info.ID] = interruptedSaves(record.Messages)
		}
		s.sortLocked()
		s.mu.Unlock()
	}

	if s.durable == nil {
		return nil
	}

	remote, err := s.durable.ListSessions(ctx)
	if err != nil {
		s.logger.Warn("Failed to list durable sessions, using local mirror", "err", err)
		return nil
	}

	var fetch []string
	s.mu.Lock()
	for _, rs := range remote {
		if _, existing := s.findLocked(rs.ID); existing != nil {
			continue
		}
		last := rs.LastMessageAt
		if last.IsZero() {
			last = rs.CreatedAt
		}
		s.upsertLocked(&models.SessionInfo{
			ID:           rs.ID,
			Title:        rs.Title,
			LastActivity: last,
			ModelUsed:    rs.ModelUsed,
			SyncState:    models.SyncStateSynced,
		})
		if len(s.messages[rs.ID]) == 0 {
			fetch = append(fetch, rs.ID)
		}
	}
	s.sortLocked()
	s.mu.Unlock()

	for _, id := range fetch {
		remoteMessages, err := s.durable.ListMessages(ctx, id)
		if err != nil {
			s.logger.Warn("Failed to load durable messages", "session", id, "err", err)
			s.mirrorSession(id)
			continue
		}

		msgs := make([]models.Message, 0, len(remoteMessages))
		for _, rm := range remoteMessages {
			msgs = append(msgs, models.Message{
				LocalID:   utils.GenerateLocalMessageID(),
				ID:        rm.ID,
				Role:      rm.Role,
				Content:   rm.Content,
				Timestamp: rm.CreatedAt,
				SyncState: models.SyncStateSynced,
			})
		}

		s.mu.Lock()
		s.messages[id] = msgs
		s.mu.Unlock()
		s.mirrorSession(id)
	}

	return nil
}

func (s *Store) Sessions() []models.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		out = append(out, *info)
	}
	return out
}

func (s *Store) Session(id string) (models.SessionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, info := s.findLocked(id); info != nil {
		return *info, true
	}
	return models.SessionInfo{}, false
}

// Messages returns the session's current message slice. The slice is never
// written after it is returned; callers must not modify it either.
func (s *Store) Messages(sessionID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.messages[sessionID]
}

// FindMessage matches ref against durable ids first, then local ids.
func (s *Store) FindMessage(sessionID, ref string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := indexOf(s.messages[sessionID], ref); i >= 0 {
		return s.messages[sessionID][i], true
	}
	return models.Message{}, false
}

// CreateSession waits for the durable store to assign an id. Without one, or
// when the call fails, a client id is used.
func (s *Store) CreateSession(ctx context.Context, title, model string) models.SessionInfo {
	return s.createSession(ctx, title, model, s.durable != nil)
}

// CreateLocalSession adds a session under a client id without contacting the
// durable store. Its messages are never saved remotely.
func (s *Store) CreateLocalSession(title, model string) models.SessionInfo {
	return s.createSession(context.Background(), title, model, false)
}

func (s *Store) createSession(ctx context.Context, title, model string, remote bool) models.SessionInfo {
	if title == "" {
		title = models.DefaultSessionTitle
	}

	info := &models.SessionInfo{
		ID:           utils.GenerateSessionID(),
		Title:        title,
		LastActivity: time.Now(),
		ModelUsed:    model,
	}

	if remote {
		info.SyncState = models.SyncStatePendingCreate
		created, err := s.durable.CreateSession(ctx, title, model)
		if err != nil {
			s.logger.Warn("Failed to create durable session, keeping it local", "session", info.ID, "err", err)
			info.SyncState = models.SyncStateSyncFailed
		} else {
			info.ID = created.ID
			info.SyncState = models.SyncStateSynced
		}
	}

	s.mu.Lock()
	s.sessions = append([]*models.SessionInfo{info}, s.sessions...)
	s.messages[info.ID] = []models.Message{}
	s.sortLocked()
	out := *info
	s.mu.Unlock()

	s.mirrorSession(info.ID)
	return out
}

// AppendMessage adds msg at the tail of the session. User and assistant
// messages with content are then saved to the durable store in the
// background.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg models.Message) (models.Message, error) {
	if msg.LocalID == "" {
		msg.LocalID = utils.GenerateLocalMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.SyncState = models.SyncStateLocal

	s.mu.Lock()
	_, info := s.findLocked(sessionID)
	if info == nil {
		s.mu.Unlock()
		return models.Message{}, ErrSessionNotFound
	}
	persist := s.durable != nil && msg.Persistable()
	if persist {
		msg.SyncState = models.SyncStatePendingCreate
		if info.SyncState != models.SyncStateSynced {
			msg.SyncState = models.SyncStateSyncFailed
			persist = false
		}
	}
	s.messages[sessionID] = appendCopy(s.messages[sessionID], msg)
	s.mu.Unlock()

	s.mirrorSession(sessionID)

	if persist {
		s.persistAsync(ctx, sessionID, msg)
	}
	return msg, nil
}

// UpdateMessageContent replaces the content of one message. It is the write
// path for a streaming placeholder and does not touch the mirror.
func (s *Store) UpdateMessageContent(sessionID, localID, content string, provider models.Provider) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.replaceLocked(sessionID, localID, func(m *models.Message) {
		m.Content = content
		if provider != "" {
			m.Provider = provider
		}
	})
}

// PersistMessage mirrors the session and saves the named message to the
// durable store when it has content and no durable id yet.
func (s *Store) PersistMessage(ctx context.Context, sessionID, localID string) {
	var msg models.Message
	persist := false

	s.mu.Lock()
	_, info := s.findLocked(sessionID)
	if info != nil {
		i := indexOf(s.messages[sessionID], localID)
		if i >= 0 {
			m := s.messages[sessionID][i]
			canPersist := s.durable != nil && m.Persistable() && m.ID == "" &&
				m.SyncState != models.SyncStatePendingCreate
			if canPersist {
				state := models.SyncStatePendingCreate
				if info.SyncState != models.SyncStateSynced {
					state = models.SyncStateSyncFailed
				} else {
					persist = true
				}
				s.replaceLocked(sessionID, localID, func(m *models.Message) { m.SyncState = state })
				msg = s.messages[sessionID][i]
			}
		}
	}
	s.mu.Unlock()

	s.mirrorSession(sessionID)

	if persist {
		s.persistAsync(ctx, sessionID, msg)
	}
}

// PatchMessageID attaches a durable id to the message created with localID.
// Patching again with the same id changes nothing.
func (s *Store) PatchMessageID(sessionID, localID, id string) bool {
	s.mu.Lock()
	ok := s.replaceLocked(sessionID, localID, func(m *models.Message) {
		m.ID = id
		m.SyncState = models.SyncStateSynced
	})
	s.mu.Unlock()

	if ok {
		s.mirrorSession(sessionID)
	}
	return ok
}

// UpdateSessionMetadata upserts the given fields and re-sorts the list.
func (s *Store) UpdateSessionMetadata(ctx context.Context, sessionID string, update models.SessionUpdate) models.SessionInfo {
	s.mu.Lock()
	_, info := s.findLocked(sessionID)
	if info == nil {
		info = &models.SessionInfo{
			ID:           sessionID,
			Title:        models.DefaultSessionTitle,
			LastActivity: time.Now(),
		}
		s.sessions = append(s.sessions, info)
		if _, ok := s.messages[sessionID]; !ok {
			s.messages[sessionID] = []models.Message{}
		}
	}
	if update.Title != nil {
		info.Title = *update.Title
	}
	if update.Timestamp != nil {
		info.LastActivity = *update.Timestamp
	}
	if update.ModelUsed != nil {
		info.ModelUsed = *update.ModelUsed
	}
	s.sortLocked()
	out := *info
	s.mu.Unlock()

	s.mirrorSession(sessionID)

	if s.durable != nil && out.SyncState == models.SyncStateSynced && (update.Title != nil || update.ModelUsed != nil) {
		s.goPersist(ctx, func(ctx context.Context) {
			if err := s.durable.UpdateSession(ctx, out.ID, out.Title, out.ModelUsed); err != nil {
				s.logger.Warn("Failed to update durable session", "session", out.ID, "err", err)
			}
		})
	}
	return out
}

// DeleteSession removes the session remotely, then locally. The local copy is
// pruned even when the remote call fails.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	_, info := s.findLocked(sessionID)
	if info == nil {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	remote := s.durable != nil && info.SyncState == models.SyncStateSynced
	if remote {
		info.SyncState = models.SyncStatePendingDelete
	}
	s.mu.Unlock()

	if remote {
		if err := s.durable.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, durable.ErrNotFound) {
			s.logger.Warn("Failed to delete durable session, pruning locally", "session", sessionID, "err", err)
		}
	}

	s.mu.Lock()
	s.removeLocked(sessionID)
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.DeleteSession(sessionID); err != nil {
			s.logger.Warn("Failed to delete session from mirror", "session", sessionID, "err", err)
		}
	}
	return nil
}

// ClearAllSessions deletes every session. Remote deletes run concurrently and
// their failures are only logged.
func (s *Store) ClearAllSessions(ctx context.Context) {
	s.mu.Lock()
	var remote []string
	for _, info := range s.sessions {
		if s.durable != nil && info.SyncState == models.SyncStateSynced {
			info.SyncState = models.SyncStatePendingDelete
			remote = append(remote, info.ID)
		}
	}
	s.mu.Unlock()

	if len(remote) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.clearLimit)
		for _, id := range remote {
			g.Go(func() error {
				if err := s.durable.DeleteSession(gctx, id); err != nil && !errors.Is(err, durable.ErrNotFound) {
					s.logger.Warn("Failed to delete durable session, pruning locally", "session", id, "err", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	s.mu.Lock()
	s.sessions = []*models.SessionInfo{}
	s.messages = make(map[string][]models.Message)
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirrorMu.Lock()
		if err := s.mirror.DeleteAllSessions(); err != nil {
			s.logger.Warn("Failed to clear mirror", "err", err)
		}
		s.mirrorMu.Unlock()
	}
}

// DeleteMessage removes one message by durable or local id. A durable copy is
// deleted first.
func (s *Store) DeleteMessage(ctx context.Context, sessionID, ref string) bool {
	msg, ok := s.FindMessage(sessionID, ref)
	if !ok {
		return false
	}

	if msg.ID != "" && s.durable != nil {
		if err := s.durable.DeleteMessage(ctx, msg.ID); err != nil && !errors.Is(err, durable.ErrNotFound) {
			s.logger.Warn("Failed to delete durable message, removing locally", "session", sessionID, "message", msg.ID, "err", err)
		}
	}

	s.mu.Lock()
	current := s.messages[sessionID]
	i := indexOf(current, msg.LocalID)
	if i >= 0 {
		next := make([]models.Message, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		s.messages[sessionID] = next
	}
	s.mu.Unlock()

	s.mirrorSession(sessionID)
	return i >= 0
}

// ClearMessages empties a session's log and keeps the session itself.
func (s *Store) ClearMessages(ctx context.Context, sessionID string) error {
	info, ok := s.Session(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	if s.durable != nil && info.SyncState == models.SyncStateSynced {
		if err := s.durable.ClearSession(ctx, sessionID); err != nil {
			s.logger.Warn("Failed to clear durable session, clearing locally", "session", sessionID, "err", err)
		}
	}

	s.mu.Lock()
	s.messages[sessionID] = []models.Message{}
	s.mu.Unlock()

	s.mirrorSession(sessionID)
	return nil
}

// RetryFailed re-sends messages whose save failed, for sessions the durable
// store knows about. It returns how many saves were started.
func (s *Store) RetryFailed(ctx context.Context) int {
	if s.durable == nil {
		return 0
	}

	type retry struct {
		sessionID string
		msg       models.Message
	}
	var retries []retry

	s.mu.Lock()
	for _, info := range s.sessions {
		if info.SyncState != models.SyncStateSynced {
			continue
		}
		for _, m := range s.messages[info.ID] {
			if m.SyncState == models.SyncStateSyncFailed && m.Persistable() && m.ID == "" {
				s.replaceLocked(info.ID, m.LocalID, func(m *models.Message) { m.SyncState = models.SyncStatePendingCreate })
				m.SyncState = models.SyncStatePendingCreate
				retries = append(retries, retry{sessionID: info.ID, msg: m})
			}
		}
	}
	s.mu.Unlock()

	for _, r := range retries {
		s.persistAsync(ctx, r.sessionID, r.msg)
	}
	return len(retries)
}

// interruptedSaves marks messages whose save never finished as failed so
// RetryFailed picks them up.
func interruptedSaves(msgs []models.Message) []models.Message {
	for i := range msgs {
		if msgs[i].SyncState == models.SyncStatePendingCreate && msgs[i].ID == "" {
			msgs[i].SyncState = models.SyncStateSyncFailed
		}
	}
	return msgs
}

// Wait blocks until background saves have finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

func (s *Store) persistAsync(ctx context.Context, sessionID string, msg models.Message) {
	s.goPersist(ctx, func(ctx context.Context) {
		saved, err := s.durable.CreateMessage(ctx, durable.MessageInput{
			SessionID: sessionID,
			Role:      msg.Role,
			Content:   msg.Content,
			Model:     s.modelOf(sessionID),
		})
		if err != nil {
			s.logger.Warn("Failed to persist message", "session", sessionID, "message", msg.LocalID, "err", err)
			s.markFailed(sessionID, msg.LocalID)
			return
		}
		if s.PatchMessageID(sessionID, msg.LocalID, saved.ID) {
			return
		}
		// Deleted while the save was in flight.
		if err := s.durable.DeleteMessage(ctx, saved.ID); err != nil && !errors.Is(err, durable.ErrNotFound) {
			s.logger.Warn("Failed to delete durable copy of removed message", "session", sessionID, "message", saved.ID, "err", err)
		}
	})
}

func (s *Store) goPersist(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	base := context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(base, s.persistTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Store) markFailed(sessionID, localID string) {
	s.mu.Lock()
	ok := s.replaceLocked(sessionID, localID, func(m *models.Message) {
		if m.ID == "" {
			m.SyncState = models.SyncStateSyncFailed
		}
	})
	s.mu.Unlock()

	if ok {
		s.mirrorSession(sessionID)
	}
}

func (s *Store) modelOf(sessionID string) string {
	info, _ := s.Session(sessionID)
	return info.ModelUsed
}

func (s *Store) mirrorSession(sessionID string) {
	if s.mirror == nil {
		return
	}

	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	s.mu.RLock()
	_, info := s.findLocked(sessionID)
	var snapshot models.SessionInfo
	if info != nil {
		snapshot = *info
	}
	msgs := s.messages[sessionID]
	s.mu.RUnlock()

	if info == nil {
		return
	}
	if err := s.mirror.SaveSession(&snapshot, msgs); err != nil {
		s.logger.Warn("Failed to write session to mirror", "session", sessionID, "err", err)
	}
}

func (s *Store) findLocked(id string) (int, *models.SessionInfo) {
	for i, info := range s.sessions {
		if info.ID == id {
			return i, info
		}
	}
	return -1, nil
}

func (s *Store) upsertLocked(info *models.SessionInfo) {
	if i, _ := s.findLocked(info.ID); i >= 0 {
		s.sessions[i] = info
		return
	}
	s.sessions = append(s.sessions, info)
}

func (s *Store) removeLocked(id string) {
	if i, _ := s.findLocked(id); i >= 0 {
		s.sessions = append(s.sessions[:i:i], s.sessions[i+1:]...)
	}
	delete(s.messages, id)
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.sessions, func(i, j int) bool {
		return s.sessions[i].LastActivity.After(s.sessions[j].LastActivity)
	})
}

func (s *Store) replaceLocked(sessionID, ref string, mutate func(m *models.Message)) bool {
	current := s.messages[sessionID]
	i := indexOf(current, ref)
	if i < 0 {
		return false
	}

	next := make([]models.Message, len(current))
	copy(next, current)
	mutate(&next[i])
	s.messages[sessionID] = next
	return true
}

func appendCopy(current []models.Message, msg models.Message) []models.Message {
	next := make([]models.Message, len(current), len(current)+1)
	copy(next, current)
	return append(next, msg)
}

func indexOf(msgs []models.Message, ref string) int {
	if ref == "" {
		return -1
	}
	for i, m := range msgs {
		if m.ID == ref {
			return i
		}
	}
	for i, m := range msgs {
		if m.LocalID == ref {
			return i
		}
	}
	return -1
}
