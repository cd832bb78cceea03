package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/convo/internal/logger"
	"github.com/zjregee/convo/internal/models"
	"github.com/zjregee/convo/internal/service/backend"
)

const shutdownTimeout = 5 * time.Second

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type historyResponse struct {
	SessionID string                `json:"session_id"`
	History   []models.HistoryEntry `json:"history"`
}

type clearRequest struct {
	SessionID string `json:"session_id"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

type ctxKey struct{}

// Server is the chat backend the client configures and streams from. Each
// user:session pair holds its own chat model and history.
type Server struct {
	auth     Authenticator
	factory  ModelFactory
	sessions *sessionTable
	logger   *log.Logger
	mux      *http.ServeMux
}

func NewServer(auth Authenticator, factory ModelFactory, l *log.Logger) *Server {
	if l == nil {
		l = logger.Discard()
	}
	s := &Server{
		auth:     auth,
		factory:  factory,
		sessions: newSessionTable(),
		logger:   l,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("POST /api/configure", s.authed(s.handleConfigure))
	s.mux.Handle("POST /api/chat", s.authed(s.handleChat))
	s.mux.Handle("POST /api/chat/stream", s.authed(s.handleChatStream))
	s.mux.Handle("GET /api/history", s.authed(s.handleHistory))
	s.mux.Handle("POST /api/clear", s.authed(s.handleClear))
	s.mux.Handle("GET /api/sessions", s.authed(s.handleSessions))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy: binding listener: %w", err)
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("Proxy listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("proxy: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		userID, ok := s.auth.Authenticate(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unable to resolve user id from token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func userIDFrom(r *http.Request) string {
	userID, _ := r.Context().Value(ctxKey{}).(string)
	return userID
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req backend.ConfigureRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}
	if req.Provider == "" || req.APIKey == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: provider, api_key, model")
		return
	}

	p, ok := models.ParseProvider(string(req.Provider))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported provider: %s", req.Provider))
		return
	}

	chatModel, err := s.factory.NewChatModel(r.Context(), p, req.APIKey, req.Model)
	if err != nil {
		s.logger.Warn("Failed to build chat model", "provider", p, "model", req.Model, "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := userIDFrom(r)
	s.sessions.configure(userID, req.SessionID, &chatSession{
		provider: p,
		modelID:  req.Model,
		model:    chatModel,
	})
	s.logger.Debug("Session configured", "user", userID, "session", req.SessionID, "provider", p, "model", req.Model)

	writeJSON(w, http.StatusOK, backend.ConfigureResponse{
		Message:   "Configuration successful",
		Provider:  string(p),
		Model:     req.Model,
		SessionID: req.SessionID,
	})
}

// prepare resolves the session and builds the prompt. A request history, when
// given, replaces the server-side one.
func (s *Server) prepare(r *http.Request, req *backend.StreamRequest) (*chatSession, []*schema.Message, error) {
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, nil, errors.New("Message is required")
	}

	sess, history, ok := s.sessions.get(userIDFrom(r), req.SessionID)
	if !ok {
		return nil, nil, errors.New("Session not configured. Please configure first.")
	}
	if len(req.History) > 0 {
		history = toSchemaMessages(req.History)
	}
	return sess, append(history, schema.UserMessage(req.Message)), nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req backend.StreamRequest
	if !readJSON(w, r, &req) {
		return
	}

	sess, prompt, err := s.prepare(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := sess.model.Generate(r.Context(), prompt)
	if err != nil {
		s.logger.Warn("Chat call failed", "session", req.SessionID, "model", sess.modelID, "err", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("%s API error: %v", sess.provider, err))
		return
	}

	s.sessions.record(userIDFrom(r), req.SessionID, sess, req.Message, reply.Content)
	writeJSON(w, http.StatusOK, chatResponse{Response: reply.Content, SessionID: req.SessionID})
}

// handleChatStream writes one JSON object per line: chunks, then done, or a
// single error object.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req backend.StreamRequest
	if !readJSON(w, r, &req) {
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(v any) bool {
		if err := enc.Encode(v); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	sess, prompt, err := s.prepare(r, &req)
	if err != nil {
		emit(map[string]string{"error": err.Error()})
		return
	}

	stream, err := sess.model.Stream(r.Context(), prompt)
	if err != nil {
		s.logger.Warn("Stream call failed", "session", req.SessionID, "model", sess.modelID, "err", err)
		emit(map[string]string{"error": fmt.Sprintf("%s API error: %v", sess.provider, err)})
		return
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			s.logger.Warn("Stream interrupted", "session", req.SessionID, "err", err)
			emit(map[string]string{"error": fmt.Sprintf("%s API error: %v", sess.provider, err)})
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if !emit(map[string]string{"chunk": chunk.Content}) {
			return
		}
	}

	s.sessions.record(userIDFrom(r), req.SessionID, sess, req.Message, full.String())
	emit(map[string]bool{"done": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = defaultSessionID
	}

	_, history, ok := s.sessions.get(userIDFrom(r), sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	entries := make([]models.HistoryEntry, 0, len(history))
	for _, m := range history {
		entries = append(entries, models.HistoryEntry{Role: m.Role, Content: m.Content})
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, History: entries})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}

	if !s.sessions.clear(userIDFrom(r), req.SessionID) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "History cleared", "session_id": req.SessionID})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]sessionSummary{"sessions": s.sessions.list(userIDFrom(r))})
}

// toSchemaMessages maps client history onto eino messages. Anything that is
// not a user turn is sent as an assistant turn.
func toSchemaMessages(entries []models.HistoryEntry) []*schema.Message {
	out := make([]*schema.Message, 0, len(entries))
	for _, e := range entries {
		if e.Role == schema.User {
			out = append(out, schema.UserMessage(e.Content))
			continue
		}
		out = append(out, schema.AssistantMessage(e.Content, nil))
	}
	return out
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}
