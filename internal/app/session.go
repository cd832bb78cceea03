package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/zjregee/convo/internal/models"
	"github.com/zjregee/convo/internal/service"
)

func (a *App) CreateSession(ctx context.Context, title string) models.SessionInfo {
	return a.store.CreateSession(ctx, strings.TrimSpace(title), a.defaultModel)
}

func (a *App) ListSessions() []models.SessionInfo {
	return a.store.Sessions()
}

func (a *App) Session(sessionID string) (models.SessionInfo, error) {
	if sessionID == "" {
		return models.SessionInfo{}, fmt.Errorf("session ID is required")
	}
	info, ok := a.store.Session(sessionID)
	if !ok {
		return models.SessionInfo{}, service.ErrSessionNotFound
	}
	return info, nil
}

func (a *App) RenameSession(ctx context.Context, sessionID, title string) error {
	if _, err := a.Session(sessionID); err != nil {
		return err
	}
	title = formatTitle(strings.TrimSpace(title))
	if title == "" {
		return fmt.Errorf("title is required")
	}

	a.store.UpdateSessionMetadata(ctx, sessionID, models.SessionUpdate{Title: &title})
	return nil
}

func (a *App) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if a.reconciler.Active(sessionID) {
		return service.ErrTurnInFlight
	}
	return a.store.DeleteSession(ctx, sessionID)
}

func (a *App) ClearSessions(ctx context.Context) {
	a.store.ClearAllSessions(ctx)
}

func (a *App) ClearMessages(ctx context.Context, sessionID string) error {
	if a.reconciler.Active(sessionID) {
		return service.ErrTurnInFlight
	}
	return a.store.ClearMessages(ctx, sessionID)
}

func (a *App) SessionMessages(sessionID string) ([]models.Message, error) {
	if _, err := a.Session(sessionID); err != nil {
		return nil, err
	}
	return a.store.Messages(sessionID), nil
}

// RetryFailed re-sends messages whose save failed and waits for the result.
func (a *App) RetryFailed(ctx context.Context) int {
	n := a.store.RetryFailed(ctx)
	a.store.Wait()
	return n
}
