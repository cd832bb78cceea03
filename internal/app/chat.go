package app

import (
	"context"

	"github.com/zjregee/convo/internal/models"
	"github.com/zjregee/convo/internal/service"
)

// Chat runs one turn to completion, forwarding every event to the emitter.
// An empty sessionID starts a new session. Cancelling ctx cancels the turn.
func (a *App) Chat(ctx context.Context, sessionID, input, model string) (models.TurnFinished, error) {
	if model == "" {
		model = a.defaultModel
	}

	events, err := a.reconciler.Send(ctx, service.TurnRequest{
		SessionID: sessionID,
		Input:     input,
		Model:     model,
		Identity:  a.identity,
	})
	if err != nil {
		return models.TurnFinished{}, err
	}
	return a.forward(events), nil
}

// Regenerate re-submits the session's latest user message.
func (a *App) Regenerate(ctx context.Context, sessionID, model string) (models.TurnFinished, error) {
	if model == "" {
		model = a.modelFor(sessionID)
	}

	events, err := a.reconciler.Regenerate(ctx, sessionID, model, a.identity)
	if err != nil {
		return models.TurnFinished{}, err
	}
	return a.forward(events), nil
}

func (a *App) Cancel(sessionID string) bool {
	return a.reconciler.Cancel(sessionID)
}

// EditMessage returns a user message's content for re-sending.
func (a *App) EditMessage(sessionID, ref string) (string, error) {
	return a.reconciler.EditMessage(sessionID, ref)
}

// CopyMessage puts a message's content on the system clipboard and returns it.
func (a *App) CopyMessage(sessionID, ref string) (string, error) {
	content, err := a.reconciler.CopyMessage(sessionID, ref)
	if err != nil {
		return "", err
	}
	if err := a.clipboard.WriteAll(content); err != nil {
		return content, err
	}
	return content, nil
}

func (a *App) DeleteMessage(ctx context.Context, sessionID, ref string) error {
	return a.reconciler.DeleteMessage(ctx, sessionID, ref)
}

func (a *App) forward(events <-chan models.TurnEvent) models.TurnFinished {
	var last models.TurnFinished
	for ev := range events {
		if f, ok := ev.(models.TurnFinished); ok {
			last = f
			if f.Err != nil {
				a.logger.Debug("Turn finished", "session", f.SessionID, "state", f.State, "err", f.Err)
			}
		}
		a.emitter.Emit(ev)
	}
	return last
}

func (a *App) modelFor(sessionID string) string {
	if info, ok := a.store.Session(sessionID); ok && info.ModelUsed != "" {
		return info.ModelUsed
	}
	return a.defaultModel
}
