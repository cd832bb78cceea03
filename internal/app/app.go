package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/zjregee/convo/internal/config"
	"github.com/zjregee/convo/internal/logger"
	"github.com/zjregee/convo/internal/models"
	"github.com/zjregee/convo/internal/service"
	"github.com/zjregee/convo/internal/service/backend"
	"github.com/zjregee/convo/internal/service/durable"
	"github.com/zjregee/convo/internal/service/provider"
	"github.com/zjregee/convo/internal/service/storage"
)

// Emitter receives every event of a running turn.
type Emitter interface {
	Emit(ev models.TurnEvent)
}

type EmitterFunc func(ev models.TurnEvent)

func (f EmitterFunc) Emit(ev models.TurnEvent) {
	f(ev)
}

type Options struct {
	Identity     service.Identity
	DefaultModel string
	Emitter      Emitter
	Clipboard    Clipboard
	Logger       *log.Logger
}

// App is the surface the command line drives. It owns no state of its own
// beyond the wiring.
type App struct {
	store       *service.Store
	reconciler  *service.Reconciler
	credentials provider.CredentialStore

	identity     service.Identity
	defaultModel string
	emitter      Emitter
	clipboard    Clipboard
	logger       *log.Logger

	closers []func() error
}

func New(store *service.Store, reconciler *service.Reconciler, credentials provider.CredentialStore, opts Options) *App {
	a := &App{
		store:        store,
		reconciler:   reconciler,
		credentials:  credentials,
		identity:     opts.Identity,
		defaultModel: opts.DefaultModel,
		emitter:      opts.Emitter,
		clipboard:    opts.Clipboard,
		logger:       opts.Logger,
	}
	if a.defaultModel == "" {
		a.defaultModel = provider.DefaultModelID
	}
	if a.emitter == nil {
		a.emitter = EmitterFunc(func(models.TurnEvent) {})
	}
	if a.clipboard == nil {
		a.clipboard = systemClipboard{}
	}
	if a.logger == nil {
		a.logger = logger.Discard()
	}
	return a
}

// Open wires the store, credentials and reconciler described by cfg and loads
// the saved sessions.
func Open(ctx context.Context, cfg *config.Config, emitter Emitter, l *log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Discard()
	}

	mirror, err := storage.Open(filepath.Join(cfg.DataDir, storage.DefaultFileName))
	if err != nil {
		return nil, err
	}
	closers := []func() error{mirror.Close}

	var remote service.DurableStore
	switch cfg.Durable.Kind {
	case config.DurableHTTP:
		remote = durable.NewHTTPStore(cfg.DurableURL(), cfg.Auth.AccessToken, &http.Client{})
	case config.DurableSQLite:
		db, err := durable.OpenSQLite(cfg.SQLitePath(durable.DefaultSQLiteFileName), cfg.Auth.UserID)
		if err != nil {
			_ = mirror.Close()
			return nil, err
		}
		remote = db
		closers = append(closers, db.Close)
	}

	store := service.NewStore(mirror, remote, service.WithLogger(l))
	if err := store.Load(ctx); err != nil {
		l.Warn("Failed to load sessions", "err", err)
	}

	credentials := storage.NewCredentials(mirror)
	client := backend.NewClient(cfg.BackendURL, &http.Client{})
	reconciler := service.NewReconciler(store, provider.NewResolver(credentials), client, l)

	a := New(store, reconciler, credentials, Options{
		Identity: service.Identity{
			UserID:      cfg.Auth.UserID,
			AccessToken: cfg.Auth.AccessToken,
		},
		DefaultModel: cfg.DefaultModel,
		Emitter:      emitter,
		Logger:       l,
	})
	a.closers = closers
	return a, nil
}

// Close waits for background saves, then closes the stores.
func (a *App) Close() error {
	a.store.Wait()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i -= 1 {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Identity() service.Identity {
	return a.identity
}

func (a *App) DefaultModel() string {
	return a.defaultModel
}

func (a *App) ListModels() []*models.ModelInfo {
	return provider.Catalog()
}

// SetAPIKey stores the caller's key for the named provider.
func (a *App) SetAPIKey(providerName, key string) error {
	p, ok := models.ParseProvider(providerName)
	if !ok {
		return fmt.Errorf("unknown provider: %s", providerName)
	}
	return a.credentials.Set(a.identity.UserID, p, key)
}

func (a *App) DeleteAPIKey(providerName string) error {
	p, ok := models.ParseProvider(providerName)
	if !ok {
		return fmt.Errorf("unknown provider: %s", providerName)
	}
	return a.credentials.Delete(a.identity.UserID, p)
}

func (a *App) ConfiguredProviders() ([]models.Provider, error) {
	return a.credentials.Providers(a.identity.UserID)
}
