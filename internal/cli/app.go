// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jeranaias/palaver/internal/chat"
	"github.com/jeranaias/palaver/internal/config"
	"github.com/jeranaias/palaver/internal/credentials"
	"github.com/jeranaias/palaver/internal/gateway"
	"github.com/jeranaias/palaver/internal/logger"
	"github.com/jeranaias/palaver/internal/metrics"
	"github.com/jeranaias/palaver/internal/model"
	"github.com/jeranaias/palaver/internal/openwebui"
	"github.com/jeranaias/palaver/internal/storage"
	"github.com/jeranaias/palaver/internal/transport"
)

// =============================================================================
// APP
// =============================================================================

// Options are the global flags shared by every command.
type Options struct {
	ConfigPath string
	Model      string
	LogLevel   string
	JSON       bool
	Quiet      bool

	// Factory replaces the gateway/Open-WebUI adapters. Tests only.
	Factory transport.Factory
}

// App is everything a command needs, wired from the configuration: the
// persisted KV, credentials, the conversation store restored from disk, and
// the engine that runs turns against it.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	KV      storage.KV
	Creds   *credentials.Manager
	Store   *chat.Store
	Repo    *storage.ConversationRepository
	Events  *chat.Events
	Metrics *metrics.Metrics
	Engine  *chat.Engine

	factory transport.Factory
	logFile *os.File
}

// OpenApp loads configuration and wires the app. The caller must Close it.
func OpenApp(ctx context.Context, opts Options) (*App, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, &CommandError{Code: ExitConfigError, Err: err}
	}
	if opts.Model != "" {
		cfg.DefaultModel = opts.Model
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	a := &App{Config: cfg}

	logCfg, err := cfg.LoggerConfig()
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	if f, ok := logCfg.Output.(*os.File); ok {
		a.logFile = f
	}
	a.Log = logger.Init(logCfg)

	storeOpts, err := cfg.StorageOptions()
	if err != nil {
		a.Close()
		return nil, &CommandError{Code: ExitConfigError, Err: err}
	}
	a.KV, err = storage.Open(ctx, storeOpts)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a.Creds = credentials.NewManager(a.KV, logger.Component("credentials"))
	if err := a.Creds.Hydrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	a.Repo = storage.NewConversationRepository(a.KV)
	convs, err := a.Repo.Load(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	a.Store = chat.NewStore()
	a.Store.SetConversations(convs)
	if m, ok := model.FindModel(a.Store.AvailableModels(), cfg.DefaultModel); ok {
		a.Store.SetSelectedModel(m)
	} else if cfg.DefaultModel != "" {
		// Self-hosted servers name their own models; take the id as given.
		a.Store.SetSelectedModel(model.Model{ID: cfg.DefaultModel, Name: cfg.DefaultModel})
	}

	a.factory = opts.Factory
	if a.factory == nil {
		a.factory = transport.FactoryFuncs{
			HostedFunc: func(token string) transport.Adapter {
				return a.GatewayClient(token).Adapter()
			},
			SelfHostedFunc: func(serverURL, token string) transport.Adapter {
				return a.OpenWebUIClient(serverURL, token).Adapter()
			},
		}
	}

	a.Events = chat.NewEvents(logger.Component("events"))
	a.Metrics = metrics.New()
	a.Metrics.SetConversations(len(convs))
	a.Engine = chat.NewEngine(a.Store, a.Creds, a.factory).
		WithRepository(a.Repo).
		WithEvents(a.Events).
		WithMetrics(a.Metrics).
		WithLogger(logger.Component("engine")).
		WithTurnTimeout(cfg.Chat.TurnTimeout.D()).
		WithErrorMessage(cfg.Chat.ErrorMessage)

	a.Log.Debug().
		Str("storage", storeOpts.Backend).
		Int("conversations", len(convs)).
		Str("model", a.Store.SelectedModel().ID).
		Msg("app ready")
	return a, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// GatewayClient builds a hosted gateway client from the configuration.
func (a *App) GatewayClient(token string) *gateway.Client {
	gw := a.Config.Gateway
	return gateway.NewClient(token).
		WithBaseURL(gw.BaseURL).
		WithTimeout(gw.Timeout.D()).
		WithRateLimit(gw.RequestsPerSecond, gw.Burst).
		WithMaxRetries(gw.MaxRetries).
		WithLogger(logger.Component("gateway"))
}

// OpenWebUIClient builds a self-hosted client from the configuration.
func (a *App) OpenWebUIClient(serverURL, token string) *openwebui.Client {
	hc := &http.Client{Timeout: a.Config.OpenWebUI.Timeout.D()}
	return openwebui.NewClientWithHTTP(serverURL, token, hc).
		WithLogger(logger.Component("openwebui"))
}

// ListModels returns the models the active backend offers. The hosted
// gateway has no listing endpoint, so its fixed catalogue is returned.
func (a *App) ListModels(ctx context.Context) ([]model.Model, error) {
	snap := a.Creds.Snapshot()
	if !transport.UseSelfHosted(snap) {
		return model.HostedCatalogue(), nil
	}
	return a.OpenWebUIClient(snap.ServerURL, snap.SelfHostedToken).ListModels(ctx)
}

// Backend names the backend the next turn will use.
func (a *App) Backend() transport.Kind {
	if transport.UseSelfHosted(a.Creds.Snapshot()) {
		return transport.KindSelfHosted
	}
	return transport.KindHosted
}

// WatchCredentials re-reads credentials when another process changes them.
// Only the file backend has a file to watch; other backends return at once.
func (a *App) WatchCredentials(ctx context.Context) {
	if b := strings.ToLower(a.Config.Storage.Backend); b != "" && b != storage.BackendFile {
		return
	}
	dir, err := a.Config.StorageDir()
	if err != nil {
		return
	}
	go func() {
		if err := a.Creds.Watch(ctx, storage.StateFile(dir), credentials.DefaultDebounce); err != nil {
			a.Log.Warn().Err(err).Msg("credential watcher stopped")
		}
	}()
}

// Close releases storage, the event bus and the log file.
func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		errs = append(errs, a.Events.Close())
	}
	if a.KV != nil {
		errs = append(errs, a.KV.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}
