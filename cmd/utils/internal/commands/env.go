package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/edge/internal/app"
	"github.com/appetiteclub/edge/internal/outbox"
	"github.com/appetiteclub/edge/internal/remote"
	"github.com/appetiteclub/edge/internal/session"
	"github.com/aquamarinepk/aqm"
)

// env is the configured storage plus the outbox built on top of it, the
// same way the edge service wires them.
type env struct {
	storage  *app.Storage
	sessions *session.Manager
	queue    *outbox.Queue
}

func openStorage(ctx context.Context, config *aqm.Config, logger aqm.Logger) (*app.Storage, error) {
	storage, err := app.NewStorage(config, logger)
	if err != nil {
		return nil, err
	}
	if err := storage.Start(ctx); err != nil {
		return nil, fmt.Errorf("open local storage (%s): %w", storage.Driver, err)
	}
	return storage, nil
}

func openEnv(ctx context.Context, config *aqm.Config, logger aqm.Logger) (*env, error) {
	storage, err := openStorage(ctx, config, logger)
	if err != nil {
		return nil, err
	}

	scope, _ := config.GetString("remote.scope")
	sessions := session.NewManager(storage.KV, scope, logger)
	if err := sessions.Bootstrap(ctx, nil); err != nil {
		_ = storage.Stop(ctx)
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	client := remote.NewClient(remote.ConfigFrom(config), sessions, logger)
	queue := outbox.NewQueue(storage.KV, outbox.RemoteSender{Client: client}, sessions, outbox.ConfigFrom(config), logger)

	return &env{storage: storage, sessions: sessions, queue: queue}, nil
}

func (e *env) close(ctx context.Context) {
	_ = e.storage.Stop(ctx)
}
