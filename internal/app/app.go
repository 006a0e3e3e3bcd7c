package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"parley/internal/retention"
	"parley/pkg/config"
	"parley/pkg/store"
	"parley/pkg/sync"
	"parley/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	mgr *sync.Manager
	ret *retention.Runner
	srv *http.Server
}

// New initializes everything that does not need a running context: config
// validation, runtime keys, draft limits, the store and the session
// manager. Call Run to start the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	runtimeCfg := &config.RuntimeConfig{SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.SigningKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	validation.SetLimits(validation.Limits{
		MaxContentRunes:    eff.Config.Sync.MaxContentLength,
		MaxAttachmentBytes: eff.Config.MaxAttachmentBytes(),
	})

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	mgr := sync.NewManager(sync.Options{
		ReconcileWindow:    eff.Config.ReconcileWindow(),
		QueueCapacity:      eff.Config.Sync.QueueCapacity,
		SubscriptionBuffer: eff.Config.Sync.SubscriptionBuffer,
	})

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, mgr: mgr}
	if eff.Config.Retention.Enabled {
		a.ret = retention.New(eff.Config)
	}
	return a, nil
}

// Run starts the retention runner and the HTTP server, blocking until ctx
// is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	if a.ret != nil {
		a.ret.Start(ctx)
	}

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	a.mgr.CloseAll()
	_ = store.Close()
}
