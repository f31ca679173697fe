package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"teamdesk/internal/retention"
	"teamdesk/pkg/config"
	"teamdesk/pkg/identity"
	"teamdesk/pkg/logger"
	"teamdesk/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.Effective
	version   string
	commit    string
	buildDate string

	resolver *identity.Resolver
	srv      *http.Server
}

// New initializes resources that do not require a running context (config
// validation, runtime keys, the document store, the identity resolver). It
// does not start the HTTP server or retention; call Run to start those and
// block until shutdown.
func New(eff config.Effective, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	logger.InitWithLevel(eff.Config.Logging.Level)

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	// runtime keys
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, FrontendKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range eff.Config.Security.APIKeys.Frontend {
		runtimeCfg.FrontendKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		resolver:  identity.NewResolver(eff.Config.Roster),
	}
	return a, nil
}

// Run starts the retention scheduler and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	stopRetention, err := retention.Start(ctx, *a.eff.Config)
	if err != nil {
		return err
	}
	defer stopRetention()

	logger.Info("server_starting",
		"addr", a.eff.Addr,
		"db", a.eff.DBPath,
		"source", a.eff.Source,
		"version", a.versionString())

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) versionString() string {
	verStr := a.version
	if verStr == "" {
		verStr = "dev"
	}
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	return verStr
}

func (a *App) shutdown() {
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = a.srv.Shutdown(sctx)
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("server_stopped")
}
