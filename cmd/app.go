package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/conneroisu/coursegen/internal/cache"
	"github.com/conneroisu/coursegen/internal/config"
	"github.com/conneroisu/coursegen/internal/logging"
	"github.com/conneroisu/coursegen/internal/model"
	"github.com/conneroisu/coursegen/internal/resolver"
	"github.com/conneroisu/coursegen/internal/sandbox"
	"github.com/conneroisu/coursegen/internal/server"
	"github.com/conneroisu/coursegen/internal/vcs"
)

// app wires the long-lived services: one of everything per process.
type app struct {
	cfg      *config.Config
	log      logging.Logger
	store    cache.Store
	revs     *vcs.Revisions
	resolver *resolver.Resolver
	server   *server.Server
}

func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logging.NewLogger(&logging.LoggerConfig{
		Level:  parseLogLevel(viper.GetString("log-level")),
		Format: viper.GetString("log-format"),
	})

	root, err := model.Load(cfg.Content.RepoDir)
	if err != nil {
		return nil, fmt.Errorf("loading content model: %w", err)
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	revs := vcs.NewRevisions(vcs.GitLookup{}, cfg.Development.Debug)
	dirty := func(ctx context.Context) bool {
		isDirty, err := revs.IsDirty(ctx, cfg.Content.RepoDir)
		if err != nil {
			log.Warn(ctx, err, "dirty check failed, assuming clean working copy")
			return false
		}
		return isDirty
	}
	cacheSvc := cache.NewService(store, dirty, log)

	client := sandbox.NewExecClient(cfg.Delegation.SandboxCommand, cfg.Delegation.Timeout, log)

	res := resolver.New(root, revs, cacheSvc, client, resolver.Options{
		RepoDir:      cfg.Content.RepoDir,
		RenderingDir: cfg.Content.RenderingDir,
		LessonsDir:   cfg.Content.LessonsDir,
		Strict:       cfg.Delegation.StrictListing,
	}, log)

	srv, err := server.New(res, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		revs:     revs,
		resolver: res,
		server:   srv,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn(context.Background(), err, "closing cache store")
	}
}

// reload rebuilds the model and clears memoized revisions. Driven by the
// debug file watcher.
func (a *app) reload(ctx context.Context) error {
	root, err := model.Load(a.cfg.Content.RepoDir)
	if err != nil {
		return err
	}
	a.resolver.SetRoot(root)
	a.log.Info(ctx, "content model reloaded")
	return nil
}

func buildStore(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(cfg.Cache.MaxSize, cfg.Cache.TTL), nil
	case "file":
		store, err := cache.NewBadgerStore(cfg.Cache.Dir)
		if err != nil {
			if cfg.Cache.IgnoreErrors {
				return cache.NoopStore{}, nil
			}
			return nil, fmt.Errorf("opening cache at %s: %w", cfg.Cache.Dir, err)
		}
		return store, nil
	case "none":
		return cache.NoopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func parseLogLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
