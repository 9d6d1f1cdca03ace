package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/browser"
	"github.com/xkilldash9x/extraction-cli/internal/config"
	"github.com/xkilldash9x/extraction-cli/internal/credentials"
	"github.com/xkilldash9x/extraction-cli/internal/extraction"
	"github.com/xkilldash9x/extraction-cli/internal/history"
	"github.com/xkilldash9x/extraction-cli/internal/login"
	"github.com/xkilldash9x/extraction-cli/internal/notify"
	"github.com/xkilldash9x/extraction-cli/internal/observability"
	"github.com/xkilldash9x/extraction-cli/internal/reportconfig"
	"github.com/xkilldash9x/extraction-cli/internal/rotation"
)

// loginFieldPause is the pause between login form interactions.
const loginFieldPause = time.Second

// extractor runs one report extraction.
type extractor interface {
	Run(ctx context.Context, report string, date time.Time) (*extraction.Result, error)
}

// journal is the read side of the login history.
type journal interface {
	Recent(ctx context.Context, username string, limit int) ([]history.Attempt, error)
}

// The factories return a cleanup func that is never nil on success.
type (
	extractorFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (extractor, func(), error)
	journalFactory   func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (journal, func(), error)
)

type deps struct {
	extractor extractorFactory
	journal   journalFactory
}

func defaultDeps() deps {
	return deps{
		extractor: newExtractor,
		journal: func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (journal, func(), error) {
			store, cleanup, err := openJournal(ctx, cfg, logger)
			if err != nil {
				return nil, nil, err
			}
			return store, cleanup, nil
		},
	}
}

// newExtractor wires the production extraction pipeline.
func newExtractor(ctx context.Context, cfg *config.Config, logger *zap.Logger) (extractor, func(), error) {
	signals := observability.NewSignalEmitter(os.Stdout)
	surfaces := extraction.NewSurfaces(cfg, logger)
	notifier := notify.New(cfg.Notify, logger)

	var recorder history.Recorder = history.Nop{}
	cleanup := func() {}
	if cfg.History.DatabaseURL != "" {
		j, closeJournal, err := openJournal(ctx, cfg, logger)
		if err != nil {
			// The journal is optional; extraction goes ahead without it.
			logger.Warn("Login history disabled.", zap.Error(err))
		} else {
			recorder = j
			cleanup = closeJournal
		}
	}

	controller := rotation.NewController(rotation.Deps{
		Store: credentials.NewStore(cfg.Credentials.Path,
			credentials.WithLockTimeout(cfg.Credentials.LockTimeout),
			credentials.WithLogger(logger)),
		Loader:        reportconfig.NewLoader(cfg.Reports.ConfigDir, logger, signals),
		Launcher:      browser.NewManager(cfg.Browser, logger),
		Authenticator: login.NewExecutor(cfg.Login, loginFieldPause, signals, logger),
		Notifier:      notifier,
		Journal:       recorder,
		Surface:       surfaces.Login,
	}, logger)

	return extraction.NewManager(cfg, controller, surfaces.Steps, notifier, logger), cleanup, nil
}

// openJournal connects the PostgreSQL login history.
func openJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*history.Store, func(), error) {
	if cfg.History.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("history database URL is not configured (EXTRACTION_HISTORY_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.History.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := history.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize login history: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return store, cleanup, nil
}
