// Package app assembles and runs the Hibiki service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Hibiki/common/spec/catalog"
	"github.com/bdobrica/Hibiki/common/spec/rules"
	"github.com/bdobrica/Hibiki/internal/hibiki/commands"
	"github.com/bdobrica/Hibiki/internal/hibiki/config"
	"github.com/bdobrica/Hibiki/internal/hibiki/correlation"
	"github.com/bdobrica/Hibiki/internal/hibiki/dispatch"
	"github.com/bdobrica/Hibiki/internal/hibiki/gateway"
	"github.com/bdobrica/Hibiki/internal/hibiki/matrix"
	"github.com/bdobrica/Hibiki/internal/hibiki/observability"
	"github.com/bdobrica/Hibiki/internal/hibiki/ratelimit"
	"github.com/bdobrica/Hibiki/internal/hibiki/sanitize"
	"github.com/bdobrica/Hibiki/internal/hibiki/service"
	"github.com/bdobrica/Hibiki/internal/hibiki/store"
	"github.com/bdobrica/Hibiki/internal/hibiki/store/pgstore"
)

// App is the assembled service.
type App struct {
	cfg       *config.Config
	store     *store.Store
	history   store.History
	matrix    *matrix.Client
	router    *correlation.Router
	limiter   *ratelimit.Limiter
	service   *service.Service
	server    *Server
	retention *Retention
	logger    *slog.Logger
}

// New builds every component from cfg. Nothing connects until Run or
// Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rs, err := rules.Load(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	sanitizer, err := sanitize.New(rs)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	doc, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	cat, err := commands.NewCatalog(doc)
	if err != nil {
		return nil, err
	}

	sealer, err := cfg.Sealer()
	if err != nil {
		return nil, err
	}

	logger.Info("opening database", "path", cfg.DBPath, "sealed", sealer.Enabled())
	st, err := store.New(cfg.DBPath, store.WithSealer(sealer))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{cfg: cfg, store: st, history: st, logger: logger}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL, sealer)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		a.history = pg
		logger.Info("execution history in PostgreSQL")
	}

	a.matrix, err = matrix.New(matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		BotRooms:    cfg.Matrix.BotRooms,
		DB:          st.DB(),
		Log:         observability.Zerolog(cfg.LogLevel, cfg.LogFormat, "mautrix", os.Stdout),
		QueueSize:   cfg.Matrix.QueueSize,
	}, logger)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}

	a.router = correlation.NewRouter(cfg.RouterConfig(), logger)
	disp := dispatch.New(a.matrix, a.router, logger, dispatch.WithStatusFilter(sanitizer))
	provider := gateway.New(disp, cat, sanitizer, cfg.GatewayConfig(), logger)
	a.limiter = ratelimit.New(cfg.LimiterConfig())

	a.service = service.New(service.Deps{
		Catalog:  cat,
		Provider: provider,
		Limiter:  a.limiter,
		History:  a.history,
		Audit:    st,
		Logger:   logger,
	})

	a.retention, err = NewRetention(RetentionConfig{
		Schedule:    cfg.Retention.Schedule,
		MaxAge:      cfg.Retention.MaxAge,
		LimiterIdle: cfg.Retention.LimiterIdle,
		Executions:  a.history,
		Audit:       st,
		Limiter:     a.limiter,
	}, logger)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	if cfg.HTTPAddr != "" {
		a.server = NewServer(cfg.HTTPAddr, a.service, a, logger)
	}
	return a, nil
}

// Service returns the command service.
func (a *App) Service() *service.Service {
	return a.service
}

// Connected implements StatusProvider.
func (a *App) Connected() bool {
	return a.matrix.Connected()
}

// RouterStats implements StatusProvider.
func (a *App) RouterStats() correlation.Stats {
	return a.router.Stats()
}

// ExecutionCount implements StatusProvider.
func (a *App) ExecutionCount(ctx context.Context) (int64, error) {
	return a.history.CountExecutions(ctx)
}

// Start connects the Matrix transport without serving HTTP. Used by one-shot
// commands; pair with Close.
func (a *App) Start(ctx context.Context) error {
	if err := a.matrix.Start(ctx); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}
	return nil
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		// Writes must outlive the longest response window.
		writeTimeout := a.cfg.Correlation.Timeout + a.cfg.Correlation.CheckInterval*10
		g.Go(func() error { return a.server.Run(gctx, writeTimeout) })
	}
	g.Go(func() error { return a.retention.Run(gctx) })

	a.logger.Info("hibiki is running", "http", a.cfg.HTTPAddr, "bots", len(a.cfg.Matrix.BotRooms))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close stops the transport, finishes open windows and closes databases.
func (a *App) Close() {
	a.logger.Info("stopping Matrix client")
	a.matrix.Stop()
	a.router.Close()
	a.closeStores()
}

func (a *App) closeStores() {
	if a.history != nil && a.history != store.History(a.store) {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("failed to close history database", "err", err)
		}
	}
	a.logger.Info("closing database")
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", "err", err)
	}
}
