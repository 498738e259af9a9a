// Package app wires configuration into stores, services and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"talecraft/story-vault/internal/audit"
	"talecraft/story-vault/internal/auth"
	"talecraft/story-vault/internal/config"
	"talecraft/story-vault/internal/generator"
	"talecraft/story-vault/internal/httpserver"
	"talecraft/story-vault/internal/migrations"
	"talecraft/story-vault/internal/stories"
)

type App struct {
	cfg    config.Config
	log    *zap.Logger
	db     *sql.DB
	redis  *redis.Client
	audit  *audit.Logger
	server *httpserver.Server

	// sweeper is nil when sessions live in Redis.
	sweeper *auth.MemorySessions
}

// namedGenerator is implemented by every provider in internal/generator.
type namedGenerator interface {
	generator.Generator
	Name() string
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{cfg: cfg, log: log}

	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Storage.Backend == config.StoragePostgres {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.db = db

		svc, err := migrations.NewService(db)
		if err != nil {
			return fmt.Errorf("create migration service: %w", err)
		}
		if err := svc.Up(ctx); err != nil {
			return err
		}
		a.log.Info("database schema up to date")
	}

	accounts, err := a.accountStore()
	if err != nil {
		return err
	}
	repo, err := a.storyRepository()
	if err != nil {
		return err
	}
	if err := a.importLegacyStories(ctx, accounts, repo); err != nil {
		return err
	}
	sessions, err := a.sessionManager(ctx)
	if err != nil {
		return err
	}

	credentials, err := auth.NewCredentials(accounts, auth.Params{
		Algorithm:  cfg.Auth.PBKDF2Algorithm,
		Iterations: cfg.Auth.PBKDF2Iterations,
		KeyLength:  cfg.Auth.PBKDF2KeyLength,
	})
	if err != nil {
		return fmt.Errorf("create credential store: %w", err)
	}
	gateway, err := auth.NewGateway(credentials, sessions, auth.GatewayConfig{
		MinUsernameLength: cfg.Auth.MinUsernameLength,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		Logger:            a.log.Named("auth"),
	})
	if err != nil {
		return fmt.Errorf("create auth gateway: %w", err)
	}

	gen, err := newGenerator(ctx, cfg.Generator)
	if err != nil {
		return err
	}
	storyService, err := stories.NewService(gateway, repo, gen, stories.ServiceConfig{
		GenerateTimeout: cfg.Generator.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create story service: %w", err)
	}

	a.audit, err = audit.NewLogger(cfg.AuditLogFile)
	if err != nil {
		return err
	}

	deps := httpserver.Deps{
		Auth:          gateway,
		Stories:       storyService,
		Logger:        a.log.Named("http"),
		Ready:         a.ready,
		GeneratorName: gen.Name(),
		SecureCookies: cfg.HTTP.SecureCookies,
	}
	// A nil *audit.Logger must not become a non-nil interface.
	if a.audit != nil {
		deps.Audit = a.audit
	}
	a.server = httpserver.New(cfg.HTTP, deps)

	a.log.Info("app initialised",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("sessions", cfg.Auth.SessionBackend),
		zap.String("generator", gen.Name()),
	)
	return nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (a *App) accountStore() (auth.AccountStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		return auth.NewPostgresAccountStore(a.db)
	case config.StorageFile:
		s, err := auth.NewFileAccountStore(a.cfg.Storage.AccountStateFile)
		if err != nil {
			return nil, fmt.Errorf("create account store: %w", err)
		}
		return s, nil
	case config.StorageMemory:
		return auth.NewInMemoryAccountStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
}

func (a *App) storyRepository() (stories.Repository, error) {
	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		return stories.NewPostgresRepository(a.db)
	case config.StorageFile:
		r, err := stories.NewFileRepository(a.cfg.Storage.StoryStateFile)
		if err != nil {
			return nil, fmt.Errorf("create story repository: %w", err)
		}
		return r, nil
	case config.StorageMemory:
		return stories.NewMemoryRepository(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
}

type legacyStorySource interface {
	LegacyStories() map[string]json.RawMessage
	ClearLegacyStories() error
}

type storyImporter interface {
	Import(ctx context.Context, owner string, in []stories.Story) (int, error)
}

// importLegacyStories moves stories embedded in a legacy users.json into the
// story repository, then strips them from the account file. Import skips ids
// it already holds, so a crash between the two steps is safe to rerun.
func (a *App) importLegacyStories(ctx context.Context, accounts auth.AccountStore, repo stories.Repository) error {
	src, ok := accounts.(legacyStorySource)
	if !ok {
		return nil
	}
	legacy := src.LegacyStories()
	if len(legacy) == 0 {
		return nil
	}
	dst, ok := repo.(storyImporter)
	if !ok {
		return fmt.Errorf("story repository cannot import legacy stories")
	}

	for owner, raw := range legacy {
		var batch []stories.Story
		if err := json.Unmarshal(raw, &batch); err != nil {
			return fmt.Errorf("decode legacy stories for %q: %w", owner, err)
		}
		n, err := dst.Import(ctx, owner, batch)
		if err != nil {
			return fmt.Errorf("import legacy stories for %q: %w", owner, err)
		}
		a.log.Info("imported legacy stories", zap.String("username", owner), zap.Int("count", n))
	}
	if err := src.ClearLegacyStories(); err != nil {
		return fmt.Errorf("clear legacy stories: %w", err)
	}
	return nil
}

// sessionManager picks Redis or the in-process table. The in-process table
// snapshots to the same substrate as accounts so sessions survive restarts.
func (a *App) sessionManager(ctx context.Context) (auth.SessionManager, error) {
	cfg := a.cfg
	if cfg.Auth.SessionBackend == config.SessionsRedis {
		opts, err := redis.ParseURL(cfg.Auth.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.redis = client
		return auth.NewRedisSessions(client, cfg.Auth.SessionTTL)
	}

	var store auth.SessionStore
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		s, err := auth.NewPostgresSessionStore(a.db)
		if err != nil {
			return nil, fmt.Errorf("create session store: %w", err)
		}
		store = s
	case config.StorageFile:
		s, err := auth.NewFileSessionStore(cfg.Auth.SessionStateFile)
		if err != nil {
			return nil, fmt.Errorf("create session store: %w", err)
		}
		store = s
	}

	sessions, err := auth.NewMemorySessions(cfg.Auth.SessionTTL, store)
	if err != nil {
		return nil, fmt.Errorf("create session manager: %w", err)
	}
	if err := sessions.Load(ctx); err != nil {
		return nil, err
	}
	a.sweeper = sessions
	return sessions, nil
}

func newGenerator(ctx context.Context, cfg config.GeneratorConfig) (namedGenerator, error) {
	switch cfg.Provider {
	case config.GeneratorGemini:
		g, err := generator.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("create gemini generator: %w", err)
		}
		return g, nil
	case config.GeneratorOffline:
		return generator.Offline{}, nil
	}
	return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
}

func (a *App) ready(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Run serves HTTP and sweeps expired sessions until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server starting", zap.String("addr", a.cfg.HTTP.Addr))
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})

	if a.sweeper != nil {
		g.Go(func() error {
			return a.sweeper.RunSweeper(gctx, a.cfg.Auth.SessionSweepInterval)
		})
	}

	return g.Wait()
}

func (a *App) close() {
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
