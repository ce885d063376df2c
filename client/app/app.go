// Package app wires the client components together.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/velichkin/wavefm/client"
	"github.com/velichkin/wavefm/client/api"
	"github.com/velichkin/wavefm/client/config"
	"github.com/velichkin/wavefm/client/db"
	"github.com/velichkin/wavefm/client/history"
	"github.com/velichkin/wavefm/client/likes"
	logpkg "github.com/velichkin/wavefm/client/logger"
	"github.com/velichkin/wavefm/client/player"
	"github.com/velichkin/wavefm/client/recent"
	"github.com/velichkin/wavefm/client/tracks"
	"github.com/velichkin/wavefm/client/worker"
)

// App holds all application dependencies.
type App struct {
	Config   *config.Config
	Logger   *logpkg.Logger
	DB       *db.Repository
	Pool     *worker.Pool
	Backend  *api.Client
	Users    client.UserProvider
	Tracks   *tracks.Store
	Likes    *likes.Store
	Recent   *recent.Aggregator
	Player   *player.Engine
	Recorder *history.Recorder
	Build    BuildInfo
}

// BuildInfo provides build-time metadata.
type BuildInfo struct {
	RuntimeVer string
	BinVersion string
	CommitSHA  string
	BuildTime  string
	BuildArch  string
}

// Hooks are the integration points the embedding surface provides. Both
// fields are optional.
type Hooks struct {
	// Emitter receives player events.
	Emitter player.Emitter
	// Sessions builds audio sessions. Nil falls back to the clock
	// transport.
	Sessions player.SessionFactory
}

// staticUser resolves the authenticated user from configuration. An
// empty id means the client runs unauthenticated.
type staticUser struct {
	id string
}

func (u staticUser) CurrentUserID() string { return u.id }

// New builds the application container.
func New(ctx context.Context, configPath string, build BuildInfo, hooks Hooks) (*App, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logpkg.New(conf.GetString("LogLevel"), conf.GetString("LogFormat"), conf.GetBool("LogSource"))

	gormLogger := logpkg.NewGormLogger(log.Slog(), logpkg.ParseGormLevel(conf.GetString("GormLogLevel")))
	databasePath := strings.TrimSpace(conf.GetString("Database"))
	if databasePath == "" {
		databasePath = "wavefm.db"
	}

	repo, err := db.NewSQLiteRepository(databasePath, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	maxLifetime := time.Duration(conf.GetInt("DBConnMaxLifetimeSec")) * time.Second
	if err := repo.ConfigurePool(conf.GetInt("DBMaxOpenConns"), conf.GetInt("DBMaxIdleConns"), maxLifetime); err != nil {
		return nil, fmt.Errorf("configure db pool: %w", err)
	}

	pool := worker.New(conf.GetInt("WorkerPoolSize"))

	backend := api.New(api.Options{
		BaseURL:    conf.GetString("BackendURL"),
		APIKey:     conf.GetString("BackendAPIKey"),
		Token:      conf.GetString("BackendToken"),
		Timeout:    time.Duration(conf.GetInt("HTTPTimeoutSec")) * time.Second,
		RatePerSec: conf.GetFloat64("RateLimitPerSecond"),
		RateBurst:  conf.GetInt("RateLimitBurst"),
		Logger:     log.With("component", "api"),
	})

	users := staticUser{id: strings.TrimSpace(conf.GetString("UserID"))}

	trackStore := tracks.NewStore(tracks.Options{
		Backend:        backend,
		Logger:         log.With("component", "tracks"),
		PageSize:       conf.GetInt("SearchPageSize"),
		MinQueryLength: conf.GetInt("MinQueryLength"),
		DebounceWindow: time.Duration(conf.GetInt("SearchDebounceMs")) * time.Millisecond,
		RecentLimit:    conf.GetInt("RecentTracksLimit"),
	})

	likeStore := likes.NewStore(likes.Options{
		Backend:   backend,
		Users:     users,
		Logger:    log.With("component", "likes"),
		ChunkSize: conf.GetInt("LikeChunkSize"),
	})

	recentAgg := recent.New(recent.Options{
		Backend: backend,
		Users:   users,
		Logger:  log.With("component", "recent"),
	})

	recorder := history.NewRecorder(history.Options{
		Backend:     backend,
		Repo:        repo,
		Users:       users,
		Pool:        pool,
		Logger:      log.With("component", "history"),
		DedupWindow: time.Duration(conf.GetInt("HistoryDedupWindowSec")) * time.Second,
	})

	engine := player.NewEngine(player.Options{
		Factory:  hooks.Sessions,
		Emitter:  hooks.Emitter,
		Recorder: recorder,
		Logger:   log.With("component", "player"),
		Volume:   conf.GetFloat64("Volume"),
	})
	likeStore.AttachPlayer(engine)

	return &App{
		Config:   conf,
		Logger:   log,
		DB:       repo,
		Pool:     pool,
		Backend:  backend,
		Users:    users,
		Tracks:   trackStore,
		Likes:    likeStore,
		Recent:   recentAgg,
		Player:   engine,
		Recorder: recorder,
		Build:    build,
	}, nil
}

// Start restores the previous player session, if one was saved. The
// restored track is bound but never auto-played.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("client starting",
		"version", a.Build.BinVersion,
		"commit", a.Build.CommitSHA,
		"runtime", a.Build.RuntimeVer,
	)

	snapshot, err := a.DB.LoadSnapshot(ctx)
	if err != nil {
		a.Logger.Warn("player snapshot load failed", "error", err)
		return nil
	}
	if snapshot == nil {
		return nil
	}

	rows, err := a.Backend.TracksByIDs(ctx, snapshot.QueueIDs)
	if err != nil {
		a.Logger.Warn("snapshot queue resolve failed", "error", err)
		return nil
	}
	if err := a.Player.Restore(*snapshot, rows); err != nil {
		a.Logger.Warn("player restore failed", "error", err)
	}
	return nil
}

// Shutdown persists the player state and releases all resources.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error

	if a.Player != nil {
		if err := a.DB.SaveSnapshot(ctx, a.Player.Snapshot()); err != nil {
			a.Logger.Error("player snapshot save failed", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("save snapshot: %w", err)
			}
		}
		a.Player.Close()
	}

	if a.Tracks != nil {
		a.Tracks.CancelAll()
	}
	if a.Recent != nil {
		a.Recent.Cancel()
	}

	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown worker pool: %w", err)
			}
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error("failed to close database", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("close database: %w", err)
			}
		}
	}

	return firstErr
}
