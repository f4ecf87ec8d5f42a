package repbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/disgoorg/disgo/rest"

	"github.com/disgoorg/repbot/internal/domain/award"
	"github.com/disgoorg/repbot/internal/domain/backup"
	"github.com/disgoorg/repbot/internal/domain/cleanup"
	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/leaderboard"
	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/internal/domain/settings"
	"github.com/disgoorg/repbot/internal/domain/setup"
	"github.com/disgoorg/repbot/internal/gateways/memstore"
	"github.com/disgoorg/repbot/internal/gateways/redisstore"
	"github.com/disgoorg/repbot/repbot/config"
	"github.com/disgoorg/repbot/repbot/database"
	"github.com/disgoorg/repbot/repbot/database/repositories"
	"github.com/disgoorg/repbot/repbot/scheduler"
	"github.com/disgoorg/repbot/repbot/services"
	"github.com/disgoorg/repbot/repbot/web"
)

// App holds every service the bot and the operator CLI share.
type App struct {
	Cfg     *Config
	Version string

	DB    *database.DB
	Redis *redisstore.Store
	Store scores.Backend
	Rest  rest.Rest

	Pages    repositories.PageRepository
	Jobs     repositories.JobRepository
	Accounts repositories.AccountRepository

	Directory  *services.DirectoryService
	Moderators *services.ModeratorService
	Messenger  *services.MessengerService
	Spaces     *services.SpacesService
	Snapshots  *services.SnapshotImageService

	Board       *scores.Board
	Cleanup     *cleanup.Scheduler
	Gate        *award.Gate
	Leaderboard *leaderboard.Builder
	Backup      *backup.Service
	Setup       *setup.Bootstrapper
	Registry    jobs.Registry
}

// NewApp connects to Postgres and the score store and builds the services.
func NewApp(ctx context.Context, cfg *Config, client rest.Rest, version string) (*App, error) {
	if err := keys.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store keys: %w", err)
	}
	a := &App{Cfg: cfg, Version: version, Rest: client}

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	if err = db.InitializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.Redis.Addr == "" {
		slog.Warn("No redis address configured, scores are kept in memory", slog.String("type", "sys"))
		a.Store = memstore.New(nil)
	} else {
		a.Redis, err = redisstore.New(ctx, cfg.Redis)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.Store = a.Redis
	}

	bunDB := db.BunDB()
	a.Pages = repositories.NewPageRepository(bunDB)
	a.Jobs = repositories.NewJobRepository(bunDB)
	a.Accounts = repositories.NewAccountRepository(bunDB)
	labelStore := repositories.NewLabelRepository(bunDB)
	history := repositories.NewAwardRepository(bunDB)

	a.Directory = services.NewDirectoryService(client, a.Accounts, cfg.Bot.Guilds)
	a.Moderators = services.NewModeratorService(client, a.Directory, cfg.Bot.ModeratorRoles)
	a.Messenger = services.NewMessengerService(client, a.Directory, cfg.Bot.OperatorChannel)
	a.Snapshots = services.NewSnapshotImageService()

	var archive backup.Archive
	if cfg.Spaces.Enabled() {
		a.Spaces, err = services.NewSpacesService(ctx, cfg.Spaces.Key, cfg.Spaces.Secret, cfg.Spaces.Region, cfg.Spaces.Bucket, cfg.Spaces.Root)
		if err != nil {
			a.Close()
			return nil, err
		}
		archive = a.Spaces
		slog.Info("Backups are mirrored to Spaces",
			slog.String("type", "sys"),
			slog.String("bucket", cfg.Spaces.Bucket),
			slog.String("region", cfg.Spaces.Region))
	}

	a.Board = scores.NewBoard(a.Store, nil)
	a.Cleanup = cleanup.New(a.Store, a.Directory, a.Jobs, nil)
	a.Gate = award.New(award.Deps{
		Store:      a.Store,
		Cleanup:    a.Cleanup,
		Jobs:       a.Jobs,
		Directory:  a.Directory,
		Moderators: a.Moderators,
		Labels:     labelStore,
		History:    history,
		Messenger:  a.Messenger,
	})
	a.Leaderboard = leaderboard.New(a.Store, a.Pages, history, nil)
	a.Backup = backup.New(a.Store, a.Pages, a.Cleanup, a.Jobs, archive, nil)
	a.Setup = setup.New(a.Store, a.Cleanup, a.Jobs, nil)
	a.Registry = a.jobRegistry()
	return a, nil
}

// Settings returns the validated reputation settings.
func (a *App) Settings() *settings.Settings {
	return &a.Cfg.Reputation
}

func (a *App) jobRegistry() jobs.Registry {
	sweep := func(ctx context.Context, _ map[string]string) error {
		_, err := a.Cleanup.Sweep(ctx, a.Settings())
		return err
	}
	return jobs.Registry{
		keys.JobLeaderboardRebuild: func(ctx context.Context, _ map[string]string) error {
			_, err := a.Leaderboard.Rebuild(ctx, a.Settings())
			return err
		},
		keys.JobCleanupSweep:      sweep,
		keys.JobAdhocCleanupSweep: sweep,
		keys.JobRegexValidation:   a.validateTriggers,
	}
}

// validateTriggers reports trigger phrases that do not compile to the operator.
func (a *App) validateTriggers(ctx context.Context, _ map[string]string) error {
	bad := a.Settings().InvalidTriggerPhrases()
	if len(bad) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("The following trigger phrases are not valid regular expressions and are ignored:\n")
	for phrase, err := range bad {
		fmt.Fprintf(&sb, "- `%s`: %v\n", phrase, err)
	}
	return a.Messenger.Operator(ctx, sb.String())
}

// Runner builds the job runner over the durable queue.
func (a *App) Runner() *scheduler.Runner {
	return scheduler.NewRunner(a.Jobs, a.Registry, scheduler.RunnerConfig{
		PollInterval: a.Cfg.Scheduler.Interval(),
		BatchSize:    a.Cfg.Scheduler.BatchSize,
		MaxAttempts:  a.Cfg.Scheduler.MaxAttempts,
		JobTimeout:   config.JobExecutionTimeout,
	}, nil)
}

// WebServer builds the public HTTP API over the app's services.
func (a *App) WebServer() *web.Server {
	checks := map[string]web.Check{"database": a.DB.Ping}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Ping
	}
	return web.New(web.Deps{
		Leaderboard: a.Leaderboard,
		Scores:      a.Board,
		Pages:       a.Pages,
		Checks:      checks,
		RateLimit:   a.Cfg.Web.RateLimit,
		Window:      a.Cfg.Web.Window(),
		Version:     a.Version,
	})
}

// Bootstrap runs first-time setup for this version.
func (a *App) Bootstrap(ctx context.Context) error {
	res, err := a.Setup.Run(ctx, a.Settings(), a.Version)
	if err != nil {
		return fmt.Errorf("failed to run setup: %w", err)
	}
	if res.Ran {
		slog.Info("Setup completed",
			slog.String("type", "sys"),
			slog.String("version", a.Version),
			slog.String("previous", res.Previous))
	}
	return nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Error("Failed to close redis", slog.Any("error", err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
