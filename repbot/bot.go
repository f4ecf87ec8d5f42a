package repbot

import (
	"context"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/paginator"

	"github.com/disgoorg/repbot/repbot/scheduler"
)

func New(cfg *Config, version string, commit string) *Bot {
	return &Bot{
		Cfg:       cfg,
		Paginator: paginator.New(),
		Processes: scheduler.NewProcessManager(),
		Version:   version,
		Commit:    commit,
	}
}

type Bot struct {
	Cfg       *Config
	Client    bot.Client
	Paginator *paginator.Manager
	Processes *scheduler.ProcessManager
	App       *App
	Version   string
	Commit    string
}

func (b *Bot) SetupBot(listeners ...bot.EventListener) error {
	client, err := disgo.New(b.Cfg.Bot.Token,
		bot.WithGatewayConfigOpts(gateway.WithIntents(
			gateway.IntentGuilds,
			gateway.IntentGuildMessages,
			gateway.IntentMessageContent,
		)),
		bot.WithCacheConfigOpts(cache.WithCaches(cache.FlagGuilds, cache.FlagChannels)),
		bot.WithEventListeners(b.Paginator),
		bot.WithEventListeners(listeners...),
	)
	if err != nil {
		return err
	}

	b.Client = client
	return nil
}

// Start connects the services and launches the job runner.
func (b *Bot) Start(ctx context.Context) error {
	app, err := NewApp(ctx, b.Cfg, b.Client.Rest(), b.Version)
	if err != nil {
		return err
	}
	b.App = app

	if err = app.Bootstrap(ctx); err != nil {
		return err
	}
	b.Processes.Start("job-runner", "Runs scheduled reputation jobs", app.Runner().Run)
	if b.Cfg.Web.Enabled {
		b.startWeb(app)
	}
	return nil
}

func (b *Bot) startWeb(app *App) {
	server := app.WebServer()
	addr := b.Cfg.Web.Address()
	b.Processes.Start("web", "Serves the public leaderboard API", func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			if err := server.Shutdown(10 * time.Second); err != nil {
				slog.Error("Failed to stop web server", slog.String("type", "http"), slog.Any("error", err))
			}
		}()
		slog.Info("Web server listening", slog.String("type", "http"), slog.String("address", addr))
		if err := server.Listen(addr); err != nil {
			slog.Error("Web server stopped", slog.String("type", "http"), slog.Any("error", err))
		}
	})
}

func (b *Bot) Shutdown() {
	if err := b.Processes.Shutdown(30 * time.Second); err != nil {
		slog.Warn("Background processes did not stop in time", slog.Any("error", err))
	}
	if b.App != nil {
		b.App.Close()
	}
}

func (b *Bot) OnReady(_ *events.Ready) {
	slog.Info("RepBot is now ready",
		slog.String("type", "sys"),
		slog.String("version", b.Version),
		slog.String("commit", b.Commit))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.Client.SetPresence(ctx,
		gateway.WithWatchingActivity("for !thanks"),
		gateway.WithOnlineStatus(discord.OnlineStatusOnline)); err != nil {
		slog.Error("Failed to set presence", slog.Any("error", err))
	}
}
