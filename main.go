package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/handler"

	"github.com/disgoorg/repbot/repbot"
	"github.com/disgoorg/repbot/repbot/commands"
	"github.com/disgoorg/repbot/repbot/handlers"
	"github.com/disgoorg/repbot/repbot/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	shouldSyncCommands := flag.Bool("sync-commands", false, "Whether to sync commands to discord")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := repbot.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler("repbot", cfg.Log.Level)))
	slog.Info("Starting RepBot",
		slog.String("type", "sys"),
		slog.String("version", version),
		slog.String("commit", commit))

	b := repbot.New(cfg, version, commit)

	h := handler.New()
	h.Command("/rep", handlers.WrapWithLogging("rep", commands.RepHandler(b)))
	h.Autocomplete("/rep", handlers.WrapAutocomplete("rep", commands.UsernameAutocomplete(b)))
	h.Command("/repadmin", handlers.WrapWithLogging("repadmin", commands.RepAdminHandler(b)))
	h.Autocomplete("/repadmin", handlers.WrapAutocomplete("repadmin", commands.UsernameAutocomplete(b)))

	if err = b.SetupBot(h, bot.NewListenerFunc(b.OnReady), handlers.MessageHandler(b)); err != nil {
		slog.Error("Failed to setup bot", slog.String("type", "sys"), slog.Any("error", err))
		os.Exit(-1)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	err = b.Start(startCtx)
	startCancel()
	if err != nil {
		slog.Error("Failed to start services", slog.String("type", "sys"), slog.Any("error", err))
		os.Exit(-1)
	}
	defer b.Shutdown()

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.Client.Close(ctx)
	}()

	if *shouldSyncCommands {
		slog.Info("Syncing commands",
			slog.String("type", "sys"),
			slog.Any("guild_ids", cfg.Bot.DevGuilds),
		)
		if err = handler.SyncCommands(b.Client, commands.Commands, cfg.Bot.DevGuilds); err != nil {
			slog.Error("Failed to sync commands", slog.String("type", "sys"), slog.Any("error", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = b.Client.OpenGateway(ctx); err != nil {
		slog.Error("Failed to open gateway", slog.String("type", "sys"), slog.Any("error", err))
		os.Exit(-1)
	}

	slog.Info("Bot is running. Press CTRL-C to exit.", slog.String("type", "sys"))
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	slog.Info("Shutting down bot...", slog.String("type", "sys"))
}
