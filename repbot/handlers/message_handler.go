package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"

	"github.com/disgoorg/repbot/internal/domain/award"
	"github.com/disgoorg/repbot/repbot"
	"github.com/disgoorg/repbot/repbot/config"
)

// MessageHandler feeds guild messages into the award gate. Every author seen
// is recorded so usernames can be resolved later.
func MessageHandler(b *repbot.Bot) bot.EventListener {
	return bot.NewListenerFunc(func(e *events.GuildMessageCreate) {
		if b.App == nil || e.Message.Author.ID == e.Client().ID() {
			return
		}
		go handleMessage(b, e.Client(), e.GuildID, e.Message)
	})
}

func handleMessage(b *repbot.Bot, client bot.Client, guildID snowflake.ID, msg discord.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), config.AwardHandlerTimeout)
	defer cancel()

	touch(ctx, b, msg.Author)

	referenced := msg.ReferencedMessage
	if referenced == nil && msg.MessageReference != nil && msg.MessageReference.MessageID != nil {
		fetched, err := client.Rest().GetMessage(msg.ChannelID, *msg.MessageReference.MessageID, rest.WithCtx(ctx))
		if err != nil {
			slog.Warn("Failed to fetch referenced message",
				slog.String("type", "award"),
				slog.String("message_id", msg.ID.String()),
				slog.Any("error", err))
		} else {
			referenced = fetched
		}
	}
	if referenced != nil {
		touch(ctx, b, referenced.Author)
	}

	ev := BuildEvent(msg, guildID, referenced, PostLabel(client.Caches(), msg.ChannelID))
	_, _ = b.App.Gate.Handle(ctx, b.App.Settings(), ev)
}

func touch(ctx context.Context, b *repbot.Bot, user discord.User) {
	if err := b.App.Accounts.Touch(ctx, user.Username, user.ID.String()); err != nil {
		slog.Warn("Failed to record account",
			slog.String("type", "db"),
			slog.String("user_name", user.Username),
			slog.Any("error", err))
		return
	}
	b.App.Directory.Forget(user.Username)
}

// BuildEvent maps a Discord message onto an award event. The post is the
// channel or thread; a reply to the thread's starter message is not nested.
func BuildEvent(msg discord.Message, guildID snowflake.ID, referenced *discord.Message, label string) award.Event {
	ev := award.Event{
		ID:        msg.ID.String(),
		Author:    msg.Author.Username,
		Body:      msg.Content,
		Community: guildID.String(),
		PostID:    msg.ChannelID.String(),
		PostLabel: label,
		Permalink: fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, msg.ChannelID, msg.ID),
	}
	if referenced != nil {
		ev.Target = award.Target{
			ID:     referenced.ID.String(),
			Author: referenced.Author.Username,
			Nested: referenced.ID != msg.ChannelID,
		}
	}
	return ev
}

// PostLabel returns the name of the first tag applied to a forum thread.
func PostLabel(caches cache.Caches, channelID snowflake.ID) string {
	channel, ok := caches.Channel(channelID)
	if !ok {
		return ""
	}
	thread, ok := channel.(discord.GuildThread)
	if !ok || len(thread.AppliedTags) == 0 || thread.ParentID() == nil {
		return ""
	}
	parent, ok := caches.Channel(*thread.ParentID())
	if !ok {
		return ""
	}
	forum, ok := parent.(discord.GuildForumChannel)
	if !ok {
		return ""
	}
	return TagName(forum.AvailableTags, thread.AppliedTags[0])
}

func TagName(tags []discord.ChannelTag, id snowflake.ID) string {
	idx := slices.IndexFunc(tags, func(t discord.ChannelTag) bool { return t.ID == id })
	if idx < 0 {
		return ""
	}
	return tags[idx].Name
}
