package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

// MessengerService delivers notifications through Discord.
type MessengerService struct {
	rest            rest.Rest
	directory       *DirectoryService
	operatorChannel snowflake.ID
}

func NewMessengerService(client rest.Rest, directory *DirectoryService, operatorChannel snowflake.ID) *MessengerService {
	return &MessengerService{rest: client, directory: directory, operatorChannel: operatorChannel}
}

// Reply answers messageID inside the thread or channel postID.
func (s *MessengerService) Reply(ctx context.Context, postID, messageID, text string) error {
	channelID, err := snowflake.Parse(postID)
	if err != nil {
		return fmt.Errorf("invalid channel id %q: %w", postID, err)
	}
	msgID, err := snowflake.Parse(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", messageID, err)
	}

	_, err = s.rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetContent(text).
		SetMessageReferenceByID(msgID).
		SetAllowedMentions(&discord.AllowedMentions{RepliedUser: false}).
		Build(), rest.WithCtx(ctx))
	return err
}

func (s *MessengerService) DirectMessage(ctx context.Context, username, text string) error {
	userID, ok, err := s.directory.Resolve(ctx, username)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no account named %s", username)
	}

	dmChannel, err := s.rest.CreateDMChannel(userID, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to open DM with %s: %w", username, err)
	}
	_, err = s.rest.CreateMessage(dmChannel.ID(), discord.MessageCreate{Content: text}, rest.WithCtx(ctx))
	return err
}

// Operator posts to the operator channel. Without one configured the message
// is only logged.
func (s *MessengerService) Operator(ctx context.Context, text string) error {
	if s.operatorChannel == 0 {
		slog.Warn("No operator channel configured",
			slog.String("type", "sys"),
			slog.String("message", text))
		return nil
	}
	_, err := s.rest.CreateMessage(s.operatorChannel, discord.MessageCreate{Content: text}, rest.WithCtx(ctx))
	return err
}
