package redisstore

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/disgoorg/repbot/internal/domain/logger"
)

type callKey struct{}

// commandLogger reports every redis command through the shared store logger.
type commandLogger struct{}

var _ redis.Hook = commandLogger{}

func (commandLogger) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	return context.WithValue(ctx, callKey{}, logger.Start("redis", cmd.Name(), cmdString(cmd))), nil
}

func (commandLogger) AfterProcess(ctx context.Context, cmd redis.Cmder) error {
	if l, ok := ctx.Value(callKey{}).(*logger.CallLogger); ok {
		l.Done(cmd.Err(), 1, redis.Nil)
	}
	return nil
}

func (commandLogger) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	names := make([]string, len(cmds))
	for i, cmd := range cmds {
		names[i] = cmd.Name()
	}
	return context.WithValue(ctx, callKey{}, logger.Start("redis", "pipeline", strings.Join(names, " "))), nil
}

func (commandLogger) AfterProcessPipeline(ctx context.Context, cmds []redis.Cmder) error {
	l, ok := ctx.Value(callKey{}).(*logger.CallLogger)
	if !ok {
		return nil
	}
	var err error
	for _, cmd := range cmds {
		if cmd.Err() != nil {
			err = cmd.Err()
			break
		}
	}
	l.Done(err, int64(len(cmds)), redis.Nil)
	return nil
}

// cmdString renders the command without its arguments past the key.
func cmdString(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) > 2 {
		args = args[:2]
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if s, ok := a.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
