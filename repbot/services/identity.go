package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/disgoorg/repbot/internal/domain/identity"
	"github.com/disgoorg/repbot/repbot/config"
	"github.com/disgoorg/repbot/repbot/database/repositories"
)

type cachedUser struct {
	userID  snowflake.ID
	exists  bool
	expires time.Time
}

// DirectoryService resolves usernames to Discord users. Known accounts come
// from the accounts table; unknown names are searched in the configured guilds.
type DirectoryService struct {
	rest     rest.Rest
	accounts repositories.AccountRepository
	guilds   []snowflake.ID
	cache    *lru.Cache
	logger   *slog.Logger
}

func NewDirectoryService(client rest.Rest, accounts repositories.AccountRepository, guilds []snowflake.ID) *DirectoryService {
	cache, _ := lru.New(config.IdentityCacheSize)
	return &DirectoryService{
		rest:     client,
		accounts: accounts,
		guilds:   guilds,
		cache:    cache,
		logger:   slog.With(slog.String("service", "directory")),
	}
}

// Exists implements identity.Directory.
func (s *DirectoryService) Exists(ctx context.Context, username string) (bool, error) {
	_, ok, err := s.Resolve(ctx, username)
	return ok, err
}

// Resolve returns the user ID behind username. A deleted or unknown account
// reports false with a nil error.
func (s *DirectoryService) Resolve(ctx context.Context, username string) (snowflake.ID, bool, error) {
	key := strings.ToLower(username)
	if v, ok := s.cache.Get(key); ok {
		entry := v.(cachedUser)
		if time.Now().Before(entry.expires) {
			return entry.userID, entry.exists, nil
		}
		s.cache.Remove(key)
	}

	userID, exists, err := s.resolve(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", identity.ErrLookupFailed, username, err)
	}
	s.cache.Add(key, cachedUser{userID: userID, exists: exists, expires: time.Now().Add(config.IdentityCacheTTL)})
	return userID, exists, nil
}

// Forget drops a cached answer, for example after the account was seen again.
func (s *DirectoryService) Forget(username string) {
	s.cache.Remove(strings.ToLower(username))
}

func (s *DirectoryService) resolve(ctx context.Context, username string) (snowflake.ID, bool, error) {
	account, err := s.accounts.GetByUsername(ctx, username)
	switch {
	case err == nil:
		if account.Deleted {
			return 0, false, nil
		}
		return s.check(ctx, account.Username, account.UserID)
	case repositories.IsNotFound(err):
		return s.search(ctx, username)
	default:
		return 0, false, err
	}
}

// check confirms a stored account still exists and still carries username.
func (s *DirectoryService) check(ctx context.Context, username, rawID string) (snowflake.ID, bool, error) {
	userID, err := snowflake.Parse(rawID)
	if err != nil {
		return 0, false, fmt.Errorf("stored user id %q: %w", rawID, err)
	}

	user, err := s.rest.GetUser(userID, rest.WithCtx(ctx))
	if isNotFound(err) {
		s.logger.Info("Account no longer exists",
			slog.String("type", "sys"),
			slog.String("username", username))
		if err := s.accounts.MarkDeleted(ctx, username); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !strings.EqualFold(user.Username, username) {
		// Renamed: the old name no longer identifies anyone.
		if err := s.accounts.MarkDeleted(ctx, username); err != nil {
			return 0, false, err
		}
		return 0, false, s.accounts.Touch(ctx, user.Username, user.ID.String())
	}
	return userID, true, nil
}

func (s *DirectoryService) search(ctx context.Context, username string) (snowflake.ID, bool, error) {
	for _, guildID := range s.guilds {
		members, err := s.rest.SearchMembers(guildID, username, 5, rest.WithCtx(ctx))
		if err != nil {
			return 0, false, err
		}
		idx := slices.IndexFunc(members, func(m discord.Member) bool {
			return strings.EqualFold(m.User.Username, username)
		})
		if idx < 0 {
			continue
		}
		user := members[idx].User
		if err := s.accounts.Touch(ctx, user.Username, user.ID.String()); err != nil {
			return 0, false, err
		}
		return user.ID, true, nil
	}
	return 0, false, nil
}

// ModeratorService grants moderator status to members holding any of the
// configured roles.
type ModeratorService struct {
	rest      rest.Rest
	directory *DirectoryService
	roles     []snowflake.ID
}

func NewModeratorService(client rest.Rest, directory *DirectoryService, roles []snowflake.ID) *ModeratorService {
	return &ModeratorService{rest: client, directory: directory, roles: roles}
}

// IsModerator implements identity.Moderators. community is a guild ID.
func (s *ModeratorService) IsModerator(ctx context.Context, community, username string) (bool, error) {
	if len(s.roles) == 0 {
		return false, nil
	}
	guildID, err := snowflake.Parse(community)
	if err != nil {
		return false, fmt.Errorf("%w: community %q: %v", identity.ErrLookupFailed, community, err)
	}
	userID, ok, err := s.directory.Resolve(ctx, username)
	if err != nil || !ok {
		return false, err
	}

	member, err := s.rest.GetMember(guildID, userID, rest.WithCtx(ctx))
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: member %s: %v", identity.ErrLookupFailed, username, err)
	}
	return HasAnyRole(member.RoleIDs, s.roles), nil
}

func HasAnyRole(have, want []snowflake.ID) bool {
	for _, role := range have {
		if slices.Contains(want, role) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var restErr *rest.Error
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
