package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/disgoorg/repbot/repbot/database/models"
)

type AccountRepository interface {
	// Touch records that username currently belongs to userID.
	Touch(ctx context.Context, username, userID string) error
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	MarkDeleted(ctx context.Context, username string) error
	// SearchUsernames returns up to limit live usernames starting with prefix.
	SearchUsernames(ctx context.Context, prefix string, limit int) ([]string, error)
}

type accountRepository struct {
	*BaseRepository
}

func NewAccountRepository(db *bun.DB) AccountRepository {
	return &accountRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *accountRepository) Touch(ctx context.Context, username, userID string) error {
	now := time.Now()
	account := &models.Account{
		Username:  strings.ToLower(username),
		UserID:    userID,
		SeenAt:    now,
		CheckedAt: now,
	}
	_, err := r.ExecWithTimeout(ctx, "touch", "account", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewInsert().
			Model(account).
			On("CONFLICT (username) DO UPDATE").
			Set("user_id = EXCLUDED.user_id").
			Set("deleted = false").
			Set("seen_at = EXCLUDED.seen_at").
			Set("checked_at = EXCLUDED.checked_at").
			Exec(ctx)
	})
	return err
}

func (r *accountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	account := new(models.Account)
	err := r.SelectOneWithTimeout(ctx, "get", "account", username, func(ctx context.Context) error {
		return r.db.NewSelect().Model(account).Where("username = ?", strings.ToLower(username)).Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) MarkDeleted(ctx context.Context, username string) error {
	_, err := r.ExecWithTimeout(ctx, "mark_deleted", "account", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewUpdate().
			Model((*models.Account)(nil)).
			Set("deleted = true").
			Set("checked_at = ?", time.Now()).
			Where("username = ?", strings.ToLower(username)).
			Exec(ctx)
	})
	return err
}

// likePrefix escapes LIKE wildcards; usernames may contain underscores.
var likePrefix = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (r *accountRepository) SearchUsernames(ctx context.Context, prefix string, limit int) ([]string, error) {
	var names []string
	err := r.SelectWithTimeout(ctx, "search", "account", func(ctx context.Context) error {
		return r.db.NewSelect().
			Model((*models.Account)(nil)).
			Column("username").
			Where("deleted = false").
			Where("username LIKE ?", likePrefix.Replace(strings.ToLower(prefix))+"%").
			Order("seen_at DESC").
			Limit(limit).
			Scan(ctx, &names)
	})
	return names, err
}
