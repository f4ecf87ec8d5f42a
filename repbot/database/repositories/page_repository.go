package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/disgoorg/repbot/internal/domain/content"
	"github.com/disgoorg/repbot/repbot/database/models"
)

type PageRepository interface {
	content.Store
	// ListPublic returns every public page path under prefix.
	ListPublic(ctx context.Context, prefix string) ([]string, error)
}

type pageRepository struct {
	*BaseRepository
}

func NewPageRepository(db *bun.DB) PageRepository {
	return &pageRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *pageRepository) Get(ctx context.Context, path string) (content.Page, bool, error) {
	var page models.Page
	err := r.SelectOneWithTimeout(ctx, "get", "page", path, func(ctx context.Context) error {
		return r.db.NewSelect().Model(&page).Where("path = ?", path).Scan(ctx)
	})
	if IsNotFound(err) {
		return content.Page{}, false, nil
	}
	if err != nil {
		return content.Page{}, false, err
	}
	return content.Page{
		Path:       page.Path,
		Content:    page.Content,
		Permission: content.Permission(page.Permission),
	}, true, nil
}

func (r *pageRepository) Create(ctx context.Context, path, text string, perm content.Permission) error {
	now := time.Now()
	page := &models.Page{
		Path:       path,
		Content:    text,
		Permission: int(perm),
		Revision:   1,
		Reason:     "create",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := r.ExecWithTimeout(ctx, "create", "page", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewInsert().Model(page).Exec(ctx)
	})
	return err
}

func (r *pageRepository) Update(ctx context.Context, path, text, reason string) error {
	result, err := r.ExecWithTimeout(ctx, "update", "page", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewUpdate().
			Model((*models.Page)(nil)).
			Set("content = ?", text).
			Set("reason = ?", reason).
			Set("revision = revision + 1").
			Set("updated_at = ?", time.Now()).
			Where("path = ?", path).
			Exec(ctx)
	})
	if err != nil {
		return err
	}
	return r.requireRow(result, path)
}

func (r *pageRepository) SetPermission(ctx context.Context, path string, perm content.Permission) error {
	result, err := r.ExecWithTimeout(ctx, "set_permission", "page", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewUpdate().
			Model((*models.Page)(nil)).
			Set("permission = ?", int(perm)).
			Set("updated_at = ?", time.Now()).
			Where("path = ?", path).
			Exec(ctx)
	})
	if err != nil {
		return err
	}
	return r.requireRow(result, path)
}

func (r *pageRepository) ListPublic(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	err := r.SelectWithTimeout(ctx, "list_public", "page", func(ctx context.Context) error {
		return r.db.NewSelect().
			Model((*models.Page)(nil)).
			Column("path").
			Where("permission = ?", int(content.PermissionPublic)).
			Where("path LIKE ?", likePrefix.Replace(prefix)+"%").
			Order("path ASC").
			Scan(ctx, &paths)
	})
	return paths, err
}

func (r *pageRepository) requireRow(result sql.Result, path string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return r.HandleError("rows_affected", "page", err)
	}
	if n == 0 {
		return &NotFoundError{Entity: "page", ID: path}
	}
	return nil
}
