package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/disgoorg/repbot/internal/domain/labels"
	"github.com/disgoorg/repbot/repbot/database/models"
)

type labelRepository struct {
	*BaseRepository
}

func NewLabelRepository(db *bun.DB) labels.Store {
	return &labelRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *labelRepository) UserLabel(ctx context.Context, community, username string) (string, bool, error) {
	var label models.Label
	err := r.SelectOneWithTimeout(ctx, "get", "label", username, func(ctx context.Context) error {
		return r.db.NewSelect().
			Model(&label).
			Where("community = ?", community).
			Where("kind = ?", models.LabelKindUser).
			Where("subject = ?", username).
			Scan(ctx)
	})
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return label.Text, true, nil
}

func (r *labelRepository) SetUserLabel(ctx context.Context, community, username, text string) error {
	return r.upsert(ctx, community, models.LabelKindUser, username, text)
}

func (r *labelRepository) SetPostLabel(ctx context.Context, community, postID, text string) error {
	return r.upsert(ctx, community, models.LabelKindPost, postID, text)
}

func (r *labelRepository) upsert(ctx context.Context, community string, kind models.LabelKind, subject, text string) error {
	label := &models.Label{
		Community: community,
		Kind:      kind,
		Subject:   subject,
		Text:      text,
		UpdatedAt: time.Now(),
	}
	_, err := r.ExecWithTimeout(ctx, "upsert", "label", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewInsert().
			Model(label).
			On("CONFLICT (community, kind, subject) DO UPDATE").
			Set("text = EXCLUDED.text").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
	})
	return err
}
