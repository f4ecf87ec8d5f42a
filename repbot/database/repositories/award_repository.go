package repositories

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"

	"github.com/disgoorg/repbot/internal/domain/history"
	"github.com/disgoorg/repbot/repbot/database/models"
)

type awardRepository struct {
	*BaseRepository
}

func NewAwardRepository(db *bun.DB) history.Store {
	return &awardRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *awardRepository) Append(ctx context.Context, rec history.Record) error {
	row := &models.AwardRecord{
		Awarder:    rec.Awarder,
		Recipient:  rec.Recipient,
		Community:  rec.Community,
		PostID:     rec.PostID,
		TargetID:   rec.TargetID,
		Permalink:  rec.Permalink,
		ScoreAfter: rec.ScoreAfter,
		CreatedAt:  rec.CreatedAt,
	}
	_, err := r.ExecWithTimeout(ctx, "append", "award_record", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewInsert().Model(row).Exec(ctx)
	})
	return err
}

func (r *awardRepository) Recent(ctx context.Context, username string, limit int) ([]history.Record, error) {
	var rows []*models.AwardRecord
	err := r.SelectWithTimeout(ctx, "recent", "award_record", func(ctx context.Context) error {
		return r.db.NewSelect().
			Model(&rows).
			Where("recipient = ?", username).
			Order("created_at DESC", "id DESC").
			Limit(limit).
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}

	records := make([]history.Record, len(rows))
	for i, row := range rows {
		records[i] = history.Record{
			Awarder:    row.Awarder,
			Recipient:  row.Recipient,
			Community:  row.Community,
			PostID:     row.PostID,
			TargetID:   row.TargetID,
			Permalink:  row.Permalink,
			ScoreAfter: row.ScoreAfter,
			CreatedAt:  row.CreatedAt,
		}
	}
	return records, nil
}
