// Package backup exports the all-time score set to a compact page and merges
// it back on restore.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/disgoorg/repbot/internal/domain/cleanup"
	"github.com/disgoorg/repbot/internal/domain/content"
	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/internal/domain/settings"
)

type Policy string

const (
	// Overwrite applies imported scores above the existing one or when none exists.
	Overwrite Policy = "overwrite"
	// Skip applies imported scores only to users without a score.
	Skip Policy = "skip"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case Overwrite, Skip:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown restore policy %q", s)
}

// Archive mirrors exports to long-term storage.
type Archive interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Change is one score a restore would write.
type Change struct {
	Username string
	Existing int64
	HasScore bool
	Imported int64
}

type ExportResult struct {
	Records int
	Payload string
	Archive string
}

type RestoreResult struct {
	Imported int
	Skipped  int
	Changes  []Change
}

type Service struct {
	store   scores.Backend
	board   *scores.Board
	pages   content.Store
	cleanup *cleanup.Scheduler
	jobs    jobs.Scheduler
	archive Archive
	now     func() time.Time
}

// New builds the backup service. archive may be nil.
func New(store scores.Backend, pages content.Store, cleaner *cleanup.Scheduler, scheduler jobs.Scheduler, archive Archive, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   store,
		board:   scores.NewBoard(store, now),
		pages:   pages,
		cleanup: cleaner,
		jobs:    scheduler,
		archive: archive,
		now:     now,
	}
}

// Export writes every all-time score to the backup page.
func (s *Service) Export(ctx context.Context, cfg *settings.Settings) (ExportResult, error) {
	var res ExportResult
	if !cfg.BackupEnabled {
		return res, fmt.Errorf("export: %w", settings.ErrFeatureDisabled)
	}

	n, err := s.board.Count(ctx)
	if err != nil {
		return res, err
	}
	if n > MaxRecords {
		return res, fmt.Errorf("%w: %d entries, limit %d", ErrCapacityExceeded, n, MaxRecords)
	}

	members, err := s.board.AllTimeMembers(ctx)
	if err != nil {
		return res, err
	}
	scores.SortRanked(members)
	records := make([]Record, len(members))
	for i, m := range members {
		records[i] = Record{Username: m.Name, Score: m.Score}
	}

	payload, err := Encode(records)
	if err != nil {
		return res, err
	}
	if err := s.writePage(ctx, payload); err != nil {
		return res, err
	}
	res.Records = len(records)
	res.Payload = payload

	if s.archive != nil {
		name := fmt.Sprintf("backups/%s.txt", s.now().UTC().Format("20060102T150405Z"))
		if err := s.archive.Put(ctx, name, []byte(payload)); err != nil {
			slog.Warn("Failed to archive backup",
				slog.String("type", "job"),
				slog.String("name", name),
				slog.Any("error", err),
			)
		} else {
			res.Archive = name
		}
	}

	slog.Info("Scores exported",
		slog.String("type", "job"),
		slog.Int("records", res.Records),
	)
	return res, nil
}

func (s *Service) writePage(ctx context.Context, payload string) error {
	_, exists, err := s.pages.Get(ctx, content.BackupPath)
	if err != nil {
		return fmt.Errorf("%w: get backup page: %v", content.ErrLookupFailed, err)
	}
	if !exists {
		if err := s.pages.Create(ctx, content.BackupPath, payload, content.PermissionModerators); err != nil {
			return fmt.Errorf("create backup page: %w", err)
		}
		return nil
	}
	if err := s.pages.Update(ctx, content.BackupPath, payload, "score export"); err != nil {
		return fmt.Errorf("update backup page: %w", err)
	}
	return nil
}

// Load reads and decodes the stored backup page.
func (s *Service) Load(ctx context.Context) ([]Record, error) {
	page, exists, err := s.pages.Get(ctx, content.BackupPath)
	if err != nil {
		return nil, fmt.Errorf("%w: get backup page: %v", content.ErrLookupFailed, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: no backup page", ErrMalformedBackup)
	}
	return Decode(page.Content)
}

// Plan lists the writes a restore of records would make under policy.
// Records with a non-positive score are never eligible.
func (s *Service) Plan(ctx context.Context, records []Record, policy Policy) ([]Change, error) {
	var changes []Change
	for _, r := range records {
		if r.Score <= 0 {
			continue
		}
		existing, has, err := s.board.Score(ctx, r.Username)
		if err != nil {
			return nil, err
		}
		if !applies(policy, existing, has, r.Score) {
			continue
		}
		changes = append(changes, Change{Username: r.Username, Existing: existing, HasScore: has, Imported: r.Score})
	}
	return changes, nil
}

func applies(policy Policy, existing int64, has bool, imported int64) bool {
	switch policy {
	case Overwrite:
		return !has || imported > existing
	case Skip:
		return !has
	}
	return false
}

// Preview decodes payload, or the stored page when payload is empty, and
// plans a restore without writing anything.
func (s *Service) Preview(ctx context.Context, cfg *settings.Settings, payload string, policy Policy) (RestoreResult, error) {
	if !cfg.RestoreEnabled {
		return RestoreResult{}, fmt.Errorf("restore: %w", settings.ErrFeatureDisabled)
	}
	records, err := s.records(ctx, payload)
	if err != nil {
		return RestoreResult{}, err
	}
	changes, err := s.Plan(ctx, records, policy)
	if err != nil {
		return RestoreResult{}, err
	}
	return RestoreResult{Imported: len(changes), Skipped: len(records) - len(changes), Changes: changes}, nil
}

// Restore merges a backup into the all-time collection. Nothing is written
// unless the whole payload decodes and validates.
func (s *Service) Restore(ctx context.Context, cfg *settings.Settings, payload string, policy Policy) (RestoreResult, error) {
	res, err := s.Preview(ctx, cfg, payload, policy)
	if err != nil {
		return res, err
	}

	members := make([]scores.Member, len(res.Changes))
	for i, c := range res.Changes {
		members[i] = scores.Member{Name: c.Username, Score: c.Imported}
	}
	if err := s.store.Set(ctx, scores.AllTime.Key(), members...); err != nil {
		return res, fmt.Errorf("write restored scores: %w", err)
	}

	if _, err := s.cleanup.Reconcile(ctx, cfg); err != nil {
		return res, err
	}
	if _, err := jobs.Now(ctx, s.jobs, keys.JobLeaderboardRebuild, s.now()); err != nil {
		return res, fmt.Errorf("schedule leaderboard rebuild: %w", err)
	}
	if err := s.store.DeleteMarkers(ctx, string(keys.BootstrapMarker)); err != nil {
		return res, fmt.Errorf("clear bootstrap marker: %w", err)
	}

	slog.Info("Scores restored",
		slog.String("type", "job"),
		slog.String("policy", string(policy)),
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (s *Service) records(ctx context.Context, payload string) ([]Record, error) {
	if payload == "" {
		return s.Load(ctx)
	}
	return Decode(payload)
}

// SortChanges orders a plan by username for display.
func SortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].Username < changes[j].Username })
}
