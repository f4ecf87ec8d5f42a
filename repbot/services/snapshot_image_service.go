package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/disgoorg/repbot/internal/domain/leaderboard"
	"github.com/disgoorg/repbot/internal/domain/scores"
)

var snapshotTemplate = template.Must(template.New("snapshot").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><style>
body{margin:0;background:#2b2d31;font-family:sans-serif;color:#f2f3f5}
#snapshot{width:480px;padding:24px}
h1{font-size:22px;margin:0 0 4px}
.sub{color:#b5bac1;font-size:13px;margin-bottom:16px}
.row{display:flex;padding:8px 12px;border-radius:6px;margin-bottom:6px;background:#313338}
.rank{width:40px;color:#b5bac1}
.name{flex:1}
.score{font-weight:bold}
</style></head><body><div id="snapshot">
<h1>{{.Title}}</h1><div class="sub">{{.Timestamp}}</div>
{{range .Entries}}<div class="row"><span class="rank">#{{.Rank}}</span><span class="name">{{.Username}}</span><span class="score">{{.Score}}{{if $.Suffix}} {{$.Suffix}}{{end}}</span></div>
{{else}}<div class="row"><span class="name">No points awarded yet.</span></div>{{end}}
</div></body></html>`))

type snapshotData struct {
	Title     string
	Timestamp string
	Suffix    string
	Entries   []leaderboard.Entry
}

// SnapshotImageService renders leaderboard snapshots to PNG with headless Chrome.
type SnapshotImageService struct {
	logger *slog.Logger
}

func NewSnapshotImageService() *SnapshotImageService {
	return &SnapshotImageService{
		logger: slog.With(slog.String("service", "snapshot_image")),
	}
}

// RenderHTML returns the page a snapshot image is taken from.
func RenderHTML(tf scores.Timeframe, suffix string, entries []leaderboard.Entry, now time.Time) (string, error) {
	var buf bytes.Buffer
	err := snapshotTemplate.Execute(&buf, snapshotData{
		Title:     tf.Title(),
		Timestamp: now.UTC().Format("2006-01-02 15:04 MST"),
		Suffix:    suffix,
		Entries:   entries,
	})
	if err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func (s *SnapshotImageService) Generate(ctx context.Context, tf scores.Timeframe, suffix string, entries []leaderboard.Entry) ([]byte, error) {
	start := time.Now()
	html, err := RenderHTML(tf, suffix, entries, start)
	if err != nil {
		return nil, err
	}

	chromedpCtx, cancel := chromedp.NewContext(ctx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancel()
	chromedpCtx, cancel = context.WithTimeout(chromedpCtx, 15*time.Second)
	defer cancel()

	var image []byte
	err = chromedp.Run(chromedpCtx,
		chromedp.Navigate("data:text/html,"+url.PathEscape(html)),
		chromedp.WaitVisible("#snapshot", chromedp.ByID),
		chromedp.Screenshot("#snapshot", &image, chromedp.ByID),
	)
	if err != nil {
		s.logger.Error("Failed to generate image with chromedp",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}

	s.logger.Info("Snapshot image generated",
		slog.String("timeframe", string(tf)),
		slog.Int("image_size", len(image)),
		slog.Duration("elapsed", time.Since(start)))
	return image, nil
}
