package backup

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/disgoorg/repbot/internal/domain/cleanup"
	"github.com/disgoorg/repbot/internal/domain/content"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/internal/domain/settings"
	"github.com/disgoorg/repbot/internal/gateways/memstore"
	"github.com/disgoorg/repbot/internal/testkit"
)

func encodeRaw(t *testing.T, raw string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestCodecRoundTrip(t *testing.T) {
	tests := [][]Record{
		{{Username: "ryry50583583", Score: 142}, {Username: "ryry505832", Score: 9999}},
		{{Username: "solo", Score: 0}},
		{{Username: "ünïcode_名前", Score: -3}, {Username: "big", Score: 1 << 50}},
	}
	for i, records := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			payload, err := Encode(records)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(payload)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, records) {
				t.Fatalf("Decode(Encode(x)) = %v, want %v", got, records)
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not base64", payload: "%%%"},
		{name: "not gzip", payload: base64.StdEncoding.EncodeToString([]byte("plain"))},
		{name: "not json", payload: encodeRaw(t, "hello")},
		{name: "object instead of array", payload: encodeRaw(t, `{"u":"x","s":1}`)},
		{name: "null", payload: encodeRaw(t, `null`)},
		{name: "extra field", payload: encodeRaw(t, `[{"u":"x","s":1,"x":true}]`)},
		{name: "missing score", payload: encodeRaw(t, `[{"u":"x"}]`)},
		{name: "missing username", payload: encodeRaw(t, `[{"s":1}]`)},
		{name: "fractional score", payload: encodeRaw(t, `[{"u":"x","s":1.5}]`)},
		{name: "string score", payload: encodeRaw(t, `[{"u":"x","s":"1"}]`)},
		{name: "numeric username", payload: encodeRaw(t, `[{"u":5,"s":1}]`)},
		{name: "empty username", payload: encodeRaw(t, `[{"u":"","s":1}]`)},
		{name: "duplicate username", payload: encodeRaw(t, `[{"u":"x","s":1},{"u":"x","s":2}]`)},
		{name: "trailing data", payload: encodeRaw(t, `[] []`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			if !errors.Is(err, ErrMalformedBackup) {
				t.Fatalf("Decode() error = %v, want ErrMalformedBackup", err)
			}
		})
	}
}

type fixture struct {
	store *memstore.Store
	pages *testkit.Pages
	jobs  *testkit.Scheduler
	cfg   *settings.Settings
	svc   *Service
	arch  *archive
}

type archive struct {
	names []string
}

func (a *archive) Put(_ context.Context, name string, _ []byte) error {
	a.names = append(a.names, name)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := settings.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	clock := testkit.NewClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	f := &fixture{
		store: memstore.New(clock.Now),
		pages: testkit.NewPages(),
		jobs:  testkit.NewScheduler(),
		cfg:   &cfg,
		arch:  &archive{},
	}
	cleaner := cleanup.New(f.store, testkit.NewDirectory(), f.jobs, clock.Now)
	f.svc = New(f.store, f.pages, cleaner, f.jobs, f.arch, clock.Now)
	return f
}

func (f *fixture) set(name string, score int64) {
	_ = f.store.Set(context.Background(), scores.AllTime.Key(), scores.Member{Name: name, Score: score})
}

func (f *fixture) score(name string) (int64, bool) {
	v, ok, _ := f.store.Score(context.Background(), scores.AllTime.Key(), name)
	return v, ok
}

func TestService_Export(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.set("bob", 3)
	f.set("alice", 3)
	f.set("carol", 10)

	res, err := f.svc.Export(ctx, f.cfg)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	page, ok := f.pages.Page(content.BackupPath)
	if !ok || page.Content != res.Payload || page.Permission != content.PermissionModerators {
		t.Fatalf("backup page = %+v, %v", page, ok)
	}
	got, _ := Decode(page.Content)
	want := []Record{{"carol", 10}, {"alice", 3}, {"bob", 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("exported = %v, want %v", got, want)
	}
	if len(f.arch.names) != 1 || res.Archive != "backups/20240601T000000Z.txt" {
		t.Fatalf("archive = %v, %q", f.arch.names, res.Archive)
	}

	// A second export updates the same page.
	if _, err := f.svc.Export(ctx, f.cfg); err != nil {
		t.Fatalf("second Export() error = %v", err)
	}
}

func TestService_ExportCapacity(t *testing.T) {
	f := newFixture(t)
	for i := 0; i <= MaxRecords; i++ {
		f.set(fmt.Sprintf("user%04d", i), 1)
	}
	_, err := f.svc.Export(context.Background(), f.cfg)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Export() error = %v, want ErrCapacityExceeded", err)
	}
	if f.pages.Writes != 0 {
		t.Fatal("refused export wrote a page")
	}
}

func TestService_ExportDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.BackupEnabled = false
	if _, err := f.svc.Export(context.Background(), f.cfg); !errors.Is(err, settings.ErrFeatureDisabled) {
		t.Fatalf("Export() error = %v, want ErrFeatureDisabled", err)
	}
}

func TestService_RestorePolicies(t *testing.T) {
	payload, _ := Encode([]Record{{"x", 10}, {"zero", 0}, {"neg", -2}, {"fresh", 4}})

	tests := []struct {
		policy Policy
		wantX  int64
	}{
		{policy: Overwrite, wantX: 10},
		{policy: Skip, wantX: 5},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.set("x", 5)
			_ = f.store.SetMarker(ctx, string(keys.BootstrapMarker), "v1", 0)

			res, err := f.svc.Restore(ctx, f.cfg, payload, tt.policy)
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if got, _ := f.score("x"); got != tt.wantX {
				t.Errorf("x = %d, want %d", got, tt.wantX)
			}
			if got, ok := f.score("fresh"); !ok || got != 4 {
				t.Errorf("fresh = %d, %v; want 4", got, ok)
			}
			for _, name := range []string{"zero", "neg"} {
				if _, ok := f.score(name); ok {
					t.Errorf("%s imported with non-positive score", name)
				}
			}
			if res.Skipped != 4-res.Imported {
				t.Errorf("result = %+v", res)
			}

			if _, ok, _ := f.store.Score(ctx, string(keys.CleanupLog), "fresh"); !ok {
				t.Error("cleanup log not reconciled")
			}
			if n := f.jobs.Count(keys.JobLeaderboardRebuild); n != 1 {
				t.Errorf("rebuild jobs = %d, want 1", n)
			}
			if _, ok, _ := f.store.GetMarker(ctx, string(keys.BootstrapMarker)); ok {
				t.Error("bootstrap marker not cleared")
			}
		})
	}
}

func TestService_RestoreOverwriteKeepsHigherExisting(t *testing.T) {
	f := newFixture(t)
	f.set("x", 50)
	payload, _ := Encode([]Record{{"x", 10}})
	if _, err := f.svc.Restore(context.Background(), f.cfg, payload, Overwrite); err != nil {
		t.Fatal(err)
	}
	if got, _ := f.score("x"); got != 50 {
		t.Fatalf("x = %d, want 50", got)
	}
}

func TestService_RestoreMalformedAppliesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.set("x", 5)
	_ = f.store.SetMarker(ctx, string(keys.BootstrapMarker), "v1", 0)

	bad := encodeRaw(t, `[{"u":"y","s":7},{"u":"x","s":"lots"}]`)
	_, err := f.svc.Restore(ctx, f.cfg, bad, Overwrite)
	if !errors.Is(err, ErrMalformedBackup) {
		t.Fatalf("Restore() error = %v, want ErrMalformedBackup", err)
	}
	if _, ok := f.score("y"); ok {
		t.Fatal("partial restore applied")
	}
	if len(f.jobs.Scheduled) != 0 {
		t.Fatal("malformed restore scheduled jobs")
	}
	if _, ok, _ := f.store.GetMarker(ctx, string(keys.BootstrapMarker)); !ok {
		t.Fatal("malformed restore cleared the bootstrap marker")
	}
}

func TestService_RestoreFromPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.set("alice", 7)
	if _, err := f.svc.Export(ctx, f.cfg); err != nil {
		t.Fatal(err)
	}
	_ = f.store.Remove(ctx, scores.AllTime.Key(), "alice")

	res, err := f.svc.Restore(ctx, f.cfg, "", Skip)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got, _ := f.score("alice"); got != 7 || res.Imported != 1 {
		t.Fatalf("alice = %d after %+v, want 7", got, res)
	}
}

func TestService_PreviewWritesNothing(t *testing.T) {
	f := newFixture(t)
	payload, _ := Encode([]Record{{"x", 10}})

	res, err := f.svc.Preview(context.Background(), f.cfg, payload, Overwrite)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changes) != 1 || res.Changes[0] != (Change{Username: "x", Imported: 10}) {
		t.Fatalf("Preview() = %+v", res)
	}
	if _, ok := f.score("x"); ok {
		t.Fatal("preview wrote a score")
	}
}

func TestService_RestoreDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.RestoreEnabled = false
	if _, err := f.svc.Restore(context.Background(), f.cfg, "", Overwrite); !errors.Is(err, settings.ErrFeatureDisabled) {
		t.Fatalf("Restore() error = %v, want ErrFeatureDisabled", err)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("skip"); err != nil || p != Skip {
		t.Fatalf("ParsePolicy(skip) = %q, %v", p, err)
	}
	if _, err := ParsePolicy("merge"); err == nil {
		t.Fatal("ParsePolicy(merge) should fail")
	}
}
