package award

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/disgoorg/repbot/internal/domain/cleanup"
	"github.com/disgoorg/repbot/internal/domain/identity/mock"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/internal/domain/settings"
	"github.com/disgoorg/repbot/internal/gateways/memstore"
	"github.com/disgoorg/repbot/internal/testkit"
)

const community = "guild-1"

type fixture struct {
	clock  *testkit.Clock
	store  *memstore.Store
	jobs   *testkit.Scheduler
	labels *testkit.Labels
	msgs   *testkit.Messenger
	hist   *testkit.History
	cfg    *settings.Settings
	gate   *Gate
}

func newFixture(t *testing.T, mutate func(*settings.Settings)) *fixture {
	t.Helper()
	cfg := settings.Default()
	cfg.NotifyRecipient = true
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	f := &fixture{
		clock:  testkit.NewClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
		jobs:   testkit.NewScheduler(),
		labels: testkit.NewLabels(),
		msgs:   testkit.NewMessenger(),
		hist:   &testkit.History{},
		cfg:    &cfg,
	}
	f.store = memstore.New(f.clock.Now)
	dir := testkit.NewDirectory("alice", "bob", "carol", "mod")
	f.gate = New(Deps{
		Store:      f.store,
		Cleanup:    cleanup.New(f.store, dir, f.jobs, f.clock.Now),
		Jobs:       f.jobs,
		Directory:  dir,
		Moderators: testkit.Moderators{"mod": true},
		Labels:     f.labels,
		History:    f.hist,
		Messenger:  f.msgs,
		Now:        f.clock.Now,
	})
	return f
}

func (f *fixture) allTime(name string) (int64, bool) {
	v, ok, _ := f.store.Score(context.Background(), scores.AllTime.Key(), name)
	return v, ok
}

func event() Event {
	return Event{
		ID:        "msg-2",
		Author:    "alice",
		Body:      "great answer !thanks",
		Community: community,
		PostID:    "post-1",
		Permalink: "https://example.test/post-1/msg-1",
		Target:    Target{ID: "msg-1", Author: "bob", Nested: true},
	}
}

func TestGate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func(*settings.Settings)
		event  func(*Event)
		reason RejectReason
	}{
		{name: "top level target", event: func(e *Event) { e.Target.Nested = false }, reason: RejectTopLevel},
		{name: "bot author", event: func(e *Event) { e.Author = "RepBot" }, reason: RejectBotAuthor},
		{name: "automod author", event: func(e *Event) { e.Author = "AutoModerator" }, reason: RejectBotAuthor},
		{name: "no trigger", event: func(e *Event) { e.Body = "nice one" }, reason: RejectNoTrigger},
		{name: "plain awards disabled", cfg: func(s *settings.Settings) { s.AnyoneCanAward = false }, reason: RejectNotAllowed},
		{name: "privileged by regular user", event: func(e *Event) { e.Body = "!award" }, reason: RejectNotPrivileged},
		{name: "author denied", cfg: func(s *settings.Settings) { s.CannotAward = []string{"Alice"} }, reason: RejectAuthorDenied},
		{name: "ignored post label", cfg: func(s *settings.Settings) { s.IgnoredPostLabels = []string{"meta"} }, event: func(e *Event) { e.PostLabel = "Meta" }, reason: RejectIgnoredLabel},
		{name: "missing target author", event: func(e *Event) { e.Target.Author = "" }, reason: RejectUnknownTarget},
		{name: "deleted target author", event: func(e *Event) { e.Target.Author = "ghost" }, reason: RejectUnknownTarget},
		{name: "bot target", event: func(e *Event) { e.Target.Author = "repbot" }, reason: RejectBotTarget},
		{name: "self award", event: func(e *Event) { e.Target.Author = "alice" }, reason: RejectSelfAward},
		{name: "self award other case", event: func(e *Event) { e.Author = "Bob" }, reason: RejectSelfAward},
		{name: "target denied", cfg: func(s *settings.Settings) { s.CannotBeAwarded = []string{"bob"} }, reason: RejectTargetDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			ev := event()
			if tt.event != nil {
				tt.event(&ev)
			}

			got, err := f.gate.Handle(context.Background(), f.cfg, ev)
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got.Reason != tt.reason {
				t.Fatalf("Handle() reason = %v, want %v", got.Reason, tt.reason)
			}
			if n, _ := f.store.Cardinality(context.Background(), scores.AllTime.Key()); n != 0 {
				t.Errorf("all-time cardinality = %d, want 0", n)
			}
			if len(f.jobs.Scheduled) != 0 || len(f.hist.Records) != 0 {
				t.Errorf("rejected event had side effects: jobs=%v history=%v", f.jobs.Scheduled, f.hist.Records)
			}
		})
	}
}

func TestGate_TopLevelNeverMutates(t *testing.T) {
	f := newFixture(t, func(s *settings.Settings) { s.Superusers = []string{"alice"} })
	bodies := []string{"!thanks", "!award", "!rep !award", "THANKS !Rep", ""}
	for _, body := range bodies {
		ev := event()
		ev.Body = body
		ev.Target.Nested = false
		got, _ := f.gate.Handle(context.Background(), f.cfg, ev)
		if got.Accepted() {
			t.Fatalf("top-level event with body %q was accepted", body)
		}
	}
	if _, ok := f.allTime("bob"); ok {
		t.Fatal("top-level events mutated the score store")
	}
}

func TestGate_Accepts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	got, err := f.gate.Handle(ctx, f.cfg, event())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !got.Accepted() || got.NewScore != 1 || got.Recipient != "bob" || got.Trigger != TriggerAnyone {
		t.Fatalf("Handle() = %+v", got)
	}

	for _, tf := range scores.Timeframes {
		if v, ok, _ := f.store.Score(ctx, tf.Key(), "bob"); !ok || v != 1 {
			t.Errorf("%s score = %d, %v; want 1", tf, v, ok)
		}
	}
	if _, ok, _ := f.store.GetMarker(ctx, keys.AwardMarker("msg-1", "alice")); !ok {
		t.Error("dedup marker not written")
	}
	if v, ok, _ := f.store.Score(ctx, string(keys.CleanupLog), "bob"); !ok || v != f.clock.Now().Add(28*24*time.Hour).Unix() {
		t.Errorf("cleanup entry = %d, %v", v, ok)
	}
	if n := f.jobs.Count(keys.JobLeaderboardRebuild); n != 1 {
		t.Errorf("rebuild jobs = %d, want 1", n)
	}
	if len(f.hist.Records) != 1 || f.hist.Records[0].ScoreAfter != 1 {
		t.Errorf("history = %+v", f.hist.Records)
	}
	if label, _, _ := f.labels.UserLabel(ctx, community, "bob"); label != "1" {
		t.Errorf("user label = %q, want 1", label)
	}
	if len(f.msgs.Replies) != 1 || !strings.Contains(f.msgs.Replies[0], "bob") {
		t.Errorf("replies = %v", f.msgs.Replies)
	}
	if len(f.msgs.DMs["bob"]) != 1 {
		t.Errorf("recipient DMs = %v", f.msgs.DMs["bob"])
	}
}

func TestGate_DuplicateWithinWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if got, _ := f.gate.Handle(ctx, f.cfg, event()); !got.Accepted() {
		t.Fatalf("first award rejected: %v", got.Reason)
	}

	f.clock.Advance(DedupWindow - time.Second)
	ev := event()
	ev.Author = "Alice"
	got, err := f.gate.Handle(ctx, f.cfg, ev)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if got.Reason != RejectDuplicate {
		t.Fatalf("second award reason = %v, want duplicate", got.Reason)
	}
	if v, _ := f.allTime("bob"); v != 1 {
		t.Fatalf("score after duplicate = %d, want 1", v)
	}

	// Another awarder on the same target is a different pair.
	ev = event()
	ev.Author = "carol"
	if got, _ := f.gate.Handle(ctx, f.cfg, ev); !got.Accepted() {
		t.Fatalf("award by carol rejected: %v", got.Reason)
	}

	f.clock.Advance(time.Second)
	if got, _ := f.gate.Handle(ctx, f.cfg, event()); !got.Accepted() {
		t.Fatalf("award after window rejected: %v", got.Reason)
	}
	if v, _ := f.allTime("bob"); v != 3 {
		t.Fatalf("score = %d, want 3", v)
	}
}

// markerBlindStore hides markers from reads so the commit-time claim is the
// only guard, as when two awards pass the read concurrently.
type markerBlindStore struct {
	*memstore.Store
}

func (markerBlindStore) GetMarker(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func TestGate_DuplicateClaimedAtCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	dir := testkit.NewDirectory("alice", "bob")
	f.gate = New(Deps{
		Store:     markerBlindStore{f.store},
		Cleanup:   cleanup.New(f.store, dir, f.jobs, f.clock.Now),
		Jobs:      f.jobs,
		Directory: dir,
		Labels:    f.labels,
		History:   f.hist,
		Messenger: f.msgs,
		Now:       f.clock.Now,
	})

	if got, _ := f.gate.Handle(ctx, f.cfg, event()); !got.Accepted() {
		t.Fatalf("first award rejected: %v", got.Reason)
	}
	jobsAfterFirst := len(f.jobs.Scheduled)

	got, err := f.gate.Handle(ctx, f.cfg, event())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if got.Reason != RejectDuplicate {
		t.Fatalf("second award reason = %v, want duplicate", got.Reason)
	}
	if v, _ := f.allTime("bob"); v != 1 {
		t.Fatalf("score = %d, want 1", v)
	}
	if len(f.jobs.Scheduled) != jobsAfterFirst || len(f.hist.Records) != 1 {
		t.Fatalf("duplicate had side effects: jobs=%v history=%v", f.jobs.Scheduled, f.hist.Records)
	}
}

func TestGate_ClaimedMarkerBlocksAward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	dir := testkit.NewDirectory("alice", "bob")
	f.gate = New(Deps{
		Store:     markerBlindStore{f.store},
		Cleanup:   cleanup.New(f.store, dir, f.jobs, f.clock.Now),
		Jobs:      f.jobs,
		Directory: dir,
		Labels:    f.labels,
		Now:       f.clock.Now,
	})
	_ = f.store.SetMarker(ctx, keys.AwardMarker("msg-1", "alice"), "claimed", DedupWindow)

	got, _ := f.gate.Handle(ctx, f.cfg, event())
	if got.Reason != RejectDuplicate {
		t.Fatalf("Handle() reason = %v, want duplicate", got.Reason)
	}
	if _, ok := f.allTime("bob"); ok {
		t.Fatal("award committed despite a claimed marker")
	}
}

func TestGate_LabelReadFailureKeepsLabel(t *testing.T) {
	policies := []settings.LabelPolicy{settings.OverwriteAll, settings.OverwriteNumeric}
	for _, policy := range policies {
		t.Run(string(policy), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, func(s *settings.Settings) { s.LabelPolicy = policy })
			f.labels.Put(community, "bob", "Go expert")
			f.labels.ReadErr = errors.New("label api down")

			got, err := f.gate.Handle(ctx, f.cfg, event())
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if !got.Accepted() {
				t.Fatalf("Handle() reason = %v", got.Reason)
			}
			if f.labels.UserWrites != 0 {
				t.Fatalf("UserWrites = %d, want 0", f.labels.UserWrites)
			}
			f.labels.ReadErr = nil
			if label, _, _ := f.labels.UserLabel(ctx, community, "bob"); label != "Go expert" {
				t.Fatalf("label = %q, want Go expert", label)
			}
		})
	}
}

func TestGate_UsesEffectiveScore(t *testing.T) {
	ctx := context.Background()

	t.Run("higher numeric label wins", func(t *testing.T) {
		f := newFixture(t, nil)
		_ = f.store.Set(ctx, scores.AllTime.Key(), scores.Member{Name: "bob", Score: 5})
		f.labels.Put(community, "bob", "7")

		got, _ := f.gate.Handle(ctx, f.cfg, event())
		if got.NewScore != 8 {
			t.Fatalf("NewScore = %d, want 8", got.NewScore)
		}
		if label, _, _ := f.labels.UserLabel(ctx, community, "bob"); label != "8" {
			t.Fatalf("label = %q, want 8", label)
		}
	})

	t.Run("invalid label is kept", func(t *testing.T) {
		f := newFixture(t, nil)
		_ = f.store.Set(ctx, scores.AllTime.Key(), scores.Member{Name: "bob", Score: 5})
		f.labels.Put(community, "bob", "abc")

		got, _ := f.gate.Handle(ctx, f.cfg, event())
		if got.NewScore != 6 {
			t.Fatalf("NewScore = %d, want 6", got.NewScore)
		}
		if label, _, _ := f.labels.UserLabel(ctx, community, "bob"); label != "abc" || f.labels.UserWrites != 0 {
			t.Fatalf("label = %q after %d writes, want abc untouched", label, f.labels.UserWrites)
		}
	})
}

func TestGate_LabelPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    settings.LabelPolicy
		existing  *string
		wantLabel string
	}{
		{name: "numeric policy no label", policy: settings.OverwriteNumeric, wantLabel: "1"},
		{name: "numeric policy empty label", policy: settings.OverwriteNumeric, existing: ptr(""), wantLabel: "1"},
		{name: "numeric policy text label", policy: settings.OverwriteNumeric, existing: ptr("Helper"), wantLabel: "Helper"},
		{name: "all policy no label", policy: settings.OverwriteAll, wantLabel: "1"},
		{name: "all policy existing numeric", policy: settings.OverwriteAll, existing: ptr("0"), wantLabel: "0"},
		{name: "never", policy: settings.NeverSet, wantLabel: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(s *settings.Settings) { s.LabelPolicy = tt.policy })
			if tt.existing != nil {
				f.labels.Put(community, "bob", *tt.existing)
			}
			if got, _ := f.gate.Handle(context.Background(), f.cfg, event()); !got.Accepted() {
				t.Fatalf("award rejected: %v", got.Reason)
			}
			if label, _, _ := f.labels.UserLabel(context.Background(), community, "bob"); label != tt.wantLabel {
				t.Fatalf("label = %q, want %q", label, tt.wantLabel)
			}
		})
	}
}

func TestGate_SideEffectFailuresDoNotUndoAward(t *testing.T) {
	f := newFixture(t, func(s *settings.Settings) { s.PostLabelOnAward = "solved" })
	f.msgs.Err = errors.New("dm closed")
	f.labels.Err = errors.New("label api down")
	f.hist.Err = errors.New("db down")

	got, err := f.gate.Handle(context.Background(), f.cfg, event())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !got.Accepted() {
		t.Fatalf("Handle() reason = %v", got.Reason)
	}
	if v, ok := f.allTime("bob"); !ok || v != 1 {
		t.Fatalf("score = %d, %v; want 1", v, ok)
	}
}

func TestGate_PostLabel(t *testing.T) {
	f := newFixture(t, func(s *settings.Settings) { s.PostLabelOnAward = "solved" })
	_, _ = f.gate.Handle(context.Background(), f.cfg, event())
	if got := f.labels.Post(community, "post-1"); got != "solved" {
		t.Fatalf("post label = %q, want solved", got)
	}
}

func TestGate_Privileged(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		author string
		cfg    func(*settings.Settings)
		seed   int64
		want   RejectReason
	}{
		{name: "moderator", author: "mod", want: Accepted},
		{name: "allow-listed superuser", author: "carol", cfg: func(s *settings.Settings) { s.Superusers = []string{"CAROL"} }, want: Accepted},
		{name: "promoted by score", author: "carol", cfg: func(s *settings.Settings) { s.SuperuserThreshold = 10 }, seed: 10, want: Accepted},
		{name: "below threshold", author: "carol", cfg: func(s *settings.Settings) { s.SuperuserThreshold = 10 }, seed: 9, want: RejectNotPrivileged},
		{name: "plain flag does not grant privileged", author: "carol", want: RejectNotPrivileged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			if tt.seed > 0 {
				_ = f.store.Set(ctx, scores.AllTime.Key(), scores.Member{Name: tt.author, Score: tt.seed})
			}
			ev := event()
			ev.Author = tt.author
			ev.Body = "!AWARD"
			got, err := f.gate.Handle(ctx, f.cfg, ev)
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got.Reason != tt.want {
				t.Fatalf("reason = %v, want %v", got.Reason, tt.want)
			}
			if tt.want == Accepted && got.Trigger != TriggerPrivileged {
				t.Fatalf("trigger = %v, want privileged", got.Trigger)
			}
		})
	}
}

func TestGate_PromotionNotice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(s *settings.Settings) {
		s.SuperuserThreshold = 10
		s.NotifyRecipient = false
	})
	_ = f.store.Set(ctx, scores.AllTime.Key(), scores.Member{Name: "bob", Score: 9})

	_, _ = f.gate.Handle(ctx, f.cfg, event())
	dms := f.msgs.DMs["bob"]
	if len(dms) != 1 || !strings.Contains(dms[0], "10 points") {
		t.Fatalf("DMs = %v, want one promotion notice", dms)
	}

	ev := event()
	ev.Author = "carol"
	_, _ = f.gate.Handle(ctx, f.cfg, ev)
	if len(f.msgs.DMs["bob"]) != 1 {
		t.Fatalf("promotion sent twice: %v", f.msgs.DMs["bob"])
	}
}

func TestGate_SelfAwardNotice(t *testing.T) {
	f := newFixture(t, func(s *settings.Settings) { s.NotifyOnSelfAward = true })
	ev := event()
	ev.Target.Author = "alice"
	_, _ = f.gate.Handle(context.Background(), f.cfg, ev)
	if len(f.msgs.Replies) != 1 || !strings.Contains(f.msgs.Replies[0], "alice") {
		t.Fatalf("replies = %v", f.msgs.Replies)
	}
}

func TestGate_DirectoryFailureRejectsTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	dir := mock.NewMockDirectory(gomock.NewController(t))
	dir.EXPECT().
		Exists(gomock.Any(), "bob").
		Return(false, errors.New("timeout"))
	f.gate.directory = dir

	got, err := f.gate.Handle(ctx, f.cfg, event())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if got.Reason != RejectUnknownTarget {
		t.Fatalf("reason = %v, want unknown target", got.Reason)
	}
}

func TestGate_SetScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if err := f.gate.SetScore(ctx, f.cfg, community, "bob", -1); !errors.Is(err, ErrNegativeScore) {
		t.Fatalf("SetScore(-1) error = %v, want ErrNegativeScore", err)
	}

	if err := f.gate.SetScore(ctx, f.cfg, community, "bob", 42); err != nil {
		t.Fatalf("SetScore(42) error = %v", err)
	}
	if v, _ := f.allTime("bob"); v != 42 {
		t.Fatalf("score = %d, want 42", v)
	}
	if _, ok, _ := f.store.Score(ctx, scores.Daily.Key(), "bob"); ok {
		t.Fatal("manual override must not touch periodic windows")
	}
	if label, _, _ := f.labels.UserLabel(ctx, community, "bob"); label != "42" {
		t.Fatalf("label = %q, want 42", label)
	}

	if err := f.gate.SetScore(ctx, f.cfg, community, "bob", 0); err != nil {
		t.Fatalf("SetScore(0) error = %v", err)
	}
	if _, ok := f.allTime("bob"); ok {
		t.Fatal("zero score should remove the user")
	}
	if _, ok, _ := f.store.Score(ctx, string(keys.CleanupLog), "bob"); ok {
		t.Fatal("zero score should drop the cleanup entry")
	}
	if n := f.jobs.Count(keys.JobLeaderboardRebuild); n != 2 {
		t.Fatalf("rebuild jobs = %d, want 2", n)
	}
}

func TestDetectTrigger(t *testing.T) {
	cfg := settings.Default()
	_ = cfg.Validate()

	regex := settings.Default()
	regex.TriggerMode = settings.TriggerRegex
	regex.TriggerPhrases = []string{`\bty\b`}
	_ = regex.Validate()

	tests := []struct {
		name string
		cfg  *settings.Settings
		body string
		want Trigger
	}{
		{name: "plain", cfg: &cfg, body: "Thanks! !REP", want: TriggerAnyone},
		{name: "privileged wins", cfg: &cfg, body: "!rep !award", want: TriggerPrivileged},
		{name: "none", cfg: &cfg, body: "hello", want: TriggerNone},
		{name: "regex", cfg: &regex, body: "ok TY for this", want: TriggerAnyone},
		{name: "regex word boundary", cfg: &regex, body: "typing", want: TriggerNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectTrigger(tt.cfg, tt.body); got != tt.want {
				t.Errorf("DetectTrigger(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func ptr(s string) *string { return &s }
