package services

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"

	"github.com/disgoorg/repbot/internal/domain/leaderboard"
	"github.com/disgoorg/repbot/internal/domain/scores"
)

func TestRenderHTML(t *testing.T) {
	entries := []leaderboard.Entry{{Rank: 1, Username: "<alice>", Score: 12}, {Rank: 2, Username: "bob", Score: 3}}
	html, err := RenderHTML(scores.Weekly, "pts", entries, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RenderHTML() error = %v", err)
	}
	for _, want := range []string{`id="snapshot"`, "&lt;alice&gt;", "12 pts", "#2", "2024-01-01 00:00 UTC"} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}
	if strings.Contains(html, "<alice>") {
		t.Error("username not escaped")
	}
}

func TestRenderHTML_Empty(t *testing.T) {
	html, err := RenderHTML(scores.AllTime, "", nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "No points awarded yet.") {
		t.Fatalf("empty snapshot missing placeholder:\n%s", html)
	}
}

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		name string
		have []snowflake.ID
		want []snowflake.ID
		ok   bool
	}{
		{name: "match", have: []snowflake.ID{1, 2}, want: []snowflake.ID{2}, ok: true},
		{name: "no match", have: []snowflake.ID{1}, want: []snowflake.ID{3}},
		{name: "no roles", want: []snowflake.ID{3}},
		{name: "none configured", have: []snowflake.ID{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasAnyRole(tt.have, tt.want); got != tt.ok {
				t.Fatalf("HasAnyRole() = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	notFound := &rest.Error{Response: &http.Response{StatusCode: http.StatusNotFound}}
	if !isNotFound(notFound) {
		t.Error("404 should be not found")
	}
	if isNotFound(&rest.Error{Response: &http.Response{StatusCode: http.StatusForbidden}}) {
		t.Error("403 is not not found")
	}
	if isNotFound(errors.New("dial tcp: timeout")) {
		t.Error("transport error is not not found")
	}
}

func TestSpacesKey(t *testing.T) {
	s := &SpacesService{root: "repbot"}
	if got := s.Key("backups/x.txt"); got != "repbot/backups/x.txt" {
		t.Fatalf("Key() = %q", got)
	}
	s.root = ""
	if got := s.Key("backups/x.txt"); got != "backups/x.txt" {
		t.Fatalf("Key() = %q", got)
	}
}
