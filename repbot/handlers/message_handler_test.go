package handlers

import (
	"testing"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"

	"github.com/disgoorg/repbot/internal/domain/award"
)

func TestBuildEvent(t *testing.T) {
	const guild, thread = snowflake.ID(10), snowflake.ID(20)
	msg := discord.Message{
		ID:        30,
		ChannelID: thread,
		Content:   "!thanks",
		Author:    discord.User{ID: 1, Username: "alice"},
	}

	tests := []struct {
		name       string
		referenced *discord.Message
		want       award.Target
	}{
		{
			name: "no reply",
		},
		{
			name:       "reply to thread starter",
			referenced: &discord.Message{ID: thread, Author: discord.User{Username: "op"}},
			want:       award.Target{ID: "20", Author: "op"},
		},
		{
			name:       "reply to comment",
			referenced: &discord.Message{ID: 25, Author: discord.User{Username: "bob"}},
			want:       award.Target{ID: "25", Author: "bob", Nested: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := BuildEvent(msg, guild, tt.referenced, "Solved")
			if ev.Target != tt.want {
				t.Fatalf("Target = %+v, want %+v", ev.Target, tt.want)
			}
			if ev.ID != "30" || ev.Author != "alice" || ev.Community != "10" || ev.PostID != "20" || ev.PostLabel != "Solved" {
				t.Fatalf("event = %+v", ev)
			}
			if ev.Permalink != "https://discord.com/channels/10/20/30" {
				t.Fatalf("Permalink = %q", ev.Permalink)
			}
		})
	}
}

func TestTagName(t *testing.T) {
	tags := []discord.ChannelTag{{ID: 1, Name: "Question"}, {ID: 2, Name: "7"}}
	if got := TagName(tags, 2); got != "7" {
		t.Fatalf("TagName() = %q, want 7", got)
	}
	if got := TagName(tags, 3); got != "" {
		t.Fatalf("TagName() = %q, want empty", got)
	}
}
