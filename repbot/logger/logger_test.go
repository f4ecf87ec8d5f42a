package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCustomHandler_Format(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *slog.Logger)
		wants []string
		skip  bool
	}{
		{
			name:  "job type",
			log:   func(l *slog.Logger) { l.Info("Leaderboard rebuilt", slog.String("type", "job"), slog.Int("writes", 3)) },
			wants: []string{"[RepBot]", "INFO", "[JOB] Leaderboard rebuilt", "writes=3"},
		},
		{
			name:  "default type",
			log:   func(l *slog.Logger) { l.Warn("Something odd") },
			wants: []string{"WARN", "[SYS] Something odd"},
		},
		{
			name: "error details",
			log: func(l *slog.Logger) {
				l.Error("Award failed", slog.String("type", "award"), slog.Any("error", errors.New("boom")), slog.String("error_location", "award.go:10"))
			},
			wants: []string{"ERROR", "[AWARD] Award failed (award.go:10): boom"},
		},
		{
			name:  "command",
			log:   func(l *slog.Logger) { l.Info("Command completed", slog.String("type", "cmd"), slog.String("name", "rep"), slog.String("user_name", "alice"), slog.String("status", "success")) },
			wants: []string{"[CMD] Command completed [rep by alice] [Status: success]"},
		},
		{
			name: "gateway chatter",
			log:  func(l *slog.Logger) { l.Info("sending heartbeat") },
			skip: true,
		},
		{
			name: "below level",
			log:  func(l *slog.Logger) { l.Debug("noise") },
			skip: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(slog.New(NewHandlerWithWriter(&buf, "RepBot", slog.LevelInfo)))
			out := buf.String()
			if tt.skip {
				if out != "" {
					t.Fatalf("expected no output, got %q", out)
				}
				return
			}
			for _, want := range tt.wants {
				if !strings.Contains(out, want) {
					t.Errorf("output %q missing %q", out, want)
				}
			}
		})
	}
}

func TestCustomHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandlerWithWriter(&buf, "RepBot", slog.LevelDebug)).With(slog.String("type", "db"), slog.String("backend", "redis"))
	l.Debug("Call executed")
	if out := buf.String(); !strings.Contains(out, "[DB] Call executed backend=redis") {
		t.Fatalf("output = %q", out)
	}
}
