package logger

import (
	"errors"
	"log/slog"
	"time"
)

// SlowThreshold is the round-trip time above which a call is logged at warn.
const SlowThreshold = 250 * time.Millisecond

// CallLogger times one round trip to a backing store and logs how it went.
type CallLogger struct {
	Backend   string
	Operation string
	Statement string
	StartTime time.Time
}

func Start(backend, operation, statement string) *CallLogger {
	return &CallLogger{
		Backend:   backend,
		Operation: operation,
		Statement: statement,
		StartTime: time.Now(),
	}
}

// Done logs the call. ignore lists errors that are expected outcomes rather
// than failures, such as a missing key.
func (l *CallLogger) Done(err error, affected int64, ignore ...error) {
	duration := time.Since(l.StartTime)
	attrs := []any{
		slog.String("type", "db"),
		slog.String("backend", l.Backend),
		slog.String("operation", l.Operation),
		slog.Duration("took", duration),
	}

	if err != nil && !isIgnored(err, ignore) {
		slog.Error("Store call failed", append(attrs,
			slog.String("statement", l.Statement),
			slog.Any("error", err),
		)...)
		return
	}

	if duration > SlowThreshold {
		slog.Warn("Store call executed slowly", append(attrs,
			slog.String("statement", l.Statement),
			slog.String("status", "slow"),
		)...)
		return
	}

	slog.Debug("Store call executed", append(attrs,
		slog.Int64("affected", affected),
	)...)
}

func isIgnored(err error, ignore []error) bool {
	for _, target := range ignore {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
