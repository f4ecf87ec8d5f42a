// Package reconcile combines a stored score with the score a user displays on
// their label.
package reconcile

import (
	"context"
	"strconv"
	"strings"

	"github.com/disgoorg/repbot/internal/domain/scores"
)

// Result is the effective score of one user.
type Result struct {
	Score int64
	// LabelInvalid is set when a non-empty label is not a non-negative integer.
	LabelInvalid bool
	// FromLabel is set when the label value won over the stored score.
	FromLabel bool
}

// ParseLabel reports the label's integer value when it is purely numeric.
func ParseLabel(label string) (int64, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, false
	}
	for _, r := range label {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(label, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Effective resolves the score to build on. prioritiseLabel makes a valid label
// win even when it is lower than the stored value.
func Effective(stored int64, label string, prioritiseLabel bool) Result {
	if strings.TrimSpace(label) == "" {
		return Result{Score: stored}
	}
	v, ok := ParseLabel(label)
	if !ok {
		return Result{Score: stored, LabelInvalid: true}
	}
	if prioritiseLabel || v > stored {
		return Result{Score: v, FromLabel: true}
	}
	return Result{Score: stored}
}

// Reconciler reads stored scores from the all-time collection.
type Reconciler struct {
	board *scores.Board
}

func New(board *scores.Board) *Reconciler {
	return &Reconciler{board: board}
}

// Resolve returns the effective score of username given their current label.
// A missing stored score counts as zero.
func (r *Reconciler) Resolve(ctx context.Context, username, label string, prioritiseLabel bool) (Result, error) {
	stored, _, err := r.board.Score(ctx, username)
	if err != nil {
		return Result{}, err
	}
	return Effective(stored, label, prioritiseLabel), nil
}
