package scoring

import (
	"context"
	"time"

	"github.com/lowmax205/eas/internal/domain/model"
)

// Window position labels.
const (
	PositionBefore = "before"
	PositionWithin = "within"
	PositionAfter  = "after"
)

// WindowScore scores ts against the inclusive window [start, end] extended
// by grace on both sides. Inside the window scores 1; inside the grace band
// the score decays linearly to 0 at the grace edge. The returned offset is
// the signed distance to the nearest bound (negative before start).
func WindowScore(ts, start, end time.Time, grace time.Duration) (passed bool, conf float64, position string, offset time.Duration) {
	switch {
	case ts.Before(start):
		position, offset = PositionBefore, ts.Sub(start)
	case ts.After(end):
		position, offset = PositionAfter, ts.Sub(end)
	default:
		return true, 1, PositionWithin, 0
	}

	gap := offset
	if gap < 0 {
		gap = -gap
	}
	if grace <= 0 || gap >= grace {
		return false, 0, position, offset
	}
	return true, 1 - float64(gap)/float64(grace), position, offset
}

// TimeWindow scores when the submission was made relative to the window.
type TimeWindow struct{}

func (TimeWindow) Type() model.CheckType { return model.CheckTimeWindow }

func (TimeWindow) Applicable(Input) bool { return true }

func (TimeWindow) Run(_ context.Context, in Input) (Score, error) {
	w := in.Window
	ts := in.Submission.SubmittedAt
	passed, conf, position, offset := WindowScore(ts, w.WindowStart, w.WindowEnd, in.GracePeriod)

	return Score{
		Passed:     passed,
		Confidence: conf,
		Details: map[string]any{
			"window_start":   w.WindowStart.UTC().Format(time.RFC3339),
			"window_end":     w.WindowEnd.UTC().Format(time.RFC3339),
			"submitted_at":   ts.UTC().Format(time.RFC3339),
			"grace_minutes":  in.GracePeriod.Minutes(),
			"offset_seconds": offset.Seconds(),
			"position":       position,
			"late":           model.StatusFor(ts, w) == model.StatusLate,
		},
	}, nil
}
