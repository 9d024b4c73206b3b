package scoring

import (
	"context"
	"fmt"

	"github.com/lowmax205/eas/internal/domain/model"
)

// RecordCounter counts accepted attendance records for an (event, user)
// pair, ignoring the record that belongs to excludeSubmissionID.
type RecordCounter interface {
	CountAccepted(ctx context.Context, eventID, userID, excludeSubmissionID string) (int, error)
}

// DuplicateCheck rejects a second accepted attendance for the same pair.
type DuplicateCheck struct {
	records RecordCounter
}

// NewDuplicateCheck creates a duplicate check reading from records.
func NewDuplicateCheck(records RecordCounter) DuplicateCheck {
	return DuplicateCheck{records: records}
}

func (DuplicateCheck) Type() model.CheckType { return model.CheckDuplicate }

func (DuplicateCheck) Applicable(Input) bool { return true }

// Run returns ErrDependencyUnavailable when the store cannot answer.
func (c DuplicateCheck) Run(ctx context.Context, in Input) (Score, error) {
	if c.records == nil {
		return Score{}, fmt.Errorf("%w: no record store configured", ErrDependencyUnavailable)
	}
	s := in.Submission
	n, err := c.records.CountAccepted(ctx, s.EventID, s.UserID, s.ID)
	if err != nil {
		return Score{}, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}

	details := map[string]any{"existing_records": n}
	if n > 0 {
		return Score{Passed: false, Confidence: 0, Details: details}, nil
	}
	return Score{Passed: true, Confidence: 1, Details: details}, nil
}
