// Package repository persists submissions, reference data and the
// verification audit trail.
package repository

import (
	"context"
	"fmt"

	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/scoring"
	"github.com/lowmax205/eas/internal/domain/verify"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoredVerification is the most recent outcome of a submission together
// with the checks it was computed from.
type StoredVerification struct {
	Outcome model.VerificationOutcome
	Checks  []model.CheckResult
}

// Store provides read/write access to the attendance state.
type Store interface {
	scoring.RecordCounter
	// SaveVerification keeps the verified flag and method of a record an
	// administrator has overridden; the new outcome, checks and logs are
	// still appended.
	verify.AuditWriter

	// SaveSubmission inserts a submission. Saving identical content again is
	// a no-op; different content under a stored id returns ErrConflict.
	SaveSubmission(ctx context.Context, s model.AttendanceSubmission) error
	// Submission returns ErrNotFound if the id is unknown.
	Submission(ctx context.Context, id string) (model.AttendanceSubmission, error)

	SaveEvent(ctx context.Context, w model.EventWindow) error
	EventWindow(ctx context.Context, eventID string) (model.EventWindow, error)

	SaveProfile(ctx context.Context, p model.ReferenceProfile) error
	ReferenceProfile(ctx context.Context, userID string) (model.ReferenceProfile, error)

	// LatestVerification returns the newest outcome of a submission.
	LatestVerification(ctx context.Context, submissionID string) (StoredVerification, error)

	Record(ctx context.Context, recordID string) (model.AttendanceRecord, error)
	// Logs returns the history of a record, oldest first.
	Logs(ctx context.Context, recordID string) ([]model.AttendanceLog, error)

	// ApplyOverride sets the verified flag of a record, marks it as an admin
	// override and appends entry to its history in one step. Outcomes and
	// check results are left untouched.
	ApplyOverride(ctx context.Context, recordID string, accepted bool, entry model.AttendanceLog) (model.AttendanceRecord, error)

	// Migrate creates the schema. It is a no-op for the memory store.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store for driver. dsn is ignored by the memory store.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
