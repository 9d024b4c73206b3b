package model

import "time"

// CheckType tags a CheckResult with the check that produced it.
type CheckType string

// Check types.
const (
	CheckDistance         CheckType = "distance"
	CheckTimeWindow       CheckType = "time_window"
	CheckImageQuality     CheckType = "image_quality"
	CheckSignatureQuality CheckType = "signature_quality"
	CheckDuplicate        CheckType = "duplicate"
)

// AllCheckTypes lists every check in a stable order.
var AllCheckTypes = []CheckType{ //nolint:gochecknoglobals // fixed enumeration
	CheckDistance,
	CheckTimeWindow,
	CheckImageQuality,
	CheckSignatureQuality,
	CheckDuplicate,
}

// Valid reports whether t is a known check type.
func (t CheckType) Valid() bool {
	for _, c := range AllCheckTypes {
		if c == t {
			return true
		}
	}
	return false
}

// CheckResult is the append-only audit record of one check run.
type CheckResult struct {
	ID              string
	SubmissionID    string
	CheckType       CheckType
	Passed          bool
	ConfidenceScore float64
	Details         map[string]any
	CreatedAt       time.Time
}

// VerificationOutcome is the terminal aggregate decision for a submission.
// A re-verification writes a new outcome; existing ones are never updated.
type VerificationOutcome struct {
	ID           string
	SubmissionID string
	EventID      string
	UserID       string
	OverallScore float64
	IsAccepted   bool
	Notes        string
	Weights      map[CheckType]float64 // renormalized weights of the checks that ran
	CreatedAt    time.Time
}

// Verification bundles everything one verification run persists.
type Verification struct {
	Record  AttendanceRecord
	Outcome VerificationOutcome
	Checks  []CheckResult
	Logs    []AttendanceLog
}
