package model

import "time"

// AttendanceStatus is the presence state of a record.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
)

// VerificationMethod records how a record was confirmed.
type VerificationMethod string

const (
	MethodQRCode            VerificationMethod = "qr_code"
	MethodFacialRecognition VerificationMethod = "facial_recognition"
	MethodManual            VerificationMethod = "manual"
	MethodAdminOverride     VerificationMethod = "admin_override"
)

// LogAction is the kind of change an AttendanceLog entry describes.
type LogAction string

const (
	ActionMarked   LogAction = "marked"
	ActionVerified LogAction = "verified"
	ActionRejected LogAction = "rejected"
)

// SystemActor is the performed-by value for automated log entries.
const SystemActor = "system"

// AttendanceRecord is the stored attendance state of one submission.
type AttendanceRecord struct {
	ID                 string
	SubmissionID       string
	EventID            string
	UserID             string
	CampusID           string
	Status             AttendanceStatus
	VerificationMethod VerificationMethod
	CrossCampus        bool
	IsVerified         bool
	VerificationScore  float64
	VerificationNotes  string
	MarkedAt           time.Time
}

// AttendanceLog is one append-only entry in a record's history.
type AttendanceLog struct {
	ID          string
	RecordID    string
	Action      LogAction
	Details     map[string]any
	PerformedBy string
	CreatedAt   time.Time
}

// StatusFor returns late when marking happened after the event start.
func StatusFor(markedAt time.Time, w EventWindow) AttendanceStatus {
	if markedAt.After(w.Start()) {
		return StatusLate
	}
	return StatusPresent
}

// MethodFor picks the verification method implied by the submitted evidence.
func MethodFor(s AttendanceSubmission) VerificationMethod {
	if s.HasPhoto() {
		return MethodFacialRecognition
	}
	return MethodQRCode
}
