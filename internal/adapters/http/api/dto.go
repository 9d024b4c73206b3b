package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/lowmax205/eas/internal/adapters/repository"
	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/verify"
)

// submissionRequest mirrors the OpenAPI schema for a submission body.
type submissionRequest struct {
	ID              string   `json:"id"`
	EventID         string   `json:"event_id"`
	UserID          string   `json:"user_id"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	AccuracyMeters  *float64 `json:"accuracy_meters"`
	SubmittedAt     string   `json:"submitted_at"`
	PhotoBase64     string   `json:"photo_base64"`
	SignatureBase64 string   `json:"signature_base64"`
}

func (req submissionRequest) toModel(now time.Time, newID func() string) (model.AttendanceSubmission, error) {
	switch {
	case strings.TrimSpace(req.EventID) == "":
		return model.AttendanceSubmission{}, fmt.Errorf("%w: missing event_id", ErrBadRequest)
	case strings.TrimSpace(req.UserID) == "":
		return model.AttendanceSubmission{}, fmt.Errorf("%w: missing user_id", ErrBadRequest)
	case (req.Latitude == nil) != (req.Longitude == nil):
		return model.AttendanceSubmission{}, fmt.Errorf("%w: latitude and longitude go together", ErrBadRequest)
	}

	sub := model.AttendanceSubmission{
		ID:          req.ID,
		EventID:     req.EventID,
		UserID:      req.UserID,
		SubmittedAt: now,
	}
	if sub.ID == "" {
		sub.ID = newID()
	}
	if req.SubmittedAt != "" {
		ts, err := time.Parse(time.RFC3339, req.SubmittedAt)
		if err != nil {
			return sub, fmt.Errorf("%w: invalid submitted_at; must be RFC3339", ErrBadRequest)
		}
		sub.SubmittedAt = ts
	}
	if req.Latitude != nil {
		sub.ReportedPosition = &model.Position{
			Latitude:       *req.Latitude,
			Longitude:      *req.Longitude,
			AccuracyMeters: req.AccuracyMeters,
		}
	}
	var err error
	if sub.Photo, err = decodeBlob("photo_base64", req.PhotoBase64); err != nil {
		return sub, err
	}
	if sub.Signature, err = decodeBlob("signature_base64", req.SignatureBase64); err != nil {
		return sub, err
	}
	return sub, nil
}

type overrideRequest struct {
	Accept  *bool  `json:"accept"`
	AdminID string `json:"admin_id"`
	Reason  string `json:"reason"`
}

type eventRequest struct {
	CampusID            string  `json:"campus_id"`
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	WindowStart         string  `json:"window_start"`
	WindowEnd           string  `json:"window_end"`
	EventStart          string  `json:"event_start"`
	AllowedRadiusMeters float64 `json:"allowed_radius_meters"`
	RequiresSelfie      bool    `json:"requires_selfie"`
	RequiresGPS         bool    `json:"requires_gps"`
	RequiresSignature   bool    `json:"requires_signature"`
}

func (req eventRequest) toModel(eventID string) (model.EventWindow, error) {
	w := model.EventWindow{
		EventID:             eventID,
		CampusID:            req.CampusID,
		EventPosition:       model.Position{Latitude: req.Latitude, Longitude: req.Longitude},
		AllowedRadiusMeters: req.AllowedRadiusMeters,
		RequiresSelfie:      req.RequiresSelfie,
		RequiresGPS:         req.RequiresGPS,
		RequiresSignature:   req.RequiresSignature,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Time
	}{
		{"window_start", req.WindowStart, &w.WindowStart},
		{"window_end", req.WindowEnd, &w.WindowEnd},
		{"event_start", req.EventStart, &w.EventStart},
	} {
		if f.raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, f.raw)
		if err != nil {
			return w, fmt.Errorf("%w: invalid %s; must be RFC3339", ErrBadRequest, f.name)
		}
		*f.dst = ts
	}
	return w, nil
}

type profileRequest struct {
	CampusID                 string `json:"campus_id"`
	ReferencePhotoBase64     string `json:"reference_photo_base64"`
	ReferenceSignatureBase64 string `json:"reference_signature_base64"`
}

type ackResponse struct {
	Status       string `json:"status"`
	SubmissionID string `json:"submission_id"`
	Duplicate    bool   `json:"duplicate"`
}

type outcomeResponse struct {
	ID           string             `json:"id"`
	SubmissionID string             `json:"submission_id"`
	EventID      string             `json:"event_id"`
	UserID       string             `json:"user_id"`
	OverallScore float64            `json:"overall_score"`
	IsAccepted   bool               `json:"is_accepted"`
	Notes        string             `json:"notes,omitempty"`
	Weights      map[string]float64 `json:"weights"`
	CreatedAt    time.Time          `json:"created_at"`
}

type checkResponse struct {
	ID              string         `json:"id"`
	CheckType       string         `json:"check_type"`
	Passed          bool           `json:"passed"`
	ConfidenceScore float64        `json:"confidence_score"`
	Details         map[string]any `json:"details,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

type recordResponse struct {
	ID                 string    `json:"id"`
	SubmissionID       string    `json:"submission_id"`
	EventID            string    `json:"event_id"`
	UserID             string    `json:"user_id"`
	CampusID           string    `json:"campus_id,omitempty"`
	Status             string    `json:"status"`
	VerificationMethod string    `json:"verification_method"`
	CrossCampus        bool      `json:"cross_campus"`
	IsVerified         bool      `json:"is_verified"`
	VerificationScore  float64   `json:"verification_score"`
	VerificationNotes  string    `json:"verification_notes,omitempty"`
	MarkedAt           time.Time `json:"marked_at"`
}

type logResponse struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	Details     map[string]any `json:"details,omitempty"`
	PerformedBy string         `json:"performed_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

type verificationResponse struct {
	Outcome outcomeResponse `json:"outcome"`
	Checks  []checkResponse `json:"checks"`
	Record  *recordResponse `json:"record,omitempty"`
}

type attendanceResponse struct {
	Record recordResponse `json:"record"`
	Logs   []logResponse  `json:"logs"`
}

func newOutcomeResponse(o model.VerificationOutcome) outcomeResponse {
	weights := make(map[string]float64, len(o.Weights))
	for k, v := range o.Weights {
		weights[string(k)] = v
	}
	return outcomeResponse{
		ID:           o.ID,
		SubmissionID: o.SubmissionID,
		EventID:      o.EventID,
		UserID:       o.UserID,
		OverallScore: o.OverallScore,
		IsAccepted:   o.IsAccepted,
		Notes:        o.Notes,
		Weights:      weights,
		CreatedAt:    o.CreatedAt,
	}
}

func newChecksResponse(checks []model.CheckResult) []checkResponse {
	out := make([]checkResponse, 0, len(checks))
	for _, c := range checks {
		out = append(out, checkResponse{
			ID:              c.ID,
			CheckType:       string(c.CheckType),
			Passed:          c.Passed,
			ConfidenceScore: c.ConfidenceScore,
			Details:         c.Details,
			CreatedAt:       c.CreatedAt,
		})
	}
	return out
}

func newRecordResponse(r model.AttendanceRecord) recordResponse {
	return recordResponse{
		ID:                 r.ID,
		SubmissionID:       r.SubmissionID,
		EventID:            r.EventID,
		UserID:             r.UserID,
		CampusID:           r.CampusID,
		Status:             string(r.Status),
		VerificationMethod: string(r.VerificationMethod),
		CrossCampus:        r.CrossCampus,
		IsVerified:         r.IsVerified,
		VerificationScore:  r.VerificationScore,
		VerificationNotes:  r.VerificationNotes,
		MarkedAt:           r.MarkedAt,
	}
}

func newResultResponse(res verify.Result) verificationResponse {
	rec := newRecordResponse(res.Record)
	return verificationResponse{
		Outcome: newOutcomeResponse(res.Outcome),
		Checks:  newChecksResponse(res.Checks),
		Record:  &rec,
	}
}

func newStoredResponse(sv repository.StoredVerification) verificationResponse {
	return verificationResponse{
		Outcome: newOutcomeResponse(sv.Outcome),
		Checks:  newChecksResponse(sv.Checks),
	}
}

func newAttendanceResponse(r model.AttendanceRecord, logs []model.AttendanceLog) attendanceResponse {
	out := attendanceResponse{Record: newRecordResponse(r), Logs: make([]logResponse, 0, len(logs))}
	for _, l := range logs {
		out.Logs = append(out.Logs, logResponse{
			ID:          l.ID,
			Action:      string(l.Action),
			Details:     l.Details,
			PerformedBy: l.PerformedBy,
			CreatedAt:   l.CreatedAt,
		})
	}
	return out
}
