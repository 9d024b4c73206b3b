// Package model contains domain models passed between layers.
package model

import (
	"bytes"
	"time"
)

// Position is a WGS84 coordinate with optional reported accuracy.
type Position struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters *float64
}

// AttendanceSubmission is one user's single attempt to record presence at
// one event. Nil Photo, Signature or ReportedPosition mean "not submitted".
type AttendanceSubmission struct {
	ID               string
	EventID          string
	UserID           string
	ReportedPosition *Position
	SubmittedAt      time.Time
	Photo            []byte
	Signature        []byte
}

// HasPhoto reports whether a non-empty photo blob was submitted.
func (s AttendanceSubmission) HasPhoto() bool { return len(s.Photo) > 0 }

// HasSignature reports whether a non-empty signature blob was submitted.
func (s AttendanceSubmission) HasSignature() bool { return len(s.Signature) > 0 }

// SameContent reports whether o carries the same payload as s. A resend of
// a stored submission must match it exactly.
func (s AttendanceSubmission) SameContent(o AttendanceSubmission) bool {
	return s.ID == o.ID &&
		s.EventID == o.EventID &&
		s.UserID == o.UserID &&
		s.SubmittedAt.Equal(o.SubmittedAt) &&
		samePosition(s.ReportedPosition, o.ReportedPosition) &&
		bytes.Equal(s.Photo, o.Photo) &&
		bytes.Equal(s.Signature, o.Signature)
}

func samePosition(a, b *Position) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Latitude != b.Latitude || a.Longitude != b.Longitude {
		return false
	}
	if a.AccuracyMeters == nil || b.AccuracyMeters == nil {
		return a.AccuracyMeters == b.AccuracyMeters
	}
	return *a.AccuracyMeters == *b.AccuracyMeters
}

// EventWindow is the read-only reference data for one event.
// WindowStart and WindowEnd are inclusive.
type EventWindow struct {
	EventID             string
	CampusID            string
	EventPosition       Position
	WindowStart         time.Time
	WindowEnd           time.Time
	EventStart          time.Time // zero means WindowStart
	AllowedRadiusMeters float64
	RequiresSelfie      bool
	RequiresGPS         bool
	RequiresSignature   bool
}

// Start returns the scheduled event start used for late marking.
func (w EventWindow) Start() time.Time {
	if w.EventStart.IsZero() {
		return w.WindowStart
	}
	return w.EventStart
}

// DefaultWindow builds a window of +/- minutes around an event start, used
// for events stored without explicit bounds.
func DefaultWindow(eventStart time.Time, minutes int) (time.Time, time.Time) {
	d := time.Duration(minutes) * time.Minute
	return eventStart.Add(-d), eventStart.Add(d)
}

// ReferenceProfile holds the stored biometric references for one user.
type ReferenceProfile struct {
	UserID             string
	CampusID           string
	ReferencePhoto     []byte
	ReferenceSignature []byte
}
