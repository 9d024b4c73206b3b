package verify

import (
	"fmt"
	"strings"

	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/scoring"
)

// failureReason explains a failed check in words a submitter can act on.
func failureReason(r model.CheckResult) string {
	if e, ok := r.Details["error"]; ok {
		return fmt.Sprintf("%s could not be evaluated (%v)", checkLabel(r.CheckType), e)
	}
	switch r.CheckType {
	case model.CheckDistance:
		d, okD := r.Details["distance_meters"].(float64)
		rad, okR := r.Details["allowed_radius_meters"].(float64)
		if okD && okR {
			return fmt.Sprintf("GPS too far from event venue (%.0f m, allowed %.0f m)", d, rad)
		}
		return "GPS too far from event venue"
	case model.CheckTimeWindow:
		switch r.Details["position"] {
		case scoring.PositionBefore:
			return "submitted before the attendance window opened"
		case scoring.PositionAfter:
			return "submitted after the attendance window closed"
		}
		return "submitted outside the attendance window"
	case model.CheckImageQuality:
		if n, ok := r.Details["faces_detected"].(int); ok && n == 0 {
			return "no face detected in photo"
		}
		return fmt.Sprintf("photo did not pass verification (score %.2f)", r.ConfidenceScore)
	case model.CheckSignatureQuality:
		return fmt.Sprintf("signature did not pass verification (score %.2f)", r.ConfidenceScore)
	case model.CheckDuplicate:
		return "attendance already recorded for this event"
	}
	return fmt.Sprintf("%s failed", r.CheckType)
}

func checkLabel(t model.CheckType) string {
	switch t {
	case model.CheckDistance:
		return "location"
	case model.CheckTimeWindow:
		return "submission time"
	case model.CheckImageQuality:
		return "photo"
	case model.CheckSignatureQuality:
		return "signature"
	case model.CheckDuplicate:
		return "duplicate lookup"
	}
	return string(t)
}

// missingEvidence lists evidence the event requires but the submission lacks.
func missingEvidence(sub model.AttendanceSubmission, w model.EventWindow) []string {
	var out []string
	if w.RequiresSelfie && !sub.HasPhoto() {
		out = append(out, "selfie required but not submitted")
	}
	if w.RequiresGPS && sub.ReportedPosition == nil {
		out = append(out, "GPS location required but not submitted")
	}
	if w.RequiresSignature && !sub.HasSignature() {
		out = append(out, "signature required but not submitted")
	}
	return out
}

// buildNotes renders the outcome summary. Every failed check is listed.
func buildNotes(score, threshold float64, accepted bool, checks []model.CheckResult, missing []string) string {
	var b strings.Builder
	if accepted {
		fmt.Fprintf(&b, "Verification passed (score %.2f).", score)
	} else {
		fmt.Fprintf(&b, "Verification failed (score %.2f below threshold %.2f).", score, threshold)
	}

	var failed []string
	for _, r := range checks {
		if !r.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.CheckType, failureReason(r)))
		}
	}
	if len(failed) > 0 {
		b.WriteString(" Failed checks: ")
		b.WriteString(strings.Join(failed, "; "))
		b.WriteString(".")
	}
	if len(missing) > 0 {
		b.WriteString(" Missing evidence: ")
		b.WriteString(strings.Join(missing, "; "))
		b.WriteString(".")
	}
	return b.String()
}
