package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	service "github.com/lowmax205/eas/internal/app"
	"github.com/lowmax205/eas/internal/domain/model"
)

// handleVerifyNow handles POST /v1/verifications.
func (s *Server) handleVerifyNow(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	res, err := s.svc.VerifyNow(r.Context(), sub)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

// handleSubmit handles POST /v1/submissions. New submissions are
// acknowledged with 202, repeats of an in-flight one with 200.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	status, err := s.svc.Submit(r.Context(), sub)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if status == service.SubmitDuplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: string(status), SubmissionID: sub.ID, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: string(status), SubmissionID: sub.ID})
}

// handleGetVerification handles GET /v1/verifications/{submissionID}.
func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	sv, err := s.svc.Verification(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStoredResponse(sv))
}

// handleReverify handles POST /v1/verifications/{submissionID}/reverify.
func (s *Server) handleReverify(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Reverify(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) (model.AttendanceSubmission, bool) {
	var req submissionRequest
	if err := decodeJSON(w, r, s.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return model.AttendanceSubmission{}, false
	}
	sub, err := req.toModel(s.now().UTC(), s.newID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return model.AttendanceSubmission{}, false
	}
	return sub, true
}
