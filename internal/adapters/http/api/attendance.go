package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleGetAttendance handles GET /v1/attendance/{recordID}.
func (s *Server) handleGetAttendance(w http.ResponseWriter, r *http.Request) {
	rec, logs, err := s.svc.Record(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAttendanceResponse(rec, logs))
}

// handleOverride handles POST /v1/attendance/{recordID}/override.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(w, r, s.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.Accept == nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing accept", ErrBadRequest))
		return
	}
	rec, err := s.svc.Override(r.Context(), chi.URLParam(r, "recordID"), *req.Accept, req.AdminID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(rec))
}
