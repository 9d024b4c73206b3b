package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lowmax205/eas/internal/domain/model"
)

// handlePutEvent handles PUT /v1/events/{eventID}.
func (s *Server) handlePutEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, s.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ev, err := req.toModel(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ev, err = s.svc.RegisterEvent(r.Context(), ev)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":     ev.EventID,
		"campus_id":    ev.CampusID,
		"window_start": ev.WindowStart,
		"window_end":   ev.WindowEnd,
	})
}

// handlePutProfile handles PUT /v1/profiles/{userID}.
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, s.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	p := model.ReferenceProfile{UserID: chi.URLParam(r, "userID"), CampusID: req.CampusID}
	var err error
	if p.ReferencePhoto, err = decodeBlob("reference_photo_base64", req.ReferencePhotoBase64); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if p.ReferenceSignature, err = decodeBlob("reference_signature_base64", req.ReferenceSignatureBase64); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := s.svc.RegisterProfile(r.Context(), p); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
