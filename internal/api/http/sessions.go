package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"loaner-backend/internal/domain"
)

type sessionResponse struct {
	Session *domain.Session    `json:"session"`
	Events  []domain.StepEvent `json:"events,omitempty"`
	Error   *errorResponse     `json:"error,omitempty"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// writeSession always returns the whole session when there is one, with the
// error alongside it.
func writeSession(w http.ResponseWriter, r *http.Request, status int, sess *domain.Session, err error) {
	if err != nil && sess == nil {
		writeError(w, r, err)
		return
	}
	resp := sessionResponse{Session: sess}
	if err != nil {
		kind := domain.KindOf(err)
		status = statusFor(kind)
		resp.Error = &errorResponse{Error: err.Error(), Code: domain.CodeOf(err), Kind: kind}
	}
	writeJSON(w, status, resp)
}

func (s *Server) Preflight(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	report, err := s.validation.Preflight(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	actor := s.actor(r)
	req.ProcessedBy = actor

	sess, err := s.handoff.CreateCheckoutSession(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err = s.handoff.ProcessAll(r.Context(), sess.ID, actor)
	writeSession(w, r, http.StatusCreated, sess, err)
}

func (s *Server) CreateCheckinSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckinRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	actor := s.actor(r)
	req.ProcessedBy = actor

	sess, err := s.handoff.CreateCheckinSession(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err = s.handoff.ProcessAll(r.Context(), sess.ID, actor)
	writeSession(w, r, http.StatusCreated, sess, err)
}

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, events, err := s.handoff.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Events: events})
}

func (s *Server) RetryAll(w http.ResponseWriter, r *http.Request) {
	sess, err := s.handoff.RetryAll(r.Context(), mux.Vars(r)["id"], s.actor(r))
	writeSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) RetryStep(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sess, err := s.handoff.RetryStep(r.Context(), vars["id"], domain.StepName(vars["step"]), s.actor(r))
	writeSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) ForceCompleteStep(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	vars := mux.Vars(r)
	sess, err := s.handoff.ForceCompleteStep(r.Context(), vars["id"], domain.StepName(vars["step"]), s.actor(r), req.Reason)
	writeSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) AbandonSession(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	sess, err := s.handoff.AbandonSession(r.Context(), mux.Vars(r)["id"], s.actor(r), req.Reason)
	writeSession(w, r, http.StatusOK, sess, err)
}

func (s *Server) Postflight(w http.ResponseWriter, r *http.Request) {
	report, err := s.validation.Postflight(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type signatureRequest struct {
	Signature string `json:"signature"`
}

func (s *Server) RecordParentSignature(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid checkout id")
		return
	}
	var req signatureRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.handoff.RecordParentSignature(r.Context(), id, req.Signature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) CancelPendingCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid checkout id")
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.handoff.CancelPendingCheckout(r.Context(), id, s.actor(r), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type completeMaintenanceRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) CompleteMaintenance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid maintenance id")
		return
	}
	var req completeMaintenanceRequest
	if err := decode(r, &req); err != nil && err != errEmptyBody {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.handoff.CompleteMaintenance(r.Context(), id, s.actor(r), req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
