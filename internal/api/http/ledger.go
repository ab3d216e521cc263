package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"loaner-backend/internal/domain"
)

func (s *Server) CreateFee(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateFeeInput
	if err := decode(r, &in); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	in.CreatedBy = s.actor(r)
	fee, err := s.ledger.CreateFee(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fee)
}

func (s *Server) GetFee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid fee id")
		return
	}
	fee, err := s.ledger.GetFee(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fee)
}

func (s *Server) ListFees(w http.ResponseWriter, r *http.Request) {
	fees, err := s.ledger.ListFees(r.Context(), mux.Vars(r)["personID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fees == nil {
		fees = []domain.Fee{}
	}
	writeJSON(w, http.StatusOK, fees)
}

func (s *Server) FeeSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context(), mux.Vars(r)["personID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) AddPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid fee id")
		return
	}
	var in domain.PaymentInput
	if err := decode(r, &in); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	in.FeeID = id
	in.ProcessedBy = s.actor(r)
	p, err := s.ledger.AddPayment(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type applyCreditRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Server) ApplyCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid fee id")
		return
	}
	var req applyCreditRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.TransactionID == "" {
		writeBadRequest(w, "transaction_id is required")
		return
	}
	p, err := s.ledger.ApplyCredit(r.Context(), id, req.TransactionID, s.actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid payment id")
		return
	}
	fee, err := s.ledger.DeletePayment(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Credits belong to no fee.
	if fee == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, fee)
}

func (s *Server) ArchivePaymentAsCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid payment id")
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil && err != errEmptyBody {
		writeBadRequest(w, err.Error())
		return
	}
	credit, err := s.ledger.ArchivePaymentAsCredit(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credit)
}

func (s *Server) ListAvailableCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := s.ledger.ListAvailableCredits(r.Context(), mux.Vars(r)["personID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if credits == nil {
		credits = []domain.Credit{}
	}
	writeJSON(w, http.StatusOK, credits)
}
