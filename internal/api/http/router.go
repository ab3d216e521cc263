package http

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"loaner-backend/internal/service"
	"loaner-backend/internal/storage"
)

// Server holds the services behind the JSON API.
type Server struct {
	handoff       service.HandoffService
	ledger        service.LedgerService
	validation    service.ValidationService
	media         storage.FileStore
	systemActorID int32
}

func NewServer(handoff service.HandoffService, ledger service.LedgerService, validation service.ValidationService, media storage.FileStore, systemActorID int32) *Server {
	return &Server{
		handoff:       handoff,
		ledger:        ledger,
		validation:    validation,
		media:         media,
		systemActorID: systemActorID,
	}
}

// NewRouter registers every route under its name; the auth middleware looks
// the name up in the endpoint security table.
func NewRouter(s *Server, auth *AuthMiddleware) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogger)
	r.Use(auth.Handler)

	r.HandleFunc("/health", s.Health).Methods(http.MethodGet).Name("Health")

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/checkouts/preflight", s.Preflight).Methods(http.MethodPost).Name("Preflight")
	api.HandleFunc("/checkouts/{id:[0-9]+}/parent-signature", s.RecordParentSignature).Methods(http.MethodPost).Name("RecordParentSignature")
	api.HandleFunc("/checkouts/{id:[0-9]+}/cancel", s.CancelPendingCheckout).Methods(http.MethodPost).Name("CancelPendingCheckout")
	api.HandleFunc("/maintenance/{id:[0-9]+}/complete", s.CompleteMaintenance).Methods(http.MethodPost).Name("CompleteMaintenance")

	api.HandleFunc("/sessions/checkout", s.CreateCheckoutSession).Methods(http.MethodPost).Name("CreateCheckoutSession")
	api.HandleFunc("/sessions/checkin", s.CreateCheckinSession).Methods(http.MethodPost).Name("CreateCheckinSession")
	api.HandleFunc("/sessions/{id}", s.GetSession).Methods(http.MethodGet).Name("GetSession")
	api.HandleFunc("/sessions/{id}/retry", s.RetryAll).Methods(http.MethodPost).Name("RetryAll")
	api.HandleFunc("/sessions/{id}/steps/{step}/retry", s.RetryStep).Methods(http.MethodPost).Name("RetryStep")
	api.HandleFunc("/sessions/{id}/steps/{step}/force-complete", s.ForceCompleteStep).Methods(http.MethodPost).Name("ForceCompleteStep")
	api.HandleFunc("/sessions/{id}/abandon", s.AbandonSession).Methods(http.MethodPost).Name("AbandonSession")
	api.HandleFunc("/sessions/{id}/postflight", s.Postflight).Methods(http.MethodGet).Name("Postflight")

	api.HandleFunc("/fees", s.CreateFee).Methods(http.MethodPost).Name("CreateFee")
	api.HandleFunc("/fees/{id:[0-9]+}", s.GetFee).Methods(http.MethodGet).Name("GetFee")
	api.HandleFunc("/fees/{id:[0-9]+}/payments", s.AddPayment).Methods(http.MethodPost).Name("AddPayment")
	api.HandleFunc("/fees/{id:[0-9]+}/credits", s.ApplyCredit).Methods(http.MethodPost).Name("ApplyCredit")
	api.HandleFunc("/payments/{id:[0-9]+}", s.DeletePayment).Methods(http.MethodDelete).Name("DeletePayment")
	api.HandleFunc("/payments/{id:[0-9]+}/archive", s.ArchivePaymentAsCredit).Methods(http.MethodPost).Name("ArchivePaymentAsCredit")
	api.HandleFunc("/people/{personID}/fees", s.ListFees).Methods(http.MethodGet).Name("ListFees")
	api.HandleFunc("/people/{personID}/credits", s.ListAvailableCredits).Methods(http.MethodGet).Name("ListAvailableCredits")
	api.HandleFunc("/people/{personID}/summary", s.FeeSummary).Methods(http.MethodGet).Name("FeeSummary")

	if s.media != nil {
		r.HandleFunc("/media/{assetTag}/{file}", s.ServeMedia).Methods(http.MethodGet).Name("ServeMedia")
	}

	return r
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor is the staff member behind the request, or the system actor for
// self-service routes.
func (s *Server) actor(r *http.Request) int32 {
	if claims, ok := StaffFromContext(r.Context()); ok {
		return claims.StaffID
	}
	return s.systemActorID
}

func pathID(r *http.Request, name string) (int32, bool) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}
