package domain

import (
	"encoding/json"
	"time"
)

type SessionKind string

const (
	SessionKindCheckout SessionKind = "checkout"
	SessionKindCheckin  SessionKind = "checkin"
)

type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

type StepName string

const (
	StepStudentValidation      StepName = "StudentValidation"
	StepDeviceAvailability     StepName = "DeviceAvailability"
	StepCheckoutRecordCreation StepName = "CheckoutRecordCreation"
	StepInsurancePayment       StepName = "InsurancePayment"
	StepAgreementFinalization  StepName = "AgreementFinalization"

	StepDeviceHeldValidation StepName = "DeviceHeldValidation"
	StepInsuranceArchival    StepName = "InsuranceArchival"
	StepDeviceStatusUpdate   StepName = "DeviceStatusUpdate"
	StepDamageFee            StepName = "DamageFee"
	StepReturnNotification   StepName = "ReturnNotification"
)

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	// StepStatusAbandoned only appears in the event log, on the entry that
	// records a session being abandoned.
	StepStatusAbandoned StepStatus = "abandoned"
)

type Step struct {
	Name      StepName   `json:"name"`
	Status    StepStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	// Warning records a soft failure of an external call that did not fail
	// the step.
	Warning   string    `json:"warning,omitempty"`
	Override  string    `json:"override,omitempty"`
	Attempts  int       `json:"attempts"`
	UpdatedOn time.Time `json:"updated_on"`
}

type Session struct {
	ID                   string          `json:"id"`
	Kind                 SessionKind     `json:"kind"`
	PersonID             string          `json:"person_id"`
	DeviceID             int32           `json:"device_id"`
	Request              json.RawMessage `json:"request"`
	Steps                []Step          `json:"steps"`
	OverallStatus        SessionStatus   `json:"overall_status"`
	Abandoned            bool            `json:"abandoned"`
	CheckoutRecordID     *int32          `json:"checkout_record_id,omitempty"`
	PaymentTransactionID *string         `json:"payment_transaction_id,omitempty"`
	InsuranceFeeID       *int32          `json:"insurance_fee_id,omitempty"`
	MaintenanceRecordID  *int32          `json:"maintenance_record_id,omitempty"`
	DamageFeeID          *int32          `json:"damage_fee_id,omitempty"`
	CreditsArchived      int             `json:"credits_archived"`
	CreatedBy            int32           `json:"created_by"`
	CreatedOn            time.Time       `json:"created_on"`
	UpdatedOn            time.Time       `json:"updated_on"`
}

func (s *Session) Step(name StepName) (*Step, bool) {
	for i := range s.Steps {
		if s.Steps[i].Name == name {
			return &s.Steps[i], true
		}
	}
	return nil, false
}

func (s *Session) Succeeded(name StepName) bool {
	st, ok := s.Step(name)
	return ok && st.Status == StepStatusSucceeded
}

// Evaluate recomputes OverallStatus from the step statuses.
func (s *Session) Evaluate() SessionStatus {
	status := SessionStatusCompleted
	for _, st := range s.Steps {
		switch st.Status {
		case StepStatusFailed:
			s.OverallStatus = SessionStatusFailed
			return s.OverallStatus
		case StepStatusPending:
			status = SessionStatusInProgress
		}
	}
	s.OverallStatus = status
	return status
}

// StepEvent is one append-only entry of a session's step log.
type StepEvent struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	Step      StepName   `json:"step"`
	Status    StepStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	Warning   string     `json:"warning,omitempty"`
	Override  string     `json:"override,omitempty"`
	Actor     int32      `json:"actor"`
	CreatedOn time.Time  `json:"created_on"`
}
