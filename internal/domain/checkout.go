package domain

import "time"

type CheckoutStatus string

const (
	CheckoutStatusPending   CheckoutStatus = "pending"
	CheckoutStatusCompleted CheckoutStatus = "completed"
	CheckoutStatusCancelled CheckoutStatus = "cancelled"
	// CheckoutStatusReturned closes a checkout whose device came back.
	CheckoutStatusReturned CheckoutStatus = "returned"
)

// Open reports whether the record still describes who holds the device.
func (s CheckoutStatus) Open() bool {
	return s == CheckoutStatusPending || s == CheckoutStatusCompleted
}

type CheckoutRecord struct {
	ID               int32           `json:"id"`
	DeviceID         int32           `json:"device_id"`
	PersonID         string          `json:"person_id"`
	SessionID        string          `json:"session_id"`
	StudentSignature string          `json:"student_signature"`
	ParentSignature  *string         `json:"parent_signature,omitempty"`
	ParentPresent    bool            `json:"parent_present"`
	InsuranceElected bool            `json:"insurance_elected"`
	InsuranceStatus  InsuranceStatus `json:"insurance_status"`
	Status           CheckoutStatus  `json:"status"`
	Notes            string          `json:"notes"`
	CreatedBy        int32           `json:"created_by"`
	CreatedOn        time.Time       `json:"created_on"`
}

// InsuranceOption is how the person elected to handle device insurance.
type InsuranceOption string

const (
	InsuranceDeclined InsuranceOption = "declined"
	InsurancePayNow   InsuranceOption = "pay_now"
	InsurancePayLater InsuranceOption = "pay_later"
)

type CheckoutRequest struct {
	PersonID         string          `json:"person_id"`
	DeviceID         int32           `json:"device_id"`
	StudentSignature string          `json:"student_signature"`
	ParentSignature  string          `json:"parent_signature,omitempty"`
	ParentPresent    bool            `json:"parent_present"`
	Insurance        InsuranceOption `json:"insurance"`
	PaymentCents     int32           `json:"payment_cents,omitempty"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	PaymentNotes     string          `json:"payment_notes,omitempty"`
	// Credits are transaction ids of previously archived insurance payments
	// to re-apply to the new insurance fee.
	Credits     []string `json:"credits,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	ProcessedBy int32    `json:"processed_by"`
}

func (r *CheckoutRequest) InsuranceElected() bool {
	return r.Insurance == InsurancePayNow || r.Insurance == InsurancePayLater
}

// TargetStatus is the device status a completed checkout leaves behind.
func (r *CheckoutRequest) TargetStatus() DeviceStatus {
	if r.ParentSignature != "" {
		return DeviceStatusCheckedOut
	}
	return DeviceStatusPendingSignature
}
