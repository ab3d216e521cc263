package domain

import "time"

// Fee descriptions double as the fee kind.
const (
	FeeDescriptionInsurance = "Device Insurance Fee"
	FeeDescriptionDamage    = "Device Damage Fee"
)

type Fee struct {
	ID             int32     `json:"id"`
	PersonID       string    `json:"person_id"`
	AmountCents    int32     `json:"amount_cents"`
	BalanceCents   int32     `json:"balance_cents"`
	Description    string    `json:"description"`
	MaintenanceID  *int32    `json:"maintenance_id,omitempty"`
	CheckoutID     *int32    `json:"checkout_id,omitempty"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	SupersededBy   *int32    `json:"superseded_by,omitempty"`
	CreatedBy      int32     `json:"created_by"`
	CreatedOn      time.Time `json:"created_on"`
	Payments       []Payment `json:"payments,omitempty"`
}

func (f *Fee) IsInsurance() bool {
	return f.Description == FeeDescriptionInsurance
}

// Active reports whether the fee still represents money owed or held.
func (f *Fee) Active() bool {
	return f.SupersededBy == nil && f.AmountCents > 0
}

// PaidCents sums the non-archived payments attached to the fee.
func PaidCents(payments []Payment) int32 {
	var total int32
	for _, p := range payments {
		if !p.Archived {
			total += p.AmountCents
		}
	}
	return total
}

type PaymentState string

const (
	// PaymentStateActive is a payment settling its fee.
	PaymentStateActive PaymentState = "active"
	// PaymentStateCredit is an archived payment waiting to be re-applied.
	PaymentStateCredit PaymentState = "credit"
	// PaymentStateConsumed is a credit that has been re-applied to a fee.
	PaymentStateConsumed PaymentState = "consumed"
)

type Payment struct {
	ID               int32      `json:"id"`
	FeeID            *int32     `json:"fee_id,omitempty"`
	PersonID         string     `json:"person_id"`
	AmountCents      int32      `json:"amount_cents"`
	Method           string     `json:"method"`
	Notes            string     `json:"notes"`
	TransactionID    string     `json:"transaction_id"`
	Archived         bool       `json:"archived"`
	ArchivedOn       *time.Time `json:"archived_on,omitempty"`
	ArchiveReason    string     `json:"archive_reason,omitempty"`
	OriginalFeeID    *int32     `json:"original_fee_id,omitempty"`
	OriginalAssetTag string     `json:"original_asset_tag,omitempty"`
	FeeDescription   string     `json:"fee_description"`
	AppliedFeeID     *int32     `json:"applied_fee_id,omitempty"`
	AppliedOn        *time.Time `json:"applied_on,omitempty"`
	IdempotencyKey   *string    `json:"idempotency_key,omitempty"`
	ProcessedBy      int32      `json:"processed_by"`
	CreatedOn        time.Time  `json:"created_on"`
}

func (p *Payment) State() PaymentState {
	switch {
	case !p.Archived:
		return PaymentStateActive
	case p.AppliedOn != nil:
		return PaymentStateConsumed
	default:
		return PaymentStateCredit
	}
}

// Credit is the caller-facing view of an archived, unapplied payment.
type Credit struct {
	PaymentID        int32     `json:"payment_id"`
	PersonID         string    `json:"person_id"`
	TransactionID    string    `json:"transaction_id"`
	AmountCents      int32     `json:"amount_cents"`
	Method           string    `json:"method"`
	Notes            string    `json:"notes"`
	FeeDescription   string    `json:"fee_description"`
	OriginalFeeID    *int32    `json:"original_fee_id,omitempty"`
	OriginalAssetTag string    `json:"original_asset_tag"`
	ArchivedOn       time.Time `json:"archived_on"`
}

func CreditFromPayment(p Payment) Credit {
	c := Credit{
		PaymentID:        p.ID,
		PersonID:         p.PersonID,
		TransactionID:    p.TransactionID,
		AmountCents:      p.AmountCents,
		Method:           p.Method,
		Notes:            p.Notes,
		FeeDescription:   p.FeeDescription,
		OriginalFeeID:    p.OriginalFeeID,
		OriginalAssetTag: p.OriginalAssetTag,
	}
	if p.ArchivedOn != nil {
		c.ArchivedOn = *p.ArchivedOn
	}
	return c
}

type CreateFeeInput struct {
	PersonID      string `json:"person_id"`
	AmountCents   int32  `json:"amount_cents"`
	Description   string `json:"description"`
	MaintenanceID *int32 `json:"maintenance_id,omitempty"`
	CheckoutID    *int32 `json:"checkout_id,omitempty"`
	CreatedBy     int32  `json:"created_by"`
}

type PaymentInput struct {
	FeeID          int32           `json:"fee_id"`
	AmountCents    int32           `json:"amount_cents"`
	Method         string          `json:"method"`
	Notes          string          `json:"notes"`
	ProcessedBy    int32           `json:"processed_by"`
	IdempotencyKey *IdempotencyKey `json:"-"`
}

type ReplaceInsuranceFeeInput struct {
	PersonID         string
	AmountCents      int32
	Description      string
	ProcessedBy      int32
	IdempotencyKey   IdempotencyKey
	LinkedCheckoutID *int32
}

type FeeSummary struct {
	PersonID         string `json:"person_id"`
	OwedCents        int32  `json:"owed_cents"`
	CreditCents      int32  `json:"credit_cents"`
	OpenFees         int    `json:"open_fees"`
	AvailableCredits int    `json:"available_credits"`
}
