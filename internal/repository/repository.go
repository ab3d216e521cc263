package repository

import (
	"context"
	"time"

	"loaner-backend/internal/domain"
)

type PersonRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Person, error)
	Upsert(ctx context.Context, p *domain.Person) error
}

type DeviceRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.Device, error)
	// GetForUpdate reads the device and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, id int32) (*domain.Device, error)
	// Transition applies t only if the device is still in t.FromStatus and
	// reports whether a row changed.
	Transition(ctx context.Context, t domain.DeviceTransition) (bool, error)
	SetInsuranceStatus(ctx context.Context, id int32, status domain.InsuranceStatus) error
	Update(ctx context.Context, d *domain.Device) error
}

type CheckoutRepository interface {
	Create(ctx context.Context, rec *domain.CheckoutRecord) error
	GetByID(ctx context.Context, id int32) (*domain.CheckoutRecord, error)
	GetBySession(ctx context.Context, sessionID string) (*domain.CheckoutRecord, error)
	// GetActiveForDevice returns the newest open record for a device.
	GetActiveForDevice(ctx context.Context, deviceID int32) (*domain.CheckoutRecord, error)
	SetParentSignature(ctx context.Context, id int32, signature string) (bool, error)
	SetInsuranceStatus(ctx context.Context, id int32, status domain.InsuranceStatus) error
	SetStatus(ctx context.Context, id int32, from, to domain.CheckoutStatus) (bool, error)
}

type FeeRepository interface {
	Create(ctx context.Context, fee *domain.Fee) error
	GetByID(ctx context.Context, id int32) (*domain.Fee, error)
	GetForUpdate(ctx context.Context, id int32) (*domain.Fee, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Fee, error)
	ListByPerson(ctx context.Context, personID string) ([]domain.Fee, error)
	// ListActiveByDescription locks and returns the person's non-superseded
	// fees of one kind that still carry an amount.
	ListActiveByDescription(ctx context.Context, personID, description string) ([]domain.Fee, error)
	ListAll(ctx context.Context) ([]domain.Fee, error)
	UpdateAmounts(ctx context.Context, id int32, amountCents, balanceCents int32) error
	SetBalance(ctx context.Context, id int32, balanceCents int32) error
	MarkSuperseded(ctx context.Context, id, supersededBy int32) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id int32) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, id int32) (*domain.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error)
	ListByFee(ctx context.Context, feeID int32) ([]domain.Payment, error)
	// ListCredits returns archived, unapplied payments, newest first.
	ListCredits(ctx context.Context, personID string) ([]domain.Payment, error)
	// GetCreditForUpdate locks the unapplied credit carrying transactionID.
	GetCreditForUpdate(ctx context.Context, transactionID string) (*domain.Payment, error)
	// ListByTransactionID returns every row that ever carried transactionID:
	// the live payment plus any archived ancestors.
	ListByTransactionID(ctx context.Context, transactionID string) ([]domain.Payment, error)
	// Archive detaches an active payment from its fee; false when the
	// payment was no longer active.
	Archive(ctx context.Context, id int32, assetTag, reason string, at time.Time) (bool, error)
	// MarkApplied consumes a credit; false when it was already consumed.
	MarkApplied(ctx context.Context, id, feeID int32, at time.Time) (bool, error)
	Relink(ctx context.Context, fromFeeID, toFeeID int32) error
	Delete(ctx context.Context, id int32) error
}

type MaintenanceRepository interface {
	Create(ctx context.Context, rec *domain.MaintenanceRecord) error
	GetByID(ctx context.Context, id int32) (*domain.MaintenanceRecord, error)
	GetBySession(ctx context.Context, sessionID string) (*domain.MaintenanceRecord, error)
	Complete(ctx context.Context, id, completedBy int32, notes string, at time.Time) (bool, error)
}

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetForUpdate locks the session so concurrent drivers of one session
	// run its steps one at a time.
	GetForUpdate(ctx context.Context, id string) (*domain.Session, error)
	// Update persists the session header: status, pointers and flags.
	Update(ctx context.Context, s *domain.Session) error
	AppendEvent(ctx context.Context, ev *domain.StepEvent) error
	ListEvents(ctx context.Context, sessionID string) ([]domain.StepEvent, error)
	ListStale(ctx context.Context, olderThan time.Time) ([]domain.Session, error)
}

// Repositories is the set of repositories bound to one transaction.
type Repositories struct {
	People      PersonRepository
	Devices     DeviceRepository
	Checkouts   CheckoutRepository
	Fees        FeeRepository
	Payments    PaymentRepository
	Maintenance MaintenanceRepository
	Sessions    SessionRepository
}

// TxManager runs fn inside a single transaction. fn's error rolls the
// transaction back and is returned unchanged.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}
