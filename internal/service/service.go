package service

import (
	"context"
	"time"

	"loaner-backend/internal/domain"
)

type LedgerService interface {
	CreateFee(ctx context.Context, in domain.CreateFeeInput) (*domain.Fee, error)
	AddPayment(ctx context.Context, in domain.PaymentInput) (*domain.Payment, error)
	ReplaceInsuranceFee(ctx context.Context, in domain.ReplaceInsuranceFeeInput) (*domain.Fee, error)
	ArchiveInsurancePayments(ctx context.Context, personID, originatingAssetTag, reason string) (int, error)
	ListAvailableCredits(ctx context.Context, personID string) ([]domain.Credit, error)
	ApplyCredit(ctx context.Context, feeID int32, creditTransactionID string, processedBy int32) (*domain.Payment, error)
	DeletePayment(ctx context.Context, paymentID int32) (*domain.Fee, error)
	ArchivePaymentAsCredit(ctx context.Context, paymentID int32, reason string) (*domain.Credit, error)
	GetFee(ctx context.Context, id int32) (*domain.Fee, error)
	ListFees(ctx context.Context, personID string) ([]domain.Fee, error)
	Summary(ctx context.Context, personID string) (*domain.FeeSummary, error)
	ReconcileBalances(ctx context.Context) (int, error)
}

// HandoffService drives checkout and check-in sessions and the follow-up
// operations on the records they produce.
type HandoffService interface {
	CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.Session, error)
	CreateCheckinSession(ctx context.Context, req domain.CheckinRequest) (*domain.Session, error)
	ProcessAll(ctx context.Context, sessionID string, actor int32) (*domain.Session, error)
	RetryStep(ctx context.Context, sessionID string, step domain.StepName, actor int32) (*domain.Session, error)
	RetryAll(ctx context.Context, sessionID string, actor int32) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, []domain.StepEvent, error)
	ForceCompleteStep(ctx context.Context, sessionID string, step domain.StepName, actor int32, reason string) (*domain.Session, error)
	AbandonSession(ctx context.Context, sessionID string, actor int32, reason string) (*domain.Session, error)
	ListStaleSessions(ctx context.Context, olderThan time.Time) ([]domain.Session, error)

	RecordParentSignature(ctx context.Context, checkoutID int32, signature string) (*domain.CheckoutRecord, error)
	CancelPendingCheckout(ctx context.Context, checkoutID int32, actor int32, reason string) (*domain.CheckoutRecord, error)
	CompleteMaintenance(ctx context.Context, maintenanceID int32, actor int32, notes string) (*domain.MaintenanceRecord, error)
}

type ValidationService interface {
	Preflight(ctx context.Context, req domain.CheckoutRequest) (*domain.PreflightReport, error)
	Postflight(ctx context.Context, sessionID string) (*domain.PostflightReport, error)
}

// AnnotationResult is the outcome of writing a note onto a device in the
// directory.
type AnnotationResult struct {
	Success bool
	Error   string
}

// DirectoryService is the school's account and device directory. Credentials
// are held by the implementation.
type DirectoryService interface {
	LookupPerson(ctx context.Context, id string) (*domain.Person, error)
	NotifyDeviceAnnotation(ctx context.Context, assetTag, text string) AnnotationResult
}

// AgreementFields are the values printed on a device use agreement.
type AgreementFields struct {
	SessionID         string
	CheckoutID        int32
	PersonID          string
	PersonName        string
	Grade             string
	AssetTag          string
	SerialNumber      string
	Model             string
	StudentSignature  string
	ParentSignature   string
	ParentPresent     bool
	InsuranceElected  bool
	InsuranceStatus   domain.InsuranceStatus
	InsuranceFeeCents int32
	BalanceCents      int32
	ProcessedBy       int32
	SignedOn          time.Time
}

type DocumentService interface {
	GenerateAgreement(ctx context.Context, fields AgreementFields) (string, error)
	ArchiveAgreement(ctx context.Context, filename string) (string, error)
	SanitizeFilename(name string) string
}

// MediaService stores device photos. Photos that fail to decode or save are
// skipped; the returned URLs cover only the saved ones.
type MediaService interface {
	SavePhotos(ctx context.Context, assetTag string, photos []string) []string
}

type EmailService interface {
	SendAgreement(ctx context.Context, person *domain.Person, device *domain.Device, agreementPath string) error
	SendReturnReceipt(ctx context.Context, person *domain.Person, device *domain.Device, condition domain.ReturnCondition, damageFeeCents int32) error
}
