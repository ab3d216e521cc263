package http_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"loaner-backend/internal/domain"
)

type MockHandoff struct {
	mock.Mock
}

func (m *MockHandoff) session(args mock.Arguments) (*domain.Session, error) {
	sess, _ := args.Get(0).(*domain.Session)
	return sess, args.Error(1)
}

func (m *MockHandoff) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.Session, error) {
	return m.session(m.Called(ctx, req))
}

func (m *MockHandoff) CreateCheckinSession(ctx context.Context, req domain.CheckinRequest) (*domain.Session, error) {
	return m.session(m.Called(ctx, req))
}

func (m *MockHandoff) ProcessAll(ctx context.Context, sessionID string, actor int32) (*domain.Session, error) {
	return m.session(m.Called(ctx, sessionID, actor))
}

func (m *MockHandoff) RetryStep(ctx context.Context, sessionID string, step domain.StepName, actor int32) (*domain.Session, error) {
	return m.session(m.Called(ctx, sessionID, step, actor))
}

func (m *MockHandoff) RetryAll(ctx context.Context, sessionID string, actor int32) (*domain.Session, error) {
	return m.session(m.Called(ctx, sessionID, actor))
}

func (m *MockHandoff) GetSession(ctx context.Context, sessionID string) (*domain.Session, []domain.StepEvent, error) {
	args := m.Called(ctx, sessionID)
	sess, _ := args.Get(0).(*domain.Session)
	events, _ := args.Get(1).([]domain.StepEvent)
	return sess, events, args.Error(2)
}

func (m *MockHandoff) ForceCompleteStep(ctx context.Context, sessionID string, step domain.StepName, actor int32, reason string) (*domain.Session, error) {
	return m.session(m.Called(ctx, sessionID, step, actor, reason))
}

func (m *MockHandoff) AbandonSession(ctx context.Context, sessionID string, actor int32, reason string) (*domain.Session, error) {
	return m.session(m.Called(ctx, sessionID, actor, reason))
}

func (m *MockHandoff) ListStaleSessions(ctx context.Context, olderThan time.Time) ([]domain.Session, error) {
	args := m.Called(ctx, olderThan)
	sessions, _ := args.Get(0).([]domain.Session)
	return sessions, args.Error(1)
}

func (m *MockHandoff) RecordParentSignature(ctx context.Context, checkoutID int32, signature string) (*domain.CheckoutRecord, error) {
	args := m.Called(ctx, checkoutID, signature)
	rec, _ := args.Get(0).(*domain.CheckoutRecord)
	return rec, args.Error(1)
}

func (m *MockHandoff) CancelPendingCheckout(ctx context.Context, checkoutID int32, actor int32, reason string) (*domain.CheckoutRecord, error) {
	args := m.Called(ctx, checkoutID, actor, reason)
	rec, _ := args.Get(0).(*domain.CheckoutRecord)
	return rec, args.Error(1)
}

func (m *MockHandoff) CompleteMaintenance(ctx context.Context, maintenanceID int32, actor int32, notes string) (*domain.MaintenanceRecord, error) {
	args := m.Called(ctx, maintenanceID, actor, notes)
	rec, _ := args.Get(0).(*domain.MaintenanceRecord)
	return rec, args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) fee(args mock.Arguments) (*domain.Fee, error) {
	fee, _ := args.Get(0).(*domain.Fee)
	return fee, args.Error(1)
}

func (m *MockLedger) payment(args mock.Arguments) (*domain.Payment, error) {
	p, _ := args.Get(0).(*domain.Payment)
	return p, args.Error(1)
}

func (m *MockLedger) CreateFee(ctx context.Context, in domain.CreateFeeInput) (*domain.Fee, error) {
	return m.fee(m.Called(ctx, in))
}

func (m *MockLedger) AddPayment(ctx context.Context, in domain.PaymentInput) (*domain.Payment, error) {
	return m.payment(m.Called(ctx, in))
}

func (m *MockLedger) ReplaceInsuranceFee(ctx context.Context, in domain.ReplaceInsuranceFeeInput) (*domain.Fee, error) {
	return m.fee(m.Called(ctx, in))
}

func (m *MockLedger) ArchiveInsurancePayments(ctx context.Context, personID, originatingAssetTag, reason string) (int, error) {
	args := m.Called(ctx, personID, originatingAssetTag, reason)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) ListAvailableCredits(ctx context.Context, personID string) ([]domain.Credit, error) {
	args := m.Called(ctx, personID)
	credits, _ := args.Get(0).([]domain.Credit)
	return credits, args.Error(1)
}

func (m *MockLedger) ApplyCredit(ctx context.Context, feeID int32, creditTransactionID string, processedBy int32) (*domain.Payment, error) {
	return m.payment(m.Called(ctx, feeID, creditTransactionID, processedBy))
}

func (m *MockLedger) DeletePayment(ctx context.Context, paymentID int32) (*domain.Fee, error) {
	return m.fee(m.Called(ctx, paymentID))
}

func (m *MockLedger) ArchivePaymentAsCredit(ctx context.Context, paymentID int32, reason string) (*domain.Credit, error) {
	args := m.Called(ctx, paymentID, reason)
	c, _ := args.Get(0).(*domain.Credit)
	return c, args.Error(1)
}

func (m *MockLedger) GetFee(ctx context.Context, id int32) (*domain.Fee, error) {
	return m.fee(m.Called(ctx, id))
}

func (m *MockLedger) ListFees(ctx context.Context, personID string) ([]domain.Fee, error) {
	args := m.Called(ctx, personID)
	fees, _ := args.Get(0).([]domain.Fee)
	return fees, args.Error(1)
}

func (m *MockLedger) Summary(ctx context.Context, personID string) (*domain.FeeSummary, error) {
	args := m.Called(ctx, personID)
	s, _ := args.Get(0).(*domain.FeeSummary)
	return s, args.Error(1)
}

func (m *MockLedger) ReconcileBalances(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockValidation struct {
	mock.Mock
}

func (m *MockValidation) Preflight(ctx context.Context, req domain.CheckoutRequest) (*domain.PreflightReport, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*domain.PreflightReport)
	return r, args.Error(1)
}

func (m *MockValidation) Postflight(ctx context.Context, sessionID string) (*domain.PostflightReport, error) {
	args := m.Called(ctx, sessionID)
	r, _ := args.Get(0).(*domain.PostflightReport)
	return r, args.Error(1)
}
