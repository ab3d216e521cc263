package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
	"loaner-backend/internal/repository/memory"
	"loaner-backend/internal/service"
	"loaner-backend/internal/utils"
)

const insuranceFee = int32(4000)

var testConfig = service.HandoffConfig{
	InsuranceFeeCents: insuranceFee,
	PartCosts:         utils.NewPartCostSchedule(map[string]int32{"screen": 8500, "keyboard": 4500, "charger": 2500}, 0),
	SystemActorID:     99,
}

type fixture struct {
	store      *memory.Store
	tx         *faultyTx
	handoff    service.HandoffService
	ledger     service.LedgerService
	validation service.ValidationService
}

func newFixture(t *testing.T, collab service.Collaborators) *fixture {
	t.Helper()
	store := memory.New()
	tx := &faultyTx{inner: store}
	return &fixture{
		store:      store,
		tx:         tx,
		handoff:    service.NewHandoffService(tx, collab, testConfig),
		ledger:     service.NewLedgerService(tx),
		validation: service.NewValidationService(tx, collab.Directory, testConfig),
	}
}

func (f *fixture) student(id string) domain.Person {
	p := domain.Person{ID: id, FirstName: "Student", LastName: id, Email: id + "@students.example.org", Grade: "9", Active: true}
	f.store.SeedPerson(p)
	return p
}

func (f *fixture) device(tag string) domain.Device {
	return f.store.SeedDevice(domain.Device{AssetTag: tag, SerialNumber: "SN-" + tag, Model: "Chromebook 3100"})
}

func (f *fixture) getDevice(t *testing.T, id int32) *domain.Device {
	t.Helper()
	var d *domain.Device
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, r repository.Repositories) error {
		var err error
		d, err = r.Devices.GetByID(ctx, id)
		return err
	}))
	return d
}

func (f *fixture) listFees(t *testing.T, personID string) []domain.Fee {
	t.Helper()
	fees, err := f.ledger.ListFees(context.Background(), personID)
	require.NoError(t, err)
	return fees
}

func (f *fixture) checkouts(t *testing.T) []domain.CheckoutRecord {
	t.Helper()
	var recs []domain.CheckoutRecord
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, r repository.Repositories) error {
		for id := int32(1); ; id++ {
			rec, err := r.Checkouts.GetByID(ctx, id)
			if domain.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			recs = append(recs, *rec)
		}
	}))
	return recs
}

// checkout runs a full checkout session and requires it to complete.
func (f *fixture) checkout(t *testing.T, req domain.CheckoutRequest) *domain.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.handoff.CreateCheckoutSession(ctx, req)
	require.NoError(t, err)
	sess, err = f.handoff.ProcessAll(ctx, sess.ID, 7)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusCompleted, sess.OverallStatus, "steps: %+v", sess.Steps)
	return sess
}

func (f *fixture) checkin(t *testing.T, req domain.CheckinRequest) *domain.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.handoff.CreateCheckinSession(ctx, req)
	require.NoError(t, err)
	sess, err = f.handoff.ProcessAll(ctx, sess.ID, 7)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusCompleted, sess.OverallStatus, "steps: %+v", sess.Steps)
	return sess
}

func signedCheckout(personID string, deviceID int32, insurance domain.InsuranceOption, payment int32) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		PersonID:         personID,
		DeviceID:         deviceID,
		StudentSignature: "s-sig",
		ParentSignature:  "p-sig",
		ParentPresent:    true,
		Insurance:        insurance,
		PaymentCents:     payment,
		PaymentMethod:    "cash",
		ProcessedBy:      7,
	}
}

func stepOf(t *testing.T, sess *domain.Session, name domain.StepName) domain.Step {
	t.Helper()
	st, ok := sess.Step(name)
	require.True(t, ok, "step %s missing", name)
	return *st
}

// faultyTx wraps a TxManager and fails the next failFeeCreates fee inserts,
// the way a dropped connection would.
type faultyTx struct {
	inner repository.TxManager

	mu             sync.Mutex
	failFeeCreates int
}

func (f *faultyTx) failNextFeeCreate(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFeeCreates = n
}

func (f *faultyTx) takeFailure() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFeeCreates == 0 {
		return false
	}
	f.failFeeCreates--
	return true
}

func (f *faultyTx) WithTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	return f.inner.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		r.Fees = &faultyFees{FeeRepository: r.Fees, tx: f}
		return fn(ctx, r)
	})
}

type faultyFees struct {
	repository.FeeRepository
	tx *faultyTx
}

func (f *faultyFees) Create(ctx context.Context, fee *domain.Fee) error {
	if f.tx.takeFailure() {
		return errors.New("connection reset by peer")
	}
	return f.FeeRepository.Create(ctx, fee)
}

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) LookupPerson(ctx context.Context, id string) (*domain.Person, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Person), args.Error(1)
}

func (m *MockDirectory) NotifyDeviceAnnotation(ctx context.Context, assetTag, text string) service.AnnotationResult {
	args := m.Called(ctx, assetTag, text)
	return args.Get(0).(service.AnnotationResult)
}

type MockDocuments struct {
	mock.Mock
}

func (m *MockDocuments) GenerateAgreement(ctx context.Context, fields service.AgreementFields) (string, error) {
	args := m.Called(ctx, fields)
	return args.String(0), args.Error(1)
}

func (m *MockDocuments) ArchiveAgreement(ctx context.Context, filename string) (string, error) {
	args := m.Called(ctx, filename)
	return args.String(0), args.Error(1)
}

func (m *MockDocuments) SanitizeFilename(name string) string {
	return m.Called(name).String(0)
}

type MockEmail struct {
	mock.Mock
}

func (m *MockEmail) SendAgreement(ctx context.Context, person *domain.Person, device *domain.Device, agreementPath string) error {
	return m.Called(ctx, person, device, agreementPath).Error(0)
}

func (m *MockEmail) SendReturnReceipt(ctx context.Context, person *domain.Person, device *domain.Device, condition domain.ReturnCondition, damageFeeCents int32) error {
	return m.Called(ctx, person, device, condition, damageFeeCents).Error(0)
}

type MockMedia struct {
	mock.Mock
}

func (m *MockMedia) SavePhotos(ctx context.Context, assetTag string, photos []string) []string {
	args := m.Called(ctx, assetTag, photos)
	return args.Get(0).([]string)
}
