package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"loaner-backend/internal/config"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/service"
)

type mockLedger struct {
	service.LedgerService
	mock.Mock
}

func (m *mockLedger) ReconcileBalances(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockHandoff struct {
	service.HandoffService
	mock.Mock
}

func (m *mockHandoff) ListStaleSessions(ctx context.Context, olderThan time.Time) ([]domain.Session, error) {
	args := m.Called(ctx, olderThan)
	sessions, _ := args.Get(0).([]domain.Session)
	return sessions, args.Error(1)
}

func newRunner(ledger *mockLedger, handoff *mockHandoff) *JobRunner {
	cfg := &config.Config{Sessions: config.SessionsConfig{StaleAfterHours: 24}}
	jr := NewJobRunner(&Services{Ledger: ledger, Handoff: handoff}, cfg)
	jr.now = func() time.Time { return time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) }
	return jr
}

func TestReconcileFeeBalances(t *testing.T) {
	ledger := &mockLedger{}
	ledger.On("ReconcileBalances", mock.Anything).Return(2, nil).Once()
	ledger.On("ReconcileBalances", mock.Anything).Return(0, errors.New("db down")).Once()

	jr := newRunner(ledger, &mockHandoff{})
	jr.ReconcileFeeBalances()
	jr.ReconcileFeeBalances()

	ledger.AssertNumberOfCalls(t, "ReconcileBalances", 2)
}

func TestReportStaleSessions_UsesConfiguredCutoff(t *testing.T) {
	handoff := &mockHandoff{}
	want := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	handoff.On("ListStaleSessions", mock.Anything, want).Return([]domain.Session{
		{ID: "s1", Steps: []domain.Step{
			{Name: domain.StepStudentValidation, Status: domain.StepStatusSucceeded},
			{Name: domain.StepInsurancePayment, Status: domain.StepStatusFailed},
		}},
	}, nil)

	newRunner(&mockLedger{}, handoff).ReportStaleSessions()
	handoff.AssertExpectations(t)
}

func TestBlockedStep(t *testing.T) {
	sess := &domain.Session{Steps: []domain.Step{
		{Name: domain.StepDeviceHeldValidation, Status: domain.StepStatusSucceeded},
		{Name: domain.StepDeviceStatusUpdate, Status: domain.StepStatusPending},
	}}
	assert.Equal(t, "DeviceStatusUpdate", blockedStep(sess))

	sess.Steps[1].Status = domain.StepStatusSucceeded
	assert.Equal(t, "", blockedStep(sess))
}

func TestRunWithRecovery(t *testing.T) {
	jr := newRunner(&mockLedger{}, &mockHandoff{})
	assert.NotPanics(t, func() {
		jr.runWithRecovery("boom", func() { panic("unexpected") })
	})
}
