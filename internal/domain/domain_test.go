package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKey(t *testing.T) {
	k := NewIdempotencyKey(IntentInsuranceFee, "sess-1")
	assert.Equal(t, "insurance-fee:sess-1", k.String())
	assert.True(t, k.Equal(IdempotencyKey{Intent: IntentInsuranceFee, Scope: "sess-1"}))
	assert.False(t, k.Equal(NewIdempotencyKey(IntentInsurancePayment, "sess-1")))
	assert.NoError(t, k.Validate())

	parsed, err := ParseIdempotencyKey(k.String())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(k))

	// Scopes may themselves contain the separator.
	parsed, err = ParseIdempotencyKey("damage-fee:a:b")
	require.NoError(t, err)
	assert.Equal(t, "a:b", parsed.Scope)

	for _, bad := range []string{"", "insurance-fee", ":scope", "intent:"} {
		_, err := ParseIdempotencyKey(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}

	assert.True(t, IdempotencyKey{}.IsZero())
	assert.ErrorIs(t, IdempotencyKey{Intent: "a:b", Scope: "x"}.Validate(), ErrInvalidInput)
}

func TestPaymentState(t *testing.T) {
	now := time.Now()
	assert.Equal(t, PaymentStateActive, (&Payment{}).State())
	assert.Equal(t, PaymentStateCredit, (&Payment{Archived: true, ArchivedOn: &now}).State())
	assert.Equal(t, PaymentStateConsumed, (&Payment{Archived: true, AppliedOn: &now}).State())
}

func TestSessionEvaluate(t *testing.T) {
	s := &Session{Steps: []Step{
		{Name: StepStudentValidation, Status: StepStatusSucceeded},
		{Name: StepDeviceAvailability, Status: StepStatusPending},
	}}
	assert.Equal(t, SessionStatusInProgress, s.Evaluate())

	s.Steps[1].Status = StepStatusFailed
	assert.Equal(t, SessionStatusFailed, s.Evaluate())

	s.Steps[1].Status = StepStatusSucceeded
	assert.Equal(t, SessionStatusCompleted, s.Evaluate())
	assert.Equal(t, SessionStatusCompleted, s.OverallStatus)
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("%w: fee 12", ErrFeeNotFound)
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, "fee_not_found", CodeOf(wrapped))

	assert.True(t, IsConflict(ErrCreditAlreadyApplied))
	assert.True(t, IsIntegrity(ErrOverpaymentRejected))
	assert.True(t, IsValidation(ErrPreflightFailed))

	ext := External("directory", errors.New("503"))
	assert.Equal(t, KindTransient, KindOf(ext))
	assert.Contains(t, ext.Error(), "directory")

	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "", CodeOf(errors.New("boom")))
}

func TestCheckoutStatusOpen(t *testing.T) {
	assert.True(t, CheckoutStatusPending.Open())
	assert.True(t, CheckoutStatusCompleted.Open())
	assert.False(t, CheckoutStatusCancelled.Open())
	assert.False(t, CheckoutStatusReturned.Open())
}
