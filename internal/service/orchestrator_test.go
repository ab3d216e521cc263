package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/service"
)

func TestHandoff_CheckoutReturnAndReapplyCredit(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	x := f.device("LNR-X")
	y := f.device("LNR-Y")
	ctx := context.Background()

	out := f.checkout(t, signedCheckout("s1", x.ID, domain.InsurancePayNow, 4000))
	require.NotNil(t, out.InsuranceFeeID)
	require.NotNil(t, out.PaymentTransactionID)
	firstTxID := *out.PaymentTransactionID

	fee, err := f.ledger.GetFee(ctx, *out.InsuranceFeeID)
	require.NoError(t, err)
	assert.Equal(t, int32(4000), fee.AmountCents)
	assert.Equal(t, int32(0), fee.BalanceCents)
	require.Len(t, fee.Payments, 1)

	dx := f.getDevice(t, x.ID)
	assert.Equal(t, domain.DeviceStatusCheckedOut, dx.Status)
	assert.Equal(t, domain.InsuranceStatusInsured, dx.InsuranceStatus)
	assert.True(t, dx.HeldBy("s1"))

	in := f.checkin(t, domain.CheckinRequest{PersonID: "s1", DeviceID: x.ID, Condition: domain.ReturnConditionGood, ProcessedBy: 7})
	assert.Equal(t, 1, in.CreditsArchived)

	dx = f.getDevice(t, x.ID)
	assert.Equal(t, domain.DeviceStatusAvailable, dx.Status)
	assert.Equal(t, domain.InsuranceStatusUninsured, dx.InsuranceStatus)
	assert.Nil(t, dx.CurrentHolder)

	credits, err := f.ledger.ListAvailableCredits(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, firstTxID, credits[0].TransactionID)
	assert.Equal(t, int32(4000), credits[0].AmountCents)

	req := signedCheckout("s1", y.ID, domain.InsurancePayLater, 0)
	req.Credits = []string{firstTxID}
	again := f.checkout(t, req)

	fee, err = f.ledger.GetFee(ctx, *again.InsuranceFeeID)
	require.NoError(t, err)
	assert.Equal(t, int32(4000), fee.AmountCents)
	assert.Equal(t, int32(0), fee.BalanceCents)
	require.Len(t, fee.Payments, 1)
	assert.Equal(t, firstTxID, fee.Payments[0].TransactionID)
	assert.Equal(t, "LNR-X", fee.Payments[0].OriginalAssetTag)
	assert.Equal(t, domain.InsuranceStatusInsured, f.getDevice(t, y.ID).InsuranceStatus)

	credits, err = f.ledger.ListAvailableCredits(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, credits)
	assertBalancesConsistent(t, f.listFees(t, "s1"))
}

func TestHandoff_SecondInsuredDeviceCountsPaidInsurance(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	x := f.device("LNR-X")
	y := f.device("LNR-Y")
	ctx := context.Background()

	first := f.checkout(t, signedCheckout("s1", x.ID, domain.InsurancePayNow, 4000))
	require.NotNil(t, first.InsuranceFeeID)

	t.Run("Paying again is refused before the device moves", func(t *testing.T) {
		req := signedCheckout("s1", y.ID, domain.InsurancePayNow, 4000)
		report, err := f.validation.Preflight(ctx, req)
		require.NoError(t, err)
		assert.False(t, report.Overall)
		assert.False(t, report.BusinessRules.OK)

		sess, err := f.handoff.CreateCheckoutSession(ctx, req)
		require.NoError(t, err)
		sess, err = f.handoff.ProcessAll(ctx, sess.ID, 7)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusFailed, sess.OverallStatus)
		st := stepOf(t, sess, domain.StepCheckoutRecordCreation)
		assert.Equal(t, domain.StepStatusFailed, st.Status)
		assert.Equal(t, domain.KindValidation, st.ErrorKind)
		assert.Nil(t, sess.CheckoutRecordID)

		dy := f.getDevice(t, y.ID)
		assert.Equal(t, domain.DeviceStatusAvailable, dy.Status)
		assert.Nil(t, dy.CurrentHolder)
	})

	t.Run("Pay later carries the paid insurance over", func(t *testing.T) {
		req := signedCheckout("s1", y.ID, domain.InsurancePayLater, 0)
		report, err := f.validation.Preflight(ctx, req)
		require.NoError(t, err)
		assert.True(t, report.Overall, "problems: %v", report.Problems())

		second := f.checkout(t, req)
		require.NotNil(t, second.InsuranceFeeID)
		fee, err := f.ledger.GetFee(ctx, *second.InsuranceFeeID)
		require.NoError(t, err)
		assert.Equal(t, int32(0), fee.BalanceCents)
		require.Len(t, fee.Payments, 1)
		assert.Equal(t, domain.InsuranceStatusInsured, f.getDevice(t, y.ID).InsuranceStatus)

		old, err := f.ledger.GetFee(ctx, *first.InsuranceFeeID)
		require.NoError(t, err)
		require.NotNil(t, old.SupersededBy)
		assert.Equal(t, fee.ID, *old.SupersededBy)
	})

	assertBalancesConsistent(t, f.listFees(t, "s1"))
}

func TestHandoff_ConcurrentCheckoutOfOneDevice(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	f.student("s2")
	d := f.device("LNR-1")
	ctx := context.Background()

	var sessions [2]*domain.Session
	for i, person := range []string{"s1", "s2"} {
		sess, err := f.handoff.CreateCheckoutSession(ctx, signedCheckout(person, d.ID, domain.InsuranceDeclined, 0))
		require.NoError(t, err)
		sessions[i] = sess
	}

	var g errgroup.Group
	results := make([]*domain.Session, len(sessions))
	for i := range sessions {
		i := i
		g.Go(func() error {
			sess, err := f.handoff.ProcessAll(ctx, sessions[i].ID, 7)
			results[i] = sess
			return err
		})
	}
	require.NoError(t, g.Wait())

	completed := 0
	var winner string
	for _, sess := range results {
		if sess.OverallStatus == domain.SessionStatusCompleted {
			completed++
			winner = sess.PersonID
			continue
		}
		assert.Equal(t, domain.SessionStatusFailed, sess.OverallStatus)
		assert.False(t, sess.Succeeded(domain.StepCheckoutRecordCreation))
		var conflict bool
		for _, st := range sess.Steps {
			if st.Status == domain.StepStatusFailed {
				conflict = st.ErrorKind == domain.KindConflict
			}
		}
		assert.True(t, conflict, "loser should fail with a conflict: %+v", sess.Steps)
	}
	assert.Equal(t, 1, completed)
	assert.Len(t, f.checkouts(t), 1)
	assert.True(t, f.getDevice(t, d.ID).HeldBy(winner))
}

func TestHandoff_RetryInsurancePaymentAfterFailure(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	d := f.device("LNR-1")
	ctx := context.Background()

	sess, err := f.handoff.CreateCheckoutSession(ctx, signedCheckout("s1", d.ID, domain.InsurancePayNow, 4000))
	require.NoError(t, err)

	f.tx.failNextFeeCreate(1)
	sess, err = f.handoff.ProcessAll(ctx, sess.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, sess.OverallStatus)
	assert.True(t, sess.Succeeded(domain.StepCheckoutRecordCreation))
	failed := stepOf(t, sess, domain.StepInsurancePayment)
	assert.Equal(t, domain.StepStatusFailed, failed.Status)
	assert.Equal(t, domain.KindInternal, failed.ErrorKind)
	assert.Equal(t, domain.StepStatusPending, stepOf(t, sess, domain.StepAgreementFinalization).Status)
	assert.Empty(t, f.listFees(t, "s1"))

	sess, err = f.handoff.RetryStep(ctx, sess.ID, domain.StepInsurancePayment, 7)
	require.NoError(t, err)
	st := stepOf(t, sess, domain.StepInsurancePayment)
	assert.Equal(t, domain.StepStatusSucceeded, st.Status)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, domain.SessionStatusInProgress, sess.OverallStatus)

	sess, err = f.handoff.RetryAll(ctx, sess.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, sess.OverallStatus)

	assert.Len(t, f.checkouts(t), 1)
	fees := f.listFees(t, "s1")
	require.Len(t, fees, 1)
	assert.Equal(t, int32(0), fees[0].BalanceCents)
	assert.Len(t, fees[0].Payments, 1)

	_, events, err := f.handoff.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	var statuses []domain.StepStatus
	for _, ev := range events {
		if ev.Step == domain.StepInsurancePayment {
			statuses = append(statuses, ev.Status)
		}
	}
	assert.Equal(t, []domain.StepStatus{domain.StepStatusFailed, domain.StepStatusSucceeded}, statuses)
}

func TestHandoff_CheckinArchivesEveryInsurancePayment(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	d := f.device("LNR-1")
	ctx := context.Background()

	out := f.checkout(t, signedCheckout("s1", d.ID, domain.InsurancePayLater, 0))
	assert.Equal(t, domain.InsuranceStatusPending, f.getDevice(t, d.ID).InsuranceStatus)

	var txIDs []string
	for _, amount := range []int32{1500, 1500, 1000} {
		p, err := f.ledger.AddPayment(ctx, domain.PaymentInput{FeeID: *out.InsuranceFeeID, AmountCents: amount, Method: "cash"})
		require.NoError(t, err)
		txIDs = append(txIDs, p.TransactionID)
	}

	in := f.checkin(t, domain.CheckinRequest{PersonID: "s1", DeviceID: d.ID, ProcessedBy: 7})
	assert.Equal(t, 3, in.CreditsArchived)

	credits, err := f.ledger.ListAvailableCredits(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, credits, 3)
	for _, c := range credits {
		assert.Contains(t, txIDs, c.TransactionID)
		assert.Equal(t, "LNR-1", c.OriginalAssetTag)
	}
	fee, err := f.ledger.GetFee(ctx, *out.InsuranceFeeID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), fee.BalanceCents)
}

func TestHandoff_PendingParentSignature(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	d := f.device("LNR-1")
	ctx := context.Background()

	req := signedCheckout("s1", d.ID, domain.InsuranceDeclined, 0)
	req.ParentSignature = ""
	req.ParentPresent = false
	sess := f.checkout(t, req)
	assert.Equal(t, domain.DeviceStatusPendingSignature, f.getDevice(t, d.ID).Status)

	rec, err := f.handoff.RecordParentSignature(ctx, *sess.CheckoutRecordID, "parent")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusCompleted, rec.Status)
	require.NotNil(t, rec.ParentSignature)
	assert.Equal(t, domain.DeviceStatusCheckedOut, f.getDevice(t, d.ID).Status)

	t.Run("Signature is write-once", func(t *testing.T) {
		_, err := f.handoff.RecordParentSignature(ctx, *sess.CheckoutRecordID, "someone else")
		assert.ErrorIs(t, err, domain.ErrSignatureAlreadySet)
	})

	t.Run("Blank signature", func(t *testing.T) {
		_, err := f.handoff.RecordParentSignature(ctx, *sess.CheckoutRecordID, "  ")
		assert.ErrorIs(t, err, domain.ErrMissingSignature)
	})
}

func TestHandoff_CancelPendingCheckout(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	d := f.device("LNR-1")
	ctx := context.Background()

	req := signedCheckout("s1", d.ID, domain.InsurancePayNow, 4000)
	req.ParentSignature = ""
	req.ParentPresent = false
	sess := f.checkout(t, req)

	rec, err := f.handoff.CancelPendingCheckout(ctx, *sess.CheckoutRecordID, 7, "parent never signed")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusCancelled, rec.Status)

	dev := f.getDevice(t, d.ID)
	assert.Equal(t, domain.DeviceStatusAvailable, dev.Status)
	assert.Nil(t, dev.CurrentHolder)
	assert.Equal(t, domain.InsuranceStatusUninsured, dev.InsuranceStatus)

	credits, err := f.ledger.ListAvailableCredits(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, *sess.PaymentTransactionID, credits[0].TransactionID)

	_, err = f.handoff.CancelPendingCheckout(ctx, *sess.CheckoutRecordID, 7, "again")
	assert.ErrorIs(t, err, domain.ErrCheckoutNotPending)
	_, err = f.handoff.RecordParentSignature(ctx, *sess.CheckoutRecordID, "late")
	assert.ErrorIs(t, err, domain.ErrCheckoutNotPending)
}

func TestHandoff_DamagedReturn(t *testing.T) {
	media := new(MockMedia)
	f := newFixture(t, service.Collaborators{Media: media})
	f.student("s1")
	d := f.device("LNR-1")
	ctx := context.Background()
	f.checkout(t, signedCheckout("s1", d.ID, domain.InsuranceDeclined, 0))

	photos := []string{"aGVsbG8=", "bm90LWFuLWltYWdl"}
	media.On("SavePhotos", mock.Anything, "LNR-1", photos).Return([]string{"/media/LNR-1/a.jpg"})

	in := f.checkin(t, domain.CheckinRequest{
		PersonID:    "s1",
		DeviceID:    d.ID,
		Condition:   domain.ReturnConditionDamaged,
		Issue:       "cracked screen",
		Parts:       []string{"Screen", "keyboard"},
		Photos:      photos,
		ProcessedBy: 7,
	})
	media.AssertExpectations(t)
	require.NotNil(t, in.MaintenanceRecordID)
	require.NotNil(t, in.DamageFeeID)
	assert.Contains(t, stepOf(t, in, domain.StepDeviceStatusUpdate).Warning, "1 of 2 photos saved")

	dev := f.getDevice(t, d.ID)
	assert.Equal(t, domain.DeviceStatusMaintenance, dev.Status)
	assert.Nil(t, dev.CurrentHolder)

	fee, err := f.ledger.GetFee(ctx, *in.DamageFeeID)
	require.NoError(t, err)
	assert.Equal(t, int32(13000), fee.AmountCents)
	assert.Equal(t, domain.FeeDescriptionDamage, fee.Description)
	require.NotNil(t, fee.MaintenanceID)
	assert.Equal(t, *in.MaintenanceRecordID, *fee.MaintenanceID)

	m, err := f.handoff.CompleteMaintenance(ctx, *in.MaintenanceRecordID, 7, "screen replaced")
	require.NoError(t, err)
	assert.Equal(t, domain.MaintenanceStatusCompleted, m.Status)
	assert.Equal(t, []string{"/media/LNR-1/a.jpg"}, m.PhotoURLs)
	assert.Equal(t, domain.DeviceStatusAvailable, f.getDevice(t, d.ID).Status)

	_, err = f.handoff.CompleteMaintenance(ctx, *in.MaintenanceRecordID, 7, "again")
	assert.ErrorIs(t, err, domain.ErrMaintenanceClosed)
}

func TestHandoff_ServiceOnlyVisit(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	d := f.device("LNR-1")
	ctx := context.Background()
	f.checkout(t, signedCheckout("s1", d.ID, domain.InsurancePayNow, 4000))

	in := f.checkin(t, domain.CheckinRequest{PersonID: "s1", DeviceID: d.ID, ServiceOnly: true, Issue: "battery", ProcessedBy: 7})
	_, hasArchival := in.Step(domain.StepInsuranceArchival)
	assert.False(t, hasArchival)
	_, hasNotification := in.Step(domain.StepReturnNotification)
	assert.False(t, hasNotification)

	dev := f.getDevice(t, d.ID)
	assert.Equal(t, domain.DeviceStatusCheckedOut, dev.Status)
	assert.True(t, dev.HeldBy("s1"))
	assert.True(t, dev.InService)
	assert.Equal(t, domain.InsuranceStatusInsured, dev.InsuranceStatus)

	_, err := f.handoff.CompleteMaintenance(ctx, *in.MaintenanceRecordID, 7, "battery swapped")
	require.NoError(t, err)
	dev = f.getDevice(t, d.ID)
	assert.False(t, dev.InService)
	assert.True(t, dev.HeldBy("s1"))
}

func TestHandoff_StepFailureAndRetryRules(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	f.student("s2")
	d := f.device("LNR-1")
	ctx := context.Background()
	f.checkout(t, signedCheckout("s1", d.ID, domain.InsuranceDeclined, 0))

	sess, err := f.handoff.CreateCheckinSession(ctx, domain.CheckinRequest{PersonID: "s2", DeviceID: d.ID})
	require.NoError(t, err)
	assert.Equal(t, testConfig.SystemActorID, sess.CreatedBy)

	sess, err = f.handoff.ProcessAll(ctx, sess.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, sess.OverallStatus)
	st := stepOf(t, sess, domain.StepDeviceHeldValidation)
	assert.Equal(t, domain.StepStatusFailed, st.Status)
	assert.Equal(t, domain.KindConflict, st.ErrorKind)
	assert.True(t, f.getDevice(t, d.ID).HeldBy("s1"))

	t.Run("Later step waits for earlier ones", func(t *testing.T) {
		_, err := f.handoff.RetryStep(ctx, sess.ID, domain.StepDeviceStatusUpdate, 7)
		assert.ErrorIs(t, err, domain.ErrStepPrerequisite)
	})

	t.Run("Step outside the session", func(t *testing.T) {
		_, err := f.handoff.RetryStep(ctx, sess.ID, domain.StepInsurancePayment, 7)
		assert.ErrorIs(t, err, domain.ErrUnknownStep)
	})

	t.Run("Money steps cannot be forced", func(t *testing.T) {
		_, err := f.handoff.ForceCompleteStep(ctx, sess.ID, domain.StepDeviceHeldValidation, 7, "trust me")
		assert.ErrorIs(t, err, domain.ErrStepNotOverridable)
	})

	t.Run("Abandon stops the session", func(t *testing.T) {
		abandoned, err := f.handoff.AbandonSession(ctx, sess.ID, 7, "wrong student")
		require.NoError(t, err)
		assert.True(t, abandoned.Abandoned)

		_, err = f.handoff.ProcessAll(ctx, sess.ID, 7)
		assert.ErrorIs(t, err, domain.ErrSessionAbandoned)

		_, events, err := f.handoff.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		last := events[len(events)-1]
		assert.Equal(t, domain.StepStatusAbandoned, last.Status)
		assert.Equal(t, "wrong student", last.Override)
	})

	t.Run("Completed sessions cannot be abandoned", func(t *testing.T) {
		done := f.checkin(t, domain.CheckinRequest{PersonID: "s1", DeviceID: d.ID, ProcessedBy: 7})
		_, err := f.handoff.AbandonSession(ctx, done.ID, 7, "oops")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestHandoff_RequestValidation(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.CheckoutRequest
		want error
	}{
		{"missing person", domain.CheckoutRequest{DeviceID: 1}, domain.ErrInvalidInput},
		{"unknown insurance", domain.CheckoutRequest{PersonID: "s1", DeviceID: 1, Insurance: "maybe"}, domain.ErrInvalidInput},
		{"pay now without payment", domain.CheckoutRequest{PersonID: "s1", DeviceID: 1, Insurance: domain.InsurancePayNow}, domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handoff.CreateCheckoutSession(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.handoff.CreateCheckinSession(ctx, domain.CheckinRequest{PersonID: "s1", DeviceID: 1, Parts: []string{"screen"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHandoff_SoftStepFailures(t *testing.T) {
	directory := new(MockDirectory)
	documents := new(MockDocuments)
	email := new(MockEmail)
	f := newFixture(t, service.Collaborators{Directory: directory, Documents: documents, Email: email})
	d := f.device("LNR-1")
	ctx := context.Background()

	directory.On("LookupPerson", mock.Anything, "s9").
		Return(&domain.Person{ID: "s9", FirstName: "New", LastName: "Student", Email: "s9@students.example.org", Active: true}, nil).Once()
	directory.On("NotifyDeviceAnnotation", mock.Anything, "LNR-1", mock.Anything).
		Return(service.AnnotationResult{Success: false, Error: "device not found in directory"})
	documents.On("GenerateAgreement", mock.Anything, mock.Anything).Return("", errors.New("disk full")).Once()
	documents.On("GenerateAgreement", mock.Anything, mock.Anything).Return("/tmp/agreement.yaml", nil)
	documents.On("ArchiveAgreement", mock.Anything, "/tmp/agreement.yaml").Return("/archive/agreement.yaml", nil)
	email.On("SendAgreement", mock.Anything, mock.Anything, mock.Anything, "/archive/agreement.yaml").Return(errors.New("smtp down"))

	sess, err := f.handoff.CreateCheckoutSession(ctx, signedCheckout("s9", d.ID, domain.InsuranceDeclined, 0))
	require.NoError(t, err)
	sess, err = f.handoff.ProcessAll(ctx, sess.ID, 7)
	require.NoError(t, err)

	assert.Equal(t, domain.SessionStatusFailed, sess.OverallStatus)
	st := stepOf(t, sess, domain.StepAgreementFinalization)
	assert.Equal(t, domain.KindTransient, st.ErrorKind)
	assert.Equal(t, domain.DeviceStatusCheckedOut, f.getDevice(t, d.ID).Status)

	sess, err = f.handoff.RetryStep(ctx, sess.ID, domain.StepAgreementFinalization, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, sess.OverallStatus)
	st = stepOf(t, sess, domain.StepAgreementFinalization)
	assert.Contains(t, st.Warning, "directory annotation failed")
	assert.Contains(t, st.Warning, "agreement email failed")
	directory.AssertExpectations(t)
	documents.AssertExpectations(t)

	t.Run("Force completing a soft step", func(t *testing.T) {
		documents.ExpectedCalls = nil
		documents.On("GenerateAgreement", mock.Anything, mock.Anything).Return("", errors.New("printer offline"))
		other := f.device("LNR-2")
		f.student("s2")
		sess, err := f.handoff.CreateCheckoutSession(ctx, signedCheckout("s2", other.ID, domain.InsuranceDeclined, 0))
		require.NoError(t, err)
		sess, err = f.handoff.ProcessAll(ctx, sess.ID, 7)
		require.NoError(t, err)
		require.Equal(t, domain.SessionStatusFailed, sess.OverallStatus)

		_, err = f.handoff.ForceCompleteStep(ctx, sess.ID, domain.StepAgreementFinalization, 7, "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		sess, err = f.handoff.ForceCompleteStep(ctx, sess.ID, domain.StepAgreementFinalization, 7, "paper copy signed")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusCompleted, sess.OverallStatus)
		assert.Equal(t, "paper copy signed", stepOf(t, sess, domain.StepAgreementFinalization).Override)
	})
}

func TestHandoff_ListStaleSessions(t *testing.T) {
	f := newFixture(t, service.Collaborators{})
	f.student("s1")
	d := f.device("LNR-1")
	ctx := context.Background()

	open, err := f.handoff.CreateCheckoutSession(ctx, signedCheckout("s1", d.ID, domain.InsuranceDeclined, 0))
	require.NoError(t, err)

	stale, err := f.handoff.ListStaleSessions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, open.ID, stale[0].ID)

	stale, err = f.handoff.ListStaleSessions(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
