package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
	"loaner-backend/internal/service"
)

func TestValidationService_Preflight(t *testing.T) {
	ctx := context.Background()

	t.Run("Clean request passes", func(t *testing.T) {
		f := newFixture(t, service.Collaborators{})
		f.student("s1")
		d := f.device("LNR-1")

		report, err := f.validation.Preflight(ctx, signedCheckout("s1", d.ID, domain.InsurancePayNow, 4000))
		require.NoError(t, err)
		assert.True(t, report.Overall, "problems: %v", report.Problems())
		assert.Empty(t, report.Problems())
	})

	t.Run("Every category reports its problems", func(t *testing.T) {
		f := newFixture(t, service.Collaborators{})
		f.student("s1")
		d := f.device("LNR-1")
		f.checkout(t, signedCheckout("s1", d.ID, domain.InsuranceDeclined, 0))

		req := domain.CheckoutRequest{
			PersonID:      "ghost",
			DeviceID:      d.ID,
			ParentPresent: true,
			Insurance:     domain.InsurancePayNow,
			PaymentCents:  5000,
			Credits:       []string{"TXN-nope"},
		}
		report, err := f.validation.Preflight(ctx, req)
		require.NoError(t, err)
		assert.False(t, report.Overall)
		assert.False(t, report.StudentData.OK)
		assert.False(t, report.DeviceAvailable.OK)
		assert.False(t, report.Signatures.OK)
		assert.Len(t, report.Signatures.Problems, 2)
		assert.False(t, report.BusinessRules.OK)
		assert.Len(t, report.BusinessRules.Problems, 2)
	})

	t.Run("Inactive or incomplete person", func(t *testing.T) {
		f := newFixture(t, service.Collaborators{})
		f.store.SeedPerson(domain.Person{ID: "s3", FirstName: "Only", Active: false})
		d := f.device("LNR-1")

		report, err := f.validation.Preflight(ctx, signedCheckout("s3", d.ID, domain.InsuranceDeclined, 0))
		require.NoError(t, err)
		assert.False(t, report.StudentData.OK)
		assert.Len(t, report.StudentData.Problems, 3)
		assert.True(t, report.DeviceAvailable.OK)
	})

	t.Run("Payment without pay-now", func(t *testing.T) {
		f := newFixture(t, service.Collaborators{})
		f.student("s1")
		d := f.device("LNR-1")

		report, err := f.validation.Preflight(ctx, signedCheckout("s1", d.ID, domain.InsurancePayLater, 1000))
		require.NoError(t, err)
		assert.False(t, report.BusinessRules.OK)
	})

	t.Run("Unknown person found in the directory", func(t *testing.T) {
		directory := new(MockDirectory)
		f := newFixture(t, service.Collaborators{Directory: directory})
		d := f.device("LNR-1")
		directory.On("LookupPerson", mock.Anything, "s7").
			Return(&domain.Person{ID: "s7", FirstName: "Dir", LastName: "Student", Email: "s7@students.example.org", Active: true}, nil)

		report, err := f.validation.Preflight(ctx, signedCheckout("s7", d.ID, domain.InsuranceDeclined, 0))
		require.NoError(t, err)
		assert.True(t, report.Overall, "problems: %v", report.Problems())
		directory.AssertExpectations(t)
	})
}

func TestValidationService_Postflight(t *testing.T) {
	ctx := context.Background()

	t.Run("Session must be completed", func(t *testing.T) {
		f := newFixture(t, service.Collaborators{})
		f.student("s1")
		d := f.device("LNR-1")
		sess, err := f.handoff.CreateCheckoutSession(ctx, signedCheckout("s1", d.ID, domain.InsuranceDeclined, 0))
		require.NoError(t, err)

		_, err = f.validation.Postflight(ctx, sess.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotCompleted)
	})

	t.Run("Consistent checkout", func(t *testing.T) {
		f := newFixture(t, service.Collaborators{})
		f.student("s1")
		d := f.device("LNR-1")
		sess := f.checkout(t, signedCheckout("s1", d.ID, domain.InsurancePayNow, 4000))

		report, err := f.validation.Postflight(ctx, sess.ID)
		require.NoError(t, err)
		assert.True(t, report.Overall)
		assert.False(t, report.StatusCorrection)
		assert.True(t, report.ExternalNotificationOK)
		assert.Equal(t, domain.DeviceStatusCheckedOut, report.ExpectedDeviceStatus)
		assert.Equal(t, domain.InsuranceStatusInsured, report.ExpectedInsurance)
	})

	t.Run("Drift is corrected", func(t *testing.T) {
		f := newFixture(t, service.Collaborators{})
		f.student("s1")
		d := f.device("LNR-1")
		sess := f.checkout(t, signedCheckout("s1", d.ID, domain.InsurancePayNow, 4000))

		require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
			dev, err := r.Devices.GetByID(ctx, d.ID)
			if err != nil {
				return err
			}
			dev.Status = domain.DeviceStatusAvailable
			dev.CurrentHolder = nil
			dev.InsuranceStatus = domain.InsuranceStatusUninsured
			return r.Devices.Update(ctx, dev)
		}))

		report, err := f.validation.Postflight(ctx, sess.ID)
		require.NoError(t, err)
		assert.True(t, report.StatusCorrection)
		assert.Len(t, report.Corrections, 2)
		assert.Equal(t, domain.DeviceStatusAvailable, report.ActualDeviceStatus)
		assert.True(t, report.Overall)

		dev := f.getDevice(t, d.ID)
		assert.Equal(t, domain.DeviceStatusCheckedOut, dev.Status)
		assert.True(t, dev.HeldBy("s1"))
		assert.Equal(t, domain.InsuranceStatusInsured, dev.InsuranceStatus)

		again, err := f.validation.Postflight(ctx, sess.ID)
		require.NoError(t, err)
		assert.False(t, again.StatusCorrection)
	})

	t.Run("Returned device is left alone", func(t *testing.T) {
		f := newFixture(t, service.Collaborators{})
		f.student("s1")
		d := f.device("LNR-1")
		out := f.checkout(t, signedCheckout("s1", d.ID, domain.InsuranceDeclined, 0))
		in := f.checkin(t, domain.CheckinRequest{PersonID: "s1", DeviceID: d.ID, ProcessedBy: 7})

		report, err := f.validation.Postflight(ctx, out.ID)
		require.NoError(t, err)
		assert.False(t, report.StatusCorrection)
		assert.Equal(t, domain.DeviceStatusAvailable, f.getDevice(t, d.ID).Status)

		report, err = f.validation.Postflight(ctx, in.ID)
		require.NoError(t, err)
		assert.True(t, report.Overall)
		assert.Equal(t, domain.DeviceStatusAvailable, report.ExpectedDeviceStatus)
	})

	t.Run("Damaged return is matched to its maintenance record", func(t *testing.T) {
		f := newFixture(t, service.Collaborators{})
		f.student("s1")
		d := f.device("LNR-1")
		f.checkout(t, signedCheckout("s1", d.ID, domain.InsuranceDeclined, 0))
		in := f.checkin(t, domain.CheckinRequest{PersonID: "s1", DeviceID: d.ID, Condition: domain.ReturnConditionDamaged, Issue: "hinge", ProcessedBy: 7})
		require.NotNil(t, in.MaintenanceRecordID)

		report, err := f.validation.Postflight(ctx, in.ID)
		require.NoError(t, err)
		assert.True(t, report.RecordOK)
		assert.True(t, report.Overall)
		assert.Equal(t, domain.DeviceStatusMaintenance, report.ExpectedDeviceStatus)

		require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
			sess, err := r.Sessions.GetForUpdate(ctx, in.ID)
			if err != nil {
				return err
			}
			other := *sess.MaintenanceRecordID + 100
			sess.MaintenanceRecordID = &other
			return r.Sessions.Update(ctx, sess)
		}))
		report, err = f.validation.Postflight(ctx, in.ID)
		require.NoError(t, err)
		assert.False(t, report.RecordOK)
		assert.False(t, report.Overall)
	})

	t.Run("Warnings clear the notification flag", func(t *testing.T) {
		directory := new(MockDirectory)
		f := newFixture(t, service.Collaborators{Directory: directory})
		f.student("s1")
		d := f.device("LNR-1")
		directory.On("NotifyDeviceAnnotation", mock.Anything, "LNR-1", mock.Anything).
			Return(service.AnnotationResult{Error: "quota exceeded"})
		sess := f.checkout(t, signedCheckout("s1", d.ID, domain.InsuranceDeclined, 0))

		report, err := f.validation.Postflight(ctx, sess.ID)
		require.NoError(t, err)
		assert.False(t, report.ExternalNotificationOK)
		assert.True(t, report.Overall)
	})
}
