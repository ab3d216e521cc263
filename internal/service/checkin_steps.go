package service

import (
	"context"
	"fmt"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/logger"
	"loaner-backend/internal/repository"
	"loaner-backend/internal/utils"
)

func (o *orchestrator) checkinStepTable() []stepDef {
	trueReturn := func(sc *stepContext) bool { return sc.checkin.TrueReturn() }
	return []stepDef{
		{name: domain.StepDeviceHeldValidation, run: o.confirmDeviceHeld},
		{name: domain.StepInsuranceArchival, applies: trueReturn, run: o.archiveReturnedInsurance},
		{name: domain.StepDeviceStatusUpdate, external: o.savePhotos, run: o.updateReturnedDevice},
		{
			name:    domain.StepDamageFee,
			applies: func(sc *stepContext) bool { return len(sc.checkin.Parts) > 0 },
			run:     o.chargeDamage,
		},
		{name: domain.StepReturnNotification, applies: trueReturn, external: o.notifyReturn, soft: true},
	}
}

func (o *orchestrator) confirmDeviceHeld(ctx context.Context, r repository.Repositories, sc *stepContext) error {
	d, err := r.Devices.GetByID(ctx, sc.checkin.DeviceID)
	if err != nil {
		return err
	}
	if d.Status.Held() && d.HeldBy(sc.checkin.PersonID) {
		return nil
	}
	if sc.sess.Succeeded(domain.StepDeviceStatusUpdate) {
		return nil
	}
	holder := "nobody"
	if d.CurrentHolder != nil {
		holder = *d.CurrentHolder
	}
	return fmt.Errorf("%w: device %s is %s and held by %s", domain.ErrDeviceNotHeld, d.AssetTag, d.Status, holder)
}

// archiveReturnedInsurance turns the person's insurance payments into credits
// tagged with the returned device.
func (o *orchestrator) archiveReturnedInsurance(ctx context.Context, r repository.Repositories, sc *stepContext) error {
	d, err := r.Devices.GetByID(ctx, sc.checkin.DeviceID)
	if err != nil {
		return err
	}
	n, err := archiveInsurancePayments(ctx, r, sc.checkin.PersonID, d.AssetTag, "device returned", o.now())
	if err != nil {
		return err
	}
	sc.sess.CreditsArchived = n
	if n > 0 {
		logger.WithSession(sc.sess.ID).Info("Insurance payments archived as credits", "person_id", sc.checkin.PersonID, "count", n)
	}
	return nil
}

// savePhotos stores damage photos before the maintenance record that will
// reference them is written. Photos that fail to save are skipped.
func (o *orchestrator) savePhotos(ctx context.Context, sc *stepContext) error {
	req := sc.checkin
	if o.collab.Media == nil || len(req.Photos) == 0 || !req.NeedsMaintenance() || sc.sess.MaintenanceRecordID != nil {
		return nil
	}
	var assetTag string
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		d, err := r.Devices.GetByID(ctx, req.DeviceID)
		if err != nil {
			return err
		}
		assetTag = d.AssetTag
		return nil
	})
	if err != nil {
		return err
	}
	sc.photoURLs = o.collab.Media.SavePhotos(ctx, assetTag, req.Photos)
	if len(sc.photoURLs) < len(req.Photos) {
		sc.warn("%d of %d photos saved", len(sc.photoURLs), len(req.Photos))
	}
	return nil
}

func (o *orchestrator) updateReturnedDevice(ctx context.Context, r repository.Repositories, sc *stepContext) error {
	req := sc.checkin
	d, err := r.Devices.GetForUpdate(ctx, req.DeviceID)
	if err != nil {
		return err
	}
	if !d.Status.Held() || !d.HeldBy(req.PersonID) {
		return fmt.Errorf("%w: device %s is %s", domain.ErrDeviceNotHeld, d.AssetTag, d.Status)
	}

	t := domain.DeviceTransition{
		DeviceID:        d.ID,
		FromStatus:      d.Status,
		ToStatus:        domain.DeviceStatusAvailable,
		InsuranceStatus: domain.InsuranceStatusUninsured,
	}
	switch {
	case req.ServiceOnly:
		t.ToStatus = d.Status
		t.Holder = d.CurrentHolder
		t.InsuranceStatus = d.InsuranceStatus
		t.InService = true
	case req.Condition == domain.ReturnConditionDamaged:
		t.ToStatus = domain.DeviceStatusMaintenance
	}
	ok, err := r.Devices.Transition(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: device %s", domain.ErrConcurrentModification, d.AssetTag)
	}

	if req.TrueReturn() {
		rec, err := r.Checkouts.GetActiveForDevice(ctx, d.ID)
		switch {
		case err == nil && rec.PersonID == req.PersonID:
			closed := domain.CheckoutStatusReturned
			if rec.Status == domain.CheckoutStatusPending {
				closed = domain.CheckoutStatusCancelled
			}
			if _, err := r.Checkouts.SetStatus(ctx, rec.ID, rec.Status, closed); err != nil {
				return err
			}
		case err != nil && !domain.IsNotFound(err):
			return err
		}
	}

	if req.NeedsMaintenance() {
		m := &domain.MaintenanceRecord{
			DeviceID:    d.ID,
			PersonID:    req.PersonID,
			SessionID:   sc.sess.ID,
			Condition:   req.Condition,
			ServiceOnly: req.ServiceOnly,
			Issue:       req.Issue,
			Parts:       req.Parts,
			PhotoURLs:   sc.photoURLs,
			Status:      domain.MaintenanceStatusOpen,
			Notes:       req.Notes,
			CreatedBy:   req.ProcessedBy,
		}
		if err := r.Maintenance.Create(ctx, m); err != nil {
			return err
		}
		sc.sess.MaintenanceRecordID = &m.ID
	}
	logger.WithSession(sc.sess.ID).Info("Device returned",
		"device_id", d.ID, "asset_tag", d.AssetTag, "from", t.FromStatus, "to", t.ToStatus, "service_only", req.ServiceOnly)
	return nil
}

func (o *orchestrator) chargeDamage(ctx context.Context, r repository.Repositories, sc *stepContext) error {
	req := sc.checkin
	breakdown, err := utils.CalculateDamageFee(req.Parts, o.cfg.PartCosts)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if breakdown.TotalCents == 0 {
		return nil
	}
	key := domain.NewIdempotencyKey(domain.IntentDamageFee, sc.sess.ID)
	fee, err := createFee(ctx, r, domain.CreateFeeInput{
		PersonID:      req.PersonID,
		AmountCents:   breakdown.TotalCents,
		Description:   domain.FeeDescriptionDamage,
		MaintenanceID: sc.sess.MaintenanceRecordID,
		CreatedBy:     req.ProcessedBy,
	}, &key)
	if err != nil {
		return err
	}
	sc.sess.DamageFeeID = &fee.ID
	logger.WithSession(sc.sess.ID).Info("Damage fee charged", "fee_id", fee.ID, "amount", utils.FormatCents(fee.AmountCents), "parts", breakdown.Description())
	return nil
}

func (o *orchestrator) notifyReturn(ctx context.Context, sc *stepContext) error {
	req := sc.checkin
	var (
		person    *domain.Person
		device    *domain.Device
		feeAmount int32
	)
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		if person, err = r.People.GetByID(ctx, req.PersonID); err != nil {
			return err
		}
		if device, err = r.Devices.GetByID(ctx, req.DeviceID); err != nil {
			return err
		}
		if sc.sess.DamageFeeID != nil {
			fee, err := r.Fees.GetByID(ctx, *sc.sess.DamageFeeID)
			if err != nil {
				return err
			}
			feeAmount = fee.AmountCents
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.annotate(ctx, sc, device.AssetTag, fmt.Sprintf("Returned by %s (%s) on %s, condition %s",
		person.FullName(), person.ID, o.now().Format("2006-01-02"), req.Condition))

	if o.collab.Email != nil {
		logger.ExternalServiceCall("email", "SendReturnReceipt", "person_id", person.ID)
		err := o.collab.Email.SendReturnReceipt(ctx, person, device, req.Condition, feeAmount)
		logger.ExternalServiceResult("email", "SendReturnReceipt", err, "person_id", person.ID)
		if err != nil {
			sc.warn("return receipt email failed: %v", err)
		}
	}
	return nil
}
