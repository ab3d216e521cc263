package service

import (
	"context"
	"fmt"
	"strings"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/logger"
	"loaner-backend/internal/repository"
)

func (o *orchestrator) checkoutStepTable() []stepDef {
	return []stepDef{
		{name: domain.StepStudentValidation, external: o.lookupStudent, run: o.validateStudent},
		{name: domain.StepDeviceAvailability, run: o.confirmDeviceAvailable},
		{name: domain.StepCheckoutRecordCreation, run: o.createCheckoutRecord},
		{
			name:    domain.StepInsurancePayment,
			applies: func(sc *stepContext) bool { return sc.checkout.InsuranceElected() },
			run:     o.collectInsurance,
		},
		{name: domain.StepAgreementFinalization, external: o.finalizeAgreement, soft: true},
	}
}

// lookupStudent fetches a person the loaner database has never seen from the
// directory, for validateStudent to store.
func (o *orchestrator) lookupStudent(ctx context.Context, sc *stepContext) error {
	if o.collab.Directory == nil {
		return nil
	}
	personID := sc.checkout.PersonID
	known := true
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		_, err := r.People.GetByID(ctx, personID)
		if domain.IsNotFound(err) {
			known = false
			return nil
		}
		return err
	})
	if err != nil || known {
		return err
	}

	logger.ExternalServiceCall("directory", "LookupPerson", "person_id", personID)
	p, err := o.collab.Directory.LookupPerson(ctx, personID)
	logger.ExternalServiceResult("directory", "LookupPerson", err, "person_id", personID)
	if err != nil {
		if domain.IsNotFound(err) {
			return fmt.Errorf("%w: %s", domain.ErrPersonNotFound, personID)
		}
		return domain.External("directory", err)
	}
	sc.fetched = p
	return nil
}

func (o *orchestrator) validateStudent(ctx context.Context, r repository.Repositories, sc *stepContext) error {
	if sc.fetched != nil {
		if err := r.People.Upsert(ctx, sc.fetched); err != nil {
			return err
		}
	}
	person, err := r.People.GetByID(ctx, sc.checkout.PersonID)
	if err != nil {
		return err
	}
	if check := studentCheck(person); !check.OK {
		return fmt.Errorf("%w: %s", domain.ErrStudentDataMissing, strings.Join(check.Problems, "; "))
	}
	return nil
}

func (o *orchestrator) confirmDeviceAvailable(ctx context.Context, r repository.Repositories, sc *stepContext) error {
	d, err := r.Devices.GetByID(ctx, sc.checkout.DeviceID)
	if err != nil {
		return err
	}
	if d.Status == domain.DeviceStatusAvailable && !d.InService {
		return nil
	}
	if sc.sess.CheckoutRecordID != nil && d.HeldBy(sc.checkout.PersonID) {
		return nil
	}
	return fmt.Errorf("%w: device %s is %s", domain.ErrDeviceUnavailable, d.AssetTag, d.Status)
}

// createCheckoutRecord writes the checkout record and hands the device over
// in one transaction. The device row is locked first so two sessions racing
// for one device serialize here and the loser sees it unavailable.
func (o *orchestrator) createCheckoutRecord(ctx context.Context, r repository.Repositories, sc *stepContext) error {
	req := sc.checkout
	rec, err := r.Checkouts.GetBySession(ctx, sc.sess.ID)
	if err == nil {
		sc.sess.CheckoutRecordID = &rec.ID
		return nil
	}
	if !domain.IsNotFound(err) {
		return err
	}

	d, err := r.Devices.GetForUpdate(ctx, req.DeviceID)
	if err != nil {
		return err
	}
	if d.Status != domain.DeviceStatusAvailable || d.InService {
		return fmt.Errorf("%w: device %s is %s", domain.ErrDeviceUnavailable, d.AssetTag, d.Status)
	}
	report, err := preflight(ctx, r, req, o.cfg.InsuranceFeeCents, nil)
	if err != nil {
		return err
	}
	if !report.Overall {
		return fmt.Errorf("%w: %s", domain.ErrPreflightFailed, strings.Join(report.Problems(), "; "))
	}

	insurance := domain.InsuranceStatusUninsured
	if req.InsuranceElected() {
		insurance = domain.InsuranceStatusPending
	}
	rec = &domain.CheckoutRecord{
		DeviceID:         d.ID,
		PersonID:         req.PersonID,
		SessionID:        sc.sess.ID,
		StudentSignature: req.StudentSignature,
		ParentPresent:    req.ParentPresent,
		InsuranceElected: req.InsuranceElected(),
		InsuranceStatus:  insurance,
		Status:           domain.CheckoutStatusPending,
		Notes:            req.Notes,
		CreatedBy:        req.ProcessedBy,
	}
	if req.ParentSignature != "" {
		sig := req.ParentSignature
		rec.ParentSignature = &sig
		rec.Status = domain.CheckoutStatusCompleted
	}
	if err := r.Checkouts.Create(ctx, rec); err != nil {
		return err
	}

	holder := req.PersonID
	ok, err := r.Devices.Transition(ctx, domain.DeviceTransition{
		DeviceID:        d.ID,
		FromStatus:      domain.DeviceStatusAvailable,
		ToStatus:        req.TargetStatus(),
		Holder:          &holder,
		InsuranceStatus: insurance,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: device %s", domain.ErrDeviceUnavailable, d.AssetTag)
	}
	sc.sess.CheckoutRecordID = &rec.ID
	logger.WithSession(sc.sess.ID).Info("Device checked out",
		"device_id", d.ID, "asset_tag", d.AssetTag, "person_id", req.PersonID, "status", req.TargetStatus())
	return nil
}

// collectInsurance puts the insurance fee in place, applies requested
// credits and takes any payment made at the desk.
func (o *orchestrator) collectInsurance(ctx context.Context, r repository.Repositories, sc *stepContext) error {
	req := sc.checkout
	if sc.sess.CheckoutRecordID == nil {
		return fmt.Errorf("%w: no checkout record", domain.ErrStepPrerequisite)
	}
	rec, err := r.Checkouts.GetByID(ctx, *sc.sess.CheckoutRecordID)
	if err != nil {
		return err
	}

	fee, err := replaceInsuranceFee(ctx, r, domain.ReplaceInsuranceFeeInput{
		PersonID:         req.PersonID,
		AmountCents:      o.cfg.InsuranceFeeCents,
		Description:      domain.FeeDescriptionInsurance,
		ProcessedBy:      req.ProcessedBy,
		IdempotencyKey:   domain.NewIdempotencyKey(domain.IntentInsuranceFee, sc.sess.ID),
		LinkedCheckoutID: &rec.ID,
	})
	if err != nil {
		return err
	}
	sc.sess.InsuranceFeeID = &fee.ID

	onFee := make(map[string]bool, len(fee.Payments))
	for _, p := range fee.Payments {
		if !p.Archived {
			onFee[p.TransactionID] = true
		}
	}
	for _, txID := range req.Credits {
		if onFee[txID] {
			continue
		}
		if _, err := applyCredit(ctx, r, fee.ID, txID, req.ProcessedBy, o.now()); err != nil {
			return err
		}
		onFee[txID] = true
	}

	if req.Insurance == domain.InsurancePayNow {
		key := domain.NewIdempotencyKey(domain.IntentInsurancePayment, sc.sess.ID)
		p, err := addPayment(ctx, r, domain.PaymentInput{
			FeeID:          fee.ID,
			AmountCents:    req.PaymentCents,
			Method:         req.PaymentMethod,
			Notes:          req.PaymentNotes,
			ProcessedBy:    req.ProcessedBy,
			IdempotencyKey: &key,
		})
		if err != nil {
			return err
		}
		sc.sess.PaymentTransactionID = &p.TransactionID
	}

	fee, err = r.Fees.GetByID(ctx, fee.ID)
	if err != nil {
		return err
	}
	status := domain.InsuranceStatusPending
	if fee.BalanceCents == 0 {
		status = domain.InsuranceStatusInsured
	}
	if err := r.Devices.SetInsuranceStatus(ctx, rec.DeviceID, status); err != nil {
		return err
	}
	return r.Checkouts.SetInsuranceStatus(ctx, rec.ID, status)
}

// finalizeAgreement produces and archives the signed agreement. Directory and
// email failures only leave warnings on the step.
func (o *orchestrator) finalizeAgreement(ctx context.Context, sc *stepContext) error {
	if sc.sess.CheckoutRecordID == nil {
		return fmt.Errorf("%w: no checkout record", domain.ErrStepPrerequisite)
	}
	var (
		rec    *domain.CheckoutRecord
		person *domain.Person
		device *domain.Device
		fee    *domain.Fee
	)
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		if rec, err = r.Checkouts.GetByID(ctx, *sc.sess.CheckoutRecordID); err != nil {
			return err
		}
		if person, err = r.People.GetByID(ctx, rec.PersonID); err != nil {
			return err
		}
		if device, err = r.Devices.GetByID(ctx, rec.DeviceID); err != nil {
			return err
		}
		if sc.sess.InsuranceFeeID != nil {
			fee, err = r.Fees.GetByID(ctx, *sc.sess.InsuranceFeeID)
		}
		return err
	})
	if err != nil {
		return err
	}

	var agreementPath string
	if o.collab.Documents != nil {
		fields := AgreementFields{
			SessionID:        sc.sess.ID,
			CheckoutID:       rec.ID,
			PersonID:         person.ID,
			PersonName:       person.FullName(),
			Grade:            person.Grade,
			AssetTag:         device.AssetTag,
			SerialNumber:     device.SerialNumber,
			Model:            device.Model,
			StudentSignature: rec.StudentSignature,
			ParentPresent:    rec.ParentPresent,
			InsuranceElected: rec.InsuranceElected,
			InsuranceStatus:  rec.InsuranceStatus,
			ProcessedBy:      rec.CreatedBy,
			SignedOn:         rec.CreatedOn,
		}
		if rec.ParentSignature != nil {
			fields.ParentSignature = *rec.ParentSignature
		}
		if fee != nil {
			fields.InsuranceFeeCents = fee.AmountCents
			fields.BalanceCents = fee.BalanceCents
		}
		path, err := o.collab.Documents.GenerateAgreement(ctx, fields)
		if err != nil {
			return domain.External("documents", err)
		}
		if agreementPath, err = o.collab.Documents.ArchiveAgreement(ctx, path); err != nil {
			return domain.External("documents", err)
		}
	}

	o.annotate(ctx, sc, device.AssetTag, fmt.Sprintf("Checked out to %s (%s) on %s",
		person.FullName(), person.ID, o.now().Format("2006-01-02")))

	if o.collab.Email != nil {
		logger.ExternalServiceCall("email", "SendAgreement", "person_id", person.ID)
		err := o.collab.Email.SendAgreement(ctx, person, device, agreementPath)
		logger.ExternalServiceResult("email", "SendAgreement", err, "person_id", person.ID)
		if err != nil {
			sc.warn("agreement email failed: %v", err)
		}
	}
	return nil
}
