package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/logger"
	"loaner-backend/internal/repository"
	"loaner-backend/internal/utils"
)

type validationService struct {
	tx        repository.TxManager
	directory DirectoryService
	cfg       HandoffConfig
	now       func() time.Time
}

func NewValidationService(tx repository.TxManager, directory DirectoryService, cfg HandoffConfig) ValidationService {
	return &validationService{tx: tx, directory: directory, cfg: cfg, now: time.Now}
}

// Preflight checks a checkout request without changing anything. A person the
// loaner database has not seen yet is looked up in the directory.
func (s *validationService) Preflight(ctx context.Context, req domain.CheckoutRequest) (*domain.PreflightReport, error) {
	if req.Insurance == "" {
		req.Insurance = domain.InsuranceDeclined
	}
	var fallback *domain.Person
	if s.directory != nil {
		known := true
		err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
			_, err := r.People.GetByID(ctx, req.PersonID)
			if domain.IsNotFound(err) {
				known = false
				return nil
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		if !known {
			p, err := s.directory.LookupPerson(ctx, req.PersonID)
			if err != nil {
				logger.Warn("Directory lookup failed during preflight", "person_id", req.PersonID, "error", err)
			} else {
				fallback = p
			}
		}
	}

	var report *domain.PreflightReport
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		report, err = preflight(ctx, r, &req, s.cfg.InsuranceFeeCents, fallback)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func studentCheck(p *domain.Person) domain.CheckResult {
	check := domain.CheckResult{OK: true}
	if !p.Active {
		check.Fail(fmt.Sprintf("person %s is not active", p.ID))
	}
	for _, f := range p.MissingFields() {
		check.Fail(fmt.Sprintf("person %s is missing %s", p.ID, f))
	}
	return check
}

// preflight evaluates every check category and never stops at the first
// problem, so staff see everything to fix at once.
func preflight(ctx context.Context, r repository.Repositories, req *domain.CheckoutRequest, insuranceFeeCents int32, fallback *domain.Person) (*domain.PreflightReport, error) {
	report := &domain.PreflightReport{
		StudentData:     domain.CheckResult{OK: true},
		DeviceAvailable: domain.CheckResult{OK: true},
		Signatures:      domain.CheckResult{OK: true},
		BusinessRules:   domain.CheckResult{OK: true},
	}

	person, err := r.People.GetByID(ctx, req.PersonID)
	switch {
	case domain.IsNotFound(err) && fallback != nil:
		person = fallback
	case domain.IsNotFound(err):
		report.StudentData.Fail(fmt.Sprintf("person %s not found", req.PersonID))
	case err != nil:
		return nil, err
	}
	if person != nil {
		report.StudentData = studentCheck(person)
	}

	d, err := r.Devices.GetByID(ctx, req.DeviceID)
	switch {
	case domain.IsNotFound(err):
		report.DeviceAvailable.Fail(fmt.Sprintf("device %d not found", req.DeviceID))
	case err != nil:
		return nil, err
	default:
		if d.Status != domain.DeviceStatusAvailable {
			report.DeviceAvailable.Fail(fmt.Sprintf("device %s is %s", d.AssetTag, d.Status))
		}
		if d.InService {
			report.DeviceAvailable.Fail(fmt.Sprintf("device %s is in service", d.AssetTag))
		}
	}

	if req.StudentSignature == "" {
		report.Signatures.Fail("student signature is required")
	}
	if req.ParentPresent && req.ParentSignature == "" {
		report.Signatures.Fail("parent is present but has not signed")
	}

	if err := checkBusinessRules(ctx, r, req, insuranceFeeCents, &report.BusinessRules); err != nil {
		return nil, err
	}

	report.Overall = report.StudentData.OK && report.DeviceAvailable.OK && report.Signatures.OK && report.BusinessRules.OK
	return report, nil
}

func checkBusinessRules(ctx context.Context, r repository.Repositories, req *domain.CheckoutRequest, insuranceFeeCents int32, check *domain.CheckResult) error {
	switch req.Insurance {
	case domain.InsuranceDeclined, domain.InsurancePayNow, domain.InsurancePayLater:
	default:
		check.Fail(fmt.Sprintf("unknown insurance option %q", req.Insurance))
		return nil
	}
	if req.Insurance == domain.InsurancePayNow && req.PaymentCents <= 0 {
		check.Fail("pay-now insurance requires a payment amount")
	}
	if req.Insurance != domain.InsurancePayNow && req.PaymentCents != 0 {
		check.Fail("a payment was given without pay-now insurance")
	}
	if !req.InsuranceElected() {
		if len(req.Credits) > 0 {
			check.Fail("credits were given without electing insurance")
		}
		return nil
	}

	available := make(map[string]domain.Payment)
	if len(req.Credits) > 0 {
		credits, err := r.Payments.ListCredits(ctx, req.PersonID)
		if err != nil {
			return err
		}
		for _, c := range credits {
			available[c.TransactionID] = c
		}
	}
	// Payments on an active insurance fee move to the fee this checkout
	// creates, so they count against it too.
	active, err := r.Fees.ListActiveByDescription(ctx, req.PersonID, domain.FeeDescriptionInsurance)
	if err != nil {
		return err
	}
	var carried int32
	for _, f := range active {
		carried += domain.PaidCents(f.Payments)
	}
	total := req.PaymentCents + carried
	seen := make(map[string]bool, len(req.Credits))
	for _, txID := range req.Credits {
		c, ok := available[txID]
		switch {
		case seen[txID]:
			check.Fail(fmt.Sprintf("credit %s is listed twice", txID))
			continue
		case !ok:
			check.Fail(fmt.Sprintf("credit %s is not available to %s", txID, req.PersonID))
			continue
		case c.FeeDescription != domain.FeeDescriptionInsurance:
			check.Fail(fmt.Sprintf("credit %s is not an insurance credit", txID))
			continue
		}
		seen[txID] = true
		total += c.AmountCents
	}
	if total > insuranceFeeCents {
		if carried > 0 {
			check.Fail(fmt.Sprintf("credits and payment of %d plus %d already paid exceed the insurance fee of %d", total-carried, carried, insuranceFeeCents))
		} else {
			check.Fail(fmt.Sprintf("credits and payment of %d exceed the insurance fee of %d", total, insuranceFeeCents))
		}
	}
	return nil
}

// Postflight compares what a completed session should have left behind with
// what is stored, and corrects device and insurance drift in place.
func (s *validationService) Postflight(ctx context.Context, sessionID string) (*domain.PostflightReport, error) {
	var report *domain.PostflightReport
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		sess, err := r.Sessions.GetForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.OverallStatus != domain.SessionStatusCompleted {
			return fmt.Errorf("%w: session %s is %s", domain.ErrSessionNotCompleted, sessionID, sess.OverallStatus)
		}
		report = &domain.PostflightReport{SessionID: sess.ID, ExternalNotificationOK: true}
		for _, st := range sess.Steps {
			if st.Warning != "" || st.Override != "" {
				report.ExternalNotificationOK = false
			}
		}
		switch sess.Kind {
		case domain.SessionKindCheckout:
			err = s.verifyCheckout(ctx, r, sess, report)
		case domain.SessionKindCheckin:
			err = s.verifyCheckin(ctx, r, sess, report)
		}
		if err != nil {
			return err
		}
		report.Overall = report.RecordOK && report.DeviceStatusOK && report.InsuranceStatusOK
		return nil
	})
	if err != nil {
		return nil, err
	}
	if report.StatusCorrection {
		logger.WithSession(sessionID).Warn("Postflight corrected drift", "corrections", report.Corrections)
	}
	return report, nil
}

// expectation is the device state a session should have produced.
type expectation struct {
	status    domain.DeviceStatus
	holder    *string
	insurance domain.InsuranceStatus
	inService bool
	// stale is set when later activity moved the device on, so the session
	// no longer determines its state.
	stale bool
}

func (s *validationService) verifyCheckout(ctx context.Context, r repository.Repositories, sess *domain.Session, report *domain.PostflightReport) error {
	if sess.CheckoutRecordID == nil {
		return nil
	}
	rec, err := r.Checkouts.GetByID(ctx, *sess.CheckoutRecordID)
	if err != nil {
		return err
	}
	report.RecordOK = rec.SessionID == sess.ID && rec.DeviceID == sess.DeviceID && rec.PersonID == sess.PersonID
	d, err := r.Devices.GetForUpdate(ctx, rec.DeviceID)
	if err != nil {
		return err
	}

	exp := expectation{status: domain.DeviceStatusAvailable, insurance: domain.InsuranceStatusUninsured}
	switch {
	case rec.Status == domain.CheckoutStatusReturned:
		exp.stale = true
	case rec.Status == domain.CheckoutStatusCancelled:
		exp.stale = d.CurrentHolder != nil
	default:
		holder := rec.PersonID
		exp.holder = &holder
		exp.status = domain.DeviceStatusPendingSignature
		if rec.ParentSignature != nil {
			exp.status = domain.DeviceStatusCheckedOut
		}
		exp.inService = d.InService
		if rec.InsuranceElected {
			exp.insurance = domain.InsuranceStatusPending
			if sess.InsuranceFeeID != nil {
				fee, err := r.Fees.GetByID(ctx, *sess.InsuranceFeeID)
				if err != nil {
					return err
				}
				if fee.AmountCents > 0 && fee.BalanceCents == 0 {
					exp.insurance = domain.InsuranceStatusInsured
				}
			}
		}
		exp.stale = d.CurrentHolder != nil && !d.HeldBy(rec.PersonID)
	}

	if err := s.reconcileDevice(ctx, r, d, exp, report); err != nil {
		return err
	}
	if !exp.stale && rec.Status.Open() && rec.InsuranceStatus != exp.insurance {
		if err := r.Checkouts.SetInsuranceStatus(ctx, rec.ID, exp.insurance); err != nil {
			return err
		}
		report.StatusCorrection = true
		report.Corrections = append(report.Corrections,
			fmt.Sprintf("checkout %d insurance %s -> %s", rec.ID, rec.InsuranceStatus, exp.insurance))
	}
	return nil
}

func (s *validationService) verifyCheckin(ctx context.Context, r repository.Repositories, sess *domain.Session, report *domain.PostflightReport) error {
	var req domain.CheckinRequest
	if err := json.Unmarshal(sess.Request, &req); err != nil {
		return fmt.Errorf("decode checkin request of session %s: %w", sess.ID, err)
	}
	d, err := r.Devices.GetForUpdate(ctx, sess.DeviceID)
	if err != nil {
		return err
	}

	report.RecordOK = true
	var maintenance *domain.MaintenanceRecord
	if req.NeedsMaintenance() {
		maintenance, err = r.Maintenance.GetBySession(ctx, sess.ID)
		switch {
		case domain.IsNotFound(err):
			report.RecordOK = false
		case err != nil:
			return err
		case sess.MaintenanceRecordID == nil || *sess.MaintenanceRecordID != maintenance.ID:
			report.RecordOK = false
		}
	}
	if len(req.Parts) > 0 && sess.DamageFeeID == nil {
		// A zero-cost parts list legitimately produces no fee.
		if b, err := utils.CalculateDamageFee(req.Parts, s.cfg.PartCosts); err == nil && b.TotalCents > 0 {
			report.RecordOK = false
		}
	}

	exp := expectation{status: domain.DeviceStatusAvailable, insurance: domain.InsuranceStatusUninsured}
	switch {
	case req.ServiceOnly:
		holder := req.PersonID
		exp.holder = &holder
		exp.status = d.Status
		exp.insurance = d.InsuranceStatus
		exp.inService = maintenance == nil || maintenance.Status == domain.MaintenanceStatusOpen
		if !d.Status.Held() || !d.HeldBy(req.PersonID) {
			exp.stale = true
		}
	case req.Condition == domain.ReturnConditionDamaged:
		if maintenance == nil || maintenance.Status == domain.MaintenanceStatusOpen {
			exp.status = domain.DeviceStatusMaintenance
		}
		if d.CurrentHolder != nil {
			exp.stale = true
		}
	default:
		if d.CurrentHolder != nil {
			exp.stale = true
		}
	}
	return s.reconcileDevice(ctx, r, d, exp, report)
}

// reconcileDevice fills the device half of the report and writes exp back when
// the device drifted. A stale expectation is accepted as is.
func (s *validationService) reconcileDevice(ctx context.Context, r repository.Repositories, d *domain.Device, exp expectation, report *domain.PostflightReport) error {
	report.ActualDeviceStatus = d.Status
	report.ActualInsurance = d.InsuranceStatus
	if exp.stale {
		report.ExpectedDeviceStatus = d.Status
		report.ExpectedInsurance = d.InsuranceStatus
		report.DeviceStatusOK = true
		report.InsuranceStatusOK = true
		return nil
	}
	report.ExpectedDeviceStatus = exp.status
	report.ExpectedInsurance = exp.insurance

	statusOK := d.Status == exp.status && sameHolder(d.CurrentHolder, exp.holder) && d.InService == exp.inService
	insuranceOK := d.InsuranceStatus == exp.insurance
	if statusOK && insuranceOK {
		report.DeviceStatusOK = true
		report.InsuranceStatusOK = true
		return nil
	}

	fixed := *d
	fixed.Status = exp.status
	fixed.CurrentHolder = exp.holder
	fixed.InService = exp.inService
	fixed.InsuranceStatus = exp.insurance
	if err := r.Devices.Update(ctx, &fixed); err != nil {
		return err
	}
	report.StatusCorrection = true
	if !statusOK {
		report.Corrections = append(report.Corrections,
			fmt.Sprintf("device %s status %s -> %s", d.AssetTag, d.Status, exp.status))
	}
	if !insuranceOK {
		report.Corrections = append(report.Corrections,
			fmt.Sprintf("device %s insurance %s -> %s", d.AssetTag, d.InsuranceStatus, exp.insurance))
	}
	report.DeviceStatusOK = true
	report.InsuranceStatusOK = true
	return nil
}

func sameHolder(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
