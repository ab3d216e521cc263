package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"loaner-backend/internal/domain"
)

type personRepo struct{ st *state }

func (r *personRepo) GetByID(_ context.Context, id string) (*domain.Person, error) {
	p, ok := r.st.people[id]
	if !ok {
		return nil, domain.ErrPersonNotFound
	}
	return &p, nil
}

func (r *personRepo) Upsert(_ context.Context, p *domain.Person) error {
	r.st.people[p.ID] = *p
	return nil
}

type deviceRepo struct{ st *state }

func (r *deviceRepo) GetByID(_ context.Context, id int32) (*domain.Device, error) {
	d, ok := r.st.devices[id]
	if !ok {
		return nil, domain.ErrDeviceNotFound
	}
	return &d, nil
}

func (r *deviceRepo) GetForUpdate(ctx context.Context, id int32) (*domain.Device, error) {
	return r.GetByID(ctx, id)
}

func (r *deviceRepo) Transition(_ context.Context, t domain.DeviceTransition) (bool, error) {
	d, ok := r.st.devices[t.DeviceID]
	if !ok || d.Status != t.FromStatus {
		return false, nil
	}
	d.Status = t.ToStatus
	d.CurrentHolder = t.Holder
	d.InsuranceStatus = t.InsuranceStatus
	d.InService = t.InService
	d.UpdatedOn = time.Now()
	r.st.devices[d.ID] = d
	return true, nil
}

func (r *deviceRepo) SetInsuranceStatus(_ context.Context, id int32, status domain.InsuranceStatus) error {
	d, ok := r.st.devices[id]
	if !ok {
		return domain.ErrDeviceNotFound
	}
	d.InsuranceStatus = status
	d.UpdatedOn = time.Now()
	r.st.devices[id] = d
	return nil
}

func (r *deviceRepo) Update(_ context.Context, d *domain.Device) error {
	if _, ok := r.st.devices[d.ID]; !ok {
		return domain.ErrDeviceNotFound
	}
	d.UpdatedOn = time.Now()
	r.st.devices[d.ID] = *d
	return nil
}

type checkoutRepo struct{ st *state }

func (r *checkoutRepo) Create(_ context.Context, rec *domain.CheckoutRecord) error {
	for _, existing := range r.st.checkouts {
		if existing.SessionID == rec.SessionID {
			return fmt.Errorf("%w: checkout for session %s exists", domain.ErrConcurrentModification, rec.SessionID)
		}
	}
	rec.ID = r.st.next("checkout_records")
	if rec.CreatedOn.IsZero() {
		rec.CreatedOn = time.Now()
	}
	r.st.checkouts[rec.ID] = *rec
	return nil
}

func (r *checkoutRepo) GetByID(_ context.Context, id int32) (*domain.CheckoutRecord, error) {
	rec, ok := r.st.checkouts[id]
	if !ok {
		return nil, domain.ErrCheckoutNotFound
	}
	return &rec, nil
}

func (r *checkoutRepo) GetBySession(_ context.Context, sessionID string) (*domain.CheckoutRecord, error) {
	for _, rec := range r.st.checkouts {
		if rec.SessionID == sessionID {
			return &rec, nil
		}
	}
	return nil, domain.ErrCheckoutNotFound
}

func (r *checkoutRepo) GetActiveForDevice(_ context.Context, deviceID int32) (*domain.CheckoutRecord, error) {
	var found *domain.CheckoutRecord
	for _, rec := range r.st.checkouts {
		if rec.DeviceID != deviceID || !rec.Status.Open() {
			continue
		}
		if found == nil || rec.ID > found.ID {
			rec := rec
			found = &rec
		}
	}
	if found == nil {
		return nil, domain.ErrCheckoutNotFound
	}
	return found, nil
}

func (r *checkoutRepo) SetParentSignature(_ context.Context, id int32, signature string) (bool, error) {
	rec, ok := r.st.checkouts[id]
	if !ok {
		return false, domain.ErrCheckoutNotFound
	}
	if rec.ParentSignature != nil {
		return false, nil
	}
	rec.ParentSignature = &signature
	r.st.checkouts[id] = rec
	return true, nil
}

func (r *checkoutRepo) SetInsuranceStatus(_ context.Context, id int32, status domain.InsuranceStatus) error {
	rec, ok := r.st.checkouts[id]
	if !ok {
		return domain.ErrCheckoutNotFound
	}
	rec.InsuranceStatus = status
	r.st.checkouts[id] = rec
	return nil
}

func (r *checkoutRepo) SetStatus(_ context.Context, id int32, from, to domain.CheckoutStatus) (bool, error) {
	rec, ok := r.st.checkouts[id]
	if !ok {
		return false, domain.ErrCheckoutNotFound
	}
	if rec.Status != from {
		return false, nil
	}
	rec.Status = to
	r.st.checkouts[id] = rec
	return true, nil
}

type feeRepo struct{ st *state }

func (r *feeRepo) Create(_ context.Context, fee *domain.Fee) error {
	if fee.IdempotencyKey != nil {
		for _, existing := range r.st.fees {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *fee.IdempotencyKey {
				return fmt.Errorf("%w: fee idempotency key %s", domain.ErrConcurrentModification, *fee.IdempotencyKey)
			}
		}
	}
	fee.ID = r.st.next("fees")
	if fee.CreatedOn.IsZero() {
		fee.CreatedOn = time.Now()
	}
	stored := *fee
	stored.Payments = nil
	r.st.fees[fee.ID] = stored
	return nil
}

func (r *feeRepo) withPayments(f domain.Fee) domain.Fee {
	f.Payments = nil
	for _, p := range r.st.payments {
		if p.FeeID != nil && *p.FeeID == f.ID {
			f.Payments = append(f.Payments, p)
		}
	}
	sort.Slice(f.Payments, func(i, j int) bool { return f.Payments[i].ID < f.Payments[j].ID })
	return f
}

func (r *feeRepo) GetByID(_ context.Context, id int32) (*domain.Fee, error) {
	f, ok := r.st.fees[id]
	if !ok {
		return nil, domain.ErrFeeNotFound
	}
	f = r.withPayments(f)
	return &f, nil
}

func (r *feeRepo) GetForUpdate(ctx context.Context, id int32) (*domain.Fee, error) {
	return r.GetByID(ctx, id)
}

func (r *feeRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.Fee, error) {
	for _, f := range r.st.fees {
		if f.IdempotencyKey != nil && *f.IdempotencyKey == key {
			f = r.withPayments(f)
			return &f, nil
		}
	}
	return nil, domain.ErrFeeNotFound
}

func (r *feeRepo) list(match func(domain.Fee) bool) []domain.Fee {
	var fees []domain.Fee
	for _, f := range r.st.fees {
		if match(f) {
			fees = append(fees, r.withPayments(f))
		}
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i].ID < fees[j].ID })
	return fees
}

func (r *feeRepo) ListByPerson(_ context.Context, personID string) ([]domain.Fee, error) {
	return r.list(func(f domain.Fee) bool { return f.PersonID == personID }), nil
}

func (r *feeRepo) ListActiveByDescription(_ context.Context, personID, description string) ([]domain.Fee, error) {
	return r.list(func(f domain.Fee) bool {
		return f.PersonID == personID && f.Description == description && f.Active()
	}), nil
}

func (r *feeRepo) ListAll(_ context.Context) ([]domain.Fee, error) {
	return r.list(func(domain.Fee) bool { return true }), nil
}

func (r *feeRepo) UpdateAmounts(_ context.Context, id int32, amountCents, balanceCents int32) error {
	f, ok := r.st.fees[id]
	if !ok {
		return domain.ErrFeeNotFound
	}
	f.AmountCents = amountCents
	f.BalanceCents = balanceCents
	r.st.fees[id] = f
	return nil
}

func (r *feeRepo) SetBalance(_ context.Context, id int32, balanceCents int32) error {
	f, ok := r.st.fees[id]
	if !ok {
		return domain.ErrFeeNotFound
	}
	f.BalanceCents = balanceCents
	r.st.fees[id] = f
	return nil
}

func (r *feeRepo) MarkSuperseded(_ context.Context, id, supersededBy int32) error {
	f, ok := r.st.fees[id]
	if !ok {
		return domain.ErrFeeNotFound
	}
	f.SupersededBy = &supersededBy
	r.st.fees[id] = f
	return nil
}

type paymentRepo struct{ st *state }

func (r *paymentRepo) Create(_ context.Context, p *domain.Payment) error {
	for _, existing := range r.st.payments {
		if !existing.Archived && existing.TransactionID == p.TransactionID {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, p.TransactionID)
		}
		if p.IdempotencyKey != nil && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *p.IdempotencyKey {
			return fmt.Errorf("%w: payment idempotency key %s", domain.ErrConcurrentModification, *p.IdempotencyKey)
		}
	}
	p.ID = r.st.next("payments")
	if p.CreatedOn.IsZero() {
		p.CreatedOn = time.Now()
	}
	r.st.payments[p.ID] = *p
	return nil
}

func (r *paymentRepo) GetByID(_ context.Context, id int32) (*domain.Payment, error) {
	p, ok := r.st.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *paymentRepo) GetForUpdate(ctx context.Context, id int32) (*domain.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r *paymentRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.Payment, error) {
	for _, p := range r.st.payments {
		if p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			return &p, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *paymentRepo) ListByFee(_ context.Context, feeID int32) ([]domain.Payment, error) {
	var ps []domain.Payment
	for _, p := range r.st.payments {
		if p.FeeID != nil && *p.FeeID == feeID {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	return ps, nil
}

func (r *paymentRepo) ListCredits(_ context.Context, personID string) ([]domain.Payment, error) {
	var ps []domain.Payment
	for _, p := range r.st.payments {
		if p.PersonID == personID && p.State() == domain.PaymentStateCredit {
			ps = append(ps, p)
		}
	}
	sortPaymentsNewestFirst(ps)
	return ps, nil
}

func (r *paymentRepo) GetCreditForUpdate(_ context.Context, transactionID string) (*domain.Payment, error) {
	for _, p := range r.st.payments {
		if p.TransactionID == transactionID && p.State() == domain.PaymentStateCredit {
			return &p, nil
		}
	}
	return nil, domain.ErrCreditNotFound
}

func (r *paymentRepo) ListByTransactionID(_ context.Context, transactionID string) ([]domain.Payment, error) {
	var ps []domain.Payment
	for _, p := range r.st.payments {
		if p.TransactionID == transactionID {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	return ps, nil
}

func (r *paymentRepo) Archive(_ context.Context, id int32, assetTag, reason string, at time.Time) (bool, error) {
	p, ok := r.st.payments[id]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if p.Archived {
		return false, nil
	}
	p.Archived = true
	p.ArchivedOn = &at
	p.ArchiveReason = reason
	p.OriginalFeeID = p.FeeID
	p.FeeID = nil
	if assetTag != "" {
		p.OriginalAssetTag = assetTag
	}
	r.st.payments[id] = p
	return true, nil
}

func (r *paymentRepo) MarkApplied(_ context.Context, id, feeID int32, at time.Time) (bool, error) {
	p, ok := r.st.payments[id]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if p.State() != domain.PaymentStateCredit {
		return false, nil
	}
	p.AppliedFeeID = &feeID
	p.AppliedOn = &at
	r.st.payments[id] = p
	return true, nil
}

func (r *paymentRepo) Relink(_ context.Context, fromFeeID, toFeeID int32) error {
	for id, p := range r.st.payments {
		if !p.Archived && p.FeeID != nil && *p.FeeID == fromFeeID {
			to := toFeeID
			p.FeeID = &to
			r.st.payments[id] = p
		}
	}
	return nil
}

func (r *paymentRepo) Delete(_ context.Context, id int32) error {
	if _, ok := r.st.payments[id]; !ok {
		return domain.ErrPaymentNotFound
	}
	delete(r.st.payments, id)
	return nil
}

type maintenanceRepo struct{ st *state }

func (r *maintenanceRepo) Create(_ context.Context, rec *domain.MaintenanceRecord) error {
	for _, existing := range r.st.maintenance {
		if rec.SessionID != "" && existing.SessionID == rec.SessionID {
			return fmt.Errorf("%w: maintenance for session %s exists", domain.ErrConcurrentModification, rec.SessionID)
		}
	}
	rec.ID = r.st.next("maintenance_records")
	if rec.CreatedOn.IsZero() {
		rec.CreatedOn = time.Now()
	}
	r.st.maintenance[rec.ID] = copyMaintenance(*rec)
	return nil
}

func (r *maintenanceRepo) GetByID(_ context.Context, id int32) (*domain.MaintenanceRecord, error) {
	rec, ok := r.st.maintenance[id]
	if !ok {
		return nil, domain.ErrMaintenanceNotFound
	}
	rec = copyMaintenance(rec)
	return &rec, nil
}

func (r *maintenanceRepo) GetBySession(_ context.Context, sessionID string) (*domain.MaintenanceRecord, error) {
	for _, rec := range r.st.maintenance {
		if rec.SessionID == sessionID {
			rec = copyMaintenance(rec)
			return &rec, nil
		}
	}
	return nil, domain.ErrMaintenanceNotFound
}

func (r *maintenanceRepo) Complete(_ context.Context, id, completedBy int32, notes string, at time.Time) (bool, error) {
	rec, ok := r.st.maintenance[id]
	if !ok {
		return false, domain.ErrMaintenanceNotFound
	}
	if rec.Status != domain.MaintenanceStatusOpen {
		return false, nil
	}
	rec.Status = domain.MaintenanceStatusCompleted
	rec.CompletedBy = &completedBy
	rec.CompletedOn = &at
	if notes != "" {
		rec.Notes = notes
	}
	r.st.maintenance[id] = rec
	return true, nil
}

type sessionRepo struct{ st *state }

func (r *sessionRepo) Create(_ context.Context, s *domain.Session) error {
	if _, exists := r.st.sessions[s.ID]; exists {
		return fmt.Errorf("%w: session %s exists", domain.ErrConcurrentModification, s.ID)
	}
	r.st.sessions[s.ID] = copySession(*s)
	return nil
}

func (r *sessionRepo) GetByID(_ context.Context, id string) (*domain.Session, error) {
	s, ok := r.st.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s = copySession(s)
	return &s, nil
}

func (r *sessionRepo) GetForUpdate(ctx context.Context, id string) (*domain.Session, error) {
	return r.GetByID(ctx, id)
}

func (r *sessionRepo) Update(_ context.Context, s *domain.Session) error {
	if _, ok := r.st.sessions[s.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	r.st.sessions[s.ID] = copySession(*s)
	return nil
}

func (r *sessionRepo) AppendEvent(_ context.Context, ev *domain.StepEvent) error {
	ev.ID = int64(len(r.st.events) + 1)
	if ev.CreatedOn.IsZero() {
		ev.CreatedOn = time.Now()
	}
	r.st.events = append(r.st.events, *ev)
	return nil
}

func (r *sessionRepo) ListEvents(_ context.Context, sessionID string) ([]domain.StepEvent, error) {
	var evs []domain.StepEvent
	for _, ev := range r.st.events {
		if ev.SessionID == sessionID {
			evs = append(evs, ev)
		}
	}
	return evs, nil
}

func (r *sessionRepo) ListStale(_ context.Context, olderThan time.Time) ([]domain.Session, error) {
	var out []domain.Session
	for _, s := range r.st.sessions {
		if s.OverallStatus != domain.SessionStatusCompleted && !s.Abandoned && s.UpdatedOn.Before(olderThan) {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedOn.Before(out[j].UpdatedOn) })
	return out, nil
}
