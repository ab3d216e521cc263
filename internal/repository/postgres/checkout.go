package postgres

import (
	"context"
	"fmt"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
)

type checkoutRepository struct {
	db dbtx
}

func NewCheckoutRepository(db dbtx) repository.CheckoutRepository {
	return &checkoutRepository{db: db}
}

const checkoutColumns = `id, device_id, person_id, session_id, student_signature, parent_signature, parent_present,
	insurance_elected, insurance_status, status, notes, created_by, created_on`

func (r *checkoutRepository) Create(ctx context.Context, rec *domain.CheckoutRecord) error {
	query := `INSERT INTO checkout_records (device_id, person_id, session_id, student_signature, parent_signature, parent_present,
	          insurance_elected, insurance_status, status, notes, created_by, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now()) RETURNING id, created_on`
	err := r.db.QueryRowContext(ctx, query, rec.DeviceID, rec.PersonID, rec.SessionID, rec.StudentSignature, rec.ParentSignature, rec.ParentPresent,
		rec.InsuranceElected, rec.InsuranceStatus, rec.Status, rec.Notes, rec.CreatedBy).Scan(&rec.ID, &rec.CreatedOn)
	if _, dup := uniqueConstraint(err); dup {
		return fmt.Errorf("%w: checkout for session %s exists", domain.ErrConcurrentModification, rec.SessionID)
	}
	return err
}

func (r *checkoutRepository) get(ctx context.Context, query string, arg interface{}) (*domain.CheckoutRecord, error) {
	rec := &domain.CheckoutRecord{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&rec.ID, &rec.DeviceID, &rec.PersonID, &rec.SessionID, &rec.StudentSignature, &rec.ParentSignature,
		&rec.ParentPresent, &rec.InsuranceElected, &rec.InsuranceStatus, &rec.Status, &rec.Notes, &rec.CreatedBy, &rec.CreatedOn)
	if err != nil {
		return nil, notFound(err, domain.ErrCheckoutNotFound)
	}
	return rec, nil
}

func (r *checkoutRepository) GetByID(ctx context.Context, id int32) (*domain.CheckoutRecord, error) {
	return r.get(ctx, `SELECT `+checkoutColumns+` FROM checkout_records WHERE id = $1`, id)
}

func (r *checkoutRepository) GetBySession(ctx context.Context, sessionID string) (*domain.CheckoutRecord, error) {
	return r.get(ctx, `SELECT `+checkoutColumns+` FROM checkout_records WHERE session_id = $1`, sessionID)
}

func (r *checkoutRepository) GetActiveForDevice(ctx context.Context, deviceID int32) (*domain.CheckoutRecord, error) {
	return r.get(ctx, `SELECT `+checkoutColumns+` FROM checkout_records
		WHERE device_id = $1 AND status IN ('pending', 'completed') ORDER BY id DESC LIMIT 1`, deviceID)
}

func (r *checkoutRepository) SetParentSignature(ctx context.Context, id int32, signature string) (bool, error) {
	query := `UPDATE checkout_records SET parent_signature = $1 WHERE id = $2 AND parent_signature IS NULL`
	res, err := r.db.ExecContext(ctx, query, signature, id)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (r *checkoutRepository) SetInsuranceStatus(ctx context.Context, id int32, status domain.InsuranceStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE checkout_records SET insurance_status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	return expectRow(res, domain.ErrCheckoutNotFound)
}

func (r *checkoutRepository) SetStatus(ctx context.Context, id int32, from, to domain.CheckoutStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE checkout_records SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}
