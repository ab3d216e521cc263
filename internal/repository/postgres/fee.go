package postgres

import (
	"context"
	"fmt"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
)

type feeRepository struct {
	db       dbtx
	payments *paymentRepository
}

func NewFeeRepository(db dbtx) repository.FeeRepository {
	return &feeRepository{db: db, payments: &paymentRepository{db: db}}
}

const feeColumns = `id, person_id, amount_cents, balance_cents, description, maintenance_id, checkout_id, idempotency_key,
	superseded_by, created_by, created_on`

func (r *feeRepository) Create(ctx context.Context, f *domain.Fee) error {
	query := `INSERT INTO fees (person_id, amount_cents, balance_cents, description, maintenance_id, checkout_id, idempotency_key, created_by, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now()) RETURNING id, created_on`
	err := r.db.QueryRowContext(ctx, query, f.PersonID, f.AmountCents, f.BalanceCents, f.Description, f.MaintenanceID, f.CheckoutID,
		f.IdempotencyKey, f.CreatedBy).Scan(&f.ID, &f.CreatedOn)
	if constraint, dup := uniqueConstraint(err); dup {
		return fmt.Errorf("%w: fee %s", domain.ErrConcurrentModification, constraint)
	}
	return err
}

func scanFee(s scanner, f *domain.Fee) error {
	return s.Scan(&f.ID, &f.PersonID, &f.AmountCents, &f.BalanceCents, &f.Description, &f.MaintenanceID, &f.CheckoutID,
		&f.IdempotencyKey, &f.SupersededBy, &f.CreatedBy, &f.CreatedOn)
}

func (r *feeRepository) get(ctx context.Context, query string, arg interface{}) (*domain.Fee, error) {
	f := &domain.Fee{}
	if err := scanFee(r.db.QueryRowContext(ctx, query, arg), f); err != nil {
		return nil, notFound(err, domain.ErrFeeNotFound)
	}
	payments, err := r.payments.ListByFee(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	f.Payments = payments
	return f, nil
}

func (r *feeRepository) GetByID(ctx context.Context, id int32) (*domain.Fee, error) {
	return r.get(ctx, `SELECT `+feeColumns+` FROM fees WHERE id = $1`, id)
}

func (r *feeRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Fee, error) {
	return r.get(ctx, `SELECT `+feeColumns+` FROM fees WHERE id = $1 FOR UPDATE`, id)
}

func (r *feeRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Fee, error) {
	return r.get(ctx, `SELECT `+feeColumns+` FROM fees WHERE idempotency_key = $1`, key)
}

func (r *feeRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Fee, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var fees []domain.Fee
	for rows.Next() {
		var f domain.Fee
		if err := scanFee(rows, &f); err != nil {
			rows.Close()
			return nil, err
		}
		fees = append(fees, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Payments are loaded after the cursor closes; a transaction allows one
	// open result set at a time.
	for i := range fees {
		payments, err := r.payments.ListByFee(ctx, fees[i].ID)
		if err != nil {
			return nil, err
		}
		fees[i].Payments = payments
	}
	return fees, nil
}

func (r *feeRepository) ListByPerson(ctx context.Context, personID string) ([]domain.Fee, error) {
	return r.list(ctx, `SELECT `+feeColumns+` FROM fees WHERE person_id = $1 ORDER BY id`, personID)
}

func (r *feeRepository) ListActiveByDescription(ctx context.Context, personID, description string) ([]domain.Fee, error) {
	return r.list(ctx, `SELECT `+feeColumns+` FROM fees
		WHERE person_id = $1 AND description = $2 AND superseded_by IS NULL AND amount_cents > 0
		ORDER BY id FOR UPDATE`, personID, description)
}

func (r *feeRepository) ListAll(ctx context.Context) ([]domain.Fee, error) {
	return r.list(ctx, `SELECT `+feeColumns+` FROM fees ORDER BY id`)
}

func (r *feeRepository) UpdateAmounts(ctx context.Context, id int32, amountCents, balanceCents int32) error {
	res, err := r.db.ExecContext(ctx, `UPDATE fees SET amount_cents = $1, balance_cents = $2 WHERE id = $3`, amountCents, balanceCents, id)
	if err != nil {
		return err
	}
	return expectRow(res, domain.ErrFeeNotFound)
}

func (r *feeRepository) SetBalance(ctx context.Context, id int32, balanceCents int32) error {
	res, err := r.db.ExecContext(ctx, `UPDATE fees SET balance_cents = $1 WHERE id = $2`, balanceCents, id)
	if err != nil {
		return err
	}
	return expectRow(res, domain.ErrFeeNotFound)
}

func (r *feeRepository) MarkSuperseded(ctx context.Context, id, supersededBy int32) error {
	res, err := r.db.ExecContext(ctx, `UPDATE fees SET superseded_by = $1 WHERE id = $2`, supersededBy, id)
	if err != nil {
		return err
	}
	return expectRow(res, domain.ErrFeeNotFound)
}
