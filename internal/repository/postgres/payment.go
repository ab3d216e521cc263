package postgres

import (
	"context"
	"fmt"
	"time"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
)

type paymentRepository struct {
	db dbtx
}

func NewPaymentRepository(db dbtx) repository.PaymentRepository {
	return &paymentRepository{db: db}
}

const paymentColumns = `id, fee_id, person_id, amount_cents, method, notes, transaction_id, archived, archived_on, archive_reason,
	original_fee_id, original_asset_tag, fee_description, applied_fee_id, applied_on, idempotency_key, processed_by, created_on`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(s scanner, p *domain.Payment) error {
	return s.Scan(&p.ID, &p.FeeID, &p.PersonID, &p.AmountCents, &p.Method, &p.Notes, &p.TransactionID, &p.Archived, &p.ArchivedOn,
		&p.ArchiveReason, &p.OriginalFeeID, &p.OriginalAssetTag, &p.FeeDescription, &p.AppliedFeeID, &p.AppliedOn, &p.IdempotencyKey,
		&p.ProcessedBy, &p.CreatedOn)
}

func (r *paymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (fee_id, person_id, amount_cents, method, notes, transaction_id, original_fee_id, original_asset_tag,
	          fee_description, idempotency_key, processed_by, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now()) RETURNING id, created_on`
	err := r.db.QueryRowContext(ctx, query, p.FeeID, p.PersonID, p.AmountCents, p.Method, p.Notes, p.TransactionID, p.OriginalFeeID,
		p.OriginalAssetTag, p.FeeDescription, p.IdempotencyKey, p.ProcessedBy).Scan(&p.ID, &p.CreatedOn)
	if constraint, dup := uniqueConstraint(err); dup {
		if constraint == "payments_active_transaction_id_key" {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, p.TransactionID)
		}
		return fmt.Errorf("%w: payment %s", domain.ErrConcurrentModification, constraint)
	}
	return err
}

func (r *paymentRepository) get(ctx context.Context, query string, arg interface{}, sentinel error) (*domain.Payment, error) {
	p := &domain.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, arg), p); err != nil {
		return nil, notFound(err, sentinel)
	}
	return p, nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id int32) (*domain.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id, domain.ErrPaymentNotFound)
}

func (r *paymentRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id, domain.ErrPaymentNotFound)
}

func (r *paymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key, domain.ErrPaymentNotFound)
}

func (r *paymentRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := scanPayment(rows, &p); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *paymentRepository) ListByFee(ctx context.Context, feeID int32) ([]domain.Payment, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE fee_id = $1 ORDER BY id`, feeID)
}

func (r *paymentRepository) ListCredits(ctx context.Context, personID string) ([]domain.Payment, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE person_id = $1 AND archived AND applied_on IS NULL ORDER BY archived_on DESC, id DESC`, personID)
}

func (r *paymentRepository) GetCreditForUpdate(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE transaction_id = $1 AND archived AND applied_on IS NULL FOR UPDATE`, transactionID, domain.ErrCreditNotFound)
}

func (r *paymentRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]domain.Payment, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1 ORDER BY id`, transactionID)
}

func (r *paymentRepository) Archive(ctx context.Context, id int32, assetTag, reason string, at time.Time) (bool, error) {
	query := `UPDATE payments SET archived = TRUE, archived_on = $1, archive_reason = $2, original_fee_id = fee_id, fee_id = NULL,
	          original_asset_tag = CASE WHEN $3::text = '' THEN original_asset_tag ELSE $3::text END
	          WHERE id = $4 AND NOT archived`
	res, err := r.db.ExecContext(ctx, query, at, reason, assetTag, id)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (r *paymentRepository) MarkApplied(ctx context.Context, id, feeID int32, at time.Time) (bool, error) {
	query := `UPDATE payments SET applied_fee_id = $1, applied_on = $2 WHERE id = $3 AND archived AND applied_on IS NULL`
	res, err := r.db.ExecContext(ctx, query, feeID, at, id)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (r *paymentRepository) Relink(ctx context.Context, fromFeeID, toFeeID int32) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payments SET fee_id = $1 WHERE fee_id = $2 AND NOT archived`, toFeeID, fromFeeID)
	return err
}

func (r *paymentRepository) Delete(ctx context.Context, id int32) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, domain.ErrPaymentNotFound)
}
