package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
)

type sessionRepository struct {
	db dbtx
}

func NewSessionRepository(db dbtx) repository.SessionRepository {
	return &sessionRepository{db: db}
}

const sessionColumns = `id, kind, person_id, device_id, request, steps, overall_status, abandoned, checkout_record_id,
	payment_transaction_id, insurance_fee_id, maintenance_record_id, damage_fee_id, credits_archived, created_by, created_on, updated_on`

func (r *sessionRepository) Create(ctx context.Context, s *domain.Session) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	query := `INSERT INTO sessions (id, kind, person_id, device_id, request, steps, overall_status, abandoned, created_by, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.db.ExecContext(ctx, query, s.ID, s.Kind, s.PersonID, s.DeviceID, []byte(s.Request), steps, s.OverallStatus, s.Abandoned,
		s.CreatedBy, s.CreatedOn, s.UpdatedOn)
	if _, dup := uniqueConstraint(err); dup {
		return fmt.Errorf("%w: session %s exists", domain.ErrConcurrentModification, s.ID)
	}
	return err
}

func scanSession(sc scanner, s *domain.Session) error {
	var request, steps []byte
	err := sc.Scan(&s.ID, &s.Kind, &s.PersonID, &s.DeviceID, &request, &steps, &s.OverallStatus, &s.Abandoned, &s.CheckoutRecordID,
		&s.PaymentTransactionID, &s.InsuranceFeeID, &s.MaintenanceRecordID, &s.DamageFeeID, &s.CreditsArchived, &s.CreatedBy,
		&s.CreatedOn, &s.UpdatedOn)
	if err != nil {
		return err
	}
	s.Request = json.RawMessage(request)
	if err := json.Unmarshal(steps, &s.Steps); err != nil {
		return fmt.Errorf("decode steps of session %s: %w", s.ID, err)
	}
	return nil
}

func (r *sessionRepository) get(ctx context.Context, query, id string) (*domain.Session, error) {
	s := &domain.Session{}
	if err := scanSession(r.db.QueryRowContext(ctx, query, id), s); err != nil {
		return nil, notFound(err, domain.ErrSessionNotFound)
	}
	return s, nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.get(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

func (r *sessionRepository) GetForUpdate(ctx context.Context, id string) (*domain.Session, error) {
	return r.get(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id)
}

func (r *sessionRepository) Update(ctx context.Context, s *domain.Session) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	query := `UPDATE sessions SET steps = $1, overall_status = $2, abandoned = $3, checkout_record_id = $4, payment_transaction_id = $5,
	          insurance_fee_id = $6, maintenance_record_id = $7, damage_fee_id = $8, credits_archived = $9, updated_on = $10
	          WHERE id = $11`
	res, err := r.db.ExecContext(ctx, query, steps, s.OverallStatus, s.Abandoned, s.CheckoutRecordID, s.PaymentTransactionID,
		s.InsuranceFeeID, s.MaintenanceRecordID, s.DamageFeeID, s.CreditsArchived, s.UpdatedOn, s.ID)
	if err != nil {
		return err
	}
	return expectRow(res, domain.ErrSessionNotFound)
}

func (r *sessionRepository) AppendEvent(ctx context.Context, ev *domain.StepEvent) error {
	query := `INSERT INTO session_step_events (session_id, step, status, error, error_kind, warning, override, actor, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now()) RETURNING id, created_on`
	return r.db.QueryRowContext(ctx, query, ev.SessionID, ev.Step, ev.Status, ev.Error, ev.ErrorKind, ev.Warning, ev.Override, ev.Actor).
		Scan(&ev.ID, &ev.CreatedOn)
}

func (r *sessionRepository) ListEvents(ctx context.Context, sessionID string) ([]domain.StepEvent, error) {
	query := `SELECT id, session_id, step, status, error, error_kind, warning, override, actor, created_on
	          FROM session_step_events WHERE session_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.StepEvent
	for rows.Next() {
		var ev domain.StepEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Step, &ev.Status, &ev.Error, &ev.ErrorKind, &ev.Warning, &ev.Override, &ev.Actor, &ev.CreatedOn); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *sessionRepository) ListStale(ctx context.Context, olderThan time.Time) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
	          WHERE overall_status <> 'completed' AND NOT abandoned AND updated_on < $1 ORDER BY updated_on`
	rows, err := r.db.QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := scanSession(rows, &s); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
