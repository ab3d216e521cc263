package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
)

type maintenanceRepository struct {
	db dbtx
}

func NewMaintenanceRepository(db dbtx) repository.MaintenanceRepository {
	return &maintenanceRepository{db: db}
}

const maintenanceColumns = `id, device_id, person_id, session_id, condition, service_only, issue, parts, photo_urls,
	status, notes, created_by, created_on, completed_by, completed_on`

func (r *maintenanceRepository) Create(ctx context.Context, m *domain.MaintenanceRecord) error {
	query := `INSERT INTO maintenance_records (device_id, person_id, session_id, condition, service_only, issue, parts, photo_urls, status, notes, created_by, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now()) RETURNING id, created_on`
	err := r.db.QueryRowContext(ctx, query, m.DeviceID, m.PersonID, m.SessionID, m.Condition, m.ServiceOnly, m.Issue,
		pq.Array(m.Parts), pq.Array(m.PhotoURLs), m.Status, m.Notes, m.CreatedBy).Scan(&m.ID, &m.CreatedOn)
	if _, dup := uniqueConstraint(err); dup {
		return fmt.Errorf("%w: maintenance for session %s exists", domain.ErrConcurrentModification, m.SessionID)
	}
	return err
}

func (r *maintenanceRepository) get(ctx context.Context, query string, arg interface{}) (*domain.MaintenanceRecord, error) {
	m := &domain.MaintenanceRecord{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&m.ID, &m.DeviceID, &m.PersonID, &m.SessionID, &m.Condition, &m.ServiceOnly, &m.Issue,
		pq.Array(&m.Parts), pq.Array(&m.PhotoURLs), &m.Status, &m.Notes, &m.CreatedBy, &m.CreatedOn, &m.CompletedBy, &m.CompletedOn)
	if err != nil {
		return nil, notFound(err, domain.ErrMaintenanceNotFound)
	}
	return m, nil
}

func (r *maintenanceRepository) GetByID(ctx context.Context, id int32) (*domain.MaintenanceRecord, error) {
	return r.get(ctx, `SELECT `+maintenanceColumns+` FROM maintenance_records WHERE id = $1`, id)
}

func (r *maintenanceRepository) GetBySession(ctx context.Context, sessionID string) (*domain.MaintenanceRecord, error) {
	return r.get(ctx, `SELECT `+maintenanceColumns+` FROM maintenance_records WHERE session_id = $1`, sessionID)
}

func (r *maintenanceRepository) Complete(ctx context.Context, id, completedBy int32, notes string, at time.Time) (bool, error) {
	query := `UPDATE maintenance_records SET status = 'completed', completed_by = $1, completed_on = $2,
	          notes = CASE WHEN $3::text = '' THEN notes ELSE $3::text END
	          WHERE id = $4 AND status = 'open'`
	res, err := r.db.ExecContext(ctx, query, completedBy, at, notes, id)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}
