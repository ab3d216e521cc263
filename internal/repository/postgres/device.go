package postgres

import (
	"context"
	"time"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
)

type deviceRepository struct {
	db dbtx
}

func NewDeviceRepository(db dbtx) repository.DeviceRepository {
	return &deviceRepository{db: db}
}

const deviceColumns = `id, asset_tag, serial_number, model, status, current_holder, insurance_status, in_service, updated_on`

func (r *deviceRepository) get(ctx context.Context, query string, id int32) (*domain.Device, error) {
	d := &domain.Device{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.AssetTag, &d.SerialNumber, &d.Model, &d.Status, &d.CurrentHolder, &d.InsuranceStatus, &d.InService, &d.UpdatedOn)
	if err != nil {
		return nil, notFound(err, domain.ErrDeviceNotFound)
	}
	return d, nil
}

func (r *deviceRepository) GetByID(ctx context.Context, id int32) (*domain.Device, error) {
	return r.get(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
}

func (r *deviceRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Device, error) {
	return r.get(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1 FOR UPDATE`, id)
}

func (r *deviceRepository) Transition(ctx context.Context, t domain.DeviceTransition) (bool, error) {
	query := `UPDATE devices SET status = $1, current_holder = $2, insurance_status = $3, in_service = $4, updated_on = $5
	          WHERE id = $6 AND status = $7`
	res, err := r.db.ExecContext(ctx, query, t.ToStatus, t.Holder, t.InsuranceStatus, t.InService, time.Now(), t.DeviceID, t.FromStatus)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (r *deviceRepository) SetInsuranceStatus(ctx context.Context, id int32, status domain.InsuranceStatus) error {
	query := `UPDATE devices SET insurance_status = $1, updated_on = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return err
	}
	return expectRow(res, domain.ErrDeviceNotFound)
}

func (r *deviceRepository) Update(ctx context.Context, d *domain.Device) error {
	d.UpdatedOn = time.Now()
	query := `UPDATE devices SET status = $1, current_holder = $2, insurance_status = $3, in_service = $4, updated_on = $5 WHERE id = $6`
	res, err := r.db.ExecContext(ctx, query, d.Status, d.CurrentHolder, d.InsuranceStatus, d.InService, d.UpdatedOn, d.ID)
	if err != nil {
		return err
	}
	return expectRow(res, domain.ErrDeviceNotFound)
}
