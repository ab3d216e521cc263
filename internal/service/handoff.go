package service

import (
	"context"
	"fmt"
	"strings"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/logger"
	"loaner-backend/internal/repository"
)

// RecordParentSignature completes a checkout that was waiting on a parent.
// The signature is write-once.
func (o *orchestrator) RecordParentSignature(ctx context.Context, checkoutID int32, signature string) (*domain.CheckoutRecord, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: parent signature", domain.ErrMissingSignature)
	}
	var rec *domain.CheckoutRecord
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		current, err := r.Checkouts.GetByID(ctx, checkoutID)
		if err != nil {
			return err
		}
		if current.ParentSignature != nil {
			return fmt.Errorf("%w: checkout %d", domain.ErrSignatureAlreadySet, checkoutID)
		}
		if current.Status != domain.CheckoutStatusPending {
			return fmt.Errorf("%w: checkout %d is %s", domain.ErrCheckoutNotPending, checkoutID, current.Status)
		}
		ok, err := r.Checkouts.SetParentSignature(ctx, checkoutID, signature)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: checkout %d", domain.ErrSignatureAlreadySet, checkoutID)
		}
		if ok, err = r.Checkouts.SetStatus(ctx, checkoutID, domain.CheckoutStatusPending, domain.CheckoutStatusCompleted); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: checkout %d", domain.ErrConcurrentModification, checkoutID)
		}

		d, err := r.Devices.GetForUpdate(ctx, current.DeviceID)
		if err != nil {
			return err
		}
		if d.Status == domain.DeviceStatusPendingSignature && d.HeldBy(current.PersonID) {
			_, err := r.Devices.Transition(ctx, domain.DeviceTransition{
				DeviceID:        d.ID,
				FromStatus:      domain.DeviceStatusPendingSignature,
				ToStatus:        domain.DeviceStatusCheckedOut,
				Holder:          d.CurrentHolder,
				InsuranceStatus: d.InsuranceStatus,
				InService:       d.InService,
			})
			if err != nil {
				return err
			}
		}
		rec, err = r.Checkouts.GetByID(ctx, checkoutID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Parent signature recorded", "checkout_id", checkoutID, "actor", o.cfg.SystemActorID)
	return rec, nil
}

// CancelPendingCheckout takes back a device whose parent never signed. Any
// insurance payment taken for it becomes a credit.
func (o *orchestrator) CancelPendingCheckout(ctx context.Context, checkoutID int32, actor int32, reason string) (*domain.CheckoutRecord, error) {
	actor = o.actorOr(actor)
	var (
		rec      *domain.CheckoutRecord
		archived int
	)
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		current, err := r.Checkouts.GetByID(ctx, checkoutID)
		if err != nil {
			return err
		}
		if current.Status != domain.CheckoutStatusPending {
			return fmt.Errorf("%w: checkout %d is %s", domain.ErrCheckoutNotPending, checkoutID, current.Status)
		}
		ok, err := r.Checkouts.SetStatus(ctx, checkoutID, domain.CheckoutStatusPending, domain.CheckoutStatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: checkout %d", domain.ErrConcurrentModification, checkoutID)
		}

		d, err := r.Devices.GetForUpdate(ctx, current.DeviceID)
		if err != nil {
			return err
		}
		if d.Status.Held() && d.HeldBy(current.PersonID) {
			ok, err := r.Devices.Transition(ctx, domain.DeviceTransition{
				DeviceID:        d.ID,
				FromStatus:      d.Status,
				ToStatus:        domain.DeviceStatusAvailable,
				InsuranceStatus: domain.InsuranceStatusUninsured,
			})
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: device %s", domain.ErrConcurrentModification, d.AssetTag)
			}
		}
		if current.InsuranceElected {
			why := "checkout cancelled"
			if reason != "" {
				why += ": " + reason
			}
			if archived, err = archiveInsurancePayments(ctx, r, current.PersonID, d.AssetTag, why, o.now()); err != nil {
				return err
			}
			if err := r.Checkouts.SetInsuranceStatus(ctx, checkoutID, domain.InsuranceStatusUninsured); err != nil {
				return err
			}
		}
		rec, err = r.Checkouts.GetByID(ctx, checkoutID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Pending checkout cancelled", "checkout_id", checkoutID, "actor", actor, "reason", reason, "credits_archived", archived)
	return rec, nil
}

// CompleteMaintenance closes a maintenance record. A repaired loaner goes back
// into the pool; a device serviced for its holder just leaves service.
func (o *orchestrator) CompleteMaintenance(ctx context.Context, maintenanceID int32, actor int32, notes string) (*domain.MaintenanceRecord, error) {
	actor = o.actorOr(actor)
	var rec *domain.MaintenanceRecord
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		current, err := r.Maintenance.GetByID(ctx, maintenanceID)
		if err != nil {
			return err
		}
		if current.Status != domain.MaintenanceStatusOpen {
			return fmt.Errorf("%w: maintenance %d", domain.ErrMaintenanceClosed, maintenanceID)
		}
		ok, err := r.Maintenance.Complete(ctx, maintenanceID, actor, notes, o.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: maintenance %d", domain.ErrMaintenanceClosed, maintenanceID)
		}

		d, err := r.Devices.GetForUpdate(ctx, current.DeviceID)
		if err != nil {
			return err
		}
		switch {
		case current.ServiceOnly && d.InService:
			d.InService = false
			if err := r.Devices.Update(ctx, d); err != nil {
				return err
			}
		case !current.ServiceOnly && d.Status == domain.DeviceStatusMaintenance:
			if _, err := r.Devices.Transition(ctx, domain.DeviceTransition{
				DeviceID:        d.ID,
				FromStatus:      domain.DeviceStatusMaintenance,
				ToStatus:        domain.DeviceStatusAvailable,
				InsuranceStatus: domain.InsuranceStatusUninsured,
			}); err != nil {
				return err
			}
		}
		rec, err = r.Maintenance.GetByID(ctx, maintenanceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Maintenance completed", "maintenance_id", maintenanceID, "device_id", rec.DeviceID, "actor", actor)
	return rec, nil
}
