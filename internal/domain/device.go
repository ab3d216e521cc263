package domain

import "time"

type DeviceStatus string

const (
	DeviceStatusAvailable        DeviceStatus = "available"
	DeviceStatusCheckedOut       DeviceStatus = "checked_out"
	DeviceStatusPendingSignature DeviceStatus = "pending_signature"
	DeviceStatusMaintenance      DeviceStatus = "maintenance"
	DeviceStatusInService        DeviceStatus = "in_service"
	DeviceStatusLost             DeviceStatus = "lost"
	DeviceStatusDisabled         DeviceStatus = "disabled"
)

// Held reports whether a device in this status must have a current holder.
func (s DeviceStatus) Held() bool {
	return s == DeviceStatusCheckedOut || s == DeviceStatusPendingSignature
}

type InsuranceStatus string

const (
	InsuranceStatusUninsured InsuranceStatus = "uninsured"
	InsuranceStatusPending   InsuranceStatus = "pending"
	InsuranceStatusInsured   InsuranceStatus = "insured"
)

type Device struct {
	ID              int32           `json:"id"`
	AssetTag        string          `json:"asset_tag"`
	SerialNumber    string          `json:"serial_number"`
	Model           string          `json:"model"`
	Status          DeviceStatus    `json:"status"`
	CurrentHolder   *string         `json:"current_holder,omitempty"`
	InsuranceStatus InsuranceStatus `json:"insurance_status"`
	InService       bool            `json:"in_service"`
	UpdatedOn       time.Time       `json:"updated_on"`
}

// HeldBy reports whether personID is the device's current holder.
func (d *Device) HeldBy(personID string) bool {
	return d.CurrentHolder != nil && *d.CurrentHolder == personID
}

// DeviceTransition is a conditional device write: it only applies when the
// device is still in FromStatus.
type DeviceTransition struct {
	DeviceID        int32
	FromStatus      DeviceStatus
	ToStatus        DeviceStatus
	Holder          *string
	InsuranceStatus InsuranceStatus
	InService       bool
}
