package domain

import "time"

type MaintenanceStatus string

const (
	MaintenanceStatusOpen      MaintenanceStatus = "open"
	MaintenanceStatusCompleted MaintenanceStatus = "completed"
)

type MaintenanceRecord struct {
	ID          int32             `json:"id"`
	DeviceID    int32             `json:"device_id"`
	PersonID    string            `json:"person_id"`
	SessionID   string            `json:"session_id"`
	Condition   ReturnCondition   `json:"condition"`
	ServiceOnly bool              `json:"service_only"`
	Issue       string            `json:"issue"`
	Parts       []string          `json:"parts"`
	PhotoURLs   []string          `json:"photo_urls"`
	Status      MaintenanceStatus `json:"status"`
	Notes       string            `json:"notes"`
	CreatedBy   int32             `json:"created_by"`
	CreatedOn   time.Time         `json:"created_on"`
	CompletedBy *int32            `json:"completed_by,omitempty"`
	CompletedOn *time.Time        `json:"completed_on,omitempty"`
}
