package domain

type ReturnCondition string

const (
	ReturnConditionGood    ReturnCondition = "good"
	ReturnConditionDamaged ReturnCondition = "damaged"
)

type CheckinRequest struct {
	PersonID  string          `json:"person_id"`
	DeviceID  int32           `json:"device_id"`
	Condition ReturnCondition `json:"condition"`
	// ServiceOnly marks a repair visit: the person keeps the device.
	ServiceOnly bool     `json:"service_only"`
	Issue       string   `json:"issue,omitempty"`
	Parts       []string `json:"parts,omitempty"`
	// Photos are base64-encoded images of the device.
	Photos      []string `json:"photos,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	ProcessedBy int32    `json:"processed_by"`
}

// TrueReturn reports whether the device leaves the person's hands.
func (r *CheckinRequest) TrueReturn() bool {
	return !r.ServiceOnly
}

func (r *CheckinRequest) NeedsMaintenance() bool {
	return r.ServiceOnly || r.Condition == ReturnConditionDamaged
}
