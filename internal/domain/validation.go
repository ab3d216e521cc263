package domain

type CheckResult struct {
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

func (c *CheckResult) Fail(problem string) {
	c.OK = false
	c.Problems = append(c.Problems, problem)
}

type PreflightReport struct {
	StudentData     CheckResult `json:"student_data"`
	DeviceAvailable CheckResult `json:"device_available"`
	Signatures      CheckResult `json:"signatures"`
	BusinessRules   CheckResult `json:"business_rules"`
	Overall         bool        `json:"overall"`
}

func (r *PreflightReport) Problems() []string {
	var all []string
	for _, c := range []CheckResult{r.StudentData, r.DeviceAvailable, r.Signatures, r.BusinessRules} {
		all = append(all, c.Problems...)
	}
	return all
}

type PostflightReport struct {
	SessionID              string          `json:"session_id"`
	ExpectedDeviceStatus   DeviceStatus    `json:"expected_device_status"`
	ActualDeviceStatus     DeviceStatus    `json:"actual_device_status"`
	ExpectedInsurance      InsuranceStatus `json:"expected_insurance"`
	ActualInsurance        InsuranceStatus `json:"actual_insurance"`
	DeviceStatusOK         bool            `json:"device_status_ok"`
	InsuranceStatusOK      bool            `json:"insurance_status_ok"`
	RecordOK               bool            `json:"record_ok"`
	StatusCorrection       bool            `json:"status_correction"`
	Corrections            []string        `json:"corrections,omitempty"`
	ExternalNotificationOK bool            `json:"external_notification_ok"`
	Overall                bool            `json:"overall"`
}
