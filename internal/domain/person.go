package domain

type Person struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Grade       string `json:"grade"`
	ParentEmail string `json:"parent_email"`
	Active      bool   `json:"active"`
}

func (p *Person) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// MissingFields lists the required fields a checkout cannot proceed without.
func (p *Person) MissingFields() []string {
	var missing []string
	if p.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if p.LastName == "" {
		missing = append(missing, "last_name")
	}
	if p.Email == "" {
		missing = append(missing, "email")
	}
	return missing
}
