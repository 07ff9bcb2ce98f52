package persona

import "strings"

// Config captures the role-play sales persona derived once per session by
// the demo-setup agent and replayed into the demo agent on every turn.
type Config struct {
	Niche              string `json:"niche"`
	CompanyName        string `json:"company_name"`
	PersonaInstruction string `json:"persona_instruction"`
	WelcomeMessage     string `json:"welcome_message"`
}

// MissingFields lists required fields that are empty.
func (c Config) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(c.Niche) == "" {
		missing = append(missing, "niche")
	}
	if strings.TrimSpace(c.CompanyName) == "" {
		missing = append(missing, "company_name")
	}
	if strings.TrimSpace(c.PersonaInstruction) == "" {
		missing = append(missing, "persona_instruction")
	}
	if strings.TrimSpace(c.WelcomeMessage) == "" {
		missing = append(missing, "welcome_message")
	}
	return missing
}

// Complete reports whether all required fields are present.
func (c Config) Complete() bool {
	return len(c.MissingFields()) == 0
}
