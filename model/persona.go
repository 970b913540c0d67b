package model

import "strings"

// Persona is the role the risk analysis is weighted for
type Persona string

const (
	PersonaTenant     Persona = "tenant"
	PersonaFreelancer Persona = "freelancer"
	PersonaSMB        Persona = "smb"
)

// DefaultPersona is used until the user picks one
const DefaultPersona = PersonaTenant

// Personas lists the selectable personas in display order
var Personas = []Persona{PersonaTenant, PersonaFreelancer, PersonaSMB}

// ParsePersona converts user input into a Persona
func ParsePersona(s string) (Persona, bool) {
	switch Persona(strings.ToLower(strings.TrimSpace(s))) {
	case PersonaTenant:
		return PersonaTenant, true
	case PersonaFreelancer:
		return PersonaFreelancer, true
	case PersonaSMB:
		return PersonaSMB, true
	}
	return "", false
}

func (p Persona) Label() string {
	switch p {
	case PersonaTenant:
		return "Tenant"
	case PersonaFreelancer:
		return "Freelancer"
	case PersonaSMB:
		return "Small Business"
	}
	return ""
}

func (p Persona) Description() string {
	switch p {
	case PersonaTenant:
		return "Individual renting property"
	case PersonaFreelancer:
		return "Independent contractor"
	case PersonaSMB:
		return "Small to medium business"
	}
	return ""
}
