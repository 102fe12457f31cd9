// Package profile stores each user's profile and the "therapist brain":
// the personal details learned across sessions.
package profile

import (
	"time"

	"github.com/HerbHall/counsellor/internal/details"
)

// Section is a free-form profile section such as demographics or health.
type Section map[string]any

// Profile is one user's intake answers plus learned personal details.
type Profile struct {
	Name                  string          `json:"name" example:"River"`
	Demographics          Section         `json:"demographics"`
	Spirituality          Section         `json:"spirituality"`
	TherapyGoals          Section         `json:"therapy_goals"`
	Preferences           Section         `json:"preferences"`
	Health                Section         `json:"health"`
	MentalHealthScreening Section         `json:"mental_health_screening"`
	SensitiveTopics       Section         `json:"sensitive_topics"`
	PersonalDetails       details.Details `json:"personal_details" swaggertype:"object"`
	IntakeCompleted       bool            `json:"intake_completed"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// sections lists the JSON-text columns in storage order.
func (p *Profile) sections() []*Section {
	return []*Section{
		&p.Demographics, &p.Spirituality, &p.TherapyGoals, &p.Preferences,
		&p.Health, &p.MentalHealthScreening, &p.SensitiveTopics,
	}
}

// normalize replaces nil sections and details with empty ones.
func (p *Profile) normalize() {
	for _, s := range p.sections() {
		if *s == nil {
			*s = Section{}
		}
	}
	if p.PersonalDetails == nil {
		p.PersonalDetails = details.Details{}
	}
}
