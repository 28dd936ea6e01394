package model

import "time"

// Default priors for a skill with no explicit initial settings.
const (
	DefaultPKnown   = 0.75
	DefaultPLearned = 0.33
	DefaultPGuess   = 0.33
	DefaultPMistake = 0.33
)

// MasteryKey identifies one mastery record.
type MasteryKey struct {
	PublisherID string
	SkillID     string
	StudentID   string
}

// Priors are the four BKT probabilities.
type Priors struct {
	PKnown   float64 `json:"probability_known"`
	PLearned float64 `json:"probability_learned"`
	PGuess   float64 `json:"probability_guess"`
	PMistake float64 `json:"probability_mistake"`
}

// DefaultPriors returns the canonical reset state.
func DefaultPriors() Priors {
	return Priors{
		PKnown:   DefaultPKnown,
		PLearned: DefaultPLearned,
		PGuess:   DefaultPGuess,
		PMistake: DefaultPMistake,
	}
}

// Mastery is the BKT state of one (publisher, skill, student) triple.
type Mastery struct {
	PublisherID string `json:"sender_entity_id"`
	SkillID     string `json:"skill_id"`
	StudentID   string `json:"student_id"`
	Priors
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the identity of the record.
func (m *Mastery) Key() MasteryKey {
	return MasteryKey{PublisherID: m.PublisherID, SkillID: m.SkillID, StudentID: m.StudentID}
}
