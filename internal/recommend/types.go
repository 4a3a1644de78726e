// Package recommend derives skill mastery from completed work and ranks
// unlocked pathways for each learner.
package recommend

import "time"

// Proficiency buckets a mastery level.
type Proficiency string

const (
	ProficiencyBeginner     Proficiency = "beginner"
	ProficiencyIntermediate Proficiency = "intermediate"
	ProficiencyAdvanced     Proficiency = "advanced"
	ProficiencyExpert       Proficiency = "expert"
)

// ProficiencyFor buckets a 0..100 mastery level.
func ProficiencyFor(masteryLevel int) Proficiency {
	switch {
	case masteryLevel < 40:
		return ProficiencyBeginner
	case masteryLevel < 70:
		return ProficiencyIntermediate
	case masteryLevel < 90:
		return ProficiencyAdvanced
	default:
		return ProficiencyExpert
	}
}

// SkillMastery is the cached per-skill aggregate. Recomputed on completion
// events, never on read.
type SkillMastery struct {
	LearnerID      string      `json:"learner_id"`
	AppCode        string      `json:"app_code"`
	SkillID        string      `json:"skill_id"`
	MasteryLevel   int         `json:"mastery_level"`
	Proficiency    Proficiency `json:"proficiency"`
	UnitsCompleted int         `json:"units_completed"`
	TotalUnits     int         `json:"total_units"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Recommendation is one ranked candidate pathway.
type Recommendation struct {
	PathwayID   string    `json:"pathway_id"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	Reasons     []string  `json:"reasons"`
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
