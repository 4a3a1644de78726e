// Package pathway defines reusable learning tracks as ordered step
// sequences and manages learner enrollment and step completion.
package pathway

import "time"

// StepType says what a pathway step points at.
type StepType string

const (
	StepLesson StepType = "lesson" // references a single level
	StepUnit   StepType = "unit"   // references a whole unit
)

// Pathway is a named learning track. Prerequisite pathway ids form a DAG;
// insertion runs the same cycle check as topic edges.
type Pathway struct {
	ID                     string
	BrandScope             string
	Code                   string
	Title                  string
	Type                   string
	TargetProficiency      string
	AppCode                string
	TopicIDs               []string
	PrerequisitePathwayIDs []string
	IsSequential           bool
	Steps                  []PathwayStep
	CreatedAt              time.Time
}

// PathwayStep is one entry in a pathway. Exactly one of LevelID/UnitID is
// set, matching StepType. StepOrder values are unique and contiguous from 1.
type PathwayStep struct {
	ID               string
	PathwayID        string
	StepOrder        int
	StepType         StepType
	LevelID          string
	UnitID           string
	IsRequired       bool
	EstimatedMinutes int
}

// EnrollmentStatus is the pathway-level progress state.
type EnrollmentStatus string

const (
	EnrollmentInProgress EnrollmentStatus = "in_progress"
	EnrollmentCompleted  EnrollmentStatus = "completed"
	EnrollmentAbandoned  EnrollmentStatus = "abandoned"
)

// StudentPathwayProgress tracks a learner's enrollment. StepsCompleted
// counts required steps; ProgressPercent is always recomputed from it,
// never patched incrementally.
type StudentPathwayProgress struct {
	ID               string
	LearnerID        string
	PathwayID        string
	EnrollmentSource string
	Status           EnrollmentStatus
	TotalSteps       int
	StepsCompleted   int
	ProgressPercent  float64
	EnrolledAt       time.Time
	CompletedAt      *time.Time
}

// StepStatus is the per-step progress state.
type StepStatus string

const (
	StepNotStarted StepStatus = "not_started"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// StudentStepProgress is one row per (learner, step), mutated in place.
type StudentStepProgress struct {
	LearnerID        string
	PathwayID        string
	StepID           string
	Status           StepStatus
	Score            *float64
	TimeSpentSeconds int
	UpdatedAt        time.Time
}

// Enrollment bundles a learner's pathway progress with its step rows. The
// store mutates the bundle as one atomic unit so the aggregate counters
// never drift from the step rows.
type Enrollment struct {
	Progress StudentPathwayProgress
	Steps    []StudentStepProgress
}

// StepUpdate carries the fields updateStepProgress may change.
type StepUpdate struct {
	Status           StepStatus
	Score            *float64
	TimeSpentSeconds int
}
