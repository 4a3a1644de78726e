package ledger

import "time"

// LevelAttempt is one append-only row in the progress ledger. Attempt
// numbers are monotonic per (learner, level) and never reused.
type LevelAttempt struct {
	ID               string
	LearnerID        string
	LevelID          string
	AttemptNumber    int
	StartedAt        time.Time
	CompletedAt      time.Time
	Answer           string
	IsCorrect        bool
	TimeSpentSeconds int
}

// AssignmentStatus is the unit assignment state machine. Transitions are
// monotonic: pending -> in_progress -> completed, never backwards.
type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// UnitAssignment binds a learner to a unit. One open assignment per
// (learner, unit); completion freezes it with the unit score.
type UnitAssignment struct {
	ID          string
	LearnerID   string
	UnitID      string
	AssignedBy  string
	Reason      string
	Status      AssignmentStatus
	AssignedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Score       *float64
}

// LevelBest is the per-(learner, level) rollup maintained alongside the
// append-only attempts.
type LevelBest struct {
	LevelID   string
	Attempts  int
	BestScore float64
	Correct   bool
}

// LearnerStats summarizes a learner's ledger across all levels.
type LearnerStats struct {
	TotalLevels      int
	LevelsCompleted  int
	AverageBestScore float64
}
