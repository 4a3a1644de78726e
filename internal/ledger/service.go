// Package ledger records learner progress: append-only level attempts,
// best-score rollups, and the unit assignment state machine.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lit-platform/progression/internal/curriculum"
)

// ContentSource is the slice of the catalog the ledger consults when
// grading attempts and rolling up unit completion.
type ContentSource interface {
	GetLevel(ctx context.Context, id string) (curriculum.Level, error)
	GetUnit(ctx context.Context, id string) (curriculum.Unit, error)
	ListLevels(ctx context.Context, unitID string) ([]curriculum.Level, error)
	NoteAttempt(ctx context.Context, unitID string) error
}

// Config tunes grading and scoring.
type Config struct {
	Grader Grader
	// PartialCredit is the best-score awarded to a level that was attempted
	// but never answered correctly. Counted into the unit score mean.
	PartialCredit float64
}

// Service is the progress ledger API.
type Service struct {
	store   Store
	content ContentSource
	events  EventLogger
	cfg     Config
}

// NewService wires the ledger. A nil events logger is replaced with a nop.
func NewService(store Store, content ContentSource, events EventLogger, cfg Config) *Service {
	if events == nil {
		events = NopEventLogger{}
	}
	return &Service{store: store, content: content, events: events, cfg: cfg}
}

// RecordAttempt grades and appends a level attempt, then advances the
// owning unit assignment. The attempt number is assigned by the store;
// callers never choose it. Passing a non-empty attemptID makes the call
// idempotent: retrying with the same id returns the stored attempt.
func (s *Service) RecordAttempt(ctx context.Context, attemptID, learnerID, levelID, answer string, timeSpentSeconds int) (LevelAttempt, error) {
	if learnerID == "" {
		return LevelAttempt{}, fmt.Errorf("learner id is required")
	}
	level, err := s.content.GetLevel(ctx, levelID)
	if err != nil {
		return LevelAttempt{}, fmt.Errorf("level %s: %w", levelID, err)
	}

	if attemptID == "" {
		attemptID = uuid.NewString()
	}
	now := time.Now()
	attempt := LevelAttempt{
		ID:               attemptID,
		LearnerID:        learnerID,
		LevelID:          levelID,
		StartedAt:        now.Add(-time.Duration(timeSpentSeconds) * time.Second),
		CompletedAt:      now,
		Answer:           answer,
		IsCorrect:        s.cfg.Grader.Grade(level, answer),
		TimeSpentSeconds: timeSpentSeconds,
	}

	stored, err := s.store.AppendAttempt(ctx, attempt)
	if err != nil {
		return LevelAttempt{}, fmt.Errorf("append attempt: %w", err)
	}

	// First attempt against a unit freezes its content.
	if err := s.content.NoteAttempt(ctx, level.UnitID); err != nil {
		slog.Warn("mark unit attempted", "unit_id", level.UnitID, "error", err)
	}

	if err := s.advanceAssignment(ctx, learnerID, level.UnitID); err != nil {
		return LevelAttempt{}, fmt.Errorf("advance assignment: %w", err)
	}

	if err := s.events.LogEvent(ProgressEvent{
		LearnerID: learnerID,
		EventType: EventAttemptRecorded,
		SubjectID: levelID,
		Data: map[string]any{
			"attempt_number": stored.AttemptNumber,
			"is_correct":     stored.IsCorrect,
			"unit_id":        level.UnitID,
		},
	}); err != nil {
		slog.Warn("log attempt event", "error", err)
	}

	return stored, nil
}

// advanceAssignment applies the state machine after an attempt: the open
// assignment moves pending -> in_progress on the unit's first attempt and
// in_progress -> completed once every required level has a correct attempt.
// No open assignment is not an error; self-directed practice is allowed.
func (s *Service) advanceAssignment(ctx context.Context, learnerID, unitID string) error {
	levels, err := s.content.ListLevels(ctx, unitID)
	if err != nil {
		return fmt.Errorf("list levels for %s: %w", unitID, err)
	}

	var requiredIDs, allIDs []string
	for _, l := range levels {
		allIDs = append(allIDs, l.ID)
		if levelRequired(l) {
			requiredIDs = append(requiredIDs, l.ID)
		}
	}

	best, err := s.store.BestPerLevel(ctx, learnerID, allIDs)
	if err != nil {
		return fmt.Errorf("best per level: %w", err)
	}

	allPassed := len(requiredIDs) > 0
	for _, id := range requiredIDs {
		if !best[id].Correct {
			allPassed = false
			break
		}
	}

	now := time.Now()
	var completed bool
	updated, err := s.store.UpdateAssignment(ctx, learnerID, unitID, func(a *UnitAssignment) error {
		if a.Status == AssignmentPending {
			a.Status = AssignmentInProgress
			a.StartedAt = &now
		}
		if allPassed && a.Status == AssignmentInProgress {
			a.Status = AssignmentCompleted
			a.CompletedAt = &now
			score := s.unitScore(allIDs, best)
			a.Score = &score
			completed = true
		}
		return nil
	})
	if err != nil {
		var nf *curriculum.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}

	if completed {
		if err := s.events.LogEvent(ProgressEvent{
			LearnerID: learnerID,
			EventType: EventUnitCompleted,
			SubjectID: unitID,
			Data: map[string]any{
				"assignment_id": updated.ID,
				"score":         *updated.Score,
			},
		}); err != nil {
			slog.Warn("log completion event", "error", err)
		}
		slog.Info("unit completed",
			"learner_id", learnerID,
			"unit_id", unitID,
			"score", *updated.Score,
		)
	}
	return nil
}

// unitScore is the mean of best-per-level scores across the unit's graded
// levels: 100 for a level answered correctly on any attempt, the partial
// credit otherwise.
func (s *Service) unitScore(levelIDs []string, best map[string]LevelBest) float64 {
	if len(levelIDs) == 0 {
		return 0
	}
	var sum float64
	for _, id := range levelIDs {
		if best[id].Correct {
			sum += 100
		} else {
			sum += s.cfg.PartialCredit
		}
	}
	return sum / float64(len(levelIDs))
}

// levelRequired reports whether the level gates unit completion. Teaching
// levels present content without a graded answer.
func levelRequired(l curriculum.Level) bool {
	return l.Type != curriculum.LevelTeach
}

// AssignUnit creates a pending assignment for the learner. If an open
// assignment for the unit already exists it is returned unchanged, so
// repeated assignment calls are idempotent.
func (s *Service) AssignUnit(ctx context.Context, learnerID, unitID, assignedBy, reason string) (UnitAssignment, error) {
	if _, err := s.content.GetUnit(ctx, unitID); err != nil {
		return UnitAssignment{}, fmt.Errorf("unit %s: %w", unitID, err)
	}

	existing, err := s.store.OpenAssignment(ctx, learnerID, unitID)
	if err == nil {
		return existing, nil
	}
	var nf *curriculum.NotFoundError
	if !errors.As(err, &nf) {
		return UnitAssignment{}, fmt.Errorf("open assignment: %w", err)
	}

	a := UnitAssignment{
		ID:         uuid.NewString(),
		LearnerID:  learnerID,
		UnitID:     unitID,
		AssignedBy: assignedBy,
		Reason:     reason,
		Status:     AssignmentPending,
		AssignedAt: time.Now(),
	}
	created, err := s.store.CreateAssignment(ctx, a)
	if err != nil {
		return UnitAssignment{}, fmt.Errorf("create assignment: %w", err)
	}

	slog.Info("unit assigned",
		"learner_id", learnerID,
		"unit_id", unitID,
		"assigned_by", assignedBy,
	)
	return created, nil
}

// Attempts returns the learner's attempt history for a level, oldest first.
func (s *Service) Attempts(ctx context.Context, learnerID, levelID string) ([]LevelAttempt, error) {
	return s.store.Attempts(ctx, learnerID, levelID)
}

// BestScores returns the learner's best-score rollup for a unit's levels.
func (s *Service) BestScores(ctx context.Context, learnerID, unitID string) (map[string]LevelBest, error) {
	levels, err := s.content.ListLevels(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("list levels for %s: %w", unitID, err)
	}
	ids := make([]string, len(levels))
	for i, l := range levels {
		ids[i] = l.ID
	}
	return s.store.BestPerLevel(ctx, learnerID, ids)
}

// CompletedUnitIDs lists units the learner has completed. Satisfies the
// catalog's ProgressReader.
func (s *Service) CompletedUnitIDs(ctx context.Context, learnerID string) ([]string, error) {
	return s.store.CompletedUnitIDs(ctx, learnerID)
}

// Stats aggregates the learner's ledger.
func (s *Service) Stats(ctx context.Context, learnerID string) (LearnerStats, error) {
	return s.store.Stats(ctx, learnerID)
}
