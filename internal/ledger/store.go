package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lit-platform/progression/internal/curriculum"
)

// Store persists the progress ledger: append-only level attempts plus the
// mutable unit assignment records. Implementations must make AppendAttempt
// and UpdateAssignment atomic under concurrent writers for the same
// learner; counters never double-count or lose updates.
type Store interface {
	// AppendAttempt persists an attempt, assigning the next attempt number
	// for the (learner, level) pair. Re-appending an attempt with an ID
	// already stored returns the stored row unchanged (retry idempotence).
	AppendAttempt(ctx context.Context, a LevelAttempt) (LevelAttempt, error)
	// Attempts returns the attempts for a learner and level, oldest first.
	Attempts(ctx context.Context, learnerID, levelID string) ([]LevelAttempt, error)
	// BestPerLevel returns the best-score rollup for the given levels.
	// Levels with no attempts are absent from the result.
	BestPerLevel(ctx context.Context, learnerID string, levelIDs []string) (map[string]LevelBest, error)
	// CreateAssignment stores a new assignment record.
	CreateAssignment(ctx context.Context, a UnitAssignment) (UnitAssignment, error)
	// OpenAssignment returns the learner's non-completed assignment for the
	// unit, or NotFoundError.
	OpenAssignment(ctx context.Context, learnerID, unitID string) (UnitAssignment, error)
	// UpdateAssignment runs a read-modify-write of the open assignment as
	// one atomic step.
	UpdateAssignment(ctx context.Context, learnerID, unitID string, update func(*UnitAssignment) error) (UnitAssignment, error)
	// CompletedUnitIDs lists units the learner has completed assignments for.
	CompletedUnitIDs(ctx context.Context, learnerID string) ([]string, error)
	// Stats aggregates the learner's best-score rollups.
	Stats(ctx context.Context, learnerID string) (LearnerStats, error)
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu          sync.Mutex
	attempts    map[string][]LevelAttempt // learner|level -> ordered attempts
	attemptByID map[string]LevelAttempt
	assignments map[string][]UnitAssignment // learner -> assignments
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts:    make(map[string][]LevelAttempt),
		attemptByID: make(map[string]LevelAttempt),
		assignments: make(map[string][]UnitAssignment),
	}
}

func attemptKey(learnerID, levelID string) string {
	return learnerID + "|" + levelID
}

func (s *MemoryStore) AppendAttempt(_ context.Context, a LevelAttempt) (LevelAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.attemptByID[a.ID]; ok {
		return existing, nil
	}

	key := attemptKey(a.LearnerID, a.LevelID)
	a.AttemptNumber = len(s.attempts[key]) + 1
	if a.CompletedAt.IsZero() {
		a.CompletedAt = time.Now()
	}
	s.attempts[key] = append(s.attempts[key], a)
	s.attemptByID[a.ID] = a
	return a, nil
}

func (s *MemoryStore) Attempts(_ context.Context, learnerID, levelID string) ([]LevelAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LevelAttempt{}, s.attempts[attemptKey(learnerID, levelID)]...), nil
}

func (s *MemoryStore) BestPerLevel(_ context.Context, learnerID string, levelIDs []string) (map[string]LevelBest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]LevelBest)
	for _, levelID := range levelIDs {
		attempts := s.attempts[attemptKey(learnerID, levelID)]
		if len(attempts) == 0 {
			continue
		}
		best := LevelBest{LevelID: levelID, Attempts: len(attempts)}
		for _, a := range attempts {
			if a.IsCorrect {
				best.Correct = true
				best.BestScore = 100
			}
		}
		out[levelID] = best
	}
	return out, nil
}

func (s *MemoryStore) CreateAssignment(_ context.Context, a UnitAssignment) (UnitAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = AssignmentPending
	}
	s.assignments[a.LearnerID] = append(s.assignments[a.LearnerID], a)
	return a, nil
}

func (s *MemoryStore) OpenAssignment(_ context.Context, learnerID, unitID string) (UnitAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, i := s.findOpen(learnerID, unitID); i >= 0 {
		return a, nil
	}
	return UnitAssignment{}, &curriculum.NotFoundError{Kind: "assignment", ID: learnerID + "/" + unitID}
}

func (s *MemoryStore) UpdateAssignment(_ context.Context, learnerID, unitID string, update func(*UnitAssignment) error) (UnitAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, i := s.findOpen(learnerID, unitID)
	if i < 0 {
		return UnitAssignment{}, &curriculum.NotFoundError{Kind: "assignment", ID: learnerID + "/" + unitID}
	}
	if err := update(&a); err != nil {
		return UnitAssignment{}, err
	}
	s.assignments[learnerID][i] = a
	return a, nil
}

// findOpen returns the learner's non-completed assignment for the unit.
// Caller holds the lock.
func (s *MemoryStore) findOpen(learnerID, unitID string) (UnitAssignment, int) {
	for i, a := range s.assignments[learnerID] {
		if a.UnitID == unitID && a.Status != AssignmentCompleted {
			return a, i
		}
	}
	return UnitAssignment{}, -1
}

func (s *MemoryStore) CompletedUnitIDs(_ context.Context, learnerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	var out []string
	for _, a := range s.assignments[learnerID] {
		if a.Status == AssignmentCompleted && !seen[a.UnitID] {
			seen[a.UnitID] = true
			out = append(out, a.UnitID)
		}
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context, learnerID string) (LearnerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats LearnerStats
	var sum float64
	prefix := learnerID + "|"
	for key, attempts := range s.attempts {
		if len(attempts) == 0 || !strings.HasPrefix(key, prefix) {
			continue
		}
		stats.TotalLevels++
		var best float64
		for _, a := range attempts {
			if a.IsCorrect {
				best = 100
			}
		}
		if best == 100 {
			stats.LevelsCompleted++
		}
		sum += best
	}
	if stats.TotalLevels > 0 {
		stats.AverageBestScore = sum / float64(stats.TotalLevels)
	}
	return stats, nil
}
