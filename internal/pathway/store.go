package pathway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lit-platform/progression/internal/curriculum"
)

// Store persists pathways and enrollments. ReplaceSteps and
// UpdateEnrollment are atomic: a partial renumber or a counter update that
// loses a concurrent write must never be observable.
type Store interface {
	CreatePathway(ctx context.Context, p Pathway) error
	GetPathway(ctx context.Context, id string) (Pathway, error)
	// ListPathways returns pathways for an app code ordered by creation
	// time, earliest first.
	ListPathways(ctx context.Context, appCode string) ([]Pathway, error)
	// ReplaceSteps swaps a pathway's full step set in one atomic write.
	ReplaceSteps(ctx context.Context, pathwayID string, steps []PathwayStep) error
	CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
	GetEnrollment(ctx context.Context, learnerID, pathwayID string) (Enrollment, error)
	// UpdateEnrollment runs a read-modify-write of the enrollment bundle
	// as one atomic step.
	UpdateEnrollment(ctx context.Context, learnerID, pathwayID string, update func(*Enrollment) error) (Enrollment, error)
	// ListEnrollments returns all of a learner's enrollments.
	ListEnrollments(ctx context.Context, learnerID string) ([]Enrollment, error)
	// CompletedPathwayIDs lists pathways the learner has completed.
	CompletedPathwayIDs(ctx context.Context, learnerID string) ([]string, error)
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu          sync.Mutex
	pathways    map[string]Pathway
	enrollments map[string]Enrollment // learner|pathway
}

// NewMemoryStore creates an empty in-memory pathway store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pathways:    make(map[string]Pathway),
		enrollments: make(map[string]Enrollment),
	}
}

func enrollmentKey(learnerID, pathwayID string) string {
	return learnerID + "|" + pathwayID
}

func (s *MemoryStore) CreatePathway(_ context.Context, p Pathway) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pathways[p.ID]; ok {
		return &curriculum.InvalidStateError{ID: p.ID, Reason: "pathway already exists"}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.pathways[p.ID] = clonePathway(p)
	return nil
}

func (s *MemoryStore) GetPathway(_ context.Context, id string) (Pathway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pathways[id]
	if !ok {
		return Pathway{}, &curriculum.NotFoundError{Kind: "pathway", ID: id}
	}
	return clonePathway(p), nil
}

func (s *MemoryStore) ListPathways(_ context.Context, appCode string) ([]Pathway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Pathway
	for _, p := range s.pathways {
		if appCode == "" || p.AppCode == appCode {
			out = append(out, clonePathway(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ReplaceSteps(_ context.Context, pathwayID string, steps []PathwayStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pathways[pathwayID]
	if !ok {
		return &curriculum.NotFoundError{Kind: "pathway", ID: pathwayID}
	}
	p.Steps = append([]PathwayStep{}, steps...)
	s.pathways[pathwayID] = p
	return nil
}

func (s *MemoryStore) CreateEnrollment(_ context.Context, e Enrollment) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := enrollmentKey(e.Progress.LearnerID, e.Progress.PathwayID)
	if existing, ok := s.enrollments[key]; ok {
		return cloneEnrollment(existing), nil
	}
	if e.Progress.EnrolledAt.IsZero() {
		e.Progress.EnrolledAt = time.Now()
	}
	s.enrollments[key] = cloneEnrollment(e)
	return e, nil
}

func (s *MemoryStore) GetEnrollment(_ context.Context, learnerID, pathwayID string) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[enrollmentKey(learnerID, pathwayID)]
	if !ok {
		return Enrollment{}, &curriculum.NotFoundError{Kind: "enrollment", ID: learnerID + "/" + pathwayID}
	}
	return cloneEnrollment(e), nil
}

func (s *MemoryStore) UpdateEnrollment(_ context.Context, learnerID, pathwayID string, update func(*Enrollment) error) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := enrollmentKey(learnerID, pathwayID)
	e, ok := s.enrollments[key]
	if !ok {
		return Enrollment{}, &curriculum.NotFoundError{Kind: "enrollment", ID: learnerID + "/" + pathwayID}
	}
	working := cloneEnrollment(e)
	if err := update(&working); err != nil {
		return Enrollment{}, err
	}
	s.enrollments[key] = cloneEnrollment(working)
	return working, nil
}

func (s *MemoryStore) ListEnrollments(_ context.Context, learnerID string) ([]Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Enrollment
	for _, e := range s.enrollments {
		if e.Progress.LearnerID == learnerID {
			out = append(out, cloneEnrollment(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Progress.EnrolledAt.Before(out[j].Progress.EnrolledAt)
	})
	return out, nil
}

func (s *MemoryStore) CompletedPathwayIDs(_ context.Context, learnerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, e := range s.enrollments {
		if e.Progress.LearnerID == learnerID && e.Progress.Status == EnrollmentCompleted {
			out = append(out, e.Progress.PathwayID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func clonePathway(p Pathway) Pathway {
	p.TopicIDs = append([]string{}, p.TopicIDs...)
	p.PrerequisitePathwayIDs = append([]string{}, p.PrerequisitePathwayIDs...)
	p.Steps = append([]PathwayStep{}, p.Steps...)
	return p
}

func cloneEnrollment(e Enrollment) Enrollment {
	e.Steps = append([]StudentStepProgress{}, e.Steps...)
	return e
}
