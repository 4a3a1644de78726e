package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/lit-platform/progression/internal/curriculum"
)

// Store persists the unit/level catalog. Learner-facing flows only read;
// writes come from the authoring surface at publish time.
type Store interface {
	// SaveUnit publishes a unit with its levels. Republishing an unchanged
	// unit is a no-op; changing the content of a unit that learners have
	// already attempted is rejected (new content means a new unit).
	SaveUnit(ctx context.Context, unit curriculum.Unit, levels []curriculum.Level) error
	GetUnit(ctx context.Context, id string) (curriculum.Unit, error)
	// ListUnits returns a topic's units ordered by unit_order.
	ListUnits(ctx context.Context, topicID string) ([]curriculum.Unit, error)
	// ListLevels returns a unit's levels ordered by their position.
	ListLevels(ctx context.Context, unitID string) ([]curriculum.Level, error)
	GetLevel(ctx context.Context, id string) (curriculum.Level, error)
	// MarkAttempted records that some learner attempted a level of the unit,
	// freezing its content.
	MarkAttempted(ctx context.Context, unitID string) error
	WasAttempted(ctx context.Context, unitID string) (bool, error)
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu           sync.RWMutex
	units        map[string]curriculum.Unit
	levels       map[string][]curriculum.Level
	fingerprints map[string]string
	attempted    map[string]bool
}

// NewMemoryStore creates an empty in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units:        make(map[string]curriculum.Unit),
		levels:       make(map[string][]curriculum.Level),
		fingerprints: make(map[string]string),
		attempted:    make(map[string]bool),
	}
}

func (s *MemoryStore) SaveUnit(_ context.Context, unit curriculum.Unit, levels []curriculum.Level) error {
	fp := curriculum.Fingerprint(unit, levels)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.fingerprints[unit.ID]; ok && prev != fp && s.attempted[unit.ID] {
		return &curriculum.InvalidStateError{
			ID:     unit.ID,
			Reason: "unit has recorded attempts; publish changed content as a new unit",
		}
	}

	ordered := append([]curriculum.Level{}, levels...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LevelOrder < ordered[j].LevelOrder
	})
	for i := range ordered {
		ordered[i].UnitID = unit.ID
	}

	s.units[unit.ID] = unit
	s.levels[unit.ID] = ordered
	s.fingerprints[unit.ID] = fp
	return nil
}

func (s *MemoryStore) GetUnit(_ context.Context, id string) (curriculum.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return curriculum.Unit{}, &curriculum.NotFoundError{Kind: "unit", ID: id}
	}
	return u, nil
}

func (s *MemoryStore) ListUnits(_ context.Context, topicID string) ([]curriculum.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []curriculum.Unit
	for _, u := range s.units {
		if u.TopicID == topicID {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UnitOrder < out[j].UnitOrder
	})
	return out, nil
}

func (s *MemoryStore) ListLevels(_ context.Context, unitID string) ([]curriculum.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.units[unitID]; !ok {
		return nil, &curriculum.NotFoundError{Kind: "unit", ID: unitID}
	}
	return append([]curriculum.Level{}, s.levels[unitID]...), nil
}

func (s *MemoryStore) GetLevel(_ context.Context, id string) (curriculum.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, levels := range s.levels {
		for _, lv := range levels {
			if lv.ID == id {
				return lv, nil
			}
		}
	}
	return curriculum.Level{}, &curriculum.NotFoundError{Kind: "level", ID: id}
}

func (s *MemoryStore) MarkAttempted(_ context.Context, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempted[unitID] = true
	return nil
}

func (s *MemoryStore) WasAttempted(_ context.Context, unitID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempted[unitID], nil
}
