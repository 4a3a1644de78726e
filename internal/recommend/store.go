package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lit-platform/progression/internal/curriculum"
)

const dbTimeout = 5 * time.Second

// MasteryStore persists the derived skill mastery cache.
type MasteryStore interface {
	Upsert(ctx context.Context, m SkillMastery) error
	Get(ctx context.Context, learnerID, appCode, skillID string) (SkillMastery, error)
	// List returns a learner's mastery rows for an app.
	List(ctx context.Context, learnerID, appCode string) ([]SkillMastery, error)
}

// MemoryMasteryStore is an in-memory MasteryStore.
type MemoryMasteryStore struct {
	mu   sync.RWMutex
	rows map[string]SkillMastery
}

// NewMemoryMasteryStore creates an empty in-memory mastery store.
func NewMemoryMasteryStore() *MemoryMasteryStore {
	return &MemoryMasteryStore{rows: make(map[string]SkillMastery)}
}

func masteryKey(learnerID, appCode, skillID string) string {
	return learnerID + "|" + appCode + "|" + skillID
}

func (s *MemoryMasteryStore) Upsert(_ context.Context, m SkillMastery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	s.rows[masteryKey(m.LearnerID, m.AppCode, m.SkillID)] = m
	return nil
}

func (s *MemoryMasteryStore) Get(_ context.Context, learnerID, appCode, skillID string) (SkillMastery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.rows[masteryKey(learnerID, appCode, skillID)]
	if !ok {
		return SkillMastery{}, &curriculum.NotFoundError{Kind: "skill mastery", ID: skillID}
	}
	return m, nil
}

func (s *MemoryMasteryStore) List(_ context.Context, learnerID, appCode string) ([]SkillMastery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SkillMastery
	for _, m := range s.rows {
		if m.LearnerID == learnerID && m.AppCode == appCode {
			out = append(out, m)
		}
	}
	return out, nil
}

// PostgresMasteryStore is a PostgreSQL-backed MasteryStore over the
// skill_mastery table.
type PostgresMasteryStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMasteryStore creates a PostgreSQL-backed mastery store.
func NewPostgresMasteryStore(pool *pgxpool.Pool) (*PostgresMasteryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresMasteryStore{pool: pool}, nil
}

func (s *PostgresMasteryStore) Upsert(ctx context.Context, m SkillMastery) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO skill_mastery (user_id, app_code, skill_id, mastery_level, proficiency,
		                            units_completed, total_units, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (user_id, app_code, skill_id) DO UPDATE SET
		   mastery_level = EXCLUDED.mastery_level,
		   proficiency = EXCLUDED.proficiency,
		   units_completed = EXCLUDED.units_completed,
		   total_units = EXCLUDED.total_units,
		   updated_at = NOW()`,
		m.LearnerID, m.AppCode, m.SkillID, m.MasteryLevel, string(m.Proficiency),
		m.UnitsCompleted, m.TotalUnits,
	)
	if err != nil {
		return fmt.Errorf("upsert mastery: %w", err)
	}
	return nil
}

func (s *PostgresMasteryStore) Get(ctx context.Context, learnerID, appCode, skillID string) (SkillMastery, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	m, err := scanMastery(s.pool.QueryRow(ctx,
		masteryQuery+` AND skill_id = $3`,
		learnerID, appCode, skillID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SkillMastery{}, &curriculum.NotFoundError{Kind: "skill mastery", ID: skillID}
		}
		return SkillMastery{}, err
	}
	return m, nil
}

const masteryQuery = `
	SELECT user_id::text, app_code, skill_id, mastery_level, proficiency,
	       units_completed, total_units, updated_at
	FROM skill_mastery
	WHERE user_id = $1::uuid AND app_code = $2`

func (s *PostgresMasteryStore) List(ctx context.Context, learnerID, appCode string) ([]SkillMastery, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, masteryQuery, learnerID, appCode)
	if err != nil {
		return nil, fmt.Errorf("query mastery: %w", err)
	}
	defer rows.Close()

	var out []SkillMastery
	for rows.Next() {
		m, err := scanMastery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mastery: %w", err)
	}
	return out, nil
}

func scanMastery(row pgx.Row) (SkillMastery, error) {
	var m SkillMastery
	var proficiency string
	err := row.Scan(&m.LearnerID, &m.AppCode, &m.SkillID, &m.MasteryLevel, &proficiency,
		&m.UnitsCompleted, &m.TotalUnits, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SkillMastery{}, pgx.ErrNoRows
		}
		return SkillMastery{}, fmt.Errorf("scan mastery: %w", err)
	}
	m.Proficiency = Proficiency(proficiency)
	return m, nil
}
