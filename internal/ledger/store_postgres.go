package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/platform/database"
)

const (
	dbTimeout = 5 * time.Second
	// Concurrent attempt inserts race on the next attempt number; losers
	// retry up to this many times before ConflictError.
	maxAttemptRetries = 3

	uniqueViolation = "23505"
)

// PostgresStore is a PostgreSQL-backed ledger Store over the
// level_progress and unit_assignment tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) AppendAttempt(ctx context.Context, a LevelAttempt) (LevelAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if a.CompletedAt.IsZero() {
		a.CompletedAt = time.Now()
	}

	for retry := 0; retry < maxAttemptRetries; retry++ {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO level_progress (id, user_id, level_id, attempt_number, started_at,
			                             completed_at, user_answer, is_correct, time_spent_seconds)
			 SELECT $1::uuid, $2::uuid, $3::uuid,
			        COALESCE(MAX(attempt_number), 0) + 1, $4, $5, $6, $7, $8
			 FROM level_progress
			 WHERE user_id = $2::uuid AND level_id = $3::uuid
			 ON CONFLICT (id) DO NOTHING`,
			a.ID,
			a.LearnerID,
			a.LevelID,
			a.StartedAt,
			a.CompletedAt,
			a.Answer,
			a.IsCorrect,
			a.TimeSpentSeconds,
		)
		if err == nil {
			if tag.RowsAffected() == 0 {
				// Replayed attempt id; return the stored row unchanged.
				return s.attemptByID(ctx, a.ID)
			}
			return s.attemptByID(ctx, a.ID)
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Another writer took this attempt number.
			continue
		}
		return LevelAttempt{}, fmt.Errorf("insert attempt: %w", err)
	}
	return LevelAttempt{}, &curriculum.ConflictError{
		Op: "append attempt",
		ID: a.LearnerID + "/" + a.LevelID,
	}
}

func (s *PostgresStore) attemptByID(ctx context.Context, id string) (LevelAttempt, error) {
	var a LevelAttempt
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, user_id::text, level_id::text, attempt_number, started_at,
		        completed_at, user_answer, is_correct, time_spent_seconds
		 FROM level_progress
		 WHERE id = $1::uuid`,
		id,
	).Scan(&a.ID, &a.LearnerID, &a.LevelID, &a.AttemptNumber, &a.StartedAt,
		&a.CompletedAt, &a.Answer, &a.IsCorrect, &a.TimeSpentSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LevelAttempt{}, &curriculum.NotFoundError{Kind: "attempt", ID: id}
		}
		return LevelAttempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Attempts(ctx context.Context, learnerID, levelID string) ([]LevelAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, user_id::text, level_id::text, attempt_number, started_at,
		        completed_at, user_answer, is_correct, time_spent_seconds
		 FROM level_progress
		 WHERE user_id = $1::uuid AND level_id = $2::uuid
		 ORDER BY attempt_number ASC`,
		learnerID, levelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []LevelAttempt
	for rows.Next() {
		var a LevelAttempt
		if err := rows.Scan(&a.ID, &a.LearnerID, &a.LevelID, &a.AttemptNumber, &a.StartedAt,
			&a.CompletedAt, &a.Answer, &a.IsCorrect, &a.TimeSpentSeconds); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) BestPerLevel(ctx context.Context, learnerID string, levelIDs []string) (map[string]LevelBest, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if len(levelIDs) == 0 {
		return map[string]LevelBest{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT level_id::text, COUNT(*), BOOL_OR(is_correct)
		 FROM level_progress
		 WHERE user_id = $1::uuid AND level_id = ANY($2::uuid[])
		 GROUP BY level_id`,
		learnerID, levelIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query best per level: %w", err)
	}
	defer rows.Close()

	out := make(map[string]LevelBest)
	for rows.Next() {
		var b LevelBest
		if err := rows.Scan(&b.LevelID, &b.Attempts, &b.Correct); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		if b.Correct {
			b.BestScore = 100
		}
		out[b.LevelID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollups: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateAssignment(ctx context.Context, a UnitAssignment) (UnitAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = AssignmentPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO unit_assignment (id, user_id, unit_id, assigned_by, assignment_reason,
		                              status, assigned_at)
		 VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7)`,
		a.ID, a.LearnerID, a.UnitID, a.AssignedBy, a.Reason, string(a.Status), a.AssignedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return UnitAssignment{}, &curriculum.ConflictError{Op: "create assignment", ID: a.ID}
		}
		return UnitAssignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) OpenAssignment(ctx context.Context, learnerID, unitID string) (UnitAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := scanAssignment(s.pool.QueryRow(ctx,
		openAssignmentQuery, learnerID, unitID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UnitAssignment{}, &curriculum.NotFoundError{Kind: "assignment", ID: learnerID + "/" + unitID}
		}
		return UnitAssignment{}, err
	}
	return a, nil
}

const openAssignmentQuery = `
	SELECT id::text, user_id::text, unit_id::text, assigned_by, assignment_reason,
	       status, assigned_at, started_at, completed_at, unit_score
	FROM unit_assignment
	WHERE user_id = $1::uuid AND unit_id = $2::uuid AND status <> 'completed'
	ORDER BY assigned_at DESC
	LIMIT 1`

func (s *PostgresStore) UpdateAssignment(ctx context.Context, learnerID, unitID string, update func(*UnitAssignment) error) (UnitAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var out UnitAssignment
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		a, err := scanAssignment(tx.QueryRow(ctx, openAssignmentQuery+` FOR UPDATE`, learnerID, unitID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &curriculum.NotFoundError{Kind: "assignment", ID: learnerID + "/" + unitID}
			}
			return err
		}
		if err := update(&a); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE unit_assignment
			 SET status = $2, started_at = $3, completed_at = $4, unit_score = $5
			 WHERE id = $1::uuid`,
			a.ID, string(a.Status), a.StartedAt, a.CompletedAt, a.Score,
		)
		if err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return UnitAssignment{}, err
	}
	return out, nil
}

func (s *PostgresStore) CompletedUnitIDs(ctx context.Context, learnerID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT unit_id::text
		 FROM unit_assignment
		 WHERE user_id = $1::uuid AND status = 'completed'`,
		learnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query completed units: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unit id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed units: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Stats(ctx context.Context, learnerID string) (LearnerStats, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var stats LearnerStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN correct THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(CASE WHEN correct THEN 100.0 ELSE 0.0 END), 0)
		 FROM (SELECT BOOL_OR(is_correct) AS correct
		       FROM level_progress
		       WHERE user_id = $1::uuid
		       GROUP BY level_id) per_level`,
		learnerID,
	).Scan(&stats.TotalLevels, &stats.LevelsCompleted, &stats.AverageBestScore)
	if err != nil {
		return LearnerStats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}

func scanAssignment(row pgx.Row) (UnitAssignment, error) {
	var a UnitAssignment
	var status string
	err := row.Scan(&a.ID, &a.LearnerID, &a.UnitID, &a.AssignedBy, &a.Reason,
		&status, &a.AssignedAt, &a.StartedAt, &a.CompletedAt, &a.Score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UnitAssignment{}, pgx.ErrNoRows
		}
		return UnitAssignment{}, fmt.Errorf("scan assignment: %w", err)
	}
	a.Status = AssignmentStatus(status)
	return a, nil
}
