package pathway

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

	uniqueViolation = "23505"
)

// PostgresStore is a PostgreSQL-backed pathway Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed pathway store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreatePathway(ctx context.Context, p Pathway) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO pathway (id, brand_scope, code, title, type, target_proficiency,
			                      app_code, topic_ids, prerequisite_pathway_ids, is_sequential, created_at)
			 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::text[], $9::uuid[], $10, $11)`,
			p.ID, p.BrandScope, p.Code, p.Title, p.Type, p.TargetProficiency,
			p.AppCode, p.TopicIDs, p.PrerequisitePathwayIDs, p.IsSequential, p.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return &curriculum.InvalidStateError{ID: p.ID, Reason: "pathway already exists"}
			}
			return fmt.Errorf("insert pathway: %w", err)
		}
		return insertSteps(ctx, tx, p.ID, p.Steps)
	})
}

func insertSteps(ctx context.Context, tx pgx.Tx, pathwayID string, steps []PathwayStep) error {
	for _, st := range steps {
		_, err := tx.Exec(ctx,
			`INSERT INTO pathway_step (id, pathway_id, step_order, step_type, level_id,
			                           unit_id, is_required, estimated_minutes)
			 VALUES ($1::uuid, $2::uuid, $3, $4, NULLIF($5, '')::uuid, NULLIF($6, '')::uuid, $7, $8)`,
			st.ID, pathwayID, st.StepOrder, string(st.StepType), st.LevelID,
			st.UnitID, st.IsRequired, st.EstimatedMinutes,
		)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", st.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetPathway(ctx context.Context, id string) (Pathway, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var p Pathway
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, brand_scope, code, title, type, target_proficiency,
		        app_code, topic_ids, prerequisite_pathway_ids::text[], is_sequential, created_at
		 FROM pathway
		 WHERE id = $1::uuid`,
		id,
	).Scan(&p.ID, &p.BrandScope, &p.Code, &p.Title, &p.Type, &p.TargetProficiency,
		&p.AppCode, &p.TopicIDs, &p.PrerequisitePathwayIDs, &p.IsSequential, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pathway{}, &curriculum.NotFoundError{Kind: "pathway", ID: id}
		}
		return Pathway{}, fmt.Errorf("get pathway: %w", err)
	}

	p.Steps, err = s.stepsFor(ctx, id)
	if err != nil {
		return Pathway{}, err
	}
	return p, nil
}

func (s *PostgresStore) stepsFor(ctx context.Context, pathwayID string) ([]PathwayStep, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, pathway_id::text, step_order, step_type,
		        COALESCE(level_id::text, ''), COALESCE(unit_id::text, ''),
		        is_required, estimated_minutes
		 FROM pathway_step
		 WHERE pathway_id = $1::uuid
		 ORDER BY step_order ASC`,
		pathwayID,
	)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []PathwayStep
	for rows.Next() {
		var st PathwayStep
		var stepType string
		if err := rows.Scan(&st.ID, &st.PathwayID, &st.StepOrder, &stepType,
			&st.LevelID, &st.UnitID, &st.IsRequired, &st.EstimatedMinutes); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.StepType = StepType(stepType)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListPathways(ctx context.Context, appCode string) ([]Pathway, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id::text
		 FROM pathway
		 WHERE $1 = '' OR app_code = $1
		 ORDER BY created_at ASC`,
		appCode,
	)
	if err != nil {
		return nil, fmt.Errorf("query pathways: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pathway id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pathways: %w", err)
	}

	out := make([]Pathway, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPathway(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PostgresStore) ReplaceSteps(ctx context.Context, pathwayID string, steps []PathwayStep) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`SELECT id::text FROM pathway WHERE id = $1::uuid FOR UPDATE`,
			pathwayID,
		).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &curriculum.NotFoundError{Kind: "pathway", ID: pathwayID}
			}
			return fmt.Errorf("check pathway: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM pathway_step WHERE pathway_id = $1::uuid`, pathwayID,
		); err != nil {
			return fmt.Errorf("clear steps: %w", err)
		}
		return insertSteps(ctx, tx, pathwayID, steps)
	})
}

func (s *PostgresStore) CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if e.Progress.EnrolledAt.IsZero() {
		e.Progress.EnrolledAt = time.Now()
	}

	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO student_pathway_progress (id, user_id, pathway_id, enrollment_source,
			                                       status, total_steps, steps_completed,
			                                       progress_percent, enrolled_at)
			 VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9)`,
			e.Progress.ID, e.Progress.LearnerID, e.Progress.PathwayID, e.Progress.EnrollmentSource,
			string(e.Progress.Status), e.Progress.TotalSteps, e.Progress.StepsCompleted,
			e.Progress.ProgressPercent, e.Progress.EnrolledAt,
		)
		if err != nil {
			return fmt.Errorf("insert enrollment: %w", err)
		}
		for _, row := range e.Steps {
			_, err := tx.Exec(ctx,
				`INSERT INTO student_step_progress (user_id, pathway_id, step_id, status,
				                                    score, time_spent_seconds, updated_at)
				 VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, NOW())`,
				row.LearnerID, row.PathwayID, row.StepID, string(row.Status),
				row.Score, row.TimeSpentSeconds,
			)
			if err != nil {
				return fmt.Errorf("insert step progress: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Concurrent enrollment won; return the stored record.
			return s.GetEnrollment(ctx, e.Progress.LearnerID, e.Progress.PathwayID)
		}
		return Enrollment{}, err
	}
	return e, nil
}

func (s *PostgresStore) GetEnrollment(ctx context.Context, learnerID, pathwayID string) (Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	progress, err := scanProgress(s.pool.QueryRow(ctx, enrollmentQuery, learnerID, pathwayID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Enrollment{}, &curriculum.NotFoundError{Kind: "enrollment", ID: learnerID + "/" + pathwayID}
		}
		return Enrollment{}, err
	}

	steps, err := s.stepProgressFor(ctx, s.pool, learnerID, pathwayID)
	if err != nil {
		return Enrollment{}, err
	}
	return Enrollment{Progress: progress, Steps: steps}, nil
}

const enrollmentQuery = `
	SELECT id::text, user_id::text, pathway_id::text, enrollment_source, status,
	       total_steps, steps_completed, progress_percent, enrolled_at, completed_at
	FROM student_pathway_progress
	WHERE user_id = $1::uuid AND pathway_id = $2::uuid`

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) stepProgressFor(ctx context.Context, q queryer, learnerID, pathwayID string) ([]StudentStepProgress, error) {
	rows, err := q.Query(ctx,
		`SELECT sp.user_id::text, sp.pathway_id::text, sp.step_id::text, sp.status,
		        sp.score, sp.time_spent_seconds, sp.updated_at
		 FROM student_step_progress sp
		 JOIN pathway_step ps ON ps.id = sp.step_id
		 WHERE sp.user_id = $1::uuid AND sp.pathway_id = $2::uuid
		 ORDER BY ps.step_order ASC`,
		learnerID, pathwayID,
	)
	if err != nil {
		return nil, fmt.Errorf("query step progress: %w", err)
	}
	defer rows.Close()

	var out []StudentStepProgress
	for rows.Next() {
		var row StudentStepProgress
		var status string
		if err := rows.Scan(&row.LearnerID, &row.PathwayID, &row.StepID, &status,
			&row.Score, &row.TimeSpentSeconds, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan step progress: %w", err)
		}
		row.Status = StepStatus(status)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step progress: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateEnrollment(ctx context.Context, learnerID, pathwayID string, update func(*Enrollment) error) (Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var out Enrollment
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		progress, err := scanProgress(tx.QueryRow(ctx, enrollmentQuery+` FOR UPDATE`, learnerID, pathwayID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &curriculum.NotFoundError{Kind: "enrollment", ID: learnerID + "/" + pathwayID}
			}
			return err
		}
		steps, err := s.stepProgressFor(ctx, tx, learnerID, pathwayID)
		if err != nil {
			return err
		}

		e := Enrollment{Progress: progress, Steps: steps}
		if err := update(&e); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE student_pathway_progress
			 SET status = $3, steps_completed = $4, progress_percent = $5, completed_at = $6
			 WHERE user_id = $1::uuid AND pathway_id = $2::uuid`,
			learnerID, pathwayID, string(e.Progress.Status), e.Progress.StepsCompleted,
			e.Progress.ProgressPercent, e.Progress.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("update enrollment: %w", err)
		}
		for _, row := range e.Steps {
			_, err := tx.Exec(ctx,
				`UPDATE student_step_progress
				 SET status = $4, score = $5, time_spent_seconds = $6, updated_at = NOW()
				 WHERE user_id = $1::uuid AND pathway_id = $2::uuid AND step_id = $3::uuid`,
				learnerID, pathwayID, row.StepID, string(row.Status), row.Score, row.TimeSpentSeconds,
			)
			if err != nil {
				return fmt.Errorf("update step progress: %w", err)
			}
		}
		out = e
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListEnrollments(ctx context.Context, learnerID string) ([]Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT pathway_id::text
		 FROM student_pathway_progress
		 WHERE user_id = $1::uuid
		 ORDER BY enrolled_at ASC`,
		learnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var pathwayIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pathway id: %w", err)
		}
		pathwayIDs = append(pathwayIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}

	out := make([]Enrollment, 0, len(pathwayIDs))
	for _, id := range pathwayIDs {
		e, err := s.GetEnrollment(ctx, learnerID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *PostgresStore) CompletedPathwayIDs(ctx context.Context, learnerID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT pathway_id::text
		 FROM student_pathway_progress
		 WHERE user_id = $1::uuid AND status = 'completed'
		 ORDER BY pathway_id ASC`,
		learnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query completed pathways: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pathway id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed pathways: %w", err)
	}
	return out, nil
}

func scanProgress(row pgx.Row) (StudentPathwayProgress, error) {
	var p StudentPathwayProgress
	var status string
	err := row.Scan(&p.ID, &p.LearnerID, &p.PathwayID, &p.EnrollmentSource, &status,
		&p.TotalSteps, &p.StepsCompleted, &p.ProgressPercent, &p.EnrolledAt, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StudentPathwayProgress{}, pgx.ErrNoRows
		}
		return StudentPathwayProgress{}, fmt.Errorf("scan enrollment: %w", err)
	}
	p.Status = EnrollmentStatus(status)
	return p, nil
}
