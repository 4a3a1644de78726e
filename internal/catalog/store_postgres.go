package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lit-platform/progression/internal/curriculum"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed catalog Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed catalog store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveUnit(ctx context.Context, unit curriculum.Unit, levels []curriculum.Level) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	fp := curriculum.Fingerprint(unit, levels)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save unit: %w", err)
	}
	defer tx.Rollback(ctx)

	var prevFP *string
	var attempted bool
	err = tx.QueryRow(ctx,
		`SELECT u.content_fingerprint,
		        EXISTS (SELECT 1 FROM level_progress lp
		                JOIN level l ON l.id = lp.level_id
		                WHERE l.unit_id = u.id)
		 FROM unit u
		 WHERE u.id = $1::uuid
		 FOR UPDATE`,
		unit.ID,
	).Scan(&prevFP, &attempted)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check unit: %w", err)
	}
	if prevFP != nil && *prevFP != fp && attempted {
		return &curriculum.InvalidStateError{
			ID:     unit.ID,
			Reason: "unit has recorded attempts; publish changed content as a new unit",
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO unit (id, topic_id, language, difficulty_level, name, unit_order,
		                   prerequisite_unit_ids, teaches_topics, content_fingerprint, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::uuid[], $8::text[], $9, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   topic_id = EXCLUDED.topic_id,
		   language = EXCLUDED.language,
		   difficulty_level = EXCLUDED.difficulty_level,
		   name = EXCLUDED.name,
		   unit_order = EXCLUDED.unit_order,
		   prerequisite_unit_ids = EXCLUDED.prerequisite_unit_ids,
		   teaches_topics = EXCLUDED.teaches_topics,
		   content_fingerprint = EXCLUDED.content_fingerprint,
		   updated_at = NOW()`,
		unit.ID,
		unit.TopicID,
		unit.Language,
		unit.Difficulty,
		unit.Name,
		unit.UnitOrder,
		unit.PrerequisiteUnitIDs,
		unit.TeachesTopics,
		fp,
	)
	if err != nil {
		return fmt.Errorf("upsert unit: %w", err)
	}

	// Levels are exclusively owned; republish replaces the full set.
	if _, err := tx.Exec(ctx, `DELETE FROM level WHERE unit_id = $1::uuid`, unit.ID); err != nil {
		return fmt.Errorf("clear levels: %w", err)
	}
	for _, lv := range levels {
		options, err := json.Marshal(lv.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		metadata, err := json.Marshal(lv.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO level (id, unit_id, type, question_type, content, correct_answer,
			                    options, metadata, level_order)
			 VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9)`,
			lv.ID,
			unit.ID,
			lv.Type,
			string(lv.QuestionType),
			lv.Content,
			lv.CorrectAnswer,
			string(options),
			string(metadata),
			lv.LevelOrder,
		)
		if err != nil {
			return fmt.Errorf("insert level %s: %w", lv.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save unit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUnit(ctx context.Context, id string) (curriculum.Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var u curriculum.Unit
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, topic_id, language, difficulty_level, name, unit_order,
		        prerequisite_unit_ids::text[], teaches_topics, created_at, updated_at
		 FROM unit
		 WHERE id = $1::uuid`,
		id,
	).Scan(&u.ID, &u.TopicID, &u.Language, &u.Difficulty, &u.Name, &u.UnitOrder,
		&u.PrerequisiteUnitIDs, &u.TeachesTopics, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return curriculum.Unit{}, &curriculum.NotFoundError{Kind: "unit", ID: id}
		}
		return curriculum.Unit{}, fmt.Errorf("get unit: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListUnits(ctx context.Context, topicID string) ([]curriculum.Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, topic_id, language, difficulty_level, name, unit_order,
		        prerequisite_unit_ids::text[], teaches_topics, created_at, updated_at
		 FROM unit
		 WHERE topic_id = $1
		 ORDER BY unit_order ASC`,
		topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var out []curriculum.Unit
	for rows.Next() {
		var u curriculum.Unit
		if err := rows.Scan(&u.ID, &u.TopicID, &u.Language, &u.Difficulty, &u.Name, &u.UnitOrder,
			&u.PrerequisiteUnitIDs, &u.TeachesTopics, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListLevels(ctx context.Context, unitID string) ([]curriculum.Level, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, unit_id::text, type, question_type, content, correct_answer,
		        options, metadata, level_order
		 FROM level
		 WHERE unit_id = $1::uuid
		 ORDER BY level_order ASC`,
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("query levels: %w", err)
	}
	defer rows.Close()

	var out []curriculum.Level
	for rows.Next() {
		lv, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate levels: %w", err)
	}
	if out == nil {
		// Distinguish "unit with no levels" from "unknown unit".
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM unit WHERE id = $1::uuid)`, unitID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check unit: %w", err)
		}
		if !exists {
			return nil, &curriculum.NotFoundError{Kind: "unit", ID: unitID}
		}
	}
	return out, nil
}

func (s *PostgresStore) GetLevel(ctx context.Context, id string) (curriculum.Level, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT id::text, unit_id::text, type, question_type, content, correct_answer,
		        options, metadata, level_order
		 FROM level
		 WHERE id = $1::uuid`,
		id,
	)
	lv, err := scanLevel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return curriculum.Level{}, &curriculum.NotFoundError{Kind: "level", ID: id}
		}
		return curriculum.Level{}, err
	}
	return lv, nil
}

// MarkAttempted is a no-op for Postgres: attempted state is derived from
// level_progress rows in SaveUnit's immutability check.
func (s *PostgresStore) MarkAttempted(context.Context, string) error {
	return nil
}

func (s *PostgresStore) WasAttempted(ctx context.Context, unitID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var attempted bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM level_progress lp
		                JOIN level l ON l.id = lp.level_id
		                WHERE l.unit_id = $1::uuid)`,
		unitID,
	).Scan(&attempted)
	if err != nil {
		return false, fmt.Errorf("check attempts: %w", err)
	}
	return attempted, nil
}

func scanLevel(row pgx.Row) (curriculum.Level, error) {
	var lv curriculum.Level
	var options, metadata []byte
	if err := row.Scan(&lv.ID, &lv.UnitID, &lv.Type, (*string)(&lv.QuestionType), &lv.Content,
		&lv.CorrectAnswer, &options, &metadata, &lv.LevelOrder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return curriculum.Level{}, pgx.ErrNoRows
		}
		return curriculum.Level{}, fmt.Errorf("scan level: %w", err)
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &lv.Options); err != nil {
			return curriculum.Level{}, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &lv.Metadata); err != nil {
			return curriculum.Level{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return lv, nil
}
