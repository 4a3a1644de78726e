package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Progress event types. Mastery recomputation subscribes to completion
// events; it never recomputes on read.
const (
	EventAttemptRecorded  = "attempt_recorded"
	EventUnitStarted      = "unit_started"
	EventUnitCompleted    = "unit_completed"
	EventStepCompleted    = "step_completed"
	EventPathwayCompleted = "pathway_completed"
)

// ProgressEvent is an append-only record of learner advancement.
type ProgressEvent struct {
	LearnerID string
	EventType string
	SubjectID string // level, unit, step, or pathway id
	Data      map[string]any
	CreatedAt time.Time
}

// EventLogger defines progress event logging behavior.
type EventLogger interface {
	LogEvent(event ProgressEvent) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(ProgressEvent) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests and for driving the
// mastery aggregator without a database.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []ProgressEvent{},
	}
}

func (l *MemoryEventLogger) LogEvent(event ProgressEvent) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ProgressEvent{}, l.events...)
}

// PostgresEventLogger inserts events into the progress_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(event ProgressEvent) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.LearnerID == "" {
		return fmt.Errorf("learner_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO progress_events (learner_id, event_type, subject_id, data, created_at)
		 VALUES ($1::uuid, $2, $3, $4::jsonb, $5)`,
		event.LearnerID,
		event.EventType,
		event.SubjectID,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("progress event logged",
		"type", event.EventType,
		"learner_id", event.LearnerID,
		"subject_id", event.SubjectID,
	)
	return nil
}
