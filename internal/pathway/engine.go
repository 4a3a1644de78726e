package pathway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/ledger"
)

// Engine is the pathway API: authoring (create, add step, reorder) and
// learner progress (enroll, update step).
type Engine struct {
	store  Store
	events ledger.EventLogger
}

// NewEngine wires the pathway engine. A nil events logger is replaced
// with a nop.
func NewEngine(store Store, events ledger.EventLogger) *Engine {
	if events == nil {
		events = ledger.NopEventLogger{}
	}
	return &Engine{store: store, events: events}
}

// CreatePathway validates and stores a pathway. Step orders must be unique
// and contiguous from 1; prerequisite pathway ids must exist and must not
// close a cycle in the pathway-prerequisite graph.
func (e *Engine) CreatePathway(ctx context.Context, p Pathway) (Pathway, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Code == "" {
		return Pathway{}, &curriculum.InvalidStateError{ID: p.ID, Reason: "pathway code is required"}
	}
	for i := range p.Steps {
		p.Steps[i].PathwayID = p.ID
		if p.Steps[i].ID == "" {
			p.Steps[i].ID = uuid.NewString()
		}
	}
	if err := validateSteps(p.ID, p.Steps); err != nil {
		return Pathway{}, err
	}
	if err := e.checkPrerequisiteCycle(ctx, p.ID, p.PrerequisitePathwayIDs); err != nil {
		return Pathway{}, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	if err := e.store.CreatePathway(ctx, p); err != nil {
		return Pathway{}, fmt.Errorf("create pathway: %w", err)
	}
	slog.Info("pathway created", "pathway_id", p.ID, "code", p.Code, "steps", len(p.Steps))
	return p, nil
}

// checkPrerequisiteCycle walks the stored pathway-prerequisite graph from
// each listed prerequisite; finding pathwayID means the new edges would
// close a cycle. Unknown prerequisite ids are NotFoundError.
func (e *Engine) checkPrerequisiteCycle(ctx context.Context, pathwayID string, prereqIDs []string) error {
	seen := map[string]bool{}
	stack := make([]string, 0, len(prereqIDs))
	for _, id := range prereqIDs {
		if id == pathwayID {
			return &curriculum.GraphCycleError{ChildID: pathwayID, ParentID: id}
		}
		if _, err := e.store.GetPathway(ctx, id); err != nil {
			return fmt.Errorf("prerequisite pathway %s: %w", id, err)
		}
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true

		p, err := e.store.GetPathway(ctx, cur)
		if err != nil {
			var nf *curriculum.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return err
		}
		for _, next := range p.PrerequisitePathwayIDs {
			if next == pathwayID {
				return &curriculum.GraphCycleError{ChildID: pathwayID, ParentID: cur}
			}
			stack = append(stack, next)
		}
	}
	return nil
}

// AddStep appends a step at the next order position.
func (e *Engine) AddStep(ctx context.Context, pathwayID string, step PathwayStep) (PathwayStep, error) {
	p, err := e.store.GetPathway(ctx, pathwayID)
	if err != nil {
		return PathwayStep{}, err
	}

	step.PathwayID = pathwayID
	step.StepOrder = len(p.Steps) + 1
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	steps := append(p.Steps, step)
	if err := validateSteps(pathwayID, steps); err != nil {
		return PathwayStep{}, err
	}

	if err := e.store.ReplaceSteps(ctx, pathwayID, steps); err != nil {
		return PathwayStep{}, fmt.Errorf("add step: %w", err)
	}
	return step, nil
}

// ReorderSteps renumbers the full step set to the given id order. The ids
// must be exactly the pathway's current steps; the renumber is atomic.
func (e *Engine) ReorderSteps(ctx context.Context, pathwayID string, orderedStepIDs []string) error {
	p, err := e.store.GetPathway(ctx, pathwayID)
	if err != nil {
		return err
	}

	byID := make(map[string]PathwayStep, len(p.Steps))
	for _, s := range p.Steps {
		byID[s.ID] = s
	}
	if len(orderedStepIDs) != len(p.Steps) {
		return &curriculum.InvalidStateError{
			ID:     pathwayID,
			Reason: fmt.Sprintf("reorder lists %d steps, pathway has %d", len(orderedStepIDs), len(p.Steps)),
		}
	}

	steps := make([]PathwayStep, 0, len(orderedStepIDs))
	for i, id := range orderedStepIDs {
		s, ok := byID[id]
		if !ok {
			return &curriculum.NotFoundError{Kind: "step", ID: id}
		}
		delete(byID, id)
		s.StepOrder = i + 1
		steps = append(steps, s)
	}

	if err := e.store.ReplaceSteps(ctx, pathwayID, steps); err != nil {
		return fmt.Errorf("reorder steps: %w", err)
	}
	return nil
}

// GetPathway returns a pathway with its ordered steps.
func (e *Engine) GetPathway(ctx context.Context, id string) (Pathway, error) {
	return e.store.GetPathway(ctx, id)
}

// ListPathways returns an app's pathways, earliest created first.
func (e *Engine) ListPathways(ctx context.Context, appCode string) ([]Pathway, error) {
	return e.store.ListPathways(ctx, appCode)
}

// EnrollStudent creates the learner's enrollment with one step-progress
// row per step. Re-enrolling returns the existing record unchanged.
// Enrollment is denied with PrerequisiteNotMetError while any prerequisite
// pathway lacks a completed enrollment.
func (e *Engine) EnrollStudent(ctx context.Context, learnerID, pathwayID, source string) (Enrollment, error) {
	p, err := e.store.GetPathway(ctx, pathwayID)
	if err != nil {
		return Enrollment{}, err
	}

	if existing, err := e.store.GetEnrollment(ctx, learnerID, pathwayID); err == nil {
		return existing, nil
	} else {
		var nf *curriculum.NotFoundError
		if !errors.As(err, &nf) {
			return Enrollment{}, fmt.Errorf("check enrollment: %w", err)
		}
	}

	if len(p.PrerequisitePathwayIDs) > 0 {
		completed, err := e.store.CompletedPathwayIDs(ctx, learnerID)
		if err != nil {
			return Enrollment{}, fmt.Errorf("completed pathways for %s: %w", learnerID, err)
		}
		done := make(map[string]bool, len(completed))
		for _, id := range completed {
			done[id] = true
		}
		var missing []string
		for _, id := range p.PrerequisitePathwayIDs {
			if !done[id] {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return Enrollment{}, &curriculum.PrerequisiteNotMetError{TargetID: pathwayID, Missing: missing}
		}
	}

	enrollment := Enrollment{
		Progress: StudentPathwayProgress{
			ID:               uuid.NewString(),
			LearnerID:        learnerID,
			PathwayID:        pathwayID,
			EnrollmentSource: source,
			Status:           EnrollmentInProgress,
			TotalSteps:       len(p.Steps),
			EnrolledAt:       time.Now(),
		},
	}
	for _, s := range p.Steps {
		enrollment.Steps = append(enrollment.Steps, StudentStepProgress{
			LearnerID: learnerID,
			PathwayID: pathwayID,
			StepID:    s.ID,
			Status:    StepNotStarted,
		})
	}

	created, err := e.store.CreateEnrollment(ctx, enrollment)
	if err != nil {
		return Enrollment{}, fmt.Errorf("create enrollment: %w", err)
	}
	slog.Info("learner enrolled",
		"learner_id", learnerID,
		"pathway_id", pathwayID,
		"source", source,
		"total_steps", created.Progress.TotalSteps,
	)
	return created, nil
}

// GetEnrollment returns the learner's enrollment bundle.
func (e *Engine) GetEnrollment(ctx context.Context, learnerID, pathwayID string) (Enrollment, error) {
	return e.store.GetEnrollment(ctx, learnerID, pathwayID)
}

// ListEnrollments returns all of a learner's enrollments.
func (e *Engine) ListEnrollments(ctx context.Context, learnerID string) ([]Enrollment, error) {
	return e.store.ListEnrollments(ctx, learnerID)
}

// UpdateStepProgress applies a step update and recomputes the enrollment
// aggregates from the step rows in the same atomic write. On a sequential
// pathway, completing a step while an earlier required step is incomplete
// fails with OutOfOrderError. The pathway completes exactly when every
// required step is completed.
func (e *Engine) UpdateStepProgress(ctx context.Context, learnerID, pathwayID, stepID string, upd StepUpdate) (Enrollment, error) {
	p, err := e.store.GetPathway(ctx, pathwayID)
	if err != nil {
		return Enrollment{}, err
	}
	stepsByID := make(map[string]PathwayStep, len(p.Steps))
	requiredCount := 0
	for _, s := range p.Steps {
		stepsByID[s.ID] = s
		if s.IsRequired {
			requiredCount++
		}
	}
	target, ok := stepsByID[stepID]
	if !ok {
		return Enrollment{}, &curriculum.NotFoundError{Kind: "step", ID: stepID}
	}

	var stepCompleted, pathwayCompleted bool
	updated, err := e.store.UpdateEnrollment(ctx, learnerID, pathwayID, func(en *Enrollment) error {
		row := findStepRow(en, stepID)
		if row == nil {
			return &curriculum.NotFoundError{Kind: "step progress", ID: stepID}
		}

		if upd.Status == StepCompleted && p.IsSequential {
			if blocking := firstIncompleteBefore(en, p.Steps, target.StepOrder); blocking != "" {
				return &curriculum.OutOfOrderError{
					PathwayID:      pathwayID,
					StepID:         stepID,
					BlockingStepID: blocking,
				}
			}
		}

		wasCompleted := row.Status == StepCompleted
		if upd.Status != "" {
			row.Status = upd.Status
		}
		if upd.Score != nil {
			row.Score = upd.Score
		}
		if upd.TimeSpentSeconds > 0 {
			row.TimeSpentSeconds += upd.TimeSpentSeconds
		}
		row.UpdatedAt = time.Now()
		stepCompleted = !wasCompleted && row.Status == StepCompleted

		recomputeProgress(en, stepsByID, requiredCount)
		if en.Progress.Status == EnrollmentCompleted && en.Progress.CompletedAt == nil {
			now := time.Now()
			en.Progress.CompletedAt = &now
			pathwayCompleted = true
		}
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}

	if stepCompleted {
		e.logEvent(learnerID, ledger.EventStepCompleted, stepID, map[string]any{
			"pathway_id":       pathwayID,
			"progress_percent": updated.Progress.ProgressPercent,
		})
	}
	if pathwayCompleted {
		e.logEvent(learnerID, ledger.EventPathwayCompleted, pathwayID, map[string]any{
			"enrollment_id": updated.Progress.ID,
		})
		slog.Info("pathway completed", "learner_id", learnerID, "pathway_id", pathwayID)
	}
	return updated, nil
}

func (e *Engine) logEvent(learnerID, eventType, subjectID string, data map[string]any) {
	if err := e.events.LogEvent(ledger.ProgressEvent{
		LearnerID: learnerID,
		EventType: eventType,
		SubjectID: subjectID,
		Data:      data,
	}); err != nil {
		slog.Warn("log pathway event", "type", eventType, "error", err)
	}
}

// recomputeProgress rebuilds the aggregate counters from the step rows.
// StepsCompleted counts required steps only; the enrollment completes
// exactly when it reaches the required step count. An already-completed
// enrollment never regresses.
func recomputeProgress(en *Enrollment, steps map[string]PathwayStep, requiredCount int) {
	completed := 0
	for _, row := range en.Steps {
		if row.Status == StepCompleted && steps[row.StepID].IsRequired {
			completed++
		}
	}
	en.Progress.StepsCompleted = completed
	if en.Progress.TotalSteps > 0 {
		en.Progress.ProgressPercent = 100 * float64(completed) / float64(en.Progress.TotalSteps)
	}
	if requiredCount > 0 && completed == requiredCount {
		en.Progress.Status = EnrollmentCompleted
	}
}

func findStepRow(en *Enrollment, stepID string) *StudentStepProgress {
	for i := range en.Steps {
		if en.Steps[i].StepID == stepID {
			return &en.Steps[i]
		}
	}
	return nil
}

// firstIncompleteBefore returns the id of the earliest required step
// ordered before the target that is not yet completed.
func firstIncompleteBefore(en *Enrollment, steps []PathwayStep, targetOrder int) string {
	rows := make(map[string]StepStatus, len(en.Steps))
	for _, r := range en.Steps {
		rows[r.StepID] = r.Status
	}
	ordered := append([]PathwayStep{}, steps...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StepOrder < ordered[j].StepOrder })
	for _, s := range ordered {
		if s.StepOrder >= targetOrder {
			break
		}
		if s.IsRequired && rows[s.ID] != StepCompleted {
			return s.ID
		}
	}
	return ""
}

// validateSteps checks the step invariants: orders unique and contiguous
// from 1, and exactly one content binding matching the step type.
func validateSteps(pathwayID string, steps []PathwayStep) error {
	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if s.StepOrder < 1 || s.StepOrder > len(steps) || seen[s.StepOrder] {
			return &curriculum.InvalidStateError{
				ID:     pathwayID,
				Reason: fmt.Sprintf("step orders must be unique and contiguous from 1, got duplicate or out-of-range order %d", s.StepOrder),
			}
		}
		seen[s.StepOrder] = true

		switch s.StepType {
		case StepLesson:
			if s.LevelID == "" || s.UnitID != "" {
				return &curriculum.InvalidStateError{
					ID:     s.ID,
					Reason: "lesson step must reference exactly a level",
				}
			}
		case StepUnit:
			if s.UnitID == "" || s.LevelID != "" {
				return &curriculum.InvalidStateError{
					ID:     s.ID,
					Reason: "unit step must reference exactly a unit",
				}
			}
		default:
			return &curriculum.InvalidStateError{
				ID:     s.ID,
				Reason: fmt.Sprintf("unknown step type %q", s.StepType),
			}
		}
	}
	return nil
}
