package curriculum

import (
	"fmt"
	"strings"
)

// GraphCycleError reports an edge insertion that would create a cycle in a
// prerequisite graph. The offending edge is never applied.
type GraphCycleError struct {
	ChildID  string
	ParentID string
}

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("prerequisite edge %s -> %s would create a cycle", e.ParentID, e.ChildID)
}

// PrerequisiteNotMetError reports a denied unlock or enrollment. Missing
// lists the unmet prerequisite ids so the caller can say "complete X first".
type PrerequisiteNotMetError struct {
	TargetID string
	Missing  []string
}

func (e *PrerequisiteNotMetError) Error() string {
	return fmt.Sprintf("prerequisites not met for %s: missing %s", e.TargetID, strings.Join(e.Missing, ", "))
}

// OutOfOrderError reports a step completion attempted before an earlier
// required step on a sequential pathway.
type OutOfOrderError struct {
	PathwayID      string
	StepID         string
	BlockingStepID string
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("step %s on pathway %s cannot complete before step %s", e.StepID, e.PathwayID, e.BlockingStepID)
}

// NotFoundError reports an unknown id. Kind names the entity (topic, unit,
// level, pathway, enrollment, assignment).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// InvalidStateError reports malformed input or an operation that the current
// state does not permit (duplicate step orders, a step binding neither a
// level nor a unit, and so on).
type InvalidStateError struct {
	ID     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.ID == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.ID, e.Reason)
}

// ConflictError surfaces after bounded internal retries of an atomic
// counter update keep losing to concurrent writers. Callers may retry.
type ConflictError struct {
	Op string
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: concurrent update conflict on %s", e.Op, e.ID)
}
