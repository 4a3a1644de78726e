package recommend

import (
	"context"
	"log/slog"

	"github.com/lit-platform/progression/internal/ledger"
)

// UnitCompletionTrigger decorates the ledger's event logger: every event
// still reaches the wrapped logger, and unit completions additionally
// recompute the learner's mastery and drop their cached recommendations.
type UnitCompletionTrigger struct {
	next    ledger.EventLogger
	agg     *Aggregator
	appCode string
}

// NewUnitCompletionTrigger wires the trigger in front of an event logger.
// appCode scopes the mastery rows and cache entries the trigger touches;
// single-app deployments leave it empty.
func NewUnitCompletionTrigger(next ledger.EventLogger, agg *Aggregator, appCode string) *UnitCompletionTrigger {
	if next == nil {
		next = ledger.NopEventLogger{}
	}
	return &UnitCompletionTrigger{next: next, agg: agg, appCode: appCode}
}

// LogEvent forwards the event, then reacts to unit completions. Recompute
// failures are logged, not returned: the completion already happened and a
// derived aggregate must not roll it back.
func (t *UnitCompletionTrigger) LogEvent(event ledger.ProgressEvent) error {
	err := t.next.LogEvent(event)

	if event.EventType == ledger.EventUnitCompleted {
		if rerr := t.agg.OnUnitCompleted(context.Background(), event.LearnerID, t.appCode, event.SubjectID); rerr != nil {
			slog.Warn("recompute mastery after unit completion",
				"learner_id", event.LearnerID,
				"unit_id", event.SubjectID,
				"error", rerr,
			)
		}
	}
	return err
}
