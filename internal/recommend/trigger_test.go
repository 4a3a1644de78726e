package recommend_test

import (
	"context"
	"testing"

	"github.com/lit-platform/progression/internal/catalog"
	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/graph"
	"github.com/lit-platform/progression/internal/ledger"
	"github.com/lit-platform/progression/internal/pathway"
	"github.com/lit-platform/progression/internal/recommend"
)

// Wires the production completion flow: ledger service -> event logger
// decorated with the trigger -> aggregator. Completing a unit must leave
// mastery rows behind and drop the learner's cached recommendations.
func TestUnitCompletionTriggersMasteryRecompute(t *testing.T) {
	ctx := context.Background()

	catStore := catalog.NewMemoryStore()
	ledgerStore := ledger.NewMemoryStore()
	cat := catalog.New(catStore, ledgerStore)

	err := cat.Publish(ctx, curriculum.Unit{
		ID:      "u-1",
		TopicID: "fractions",
		Name:    "Fractions intro",
	}, []curriculum.Level{
		{
			ID:            "lv-1",
			Type:          curriculum.LevelPractice,
			QuestionType:  curriculum.QuestionShortAnswer,
			Content:       "Write three quarters as a fraction.",
			CorrectAnswer: "3/4",
			LevelOrder:    1,
		},
	})
	if err != nil {
		t.Fatalf("publish unit: %v", err)
	}

	mstore := recommend.NewMemoryMasteryStore()
	cache := newFakeCache()
	agg := recommend.NewAggregator(graph.New(), cat, ledgerStore,
		pathway.NewMemoryStore(), mstore, cache, recommend.Config{})

	events := ledger.NewMemoryEventLogger()
	svc := ledger.NewService(ledgerStore, cat,
		recommend.NewUnitCompletionTrigger(events, agg, "math"), ledger.Config{})

	if _, err := svc.AssignUnit(ctx, "learner-1", "u-1", "tutor", "placement"); err != nil {
		t.Fatalf("assign unit: %v", err)
	}
	attempt, err := svc.RecordAttempt(ctx, "", "learner-1", "lv-1", "3/4", 30)
	if err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if !attempt.IsCorrect {
		t.Fatal("attempt should grade correct")
	}

	profile, err := agg.MasteryProfile(ctx, "learner-1", "math")
	if err != nil {
		t.Fatalf("mastery profile: %v", err)
	}
	if len(profile) != 1 {
		t.Fatalf("profile has %d skills, want 1", len(profile))
	}
	if profile[0].SkillID != "fractions" || profile[0].MasteryLevel != 100 {
		t.Errorf("mastery = %s/%d, want fractions/100", profile[0].SkillID, profile[0].MasteryLevel)
	}

	if len(cache.invalidated) != 1 {
		t.Errorf("cache invalidations = %d, want 1", len(cache.invalidated))
	}

	// The trigger is a decorator; the wrapped logger still sees every event.
	var sawCompletion bool
	for _, e := range events.Events() {
		if e.EventType == ledger.EventUnitCompleted && e.SubjectID == "u-1" {
			sawCompletion = true
		}
	}
	if !sawCompletion {
		t.Error("unit_completed event did not reach the wrapped logger")
	}
}

func TestTriggerIgnoresNonCompletionEvents(t *testing.T) {
	mstore := recommend.NewMemoryMasteryStore()
	cat := catalog.New(catalog.NewMemoryStore(), nil)
	agg := recommend.NewAggregator(graph.New(), cat, completedUnits(nil),
		pathway.NewMemoryStore(), mstore, nil, recommend.Config{})

	events := ledger.NewMemoryEventLogger()
	trigger := recommend.NewUnitCompletionTrigger(events, agg, "math")

	err := trigger.LogEvent(ledger.ProgressEvent{
		LearnerID: "learner-1",
		EventType: ledger.EventAttemptRecorded,
		SubjectID: "lv-1",
	})
	if err != nil {
		t.Fatalf("log event: %v", err)
	}

	profile, err := agg.MasteryProfile(context.Background(), "learner-1", "math")
	if err != nil {
		t.Fatalf("mastery profile: %v", err)
	}
	if len(profile) != 0 {
		t.Errorf("attempt event recomputed mastery: %d rows", len(profile))
	}
	if len(events.Events()) != 1 {
		t.Errorf("wrapped logger saw %d events, want 1", len(events.Events()))
	}
}
