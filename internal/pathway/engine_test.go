package pathway_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/ledger"
	"github.com/lit-platform/progression/internal/pathway"
)

func twoStepPathway(sequential bool) pathway.Pathway {
	return pathway.Pathway{
		ID:           "path-1",
		Code:         "FRACTIONS-101",
		Title:        "Fractions foundations",
		AppCode:      "math",
		IsSequential: sequential,
		Steps: []pathway.PathwayStep{
			{ID: "s1", StepOrder: 1, StepType: pathway.StepLesson, LevelID: "lv-1", IsRequired: true},
			{ID: "s2", StepOrder: 2, StepType: pathway.StepUnit, UnitID: "unit-1", IsRequired: true},
		},
	}
}

func TestCreatePathwayValidatesSteps(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		steps []pathway.PathwayStep
	}{
		{
			"duplicate order",
			[]pathway.PathwayStep{
				{ID: "s1", StepOrder: 1, StepType: pathway.StepLesson, LevelID: "lv-1"},
				{ID: "s2", StepOrder: 1, StepType: pathway.StepLesson, LevelID: "lv-2"},
			},
		},
		{
			"gap in orders",
			[]pathway.PathwayStep{
				{ID: "s1", StepOrder: 1, StepType: pathway.StepLesson, LevelID: "lv-1"},
				{ID: "s2", StepOrder: 3, StepType: pathway.StepLesson, LevelID: "lv-2"},
			},
		},
		{
			"orders not starting at 1",
			[]pathway.PathwayStep{
				{ID: "s1", StepOrder: 2, StepType: pathway.StepLesson, LevelID: "lv-1"},
			},
		},
		{
			"lesson step without level",
			[]pathway.PathwayStep{
				{ID: "s1", StepOrder: 1, StepType: pathway.StepLesson, UnitID: "unit-1"},
			},
		},
		{
			"unit step with both bindings",
			[]pathway.PathwayStep{
				{ID: "s1", StepOrder: 1, StepType: pathway.StepUnit, UnitID: "unit-1", LevelID: "lv-1"},
			},
		},
		{
			"unknown step type",
			[]pathway.PathwayStep{
				{ID: "s1", StepOrder: 1, StepType: "video", LevelID: "lv-1"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := pathway.NewEngine(pathway.NewMemoryStore(), nil)
			_, err := engine.CreatePathway(ctx, pathway.Pathway{Code: "X", Steps: tt.steps})
			var inv *curriculum.InvalidStateError
			require.ErrorAs(t, err, &inv)
		})
	}
}

func TestCreatePathwayPrerequisiteChecks(t *testing.T) {
	ctx := context.Background()
	store := pathway.NewMemoryStore()
	engine := pathway.NewEngine(store, nil)

	_, err := engine.CreatePathway(ctx, pathway.Pathway{
		ID: "p-self", Code: "SELF", PrerequisitePathwayIDs: []string{"p-self"},
	})
	var cycle *curriculum.GraphCycleError
	require.ErrorAs(t, err, &cycle, "self-reference must be a cycle")

	_, err = engine.CreatePathway(ctx, pathway.Pathway{
		ID: "p-1", Code: "ONE", PrerequisitePathwayIDs: []string{"ghost"},
	})
	var nf *curriculum.NotFoundError
	require.ErrorAs(t, err, &nf, "unknown prerequisite id must be rejected")

	// Seed a stored pathway that already points at the id we are about to
	// create; closing the loop must fail.
	require.NoError(t, store.CreatePathway(ctx, pathway.Pathway{
		ID: "p-b", Code: "B", PrerequisitePathwayIDs: []string{"p-a"},
	}))
	_, err = engine.CreatePathway(ctx, pathway.Pathway{
		ID: "p-a", Code: "A", PrerequisitePathwayIDs: []string{"p-b"},
	})
	require.ErrorAs(t, err, &cycle)
}

func TestAddStepAppendsNextOrder(t *testing.T) {
	ctx := context.Background()
	engine := pathway.NewEngine(pathway.NewMemoryStore(), nil)

	_, err := engine.CreatePathway(ctx, twoStepPathway(false))
	require.NoError(t, err)

	added, err := engine.AddStep(ctx, "path-1", pathway.PathwayStep{
		StepType: pathway.StepLesson, LevelID: "lv-9", IsRequired: false,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, added.StepOrder)
	assert.NotEmpty(t, added.ID)

	p, err := engine.GetPathway(ctx, "path-1")
	require.NoError(t, err)
	require.Len(t, p.Steps, 3)
}

func TestReorderStepsRenumbersAtomically(t *testing.T) {
	ctx := context.Background()
	engine := pathway.NewEngine(pathway.NewMemoryStore(), nil)

	_, err := engine.CreatePathway(ctx, twoStepPathway(false))
	require.NoError(t, err)

	require.NoError(t, engine.ReorderSteps(ctx, "path-1", []string{"s2", "s1"}))

	p, err := engine.GetPathway(ctx, "path-1")
	require.NoError(t, err)
	orders := map[string]int{}
	for _, s := range p.Steps {
		orders[s.ID] = s.StepOrder
	}
	assert.Equal(t, map[string]int{"s2": 1, "s1": 2}, orders)

	// A reorder naming the wrong step set leaves the pathway untouched.
	err = engine.ReorderSteps(ctx, "path-1", []string{"s1", "ghost"})
	var nf *curriculum.NotFoundError
	require.ErrorAs(t, err, &nf)
	err = engine.ReorderSteps(ctx, "path-1", []string{"s1"})
	var inv *curriculum.InvalidStateError
	require.ErrorAs(t, err, &inv)

	after, err := engine.GetPathway(ctx, "path-1")
	require.NoError(t, err)
	assert.Equal(t, p.Steps, after.Steps)
}

func TestEnrollStudentIdempotent(t *testing.T) {
	ctx := context.Background()
	engine := pathway.NewEngine(pathway.NewMemoryStore(), nil)

	_, err := engine.CreatePathway(ctx, twoStepPathway(true))
	require.NoError(t, err)

	first, err := engine.EnrollStudent(ctx, "learner-1", "path-1", "teacher")
	require.NoError(t, err)
	assert.Equal(t, pathway.EnrollmentInProgress, first.Progress.Status)
	assert.Equal(t, 2, first.Progress.TotalSteps)
	assert.Equal(t, 0, first.Progress.StepsCompleted)
	require.Len(t, first.Steps, 2)
	for _, row := range first.Steps {
		assert.Equal(t, pathway.StepNotStarted, row.Status)
	}

	again, err := engine.EnrollStudent(ctx, "learner-1", "path-1", "self")
	require.NoError(t, err)
	assert.Equal(t, first.Progress.ID, again.Progress.ID, "re-enrollment must return the same record")
}

func TestEnrollStudentPrerequisitePathways(t *testing.T) {
	ctx := context.Background()
	engine := pathway.NewEngine(pathway.NewMemoryStore(), nil)

	basics := twoStepPathway(false)
	_, err := engine.CreatePathway(ctx, basics)
	require.NoError(t, err)
	_, err = engine.CreatePathway(ctx, pathway.Pathway{
		ID:                     "path-2",
		Code:                   "FRACTIONS-201",
		PrerequisitePathwayIDs: []string{"path-1"},
		Steps: []pathway.PathwayStep{
			{ID: "t1", StepOrder: 1, StepType: pathway.StepLesson, LevelID: "lv-5", IsRequired: true},
		},
	})
	require.NoError(t, err)

	_, err = engine.EnrollStudent(ctx, "learner-1", "path-2", "self")
	var notMet *curriculum.PrerequisiteNotMetError
	require.ErrorAs(t, err, &notMet)
	assert.Equal(t, []string{"path-1"}, notMet.Missing)

	// Complete the prerequisite pathway, then enrollment succeeds.
	_, err = engine.EnrollStudent(ctx, "learner-1", "path-1", "self")
	require.NoError(t, err)
	for _, stepID := range []string{"s1", "s2"} {
		_, err = engine.UpdateStepProgress(ctx, "learner-1", "path-1", stepID,
			pathway.StepUpdate{Status: pathway.StepCompleted})
		require.NoError(t, err)
	}

	en, err := engine.EnrollStudent(ctx, "learner-1", "path-2", "self")
	require.NoError(t, err)
	assert.Equal(t, pathway.EnrollmentInProgress, en.Progress.Status)
}

func TestSequentialPathwayCompletion(t *testing.T) {
	ctx := context.Background()
	events := ledger.NewMemoryEventLogger()
	engine := pathway.NewEngine(pathway.NewMemoryStore(), events)

	_, err := engine.CreatePathway(ctx, twoStepPathway(true))
	require.NoError(t, err)

	en, err := engine.EnrollStudent(ctx, "learner-1", "path-1", "teacher")
	require.NoError(t, err)
	assert.Equal(t, pathway.EnrollmentInProgress, en.Progress.Status)
	assert.Equal(t, 0, en.Progress.StepsCompleted)

	// Completing the second step before the first violates the order.
	_, err = engine.UpdateStepProgress(ctx, "learner-1", "path-1", "s2",
		pathway.StepUpdate{Status: pathway.StepCompleted})
	var ooo *curriculum.OutOfOrderError
	require.ErrorAs(t, err, &ooo)
	assert.Equal(t, "s1", ooo.BlockingStepID)

	score1 := 85.0
	en, err = engine.UpdateStepProgress(ctx, "learner-1", "path-1", "s1",
		pathway.StepUpdate{Status: pathway.StepCompleted, Score: &score1})
	require.NoError(t, err)
	assert.Equal(t, 1, en.Progress.StepsCompleted)
	assert.InDelta(t, 50, en.Progress.ProgressPercent, 0.001)
	assert.Equal(t, pathway.EnrollmentInProgress, en.Progress.Status)

	score2 := 90.0
	en, err = engine.UpdateStepProgress(ctx, "learner-1", "path-1", "s2",
		pathway.StepUpdate{Status: pathway.StepCompleted, Score: &score2})
	require.NoError(t, err)
	assert.Equal(t, 2, en.Progress.StepsCompleted)
	assert.InDelta(t, 100, en.Progress.ProgressPercent, 0.001)
	assert.Equal(t, pathway.EnrollmentCompleted, en.Progress.Status)
	require.NotNil(t, en.Progress.CompletedAt)

	var stepEvents, pathwayEvents int
	for _, e := range events.Events() {
		switch e.EventType {
		case ledger.EventStepCompleted:
			stepEvents++
		case ledger.EventPathwayCompleted:
			pathwayEvents++
		}
	}
	assert.Equal(t, 2, stepEvents)
	assert.Equal(t, 1, pathwayEvents)
}

func TestNonSequentialPathwayAnyOrder(t *testing.T) {
	ctx := context.Background()
	engine := pathway.NewEngine(pathway.NewMemoryStore(), nil)

	_, err := engine.CreatePathway(ctx, twoStepPathway(false))
	require.NoError(t, err)
	_, err = engine.EnrollStudent(ctx, "learner-1", "path-1", "self")
	require.NoError(t, err)

	en, err := engine.UpdateStepProgress(ctx, "learner-1", "path-1", "s2",
		pathway.StepUpdate{Status: pathway.StepCompleted})
	require.NoError(t, err)
	assert.Equal(t, 1, en.Progress.StepsCompleted)
}

func TestOptionalStepsDoNotGateCompletion(t *testing.T) {
	ctx := context.Background()
	engine := pathway.NewEngine(pathway.NewMemoryStore(), nil)

	_, err := engine.CreatePathway(ctx, pathway.Pathway{
		ID:           "path-3",
		Code:         "MIXED",
		IsSequential: true,
		Steps: []pathway.PathwayStep{
			{ID: "m1", StepOrder: 1, StepType: pathway.StepLesson, LevelID: "lv-1", IsRequired: true},
			{ID: "m2", StepOrder: 2, StepType: pathway.StepLesson, LevelID: "lv-2", IsRequired: false},
			{ID: "m3", StepOrder: 3, StepType: pathway.StepUnit, UnitID: "unit-1", IsRequired: true},
		},
	})
	require.NoError(t, err)
	_, err = engine.EnrollStudent(ctx, "learner-1", "path-3", "self")
	require.NoError(t, err)

	_, err = engine.UpdateStepProgress(ctx, "learner-1", "path-3", "m1",
		pathway.StepUpdate{Status: pathway.StepCompleted})
	require.NoError(t, err)

	// The optional m2 is skipped; m3 only waits on required steps.
	en, err := engine.UpdateStepProgress(ctx, "learner-1", "path-3", "m3",
		pathway.StepUpdate{Status: pathway.StepCompleted})
	require.NoError(t, err)
	assert.Equal(t, pathway.EnrollmentCompleted, en.Progress.Status)
	assert.Equal(t, 2, en.Progress.StepsCompleted)
}

func TestUpdateStepProgressAccumulatesTime(t *testing.T) {
	ctx := context.Background()
	engine := pathway.NewEngine(pathway.NewMemoryStore(), nil)

	_, err := engine.CreatePathway(ctx, twoStepPathway(false))
	require.NoError(t, err)
	_, err = engine.EnrollStudent(ctx, "learner-1", "path-1", "self")
	require.NoError(t, err)

	_, err = engine.UpdateStepProgress(ctx, "learner-1", "path-1", "s1",
		pathway.StepUpdate{Status: pathway.StepInProgress, TimeSpentSeconds: 60})
	require.NoError(t, err)
	en, err := engine.UpdateStepProgress(ctx, "learner-1", "path-1", "s1",
		pathway.StepUpdate{Status: pathway.StepCompleted, TimeSpentSeconds: 30})
	require.NoError(t, err)

	require.Len(t, en.Steps, 2)
	assert.Equal(t, 90, en.Steps[0].TimeSpentSeconds)
	assert.Equal(t, pathway.StepCompleted, en.Steps[0].Status)
}

func TestProgressPercentInvariant(t *testing.T) {
	ctx := context.Background()
	engine := pathway.NewEngine(pathway.NewMemoryStore(), nil)

	p := pathway.Pathway{ID: "path-4", Code: "WIDE"}
	for i := 1; i <= 5; i++ {
		p.Steps = append(p.Steps, pathway.PathwayStep{
			ID:         string(rune('a' + i - 1)),
			StepOrder:  i,
			StepType:   pathway.StepLesson,
			LevelID:    "lv",
			IsRequired: true,
		})
	}
	_, err := engine.CreatePathway(ctx, p)
	require.NoError(t, err)
	_, err = engine.EnrollStudent(ctx, "learner-1", "path-4", "self")
	require.NoError(t, err)

	for _, s := range p.Steps {
		en, err := engine.UpdateStepProgress(ctx, "learner-1", "path-4", s.ID,
			pathway.StepUpdate{Status: pathway.StepCompleted})
		require.NoError(t, err)
		want := 100 * float64(en.Progress.StepsCompleted) / float64(en.Progress.TotalSteps)
		assert.InDelta(t, want, en.Progress.ProgressPercent, 0.001)
	}
}
