package delivery_test

import (
	"context"
	"testing"

	"github.com/lit-platform/progression/internal/catalog"
	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/delivery"
	"github.com/lit-platform/progression/internal/graph"
	"github.com/lit-platform/progression/internal/ledger"
	"github.com/lit-platform/progression/internal/pathway"
	"github.com/lit-platform/progression/internal/recommend"
)

func TestNewGateway(t *testing.T) {
	gw := delivery.NewGateway()
	if gw == nil {
		t.Fatal("NewGateway() returned nil")
	}
}

func TestGateway_RegisterChannel(t *testing.T) {
	gw := delivery.NewGateway()
	mock := &delivery.MockChannel{}

	gw.Register("websocket", mock)

	if !gw.HasChannel("websocket") {
		t.Error("HasChannel(websocket) should be true after Register")
	}
}

func TestGateway_Send(t *testing.T) {
	gw := delivery.NewGateway()
	mock := &delivery.MockChannel{}
	gw.Register("websocket", mock)

	err := gw.Send(context.Background(), delivery.Response{
		Channel:   "websocket",
		LearnerID: "learner-1",
		Action:    "attempt",
		OK:        true,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(mock.SentResponses) != 1 {
		t.Errorf("SentResponses = %d, want 1", len(mock.SentResponses))
	}
}

func TestGateway_Send_UnknownChannel(t *testing.T) {
	gw := delivery.NewGateway()

	err := gw.Send(context.Background(), delivery.Response{
		Channel:   "carrier-pigeon",
		LearnerID: "learner-1",
	})
	if err == nil {
		t.Error("Send() should error for unknown channel")
	}
}

func newHandlerFixture(t *testing.T) (*delivery.MockChannel, *delivery.Handler) {
	t.Helper()
	ctx := context.Background()

	cat := catalog.New(catalog.NewMemoryStore(), nil)
	err := cat.Publish(ctx, curriculum.Unit{ID: "unit-1", TopicID: "fractions", Name: "Adding fractions"},
		[]curriculum.Level{
			{ID: "lv-1", Type: curriculum.LevelQuiz, QuestionType: curriculum.QuestionShortAnswer, CorrectAnswer: "3/4", LevelOrder: 1},
		})
	if err != nil {
		t.Fatalf("publish unit: %v", err)
	}

	ledgerSvc := ledger.NewService(ledger.NewMemoryStore(), cat, nil, ledger.Config{})
	pathStore := pathway.NewMemoryStore()
	engine := pathway.NewEngine(pathStore, nil)
	agg := recommend.NewAggregator(graph.New(), cat, ledgerSvc, pathStore,
		recommend.NewMemoryMasteryStore(), nil, recommend.Config{})

	gw := delivery.NewGateway()
	mock := &delivery.MockChannel{}
	gw.Register("websocket", mock)

	h := delivery.NewHandler(gw, ledgerSvc, engine, agg)
	if err := h.Start(ctx); err != nil {
		t.Fatalf("start handler: %v", err)
	}
	return mock, h
}

func TestHandler_AttemptAction(t *testing.T) {
	mock, _ := newHandlerFixture(t)

	mock.Inject(delivery.Request{
		Channel:   "websocket",
		LearnerID: "learner-1",
		Action:    "attempt",
		LevelID:   "lv-1",
		Answer:    "3/4",
	})

	if len(mock.SentResponses) != 1 {
		t.Fatalf("SentResponses = %d, want 1", len(mock.SentResponses))
	}
	resp := mock.SentResponses[0]
	if !resp.OK {
		t.Fatalf("response not ok: %s", resp.Error)
	}
	attempt, ok := resp.Payload.(ledger.LevelAttempt)
	if !ok {
		t.Fatalf("payload type = %T, want LevelAttempt", resp.Payload)
	}
	if !attempt.IsCorrect {
		t.Error("correct answer graded wrong")
	}
}

func TestHandler_UnknownLevelSurfacesError(t *testing.T) {
	mock, _ := newHandlerFixture(t)

	mock.Inject(delivery.Request{
		Channel:   "websocket",
		LearnerID: "learner-1",
		Action:    "attempt",
		LevelID:   "no-such-level",
		Answer:    "x",
	})

	if len(mock.SentResponses) != 1 {
		t.Fatalf("SentResponses = %d, want 1", len(mock.SentResponses))
	}
	resp := mock.SentResponses[0]
	if resp.OK {
		t.Error("response ok for unknown level")
	}
	if resp.Error == "" {
		t.Error("error message missing")
	}
}

func TestHandler_UnknownAction(t *testing.T) {
	mock, _ := newHandlerFixture(t)

	mock.Inject(delivery.Request{
		Channel:   "websocket",
		LearnerID: "learner-1",
		Action:    "dance",
	})

	if len(mock.SentResponses) != 1 {
		t.Fatalf("SentResponses = %d, want 1", len(mock.SentResponses))
	}
	if mock.SentResponses[0].OK {
		t.Error("unknown action must fail")
	}
}
