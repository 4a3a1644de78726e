package delivery

import (
	"context"
	"log/slog"

	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/ledger"
	"github.com/lit-platform/progression/internal/pathway"
	"github.com/lit-platform/progression/internal/recommend"
)

// Handler translates channel requests into engine calls and routes the
// results back through the gateway.
type Handler struct {
	gateway     *Gateway
	ledger      *ledger.Service
	pathways    *pathway.Engine
	recommender *recommend.Aggregator
}

// NewHandler wires the delivery handler.
func NewHandler(gateway *Gateway, l *ledger.Service, p *pathway.Engine, r *recommend.Aggregator) *Handler {
	return &Handler{gateway: gateway, ledger: l, pathways: p, recommender: r}
}

// Start registers the handler with every channel.
func (h *Handler) Start(ctx context.Context) error {
	return h.gateway.StartAll(ctx, func(req Request) {
		h.handle(ctx, req)
	})
}

func (h *Handler) handle(ctx context.Context, req Request) {
	resp := Response{
		Channel:   req.Channel,
		LearnerID: req.LearnerID,
		Action:    req.Action,
	}

	payload, err := h.dispatch(ctx, req)
	if err != nil {
		// Engine errors carry the offending ids; surface them as-is.
		resp.Error = err.Error()
		slog.Warn("request failed",
			"action", req.Action,
			"learner_id", req.LearnerID,
			"error", err,
		)
	} else {
		resp.OK = true
		resp.Payload = payload
	}

	if err := h.gateway.Send(ctx, resp); err != nil {
		slog.Error("send response", "channel", req.Channel, "error", err)
	}
}

func (h *Handler) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case "attempt":
		return h.ledger.RecordAttempt(ctx, req.AttemptID, req.LearnerID, req.LevelID, req.Answer, req.TimeSpentSeconds)
	case "step":
		return h.pathways.UpdateStepProgress(ctx, req.LearnerID, req.PathwayID, req.StepID, pathway.StepUpdate{
			Status:           pathway.StepStatus(req.Status),
			Score:            req.Score,
			TimeSpentSeconds: req.TimeSpentSeconds,
		})
	case "enroll":
		return h.pathways.EnrollStudent(ctx, req.LearnerID, req.PathwayID, req.Channel)
	case "recommendations":
		return h.recommender.GenerateRecommendations(ctx, req.LearnerID, req.AppCode)
	case "progress":
		return h.pathways.ListEnrollments(ctx, req.LearnerID)
	default:
		return nil, &curriculum.InvalidStateError{Reason: "unknown action " + req.Action}
	}
}
