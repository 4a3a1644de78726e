// Package delivery exposes the progression engine to session surfaces
// (tutoring clients, dashboards) over pluggable channels.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Request is a learner action received from any channel.
type Request struct {
	Channel          string   `json:"-"`
	LearnerID        string   `json:"learner_id"`
	Action           string   `json:"action"` // attempt, step, recommendations, progress
	AppCode          string   `json:"app_code,omitempty"`
	AttemptID        string   `json:"attempt_id,omitempty"`
	LevelID          string   `json:"level_id,omitempty"`
	PathwayID        string   `json:"pathway_id,omitempty"`
	StepID           string   `json:"step_id,omitempty"`
	Answer           string   `json:"answer,omitempty"`
	Status           string   `json:"status,omitempty"`
	Score            *float64 `json:"score,omitempty"`
	TimeSpentSeconds int      `json:"time_spent_seconds,omitempty"`
}

// Response is the engine's reply, routed back over the learner's channel.
type Response struct {
	Channel   string `json:"-"`
	LearnerID string `json:"learner_id"`
	Action    string `json:"action"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Channel is the interface each delivery surface must implement.
type Channel interface {
	Send(ctx context.Context, learnerID string, resp Response) error
	Start(ctx context.Context, handler func(Request)) error
	Stop() error
}

// Gateway routes requests and responses between registered channels and
// the engine.
type Gateway struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewGateway creates a new delivery gateway.
func NewGateway() *Gateway {
	return &Gateway{
		channels: make(map[string]Channel),
	}
}

// Register adds a channel to the gateway.
func (g *Gateway) Register(name string, ch Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[name] = ch
	slog.Info("delivery channel registered", "channel", name)
}

// HasChannel returns true if the named channel is registered.
func (g *Gateway) HasChannel(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.channels[name]
	return ok
}

// Send dispatches a response to the appropriate channel.
func (g *Gateway) Send(ctx context.Context, resp Response) error {
	g.mu.RLock()
	ch, ok := g.channels[resp.Channel]
	g.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown channel: %s", resp.Channel)
	}

	return ch.Send(ctx, resp.LearnerID, resp)
}

// StartAll starts all registered channels with the given request handler.
func (g *Gateway) StartAll(ctx context.Context, handler func(Request)) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for name, ch := range g.channels {
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx, handler); err != nil {
			return fmt.Errorf("starting channel %s: %w", name, err)
		}
	}
	return nil
}

// StopAll stops all registered channels.
func (g *Gateway) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for name, ch := range g.channels {
		if err := ch.Stop(); err != nil {
			slog.Warn("stopping channel", "channel", name, "error", err)
		}
	}
}

// MockChannel is a test double for Channel.
type MockChannel struct {
	SentResponses []Response
	handler       func(Request)
}

func (m *MockChannel) Send(_ context.Context, _ string, resp Response) error {
	m.SentResponses = append(m.SentResponses, resp)
	return nil
}

func (m *MockChannel) Start(_ context.Context, handler func(Request)) error {
	m.handler = handler
	return nil
}

func (m *MockChannel) Stop() error {
	return nil
}

// Inject feeds a request to the handler as if it arrived on the wire.
func (m *MockChannel) Inject(req Request) {
	if m.handler != nil {
		m.handler(req)
	}
}
