package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/graph"
	"github.com/lit-platform/progression/internal/pathway"
)

// ContentSource is the slice of the catalog the aggregator reads.
type ContentSource interface {
	ListUnits(ctx context.Context, topicID, lang string) ([]curriculum.Unit, error)
	GetUnit(ctx context.Context, id string) (curriculum.Unit, error)
}

// ProgressSource supplies completed unit ids, implemented by the ledger.
type ProgressSource interface {
	CompletedUnitIDs(ctx context.Context, learnerID string) ([]string, error)
}

// PathwaySource supplies the candidate pool and enrollment state.
type PathwaySource interface {
	ListPathways(ctx context.Context, appCode string) ([]pathway.Pathway, error)
	ListEnrollments(ctx context.Context, learnerID string) ([]pathway.Enrollment, error)
}

// Config tunes the aggregator.
type Config struct {
	// MasteryThreshold marks skills below it as struggling; remedial
	// candidates covering them rank higher.
	MasteryThreshold int
	// BaseConfidence is the ceiling confidence, reduced when a candidate
	// has few supporting signals.
	BaseConfidence float64
	// Horizon bounds recommendation validity; past it callers regenerate.
	Horizon time.Duration
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MasteryThreshold: 40,
		BaseConfidence:   0.8,
		Horizon:          30 * 24 * time.Hour,
	}
}

// Aggregator derives mastery from the progress ledger and ranks unlocked
// pathways. All operations are read-heavy and idempotent; rerunning with
// the same inputs yields the same outputs.
type Aggregator struct {
	graph    *graph.Graph
	resolver *graph.Resolver
	content  ContentSource
	progress ProgressSource
	pathways PathwaySource
	mastery  MasteryStore
	cache    Cache
	cfg      Config
}

// NewAggregator wires the aggregator. cache may be nil (regenerate always).
func NewAggregator(g *graph.Graph, content ContentSource, progress ProgressSource, pathways PathwaySource, mastery MasteryStore, cache Cache, cfg Config) *Aggregator {
	if cache == nil {
		cache = (*RecommendationCache)(nil)
	}
	if cfg.MasteryThreshold == 0 {
		cfg.MasteryThreshold = DefaultConfig().MasteryThreshold
	}
	if cfg.BaseConfidence == 0 {
		cfg.BaseConfidence = DefaultConfig().BaseConfidence
	}
	if cfg.Horizon == 0 {
		cfg.Horizon = DefaultConfig().Horizon
	}
	return &Aggregator{
		graph:    g,
		resolver: graph.NewResolver(g),
		content:  content,
		progress: progress,
		pathways: pathways,
		mastery:  mastery,
		cache:    cache,
		cfg:      cfg,
	}
}

// RecomputeMastery rebuilds one (learner, skill) aggregate from the
// authoritative completion records and stores it. masteryLevel is
// round(100 * unitsCompleted / totalUnits), clamped to 0..100.
func (a *Aggregator) RecomputeMastery(ctx context.Context, learnerID, appCode, skillID string) (SkillMastery, error) {
	units, err := a.content.ListUnits(ctx, skillID, "")
	if err != nil {
		return SkillMastery{}, fmt.Errorf("units for skill %s: %w", skillID, err)
	}
	unitSet := make(map[string]bool, len(units))
	for _, u := range units {
		unitSet[u.ID] = true
	}

	completedIDs, err := a.progress.CompletedUnitIDs(ctx, learnerID)
	if err != nil {
		return SkillMastery{}, fmt.Errorf("completed units for %s: %w", learnerID, err)
	}
	completed := 0
	for _, id := range completedIDs {
		if unitSet[id] {
			completed++
		}
	}

	total := len(units)
	level := int(math.Round(100 * float64(completed) / math.Max(float64(total), 1)))
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	m := SkillMastery{
		LearnerID:      learnerID,
		AppCode:        appCode,
		SkillID:        skillID,
		MasteryLevel:   level,
		Proficiency:    ProficiencyFor(level),
		UnitsCompleted: completed,
		TotalUnits:     total,
		UpdatedAt:      time.Now(),
	}
	if err := a.mastery.Upsert(ctx, m); err != nil {
		return SkillMastery{}, fmt.Errorf("store mastery: %w", err)
	}
	return m, nil
}

// OnUnitCompleted reacts to a unit completion event: recomputes mastery
// for every skill the unit contributes to and drops the learner's cached
// recommendations.
func (a *Aggregator) OnUnitCompleted(ctx context.Context, learnerID, appCode, unitID string) error {
	unit, err := a.content.GetUnit(ctx, unitID)
	if err != nil {
		return fmt.Errorf("unit %s: %w", unitID, err)
	}

	skills := append([]string{unit.TopicID}, unit.TeachesTopics...)
	seen := make(map[string]bool, len(skills))
	for _, skillID := range skills {
		if skillID == "" || seen[skillID] {
			continue
		}
		seen[skillID] = true
		if _, err := a.RecomputeMastery(ctx, learnerID, appCode, skillID); err != nil {
			return err
		}
	}

	if err := a.cache.Invalidate(ctx, learnerID, appCode); err != nil {
		slog.Warn("invalidate recommendation cache", "learner_id", learnerID, "error", err)
	}
	return nil
}

// Mastery returns the stored aggregate for one skill.
func (a *Aggregator) Mastery(ctx context.Context, learnerID, appCode, skillID string) (SkillMastery, error) {
	return a.mastery.Get(ctx, learnerID, appCode, skillID)
}

// MasteryProfile returns all of a learner's stored aggregates for an app.
func (a *Aggregator) MasteryProfile(ctx context.Context, learnerID, appCode string) ([]SkillMastery, error) {
	return a.mastery.List(ctx, learnerID, appCode)
}
