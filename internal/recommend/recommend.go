package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/lit-platform/progression/internal/graph"
	"github.com/lit-platform/progression/internal/pathway"
)

// Scoring weights. Remediation outranks proximity so a struggling skill
// pulls its covering pathways to the top.
const (
	proximityWeight   = 2.0
	remediationWeight = 3.0

	// strongMasteryLevel marks a skill as mastered enough to anchor
	// proximity scoring.
	strongMasteryLevel = 70
)

// GenerateRecommendations ranks pathways the learner can start now. A
// fresh cached set inside the horizon is served as-is; otherwise the set
// is rebuilt from mastery, enrollment, and graph state, then cached.
func (a *Aggregator) GenerateRecommendations(ctx context.Context, learnerID, appCode string) ([]Recommendation, error) {
	if cached, err := a.cache.Get(ctx, learnerID, appCode); err != nil {
		slog.Warn("read recommendation cache", "learner_id", learnerID, "error", err)
	} else if len(cached) > 0 && time.Now().Before(cached[0].ExpiresAt) {
		return cached, nil
	}

	recs, err := a.generate(ctx, learnerID, appCode)
	if err != nil {
		return nil, err
	}

	if err := a.cache.Put(ctx, learnerID, appCode, recs, a.cfg.Horizon); err != nil {
		slog.Warn("write recommendation cache", "learner_id", learnerID, "error", err)
	}
	return recs, nil
}

func (a *Aggregator) generate(ctx context.Context, learnerID, appCode string) ([]Recommendation, error) {
	masteryRows, err := a.mastery.List(ctx, learnerID, appCode)
	if err != nil {
		return nil, fmt.Errorf("mastery profile: %w", err)
	}
	strong := map[string]bool{}
	struggling := map[string]bool{}
	completedTopics := graph.CompletedSet{}
	for _, m := range masteryRows {
		if m.MasteryLevel >= strongMasteryLevel {
			strong[m.SkillID] = true
		}
		if m.MasteryLevel < a.cfg.MasteryThreshold {
			struggling[m.SkillID] = true
		}
		if m.MasteryLevel >= 100 {
			completedTopics[m.SkillID] = true
		}
	}

	enrollments, err := a.pathways.ListEnrollments(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("enrollments: %w", err)
	}
	engaged := map[string]bool{}
	completedPathways := graph.CompletedSet{}
	for _, e := range enrollments {
		switch e.Progress.Status {
		case pathway.EnrollmentInProgress, pathway.EnrollmentCompleted:
			engaged[e.Progress.PathwayID] = true
		}
		if e.Progress.Status == pathway.EnrollmentCompleted {
			completedPathways[e.Progress.PathwayID] = true
		}
	}

	candidates, err := a.pathways.ListPathways(ctx, appCode)
	if err != nil {
		return nil, fmt.Errorf("pathways: %w", err)
	}

	now := time.Now()
	type scored struct {
		rec         Recommendation
		minPriority int
		createdAt   time.Time
	}
	var ranked []scored
	for _, p := range candidates {
		if engaged[p.ID] {
			continue
		}
		if !a.pathwayUnlocked(p, completedTopics, completedPathways) {
			continue
		}

		score, minPriority, reasons := a.scorePathway(p, strong, struggling)
		ranked = append(ranked, scored{
			rec: Recommendation{
				PathwayID:   p.ID,
				Score:       score,
				Confidence:  a.confidence(len(reasons)),
				Reasons:     reasons,
				GeneratedAt: now,
				ExpiresAt:   now.Add(a.cfg.Horizon),
			},
			minPriority: minPriority,
			createdAt:   p.CreatedAt,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].rec.Score != ranked[j].rec.Score {
			return ranked[i].rec.Score > ranked[j].rec.Score
		}
		if ranked[i].minPriority != ranked[j].minPriority {
			return ranked[i].minPriority < ranked[j].minPriority
		}
		return ranked[i].createdAt.Before(ranked[j].createdAt)
	})

	out := make([]Recommendation, len(ranked))
	for i, s := range ranked {
		out[i] = s.rec
	}
	return out, nil
}

// pathwayUnlocked requires every bound topic to be unlocked in the topic
// graph and every prerequisite pathway to be completed.
func (a *Aggregator) pathwayUnlocked(p pathway.Pathway, completedTopics, completedPathways graph.CompletedSet) bool {
	for _, topicID := range p.TopicIDs {
		if a.graph.HasTopic(topicID) && !a.resolver.IsUnlocked(topicID, completedTopics, "") {
			return false
		}
	}
	return len(graph.Satisfied(p.PrerequisitePathwayIDs, completedPathways)) == 0
}

// scorePathway sums the weighted signals: related/reinforces edges from a
// pathway topic to a strong skill (proximity) and pathway topics the
// learner is struggling with (remediation). The minimum priority among
// contributing edges breaks score ties.
func (a *Aggregator) scorePathway(p pathway.Pathway, strong, struggling map[string]bool) (float64, int, []string) {
	var score float64
	minPriority := math.MaxInt
	var reasons []string

	for _, topicID := range p.TopicIDs {
		if struggling[topicID] {
			score += remediationWeight
			reasons = append(reasons, "strengthens "+topicID)
		}
		for _, e := range a.graph.RelatedEdges(topicID) {
			other := e.ParentTopicID
			if other == topicID {
				other = e.ChildTopicID
			}
			if !strong[other] {
				continue
			}
			score += proximityWeight
			reasons = append(reasons, "builds on "+other)
			if e.Priority < minPriority {
				minPriority = e.Priority
			}
		}
	}
	sort.Strings(reasons)
	return score, minPriority, reasons
}

// confidence scales the configured ceiling down as supporting signals
// thin out: three or more signals earn full confidence.
func (a *Aggregator) confidence(signals int) float64 {
	if signals >= 3 {
		return a.cfg.BaseConfidence
	}
	return a.cfg.BaseConfidence * float64(signals+1) / 4
}
