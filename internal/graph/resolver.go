package graph

import (
	"sort"

	"github.com/lit-platform/progression/internal/curriculum"
)

// CompletedSet is the set of topic (or unit) ids a learner has completed.
type CompletedSet map[string]bool

// NewCompletedSet builds a set from ids.
func NewCompletedSet(ids ...string) CompletedSet {
	s := make(CompletedSet, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// Resolver answers "is X unlocked for this learner" over the topic graph
// and over explicit prerequisite id lists. Direct parents only: callers
// that want transitive gating walk hops themselves.
type Resolver struct {
	g *Graph
}

// NewResolver creates a resolver over a graph.
func NewResolver(g *Graph) *Resolver {
	return &Resolver{g: g}
}

// IsUnlocked reports whether every direct prerequisite edge into the target
// is satisfied. An edge is satisfied when its parent is completed, the edge
// is skippable, or the learner's recorded tier meets the edge's min level.
// Edge priority plays no part in satisfaction.
func (r *Resolver) IsUnlocked(targetID string, completed CompletedSet, learnerTier string) bool {
	for _, e := range r.g.PrerequisiteEdges(targetID) {
		if !edgeSatisfied(e, completed, learnerTier) {
			return false
		}
	}
	return true
}

// MissingPrerequisites returns the unmet prerequisite edges into the target,
// ordered by priority (lowest first) for remediation messaging.
func (r *Resolver) MissingPrerequisites(targetID string, completed CompletedSet, learnerTier string) []curriculum.TopicEdge {
	var missing []curriculum.TopicEdge
	for _, e := range r.g.PrerequisiteEdges(targetID) {
		if !edgeSatisfied(e, completed, learnerTier) {
			missing = append(missing, e)
		}
	}
	sort.SliceStable(missing, func(i, j int) bool {
		return missing[i].Priority < missing[j].Priority
	})
	return missing
}

func edgeSatisfied(e curriculum.TopicEdge, completed CompletedSet, learnerTier string) bool {
	if completed[e.ParentTopicID] {
		return true
	}
	if e.CanSkip {
		return true
	}
	if e.MinLevel != "" {
		if lr := curriculum.TierRank(learnerTier); lr >= 0 && lr >= curriculum.TierRank(e.MinLevel) {
			return true
		}
	}
	return false
}

// Satisfied checks an explicit prerequisite id list (unit prerequisites,
// pathway prerequisites) against a completed set, returning the missing ids.
func Satisfied(prerequisiteIDs []string, completed CompletedSet) []string {
	var missing []string
	for _, id := range prerequisiteIDs {
		if !completed[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
