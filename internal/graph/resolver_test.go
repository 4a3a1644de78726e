package graph_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/graph"
)

func buildGraph(t *testing.T, edges ...curriculum.TopicEdge) *graph.Graph {
	t.Helper()
	g := graph.New()
	seen := map[string]bool{}
	for _, e := range edges {
		for _, id := range []string{e.ChildTopicID, e.ParentTopicID} {
			if !seen[id] {
				g.AddTopic(topic(id))
				seen[id] = true
			}
		}
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e))
	}
	return g
}

func TestIsUnlocked_NoPrerequisites(t *testing.T) {
	g := graph.New()
	g.AddTopic(topic("a"))
	r := graph.NewResolver(g)

	assert.True(t, r.IsUnlocked("a", graph.NewCompletedSet(), ""))
}

func TestIsUnlocked_SinglePrerequisite(t *testing.T) {
	g := buildGraph(t, prereq("b", "a"))
	r := graph.NewResolver(g)

	assert.False(t, r.IsUnlocked("b", graph.NewCompletedSet(), ""))
	assert.True(t, r.IsUnlocked("b", graph.NewCompletedSet("a"), ""))
}

func TestIsUnlocked_AllEdgesMustBeSatisfied(t *testing.T) {
	g := buildGraph(t, prereq("c", "a"), prereq("c", "b"))
	r := graph.NewResolver(g)

	assert.False(t, r.IsUnlocked("c", graph.NewCompletedSet("a"), ""))
	assert.True(t, r.IsUnlocked("c", graph.NewCompletedSet("a", "b"), ""))
}

func TestIsUnlocked_SkippableEdge(t *testing.T) {
	e := prereq("b", "a")
	e.CanSkip = true
	g := buildGraph(t, e)
	r := graph.NewResolver(g)

	assert.True(t, r.IsUnlocked("b", graph.NewCompletedSet(), ""))
}

func TestIsUnlocked_MinLevelWaiver(t *testing.T) {
	e := prereq("b", "a")
	e.MinLevel = curriculum.TierIntermediate
	g := buildGraph(t, e)
	r := graph.NewResolver(g)

	assert.False(t, r.IsUnlocked("b", graph.NewCompletedSet(), curriculum.TierBeginner))
	assert.True(t, r.IsUnlocked("b", graph.NewCompletedSet(), curriculum.TierIntermediate))
	assert.True(t, r.IsUnlocked("b", graph.NewCompletedSet(), curriculum.TierAdvanced))
	// Unknown learner tier never waives.
	assert.False(t, r.IsUnlocked("b", graph.NewCompletedSet(), ""))
}

func TestIsUnlocked_OnlyDirectParentsGate(t *testing.T) {
	g := buildGraph(t, prereq("b", "a"), prereq("c", "b"))
	r := graph.NewResolver(g)

	// a is two hops from c and does not gate it directly.
	assert.True(t, r.IsUnlocked("c", graph.NewCompletedSet("b"), ""))
}

func TestIsUnlocked_RelatedEdgesNeverGate(t *testing.T) {
	e := curriculum.TopicEdge{
		ChildTopicID:  "b",
		ParentTopicID: "a",
		Relationship:  curriculum.RelReinforces,
		Priority:      1,
	}
	g := buildGraph(t, e)
	r := graph.NewResolver(g)

	assert.True(t, r.IsUnlocked("b", graph.NewCompletedSet(), ""))
}

// Property: adding entries to the completed set never locks a previously
// unlocked target.
func TestIsUnlocked_MonotonicInCompletedSet(t *testing.T) {
	const topics = 6
	rng := rand.New(rand.NewSource(7))

	g := graph.New()
	ids := make([]string, topics)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%d", i)
		g.AddTopic(topic(ids[i]))
	}
	for i := 0; i < 15; i++ {
		_ = g.AddEdge(prereq(ids[rng.Intn(topics)], ids[rng.Intn(topics)])) // cycles rejected, fine
	}
	r := graph.NewResolver(g)

	completed := graph.NewCompletedSet()
	unlocked := map[string]bool{}
	for _, id := range ids {
		unlocked[id] = r.IsUnlocked(id, completed, "")
	}

	order := rng.Perm(topics)
	for _, i := range order {
		completed[ids[i]] = true
		for _, id := range ids {
			now := r.IsUnlocked(id, completed, "")
			require.False(t, unlocked[id] && !now, "target %s flipped unlocked -> locked", id)
			unlocked[id] = now
		}
	}
}

func TestMissingPrerequisites_OrderedByPriority(t *testing.T) {
	high := prereq("c", "a")
	high.Priority = 3
	low := prereq("c", "b")
	low.Priority = 1
	g := buildGraph(t, high, low)
	r := graph.NewResolver(g)

	missing := r.MissingPrerequisites("c", graph.NewCompletedSet(), "")
	require.Len(t, missing, 2)
	assert.Equal(t, "b", missing[0].ParentTopicID)
	assert.Equal(t, "a", missing[1].ParentTopicID)
}

func TestSatisfied_ExplicitList(t *testing.T) {
	missing := graph.Satisfied([]string{"u1", "u2", "u3"}, graph.NewCompletedSet("u2"))
	assert.Equal(t, []string{"u1", "u3"}, missing)

	assert.Empty(t, graph.Satisfied(nil, graph.NewCompletedSet()))
}
