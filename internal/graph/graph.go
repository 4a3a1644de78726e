// Package graph holds the topic graph as explicit adjacency lists and
// answers prerequisite queries over it. The graph is rebuilt from authored
// content on load; learner activity never mutates it.
package graph

import (
	"sync"

	"github.com/lit-platform/progression/internal/curriculum"
)

// Graph is a directed graph of topics with typed edges. The subgraph of
// prerequisite edges stays acyclic: AddEdge runs cycle detection and the
// insert under one lock, so two concurrent insertions cannot jointly sneak
// a cycle in. Related/reinforces edges may cycle freely.
type Graph struct {
	mu       sync.RWMutex
	topics   map[string]curriculum.Topic
	incoming map[string][]curriculum.TopicEdge // child id -> edges from its parents
	outgoing map[string][]curriculum.TopicEdge // parent id -> edges to its children
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		topics:   make(map[string]curriculum.Topic),
		incoming: make(map[string][]curriculum.TopicEdge),
		outgoing: make(map[string][]curriculum.TopicEdge),
	}
}

// Build creates a graph from authored topics and edges. Edge order matters
// only in that the first edge completing a cycle is the one rejected.
func Build(topics []curriculum.Topic, edges []curriculum.TopicEdge) (*Graph, error) {
	g := New()
	for _, t := range topics {
		g.AddTopic(t)
	}
	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddTopic registers a topic node. Re-adding an id replaces its record.
func (g *Graph) AddTopic(t curriculum.Topic) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.topics[t.ID] = t
}

// HasTopic reports whether the topic id is known.
func (g *Graph) HasTopic(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.topics[id]
	return ok
}

// Topics returns all topic nodes.
func (g *Graph) Topics() []curriculum.Topic {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]curriculum.Topic, 0, len(g.topics))
	for _, t := range g.topics {
		out = append(out, t)
	}
	return out
}

// AddEdge inserts a typed edge. Both endpoints must exist. A prerequisite
// edge that would close a cycle is rejected with GraphCycleError and not
// applied.
func (g *Graph) AddEdge(e curriculum.TopicEdge) error {
	if e.Relationship != curriculum.RelPrerequisite &&
		e.Relationship != curriculum.RelRelated &&
		e.Relationship != curriculum.RelReinforces {
		return &curriculum.InvalidStateError{ID: e.ChildTopicID, Reason: "unknown relationship type " + string(e.Relationship)}
	}
	if e.Priority < 1 {
		return &curriculum.InvalidStateError{ID: e.ChildTopicID, Reason: "edge priority must be >= 1"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.topics[e.ChildTopicID]; !ok {
		return &curriculum.NotFoundError{Kind: "topic", ID: e.ChildTopicID}
	}
	if _, ok := g.topics[e.ParentTopicID]; !ok {
		return &curriculum.NotFoundError{Kind: "topic", ID: e.ParentTopicID}
	}

	if e.Relationship == curriculum.RelPrerequisite {
		if e.ChildTopicID == e.ParentTopicID || g.reachesLocked(e.ParentTopicID, e.ChildTopicID) {
			return &curriculum.GraphCycleError{ChildID: e.ChildTopicID, ParentID: e.ParentTopicID}
		}
	}

	g.incoming[e.ChildTopicID] = append(g.incoming[e.ChildTopicID], e)
	g.outgoing[e.ParentTopicID] = append(g.outgoing[e.ParentTopicID], e)
	return nil
}

// reachesLocked walks prerequisite edges depth-first from start toward its
// ancestors, reporting whether target is already required (directly or
// transitively) by start. Caller holds the lock.
func (g *Graph) reachesLocked(start, target string) bool {
	seen := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, e := range g.incoming[cur] {
			if e.Relationship == curriculum.RelPrerequisite {
				stack = append(stack, e.ParentTopicID)
			}
		}
	}
	return false
}

// PrerequisiteEdges returns the direct prerequisite edges into a topic.
func (g *Graph) PrerequisiteEdges(childID string) []curriculum.TopicEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []curriculum.TopicEdge
	for _, e := range g.incoming[childID] {
		if e.Relationship == curriculum.RelPrerequisite {
			out = append(out, e)
		}
	}
	return out
}

// RelatedEdges returns the related/reinforces edges touching a topic in
// either direction. They never gate access; recommendation scoring uses
// them for topical proximity.
func (g *Graph) RelatedEdges(topicID string) []curriculum.TopicEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []curriculum.TopicEdge
	for _, e := range g.incoming[topicID] {
		if e.Relationship != curriculum.RelPrerequisite {
			out = append(out, e)
		}
	}
	for _, e := range g.outgoing[topicID] {
		if e.Relationship != curriculum.RelPrerequisite {
			out = append(out, e)
		}
	}
	return out
}
