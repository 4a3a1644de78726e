package curriculum

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const fractionsTopic = `id: topic-fractions
name: Fractions
language: en
edges:
  - parent_topic_id: topic-division
    relationship_type: prerequisite
    min_level: intermediate
  - parent_topic_id: topic-decimals
    relationship_type: related
    priority: 2
`

const fractionsUnit = `id: unit-fractions-1
topic_id: topic-fractions
language: en
difficulty_level: beginner
name: Introducing Fractions
unit_order: 1
teaches_topics: [topic-fractions]
levels:
  - id: lv-intro
    type: teach
    question_type: short_answer
    content: A fraction names part of a whole.
    correct_answer: ok
  - id: lv-halves
    type: practice
    question_type: multiple_choice
    content: Which picture shows one half?
    correct_answer: B
    options: [A, B, C]
    level_order: 3
  - id: lv-write
    type: practice
    question_type: short_answer
    content: Write three quarters as a fraction.
    correct_answer: 3/4
    level_order: 2
`

func TestLoaderReadsTopicsAndUnits(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fractions.topic.yaml", fractionsTopic)
	writeFile(t, dir, "fractions-1.unit.yaml", fractionsUnit)
	writeFile(t, dir, "notes.txt", "ignored")

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	topic, ok := loader.GetTopic("topic-fractions")
	if !ok {
		t.Fatal("topic-fractions not loaded")
	}
	if topic.Name != "Fractions" {
		t.Errorf("topic name = %q, want Fractions", topic.Name)
	}

	edges := loader.Edges()
	if len(edges) != 2 {
		t.Fatalf("edge count = %d, want 2", len(edges))
	}
	for _, e := range edges {
		if e.ChildTopicID != "topic-fractions" {
			t.Errorf("edge child = %q, want topic-fractions", e.ChildTopicID)
		}
		if e.Priority < 1 {
			t.Errorf("edge priority = %d, want >= 1", e.Priority)
		}
	}

	unit, ok := loader.GetUnit("unit-fractions-1")
	if !ok {
		t.Fatal("unit-fractions-1 not loaded")
	}
	if unit.Difficulty != TierBeginner {
		t.Errorf("unit difficulty = %q, want beginner", unit.Difficulty)
	}
}

func TestLoaderOrdersLevels(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fractions-1.unit.yaml", fractionsUnit)

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	levels := loader.LevelsFor("unit-fractions-1")
	if len(levels) != 3 {
		t.Fatalf("level count = %d, want 3", len(levels))
	}
	// lv-intro has no explicit order and keeps slot 1; the rest sort by
	// their authored level_order.
	wantOrder := []string{"lv-intro", "lv-write", "lv-halves"}
	for i, want := range wantOrder {
		if levels[i].ID != want {
			t.Errorf("levels[%d] = %s, want %s", i, levels[i].ID, want)
		}
		if levels[i].UnitID != "unit-fractions-1" {
			t.Errorf("levels[%d].UnitID = %q", i, levels[i].UnitID)
		}
	}
}

func TestLoaderSkipsInvalidContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.topic.yaml", "id: [not\nvalid yaml{{")
	// Choice questions need at least two options.
	writeFile(t, dir, "bad.unit.yaml", `id: unit-bad
topic_id: topic-x
name: Bad Unit
levels:
  - id: lv-one-option
    question_type: multiple_choice
    content: Pick one
    correct_answer: A
    options: [A]
`)
	writeFile(t, dir, "good.topic.yaml", "id: topic-good\nname: Good\nlanguage: en\n")

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	if _, ok := loader.GetUnit("unit-bad"); ok {
		t.Error("unit with invalid level should be skipped")
	}
	if _, ok := loader.GetTopic("topic-good"); !ok {
		t.Error("valid topic should load despite broken siblings")
	}
}

func TestLoaderRejectsMissingAnswer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "incomplete.unit.yaml", `id: unit-incomplete
topic_id: topic-x
name: Incomplete
levels:
  - id: lv-no-answer
    question_type: short_answer
    content: What is 2+2?
`)

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	if _, ok := loader.GetUnit("unit-incomplete"); ok {
		t.Error("level without correct_answer should fail schema validation")
	}
}
