package curriculum

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// levelSchema validates the gradable payload of an authored level.
// Choice-type questions must carry at least two options.
const levelSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "question_type", "content", "correct_answer"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "question_type": {"enum": ["short_answer", "multiple_choice", "multi_select", "numeric"]},
    "content": {"type": "string", "minLength": 1},
    "correct_answer": {"type": "string", "minLength": 1},
    "options": {"type": "array", "items": {"type": "string"}},
    "level_order": {"type": "integer", "minimum": 1}
  },
  "if": {"properties": {"question_type": {"enum": ["multiple_choice", "multi_select"]}}},
  "then": {"required": ["options"], "properties": {"options": {"minItems": 2}}}
}`

type topicFile struct {
	Topic `yaml:",inline"`
	Edges []TopicEdge `yaml:"edges"`
}

type unitFile struct {
	Unit   `yaml:",inline"`
	Levels []Level `yaml:"levels"`
}

// Loader loads authored curriculum content from the filesystem. Topic files
// end in .topic.yaml and carry the topic plus its incoming edges; unit files
// end in .unit.yaml and carry the unit plus its levels.
type Loader struct {
	rootDir string
	topics  map[string]Topic
	edges   []TopicEdge
	units   map[string]Unit
	levels  map[string][]Level // unit id -> levels ordered by LevelOrder
	schema  *gojsonschema.Schema
	mu      sync.RWMutex
}

// NewLoader creates a loader and loads all content under rootDir.
func NewLoader(rootDir string) (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(levelSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling level schema: %w", err)
	}

	l := &Loader{
		rootDir: rootDir,
		topics:  make(map[string]Topic),
		units:   make(map[string]Unit),
		levels:  make(map[string][]Level),
		schema:  schema,
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded",
		"topics", len(l.topics),
		"edges", len(l.edges),
		"units", len(l.units),
	)
	return l, nil
}

// GetTopic returns a topic by ID.
func (l *Loader) GetTopic(id string) (Topic, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.topics[id]
	return t, ok
}

// AllTopics returns all loaded topics.
func (l *Loader) AllTopics() []Topic {
	l.mu.RLock()
	defer l.mu.RUnlock()
	topics := make([]Topic, 0, len(l.topics))
	for _, t := range l.topics {
		topics = append(topics, t)
	}
	return topics
}

// Edges returns all loaded topic edges.
func (l *Loader) Edges() []TopicEdge {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]TopicEdge{}, l.edges...)
}

// GetUnit returns a unit by ID.
func (l *Loader) GetUnit(id string) (Unit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.units[id]
	return u, ok
}

// AllUnits returns all loaded units.
func (l *Loader) AllUnits() []Unit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	units := make([]Unit, 0, len(l.units))
	for _, u := range l.units {
		units = append(units, u)
	}
	return units
}

// LevelsFor returns a unit's levels ordered by their position.
func (l *Loader) LevelsFor(unitID string) []Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Level{}, l.levels[unitID]...)
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		switch {
		case strings.HasSuffix(path, ".topic.yaml"):
			return l.loadTopicFile(path)
		case strings.HasSuffix(path, ".unit.yaml"):
			return l.loadUnitFile(path)
		}
		return nil
	})
}

func (l *Loader) loadTopicFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var tf topicFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		slog.Warn("skipping invalid topic YAML", "path", path, "error", err)
		return nil
	}
	if tf.ID == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.topics[tf.ID] = tf.Topic
	for _, e := range tf.Edges {
		if e.ChildTopicID == "" {
			e.ChildTopicID = tf.ID // edges are authored on the child
		}
		if e.Priority < 1 {
			e.Priority = 1
		}
		l.edges = append(l.edges, e)
	}
	return nil
}

func (l *Loader) loadUnitFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var uf unitFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		slog.Warn("skipping invalid unit YAML", "path", path, "error", err)
		return nil
	}
	if uf.ID == "" {
		return nil
	}

	for i := range uf.Levels {
		uf.Levels[i].UnitID = uf.ID
		if uf.Levels[i].LevelOrder == 0 {
			uf.Levels[i].LevelOrder = i + 1
		}
		if err := l.validateLevel(uf.Levels[i]); err != nil {
			slog.Warn("skipping unit with invalid level", "path", path, "level", uf.Levels[i].ID, "error", err)
			return nil
		}
	}
	sort.SliceStable(uf.Levels, func(i, j int) bool {
		return uf.Levels[i].LevelOrder < uf.Levels[j].LevelOrder
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.units[uf.ID] = uf.Unit
	l.levels[uf.ID] = uf.Levels
	return nil
}

// validateLevel checks an authored level payload against the JSON schema.
func (l *Loader) validateLevel(lv Level) error {
	doc := map[string]any{
		"id":             lv.ID,
		"question_type":  string(lv.QuestionType),
		"content":        lv.Content,
		"correct_answer": lv.CorrectAnswer,
		"level_order":    lv.LevelOrder,
	}
	if len(lv.Options) > 0 {
		doc["options"] = lv.Options
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal level: %w", err)
	}

	result, err := l.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate level: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return &InvalidStateError{ID: lv.ID, Reason: strings.Join(msgs, "; ")}
	}
	return nil
}
