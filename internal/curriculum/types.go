package curriculum

import "time"

// RelationshipType classifies a topic edge. Only prerequisite edges gate
// access; related/reinforces edges feed recommendation ranking.
type RelationshipType string

const (
	RelPrerequisite RelationshipType = "prerequisite"
	RelRelated      RelationshipType = "related"
	RelReinforces   RelationshipType = "reinforces"
)

// Difficulty tiers, ordered. Used both for unit difficulty and for the
// min-level waiver on prerequisite edges.
const (
	TierBeginner     = "beginner"
	TierIntermediate = "intermediate"
	TierAdvanced     = "advanced"
	TierExpert       = "expert"
)

var tierRank = map[string]int{
	TierBeginner:     0,
	TierIntermediate: 1,
	TierAdvanced:     2,
	TierExpert:       3,
}

// TierRank returns the ordinal of a difficulty tier, or -1 if unknown.
func TierRank(tier string) int {
	if r, ok := tierRank[tier]; ok {
		return r
	}
	return -1
}

// Topic is a concept in the curriculum graph.
type Topic struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
}

// TopicEdge is a directed, typed relationship between two topics.
// The child depends on (or relates to) the parent.
type TopicEdge struct {
	ChildTopicID  string           `yaml:"child_topic_id"`
	ParentTopicID string           `yaml:"parent_topic_id"`
	Relationship  RelationshipType `yaml:"relationship_type"`
	Priority      int              `yaml:"priority"` // >= 1; lower surfaces first in remediation
	MinLevel      string           `yaml:"min_level"`
	CanSkip       bool             `yaml:"can_skip"`
	Reason        string           `yaml:"relationship_reason"`
}

// Unit is an authored bundle of levels teaching one or more topics.
// Units are immutable once a learner has attempted them; content edits
// create a new unit so historical progress keeps its meaning.
type Unit struct {
	ID                  string    `yaml:"id"`
	TopicID             string    `yaml:"topic_id"`
	Language            string    `yaml:"language"`
	Difficulty          string    `yaml:"difficulty_level"`
	Name                string    `yaml:"name"`
	UnitOrder           int       `yaml:"unit_order"`
	PrerequisiteUnitIDs []string  `yaml:"prerequisite_unit_ids"`
	TeachesTopics       []string  `yaml:"teaches_topics"`
	CreatedAt           time.Time `yaml:"-"`
	UpdatedAt           time.Time `yaml:"-"`
}

// QuestionType selects the grading strategy for a level.
type QuestionType string

const (
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionMultiSelect    QuestionType = "multi_select"
	QuestionNumeric        QuestionType = "numeric"
)

// Level types. Teach levels present content and never gate completion;
// practice and quiz levels are graded.
const (
	LevelTeach    = "teach"
	LevelPractice = "practice"
	LevelQuiz     = "quiz"
)

// Level is the smallest gradable exercise, exclusively owned by its unit.
type Level struct {
	ID            string         `yaml:"id"`
	UnitID        string         `yaml:"-"`
	Type          string         `yaml:"type"` // teach, practice, quiz
	QuestionType  QuestionType   `yaml:"question_type"`
	Content       string         `yaml:"content"`
	CorrectAnswer string         `yaml:"correct_answer"`
	Options       []string       `yaml:"options"`
	Metadata      map[string]any `yaml:"metadata"`
	LevelOrder    int            `yaml:"level_order"`
}
