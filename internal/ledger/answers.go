package ledger

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lit-platform/progression/internal/curriculum"
)

// Grader performs type-aware answer comparison for level attempts.
type Grader struct {
	// Epsilon is the absolute tolerance for numeric answers. Zero means
	// exact numeric equality.
	Epsilon float64
}

// Grade compares a submitted answer against a level's correct answer using
// the strategy for its question type: normalized exact match for short
// answers and multiple choice, set equality for multi-select, tolerance
// comparison for numeric.
func (g Grader) Grade(level curriculum.Level, answer string) bool {
	switch level.QuestionType {
	case curriculum.QuestionMultiSelect:
		return setsEqual(splitSelections(answer), splitSelections(level.CorrectAnswer))
	case curriculum.QuestionNumeric:
		return g.numericMatch(level.CorrectAnswer, answer)
	default:
		return normalize(answer) == normalize(level.CorrectAnswer)
	}
}

func (g Grader) numericMatch(correct, answer string) bool {
	want, err := strconv.ParseFloat(strings.TrimSpace(correct), 64)
	if err != nil {
		// Authored answer is not numeric; fall back to exact match.
		return normalize(answer) == normalize(correct)
	}
	got, err := strconv.ParseFloat(strings.TrimSpace(answer), 64)
	if err != nil {
		return false
	}
	return math.Abs(got-want) <= g.Epsilon
}

// splitSelections parses a multi-select submission. Selections are
// comma-separated; order and case are insignificant.
func splitSelections(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := normalize(p); n != "" {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func setsEqual(a, b []string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
