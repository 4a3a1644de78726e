package curriculum

import "testing"

func fingerprintFixture() (Unit, []Level) {
	unit := Unit{
		ID:            "unit-1",
		TopicID:       "topic-fractions",
		Name:          "Introducing Fractions",
		Difficulty:    TierBeginner,
		UnitOrder:     1,
		TeachesTopics: []string{"topic-fractions"},
	}
	levels := []Level{
		{ID: "lv-1", LevelOrder: 1, QuestionType: QuestionShortAnswer, Content: "Write one half.", CorrectAnswer: "1/2"},
		{ID: "lv-2", LevelOrder: 2, QuestionType: QuestionMultipleChoice, Content: "Pick a half.", CorrectAnswer: "B", Options: []string{"A", "B"}},
	}
	return unit, levels
}

func TestFingerprintStable(t *testing.T) {
	unit, levels := fingerprintFixture()
	if Fingerprint(unit, levels) != Fingerprint(unit, levels) {
		t.Error("fingerprint of identical content differs")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	unit, levels := fingerprintFixture()
	base := Fingerprint(unit, levels)

	tests := []struct {
		name   string
		mutate func(*Unit, []Level)
	}{
		{"answer change", func(_ *Unit, lv []Level) { lv[0].CorrectAnswer = "2/4" }},
		{"content change", func(_ *Unit, lv []Level) { lv[1].Content = "Pick one half." }},
		{"option change", func(_ *Unit, lv []Level) { lv[1].Options[0] = "Z" }},
		{"unit rename", func(u *Unit, _ []Level) { u.Name = "Fractions, Introduced" }},
		{"teaches change", func(u *Unit, _ []Level) { u.TeachesTopics = []string{"topic-decimals"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, lv := fingerprintFixture()
			tt.mutate(&u, lv)
			if Fingerprint(u, lv) == base {
				t.Error("fingerprint unchanged after content edit")
			}
		})
	}
}

func TestFingerprintIgnoresTimestamps(t *testing.T) {
	unit, levels := fingerprintFixture()
	base := Fingerprint(unit, levels)

	unit.CreatedAt = unit.CreatedAt.AddDate(0, 0, 1)
	if Fingerprint(unit, levels) != base {
		t.Error("timestamps should not affect the fingerprint")
	}
}
