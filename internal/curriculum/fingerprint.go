package curriculum

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a stable hash of a unit's teachable content. Units are
// immutable once attempted; a fingerprint change for an already-attempted
// unit id means content was edited in place instead of republished as a new
// unit, which the catalog rejects.
func Fingerprint(u Unit, levels []Level) string {
	var b strings.Builder
	fmt.Fprintf(&b, "unit|%s|%s|%s|%s|%d\n", u.ID, u.TopicID, u.Name, u.Difficulty, u.UnitOrder)
	fmt.Fprintf(&b, "teaches|%s\n", strings.Join(u.TeachesTopics, ","))
	for _, lv := range levels {
		fmt.Fprintf(&b, "level|%s|%d|%s|%s|%s|%s\n",
			lv.ID, lv.LevelOrder, lv.QuestionType, lv.Content, lv.CorrectAnswer,
			strings.Join(lv.Options, ","))
	}

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
