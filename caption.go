package catset

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxCaptionRunes bounds the caption sent to the classifier. Long reposts
// carry the cue in the first paragraphs.
const maxCaptionRunes = 4000

// PrepareCaption collapses whitespace and truncates the caption to
// maxCaptionRunes runes.
func PrepareCaption(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxCaptionRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxCaptionRunes])
}

// PreClassify resolves captions without calling the classifier when the
// answer is known up front. Returns skip=false when the classifier should be
// consulted.
//
// Current heuristics:
//   - no letters at all (empty, emoji-only, digits) → LabelOther; there is no
//     gender cue to find.
func PreClassify(caption string) (label Label, skip bool) {
	for _, r := range caption {
		if unicode.IsLetter(r) {
			return LabelOther, false
		}
	}
	return LabelOther, true
}
