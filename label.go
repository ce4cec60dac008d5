package catset

import "strings"

// Label is the closed set of classes a caption can resolve to.
type Label int

const (
	LabelMale   Label = iota // a single male cat is the subject
	LabelFemale              // a single female cat is the subject
	LabelOther               // several cats, kittens, or no gender cue
)

// Labels lists every class in class-id order.
var Labels = []Label{LabelMale, LabelFemale, LabelOther}

// ClassID returns the integer written to label files.
func (l Label) ClassID() int { return int(l) }

func (l Label) String() string {
	switch l {
	case LabelMale:
		return "MALE"
	case LabelFemale:
		return "FEMALE"
	default:
		return "OTHER"
	}
}

// Canonical returns the literal the classifier is instructed to answer with.
func (l Label) Canonical() string {
	switch l {
	case LabelMale:
		return "MALE CAT"
	case LabelFemale:
		return "FEMALE CAT"
	default:
		return "OTHER"
	}
}

// ClassName returns the manifest class name.
func (l Label) ClassName() string {
	switch l {
	case LabelMale:
		return "male_cat"
	case LabelFemale:
		return "female_cat"
	default:
		return "other"
	}
}

// ClassNames returns the manifest class names in class-id order.
func ClassNames() []string {
	names := make([]string, len(Labels))
	for i, l := range Labels {
		names[i] = l.ClassName()
	}
	return names
}

// ParseLabel maps a free-form classifier answer to a Label. It never fails:
// an exact canonical answer wins, otherwise the answer is scanned for the
// canonical literals and exactly one hit decides. No hit or several hits
// resolve to LabelOther.
//
// "MALE CAT" is a substring of "FEMALE CAT", so a non-exact answer that
// mentions the female literal is ambiguous by construction.
func ParseLabel(candidate string) Label {
	norm := normalizeAnswer(candidate)
	for _, l := range Labels {
		if norm == l.Canonical() {
			return l
		}
	}

	var hits []Label
	for _, l := range Labels {
		if strings.Contains(norm, l.Canonical()) {
			hits = append(hits, l)
		}
	}
	if len(hits) != 1 {
		return LabelOther
	}
	return hits[0]
}

// normalizeAnswer upper-cases the answer and strips whitespace, quotes and
// trailing punctuation the model sometimes wraps around the literal.
func normalizeAnswer(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.Trim(s, "\"'`«».!;: \t\r\n")
	return strings.Join(strings.Fields(s), " ")
}
