// Package search implements case-insensitive question search with
// excerpts around each match.
package search

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/knol"
)

// Field labels reported in Hit.MatchIn.
const (
	FieldStem         = "stem"
	FieldCaseTitle    = "case_title"
	FieldCaseVignette = "case_vignette"
	FieldOption       = "option"
)

// DefaultRadius is the number of runes kept on each side of a match.
const DefaultRadius = 35

const ellipsis = "…"

// Excerpt is the context window around the first match in one field.
type Excerpt struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// Hit is a question matched by a search.
type Hit struct {
	QuestionID uuid.UUID `json:"questionId"`
	ExamID     uuid.UUID `json:"examId"`
	Stem       string    `json:"stem"`
	MatchIn    []string  `json:"matchIn"`
	Excerpts   []Excerpt `json:"excerpts"`
}

// Match checks every searchable field of r for query and returns a hit with
// one label and one excerpt per matching field. For options only the first
// matching option is excerpted. An empty query matches nothing.
func Match(r domain.SearchRecord, query string, radius int) Hit {
	hit := Hit{QuestionID: r.QuestionID, ExamID: r.ExamID, Stem: r.Stem, MatchIn: []string{}, Excerpts: []Excerpt{}}
	needle := knol.Fold(query)
	if needle == "" {
		return hit
	}

	add := func(field, text string) bool {
		ex, ok := excerpt(text, needle, radius)
		if !ok {
			return false
		}
		hit.MatchIn = append(hit.MatchIn, field)
		hit.Excerpts = append(hit.Excerpts, Excerpt{Field: field, Text: ex})
		return true
	}

	add(FieldStem, r.Stem)
	add(FieldCaseTitle, r.CaseTitle)
	add(FieldCaseVignette, r.CaseVignette)
	for _, o := range r.Options {
		if add(FieldOption, o) {
			break
		}
	}
	return hit
}

// excerpt returns the window of text reaching radius runes beyond the first
// occurrence of the folded needle on each side. Ellipses mark cut ends.
func excerpt(text, needle string, radius int) (string, bool) {
	folded := knol.Fold(text)
	at := strings.Index(folded, needle)
	if at < 0 {
		return "", false
	}

	// Fold keeps the rune count, so rune offsets carry over to text.
	runes := []rune(text)
	start := utf8.RuneCountInString(folded[:at])
	end := start + utf8.RuneCountInString(needle)

	from := max(start-radius, 0)
	to := min(end+radius, len(runes))

	var b strings.Builder
	if from > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(string(runes[from:to]))
	if to < len(runes) {
		b.WriteString(ellipsis)
	}
	return b.String(), true
}
