package safety

import (
	"fmt"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// HighRiskPhrases are checked first; any match is a terminal high verdict.
var HighRiskPhrases = []string{
	"kill myself",
	"suicide",
	"end my life",
	"don't want to live",
	"want to die",
	"self harm",
	"hurt myself",
}

// MediumRiskPhrases are ambiguous on their own and are escalated to the
// secondary classifier.
var MediumRiskPhrases = []string{
	"hopeless",
	"worthless",
	"can't go on",
	"no way out",
	"give up on everything",
	"better off without me",
	"nobody would miss me",
	"tired of living",
	"can't take it anymore",
}

// matcher finds whole-word occurrences of a fixed phrase set in a single
// pass over the input.
type matcher struct {
	machine *goahocorasick.Machine
	phrases []string
	index   map[string]int
}

func newMatcher(phrases []string) (*matcher, error) {
	m := &matcher{index: make(map[string]int, len(phrases))}
	patterns := make([][]rune, 0, len(phrases))
	for _, p := range phrases {
		n := normalize(p)
		if n == "" {
			continue
		}
		if _, dup := m.index[n]; dup {
			continue
		}
		m.index[n] = len(m.phrases)
		m.phrases = append(m.phrases, n)
		patterns = append(patterns, []rune(n))
	}
	if len(patterns) == 0 {
		return m, nil
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, fmt.Errorf("safety: build matcher: %w", err)
	}
	m.machine = machine
	return m, nil
}

// match returns the phrases found in normalized text, in table order.
func (m *matcher) match(text string) []string {
	if m.machine == nil || text == "" {
		return nil
	}
	runes := []rune(text)
	terms := m.machine.MultiPatternSearch(runes, false)
	if len(terms) == 0 {
		return nil
	}

	hit := make([]bool, len(m.phrases))
	for _, t := range terms {
		start, end := t.Pos, t.Pos+len(t.Word)
		if !boundary(runes, start-1) || !boundary(runes, end) {
			continue
		}
		if i, ok := m.index[string(t.Word)]; ok {
			hit[i] = true
		}
	}

	var out []string
	for i, ok := range hit {
		if ok {
			out = append(out, m.phrases[i])
		}
	}
	return out
}

// boundary reports whether position i is outside runes or holds a non-word
// character.
func boundary(runes []rune, i int) bool {
	if i < 0 || i >= len(runes) {
		return true
	}
	r := runes[i]
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

// normalize case-folds and trims text and unifies apostrophe variants so
// that "Don’t" matches "don't".
func normalize(text string) string {
	return apostrophes.Replace(strings.ToLower(strings.TrimSpace(text)))
}
