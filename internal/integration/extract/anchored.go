package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// percentCandidate is a percentage-shaped token not glued to other digits
var percentCandidate = regexp.MustCompile(`(?:^|\D)(\d{1,3}[.,]\d{1,2})(?:\D|$)`)

// Match is one dam value found next to its name
type Match struct {
	Name string
	Rate float64
}

// Anchored finds a value for each name. Every case-insensitive occurrence of the name is
// tried in turn and the first percentage-shaped token within window runes after it is taken.
// A token above 100 rejects that occurrence only. Each name yields at most one match.
func Anchored(text string, names []string, window int) []Match {
	lower := fold(text)
	var out []Match
	for _, name := range names {
		rate, ok := anchorValue(lower, fold(name), window)
		if !ok {
			continue
		}
		out = append(out, Match{Name: name, Rate: rate})
	}
	return Dedup(out)
}

// fold lowers s with Turkish rules and then merges dotless ı into i, so "DARLIK", "Darlık"
// and "darlik" compare equal.
func fold(s string) string {
	return strings.ReplaceAll(cases.Lower(language.Turkish).String(s), "ı", "i")
}

func anchorValue(lower, needle string, window int) (float64, bool) {
	if needle == "" {
		return 0, false
	}
	offset := 0
	for offset < len(lower) {
		idx := strings.Index(lower[offset:], needle)
		if idx < 0 {
			return 0, false
		}
		start := offset + idx + len(needle)
		if rate, ok := firstPercent(runePrefix(lower[start:], window)); ok {
			return rate, true
		}
		offset = start
	}
	return 0, false
}

func firstPercent(area string) (float64, bool) {
	m := percentCandidate.FindStringSubmatch(area)
	if m == nil {
		return 0, false
	}
	v, err := ParseNumber(m[1])
	if err != nil || !InRange(v) {
		return 0, false
	}
	return v, true
}

func runePrefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Dedup drops repeated (name, value) pairs. Order of first appearance is kept.
func Dedup(matches []Match) []Match {
	if len(matches) == 0 {
		return matches
	}
	seen := make(map[Match]struct{}, len(matches))
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// missing returns the names that have no match yet
func missing(names []string, found []Match) []string {
	have := make(map[string]bool, len(found))
	for _, m := range found {
		have[m.Name] = true
	}
	var out []string
	for _, n := range names {
		if !have[n] {
			out = append(out, n)
		}
	}
	return out
}
