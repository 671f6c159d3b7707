// Package extract turns raw page text or markup into occupancy percentages.
//
// Every extractor is a pure function over a string snapshot. Strategies are tried in the
// order given and the first structural match wins; there is no scoring between strategies.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// numberToken matches a plain number with an optional decimal part in either notation
var numberToken = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// Strategy locates a percentage-shaped token inside text
type Strategy interface {
	Find(text string) (token string, ok bool)
}

// StrategyFunc adapts a plain function to Strategy
type StrategyFunc func(text string) (string, bool)

// Find calls f(text)
func (f StrategyFunc) Find(text string) (string, bool) {
	return f(text)
}

// Regex returns a strategy matching pattern. When the pattern has a capture group the first
// group is the token, otherwise the whole match is.
func Regex(pattern string) Strategy {
	re := regexp.MustCompile(pattern)
	return StrategyFunc(func(text string) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		if len(m) > 1 && m[1] != "" {
			return m[1], true
		}
		return m[0], true
	})
}

// JSONField returns a strategy reading a gjson path from a JSON-ish payload, such as
// {"total":"13.05 %"}. The first number inside the field value is the token.
func JSONField(path string) Strategy {
	return StrategyFunc(func(text string) (string, bool) {
		if !gjson.Valid(text) {
			return "", false
		}
		field := gjson.Get(text, path)
		if !field.Exists() {
			return "", false
		}
		token := numberToken.FindString(field.String())
		return token, token != ""
	})
}

// Attr returns a strategy reading attr from the first element matching selector in markup
func Attr(selector, attr string) Strategy {
	return StrategyFunc(func(text string) (string, bool) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err != nil {
			return "", false
		}
		value, ok := doc.Find(selector).First().Attr(attr)
		if !ok {
			return "", false
		}
		token := numberToken.FindString(value)
		return token, token != ""
	})
}

// Within applies s to the string stored at path when text is a JSON payload,
// and to text itself otherwise.
func Within(path string, s Strategy) Strategy {
	return StrategyFunc(func(text string) (string, bool) {
		if gjson.Valid(text) {
			field := gjson.Get(text, path)
			if !field.Exists() {
				return "", false
			}
			return s.Find(field.String())
		}
		return s.Find(text)
	})
}

// ParseNumber parses a token accepting both "." and "," as decimal separator
func ParseNumber(token string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(token), ",", "."), 64)
}

// InRange reports whether v is a valid occupancy percentage
func InRange(v float64) bool {
	return v >= 0 && v <= 100
}

// Percentage runs chain over text and returns the first in-range value.
// A token that does not parse or lies outside [0, 100] is discarded and the next
// strategy is tried.
func Percentage(text string, chain ...Strategy) (float64, bool) {
	for _, s := range chain {
		token, ok := s.Find(text)
		if !ok {
			continue
		}
		v, err := ParseNumber(token)
		if err != nil || !InRange(v) {
			continue
		}
		return v, true
	}
	return 0, false
}

// VisibleText returns the human-visible text of markup with whitespace collapsed.
// Input that cannot be parsed is returned unchanged.
func VisibleText(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return markup
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Snippet bounds s to at most n runes for log output
func Snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
