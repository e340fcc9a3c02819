// Package catalog persists generated courses and serves the admin CRUD
// and outline views over the course collections.
package catalog

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FallbackCode is used when a topic leaves nothing to abbreviate.
const FallbackCode = "GEN"

var stopWords = regexp.MustCompile(`(?i)introduction to|quality|management|system`)

// DeriveCode abbreviates a topic into a course code: stop words and
// punctuation are removed, numeric tokens are kept whole and every other
// token contributes its first character.
//
//	DeriveCode("Introduction to ISO 9001 Quality Management") == "I9001"
func DeriveCode(topic string) string {
	s := stopWords.ReplaceAllString(topic, " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)

	var b strings.Builder
	for _, tok := range strings.Fields(s) {
		if isNumeric(tok) {
			b.WriteString(tok)
			continue
		}
		for _, r := range tok {
			b.WriteRune(r)
			break
		}
	}
	if b.Len() == 0 {
		return FallbackCode
	}
	// Casers are stateful, so one is built per call.
	return cases.Upper(language.Und).String(b.String())
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
