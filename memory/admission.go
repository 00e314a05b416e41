package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minAdmissibleLen   = 12
	maxStatementLen    = 200
	statementTerminals = ".!?"
)

// importantPatterns mark text worth keeping regardless of its shape.
var importantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bremember\b`),
	regexp.MustCompile(`(?i)\bpreference\b`),
	regexp.MustCompile(`(?i)\bI like\b`),
	regexp.MustCompile(`(?i)\bdeadline\b`),
	regexp.MustCompile(`(?i)\bremind me\b`),
	regexp.MustCompile(`(?i)\btodo\b|\btask\b`),
	regexp.MustCompile(`(?i)\bdecision\b`),
	regexp.MustCompile(`(?i)\bgoal\b`),
}

// IsAdmissible reports whether text is worth persisting.
//
// Text shorter than 12 characters is never kept. Text mentioning an
// importance cue (remembering, preferences, deadlines, reminders, tasks,
// decisions, goals) is always kept. Anything else is kept only when it is a
// short complete statement: at most 200 characters ending in '.', '!' or '?'.
func IsAdmissible(text string) bool {
	n := utf8.RuneCountInString(text)
	if n < minAdmissibleLen {
		return false
	}

	for _, p := range importantPatterns {
		if p.MatchString(text) {
			return true
		}
	}

	if n > maxStatementLen {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(text)
	return strings.ContainsRune(statementTerminals, last)
}
