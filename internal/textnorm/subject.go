// Package textnorm holds the pure text helpers shared by the inbound and outbound flows:
// subject cleanup, ticket id extraction, and quoted-thread detection.
package textnorm

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxSubjectRunes bounds cleaned subjects so they stay usable as exact-match titles.
const MaxSubjectRunes = 200

// NoSubject is shown when a message carries no usable subject.
const NoSubject = "(No Subject)"

var (
	replyMarkers = regexp.MustCompile(`(?i)^\s*(?:(?:re|fwd?|aw|wg|reply-\d+)\s*(?:\[\d+\])?\s*:\s*)+`)
	lineBreaks   = regexp.MustCompile(`[\r\n]+`)
)

// CleanSubject strips chained reply/forward markers, trims stray colons and whitespace,
// folds line breaks and truncates the result. CleanSubject(CleanSubject(s)) == CleanSubject(s).
func CleanSubject(subject string) string {
	out := subject
	for i := 0; i < 4; i++ {
		next := cleanOnce(out)
		if next == out {
			return next
		}
		out = next
	}
	return out
}

// DisplaySubject is CleanSubject with a placeholder for empty results.
func DisplaySubject(subject string) string {
	if cleaned := CleanSubject(subject); cleaned != "" {
		return cleaned
	}
	return NoSubject
}

// ReplySubject prefixes a cleaned subject with "Re: " for outbound replies.
func ReplySubject(subject string) string {
	cleaned := CleanSubject(subject)
	if cleaned == "" {
		return "Re: " + NoSubject
	}
	return "Re: " + cleaned
}

func cleanOnce(s string) string {
	s = norm.NFC.String(s)
	s = lineBreaks.ReplaceAllString(s, " ")
	for {
		trimmed := strings.Trim(s, ": \t")
		stripped := replyMarkers.ReplaceAllString(trimmed, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	s = truncateRunes(s, MaxSubjectRunes)
	return strings.TrimRight(s, ": \t")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
