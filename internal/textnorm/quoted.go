package textnorm

import (
	"regexp"
	"strings"
)

var (
	attributionStart = regexp.MustCompile(`(?i)^\s*on\s+\S`)
	attributionLine  = regexp.MustCompile(`(?i)^\s*on\s+(.+?)\s*wrote\s*:\s*$`)
	originalMessage  = regexp.MustCompile(`(?i)^\s*-{2,}\s*original message\s*-{2,}\s*$`)
	weekdayToken     = regexp.MustCompile(`(?i)\b(mon|tue|wed|thu|fri|sat|sun)[a-z]*\b`)
	digitToken       = regexp.MustCompile(`[0-9]`)
)

// DetectQuotedThreadStart returns the index of the first line that opens a quoted
// prior thread ("On <date>, X wrote:" or an Outlook separator). Gmail sometimes wraps the
// attribution over two lines, so a line is also tried joined with its successor.
func DetectQuotedThreadStart(lines []string) (int, bool) {
	for i, line := range lines {
		if isQuoteMarker(line) {
			return i, true
		}
		if i+1 < len(lines) && attributionStart.MatchString(line) && isQuoteMarker(line+" "+strings.TrimSpace(lines[i+1])) {
			return i, true
		}
	}
	return 0, false
}

func isQuoteMarker(line string) bool {
	if originalMessage.MatchString(line) {
		return true
	}
	m := attributionLine.FindStringSubmatch(line)
	if len(m) < 2 {
		return false
	}
	phrase := m[1]
	return weekdayToken.MatchString(phrase) || digitToken.MatchString(phrase)
}
