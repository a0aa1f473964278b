package textnorm

import "regexp"

// Ticket ids are exactly ten ASCII digits wrapped in square brackets.
var ticketPattern = regexp.MustCompile(`\[([0-9]{10})\]`)

// ExtractTicketID returns the first bracketed ticket id, searching the subject before the body.
func ExtractTicketID(subject, body string) (string, bool) {
	if id := FindTicketID(subject); id != "" {
		return id, true
	}
	if id := FindTicketID(body); id != "" {
		return id, true
	}
	return "", false
}

// FindTicketID scans a single text for a ticket token.
func FindTicketID(text string) string {
	if text == "" {
		return ""
	}
	m := ticketPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

