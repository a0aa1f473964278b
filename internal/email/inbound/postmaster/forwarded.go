package postmaster

import (
	"regexp"
	"strings"

	"github.com/gotrs-io/casesync/internal/contacts"
	"github.com/gotrs-io/casesync/internal/utils"
)

// Markers that open a forwarded header block. Matched case-insensitively.
var forwardMarkers = []string{
	"---------- forwarded message ----------",
	"-----original message-----",
	"forwarded message",
	"original message",
}

const (
	forwardScanLines  = 3
	forwardBlockLines = 20
)

var (
	lineSplit        = regexp.MustCompile(`[\r\n]+`)
	quotePrefix      = regexp.MustCompile(`^[>*]+\s*`)
	participantField = regexp.MustCompile(`(?i)^(from|to|cc)\s*:\s*(.+)$`)
)

// forwardedHeaders holds the original participants of a forwarded message.
type forwardedHeaders struct {
	From []string
	To   []string
	Cc   []string
}

// extractForwarded looks for a forwarded header block near the top of the body. The block
// starts after a marker line or at a From/To/Cc line within the first lines, and runs until
// a blank line or a line that is neither a field nor a folded continuation.
func extractForwarded(body string) (forwardedHeaders, bool) {
	var lines []string
	for _, line := range lineSplit.Split(body, -1) {
		line = strings.TrimSpace(quotePrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			lines = append(lines, line)
		}
	}
	var starts []int
	for i := 0; i < len(lines) && i < forwardScanLines; i++ {
		low := strings.ToLower(lines[i])
		for _, m := range forwardMarkers {
			if strings.Contains(low, m) {
				starts = append(starts, i+1)
				break
			}
		}
		if participantField.MatchString(lines[i]) {
			starts = append(starts, i)
		}
	}
	for _, start := range starts {
		found := map[string][]string{}
		key := ""
		for j := start; j < len(lines) && j < start+forwardBlockLines; j++ {
			line := lines[j]
			if m := participantField.FindStringSubmatch(line); m != nil {
				key = strings.ToLower(m[1])
			}
			if addrs := findAddresses(line); key != "" && len(addrs) > 0 {
				found[key] = appendUnique(found[key], addrs...)
			} else if !strings.Contains(line, ":") {
				break
			}
		}
		if len(found) > 0 {
			return forwardedHeaders{From: found["from"], To: found["to"], Cc: found["cc"]}, true
		}
	}
	return forwardedHeaders{}, false
}

// applyForwarded replaces the envelope participants with the original ones of a forwarded
// message. Everyone else seen on the message moves to Cc.
func (p *envelopeParser) applyForwarded(env *Envelope) {
	body := env.Text
	if strings.TrimSpace(body) == "" {
		body = utils.PlainText(env.HTML)
	}
	fwd, ok := extractForwarded(body)
	if !ok {
		return
	}
	names := map[string]string{}
	for _, group := range [][]contacts.Participant{env.From, env.To, env.Cc} {
		for _, pt := range group {
			if pt.Name != "" {
				names[pt.Address] = pt.Name
			}
		}
	}
	from := fwd.From
	if len(from) == 0 {
		from = addressesOf(env.From)
	}
	to := fwd.To
	if len(to) == 0 {
		to = addressesOf(env.To)
	}
	primary := map[string]struct{}{}
	for _, a := range append(append([]string(nil), from...), to...) {
		primary[a] = struct{}{}
	}
	var cc []string
	for _, group := range [][]string{addressesOf(env.From), addressesOf(env.To), addressesOf(env.Cc), from, to, fwd.Cc} {
		for _, a := range group {
			if _, ok := primary[a]; ok {
				continue
			}
			cc = appendUnique(cc, a)
		}
	}
	build := func(addrs []string) []contacts.Participant {
		var out []contacts.Participant
		for _, a := range addrs {
			out = appendParticipant(out, names[a], a)
		}
		return out
	}
	env.From = build(from)
	env.To = build(to)
	env.Cc = build(cc)
	env.Forwarded = true
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, existing := range list {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, v)
		}
	}
	return list
}
