package workspace

import (
	"net/mail"
	"strings"
)

type addressExtractor func(Property) []string

var addressExtractors = map[PropertyKind]addressExtractor{
	KindPeople:      peopleAddresses,
	KindMultiSelect: itemAddresses,
	KindRichText:    textAddresses,
	KindTitle:       textAddresses,
	KindEmail:       textAddresses,
}

// AddressesOf returns the lowercased, deduplicated addresses held by a recipient
// property, whatever its shape. Unknown shapes yield nil.
func AddressesOf(p Property) []string {
	extract, ok := addressExtractors[p.Kind]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, raw := range extract(p) {
		addr := normalizeAddress(raw)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

func peopleAddresses(p Property) []string {
	out := make([]string, 0, len(p.People))
	for _, person := range p.People {
		out = append(out, person.Email)
	}
	return out
}

func itemAddresses(p Property) []string {
	return p.Items
}

// textAddresses accepts comma, semicolon or whitespace separated lists, with or
// without display names.
func textAddresses(p Property) []string {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(text); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
}

func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if a, err := mail.ParseAddress(s); err == nil {
		s = a.Address
	}
	s = strings.Trim(s, "<>")
	if !strings.Contains(s, "@") {
		return ""
	}
	return strings.ToLower(s)
}
