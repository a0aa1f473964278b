package workspace

import (
	"sort"
	"strings"
	"time"
)

// PropertyKind is the shape of a page property.
type PropertyKind string

const (
	KindTitle       PropertyKind = "title"
	KindRichText    PropertyKind = "rich_text"
	KindSelect      PropertyKind = "select"
	KindMultiSelect PropertyKind = "multi_select"
	KindEmail       PropertyKind = "email"
	KindPeople      PropertyKind = "people"
	KindCheckbox    PropertyKind = "checkbox"
	KindRelation    PropertyKind = "relation"
	KindFiles       PropertyKind = "files"
	KindDate        PropertyKind = "date"
	KindURL         PropertyKind = "url"
)

// Person is a workspace user or an addressed participant.
type Person struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// File references a stored or external file.
type File struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Property is a tagged property value. Only the field matching Kind is meaningful.
// Text backs title, rich_text, select, email and url; Items backs multi_select and relation.
type Property struct {
	Kind   PropertyKind `json:"kind"`
	Text   string       `json:"text,omitempty"`
	Items  []string     `json:"items,omitempty"`
	People []Person     `json:"people,omitempty"`
	Files  []File       `json:"files,omitempty"`
	Bool   bool         `json:"bool,omitempty"`
	Time   *time.Time   `json:"time,omitempty"`
}

// Properties maps property names to values.
type Properties map[string]Property

// Title builds a title property.
func Title(s string) Property { return Property{Kind: KindTitle, Text: s} }

// RichText builds a rich text property holding plain text.
func RichText(s string) Property { return Property{Kind: KindRichText, Text: s} }

// Select builds a single-select property.
func Select(s string) Property { return Property{Kind: KindSelect, Text: s} }

// Email builds an email property.
func Email(s string) Property { return Property{Kind: KindEmail, Text: s} }

// URL builds a url property.
func URL(s string) Property { return Property{Kind: KindURL, Text: s} }

// Checkbox builds a checkbox property.
func Checkbox(b bool) Property { return Property{Kind: KindCheckbox, Bool: b} }

// People builds a people property.
func People(p ...Person) Property { return Property{Kind: KindPeople, People: p} }

// Files builds a files property.
func Files(f ...File) Property { return Property{Kind: KindFiles, Files: f} }

// MultiSelect builds a multi-select property.
func MultiSelect(v ...string) Property { return Property{Kind: KindMultiSelect, Items: v} }

// Relation links to other pages by id.
func Relation(ids ...string) Property {
	return Property{Kind: KindRelation, Items: ids}
}

// Date builds a date property in UTC.
func Date(t time.Time) Property {
	u := t.UTC()
	return Property{Kind: KindDate, Time: &u}
}

// IsEmpty reports whether the property carries no value.
func (p Property) IsEmpty() bool {
	switch p.Kind {
	case KindCheckbox:
		return !p.Bool
	case KindMultiSelect, KindRelation:
		return len(p.Items) == 0
	case KindPeople:
		return len(p.People) == 0
	case KindFiles:
		return len(p.Files) == 0
	case KindDate:
		return p.Time == nil || p.Time.IsZero()
	default:
		return strings.TrimSpace(p.Text) == ""
	}
}

// Text returns the text of a property, or "".
func (ps Properties) Text(name string) string {
	return strings.TrimSpace(ps[name].Text)
}

// Bool returns a checkbox value.
func (ps Properties) Bool(name string) bool {
	return ps[name].Bool
}

// Items returns relation ids or multi-select values.
func (ps Properties) Items(name string) []string {
	return ps[name].Items
}

// Has reports whether name is set to a non-empty value.
func (ps Properties) Has(name string) bool {
	p, ok := ps[name]
	return ok && !p.IsEmpty()
}

// Clone returns a deep copy.
func (ps Properties) Clone() Properties {
	if ps == nil {
		return Properties{}
	}
	out := make(Properties, len(ps))
	for k, v := range ps {
		v.Items = append([]string(nil), v.Items...)
		v.People = append([]Person(nil), v.People...)
		v.Files = append([]File(nil), v.Files...)
		if v.Time != nil {
			t := *v.Time
			v.Time = &t
		}
		out[k] = v
	}
	return out
}

// Names lists property names in sorted order.
func (ps Properties) Names() []string {
	names := make([]string, 0, len(ps))
	for k := range ps {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
