package workspace

import (
	"sort"
	"strings"
	"time"
)

// Op is a filter operator.
type Op string

const (
	// OpEquals matches text exactly, or a list holding the value as an element.
	OpEquals Op = "equals"
	// OpContains matches text case-insensitively, or a list holding the value.
	OpContains Op = "contains"
	// OpChecked matches a checkbox equal to Filter.Bool.
	OpChecked Op = "checked"
	// OpIsEmpty matches an unset or empty property.
	OpIsEmpty Op = "is_empty"
)

// Filter is one predicate over a named property.
type Filter struct {
	Property string
	Op       Op
	Value    string
	Bool     bool
}

// Equals builds an equality filter.
func Equals(property, value string) Filter {
	return Filter{Property: property, Op: OpEquals, Value: value}
}

// Contains builds a containment filter.
func Contains(property, value string) Filter {
	return Filter{Property: property, Op: OpContains, Value: value}
}

// Checked builds a checkbox filter.
func Checked(property string, value bool) Filter {
	return Filter{Property: property, Op: OpChecked, Bool: value}
}

// SortOrder orders query results by last update time.
type SortOrder int

const (
	SortDescending SortOrder = iota
	SortAscending
)

// Query selects pages of one database. Filters must all match; when AnyOf is non-empty
// at least one of its filters must match as well.
type Query struct {
	Filters      []Filter
	AnyOf        []Filter
	UpdatedSince time.Time
	Sort         SortOrder
	Limit        int
}

// Match reports whether p satisfies q.
func (q Query) Match(p Page) bool {
	if !q.UpdatedSince.IsZero() && p.UpdatedAt.Before(q.UpdatedSince) {
		return false
	}
	for _, f := range q.Filters {
		if !f.Match(p.Properties) {
			return false
		}
	}
	if len(q.AnyOf) == 0 {
		return true
	}
	for _, f := range q.AnyOf {
		if f.Match(p.Properties) {
			return true
		}
	}
	return false
}

// Apply filters, sorts and limits pages.
func (q Query) Apply(pages []Page) []Page {
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		if q.Match(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Sort == SortAscending {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Match evaluates f against props.
func (f Filter) Match(props Properties) bool {
	p, ok := props[f.Property]
	switch f.Op {
	case OpIsEmpty:
		return !ok || p.IsEmpty()
	case OpChecked:
		return p.Bool == f.Bool
	}
	if !ok {
		return false
	}
	switch p.Kind {
	case KindMultiSelect, KindRelation:
		for _, item := range p.Items {
			if item == f.Value {
				return true
			}
		}
		return false
	case KindPeople:
		for _, person := range p.People {
			if strings.EqualFold(person.Email, f.Value) {
				return true
			}
		}
		return false
	case KindFiles:
		for _, file := range p.Files {
			if file.Name == f.Value || file.URL == f.Value {
				return true
			}
		}
		return false
	case KindCheckbox:
		return false
	}
	if f.Op == OpContains {
		return strings.Contains(strings.ToLower(p.Text), strings.ToLower(f.Value))
	}
	if p.Kind == KindEmail {
		return strings.EqualFold(strings.TrimSpace(p.Text), strings.TrimSpace(f.Value))
	}
	return p.Text == f.Value
}
