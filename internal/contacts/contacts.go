// Package contacts maps external mail participants onto Contact pages and the
// partners those contacts belong to.
package contacts

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gotrs-io/casesync/internal/workspace"
)

// BatchSize bounds the number of addresses looked up per query.
const BatchSize = 25

// MaxNameRunes bounds generated display names.
const MaxNameRunes = 50

// Participant is one addressed party of a message.
type Participant struct {
	Name    string
	Address string
}

// Result lists the contacts touched by a message and their partners, in first-seen order.
type Result struct {
	ContactIDs []string
	Partners   []string
}

// Domains is a set of internal mail domains.
type Domains map[string]bool

// NewDomains builds a set from domain names or full addresses.
func NewDomains(values ...string) Domains {
	d := make(Domains)
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if i := strings.LastIndex(v, "@"); i >= 0 {
			v = v[i+1:]
		}
		if v != "" {
			d[v] = true
		}
	}
	return d
}

// Internal reports whether the address belongs to an internal domain.
func (d Domains) Internal(address string) bool {
	i := strings.LastIndex(address, "@")
	if i < 0 {
		return false
	}
	return d[strings.ToLower(strings.TrimSpace(address[i+1:]))]
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithInternalDomains excludes addresses of these domains from contact handling.
func WithInternalDomains(domains Domains) Option {
	return func(d *Directory) { d.internal = domains }
}

// Directory finds and lazily creates Contact pages.
type Directory struct {
	store    workspace.Store
	schema   workspace.ContactSchema
	internal Domains
	logger   *log.Logger
}

// NewDirectory creates a Directory over the Contacts database.
func NewDirectory(store workspace.Store, schema workspace.ContactSchema, opts ...Option) *Directory {
	d := &Directory{store: store, schema: schema, internal: Domains{}, logger: log.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Directory) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf("contacts: "+format, args...)
	}
}

// Ensure returns a Contact page for every external participant, creating missing ones,
// along with the partners linked to those contacts.
func (d *Directory) Ensure(ctx context.Context, participants []Participant) (Result, error) {
	addrs, names := d.externalAddresses(participants)
	if len(addrs) == 0 {
		return Result{}, nil
	}

	found := make(map[string]workspace.Page)
	for start := 0; start < len(addrs); start += BatchSize {
		end := start + BatchSize
		if end > len(addrs) {
			end = len(addrs)
		}
		batch := addrs[start:end]
		q := workspace.Query{}
		for _, a := range batch {
			q.AnyOf = append(q.AnyOf, workspace.Contains(d.schema.Email, a))
		}
		pages, err := d.store.Query(ctx, d.schema.Database, q)
		if err != nil {
			return Result{}, fmt.Errorf("contacts: lookup: %w", err)
		}
		for _, p := range pages {
			for _, a := range workspace.AddressesOf(p.Properties[d.schema.Email]) {
				if _, ok := found[a]; !ok {
					found[a] = p
				}
			}
		}
	}

	var res Result
	seenContact := make(map[string]bool)
	seenPartner := make(map[string]bool)
	for _, a := range addrs {
		p, ok := found[a]
		if !ok {
			created, err := d.store.CreatePage(ctx, d.schema.Database, workspace.Properties{
				d.schema.Title: workspace.Title(DisplayName(names[a], a)),
				d.schema.Email: workspace.Email(a),
			}, nil)
			if err != nil {
				return Result{}, fmt.Errorf("contacts: create %s: %w", a, err)
			}
			d.logf("created contact %s -> %s", a, created.ID)
			p = created
			found[a] = p
		}
		if !seenContact[p.ID] {
			seenContact[p.ID] = true
			res.ContactIDs = append(res.ContactIDs, p.ID)
		}
		for _, partner := range p.Properties.Items(d.schema.Partner) {
			if !seenPartner[partner] {
				seenPartner[partner] = true
				res.Partners = append(res.Partners, partner)
			}
		}
	}
	return res, nil
}

func (d *Directory) externalAddresses(participants []Participant) ([]string, map[string]string) {
	var addrs []string
	names := make(map[string]string)
	for _, p := range participants {
		a := strings.ToLower(strings.TrimSpace(p.Address))
		if !strings.Contains(a, "@") || d.internal.Internal(a) {
			continue
		}
		if _, ok := names[a]; !ok {
			addrs = append(addrs, a)
			names[a] = ""
		}
		if names[a] == "" {
			names[a] = strings.TrimSpace(p.Name)
		}
	}
	return addrs, names
}

// DisplayName picks a contact title: the header name when present, else the address
// local part split on dots and capitalised. The result is at most MaxNameRunes runes.
func DisplayName(name, address string) string {
	display := strings.TrimSpace(name)
	if display == "" {
		local := address
		if i := strings.Index(local, "@"); i >= 0 {
			local = local[:i]
		}
		var words []string
		for _, part := range strings.Split(local, ".") {
			if part = strings.TrimSpace(part); part != "" {
				words = append(words, capitalize(part))
			}
		}
		display = strings.Join(words, " ")
	}
	if utf8.RuneCountInString(display) > MaxNameRunes {
		display = string([]rune(display)[:MaxNameRunes])
	}
	return display
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
