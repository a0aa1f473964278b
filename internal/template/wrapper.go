// Package template renders outbound reply bodies inside the branded email wrapper.
package template

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

// WrapperFile is the file name looked up in the template directory.
const WrapperFile = "email_wrapper.html"

// DefaultBrand is used when no brand is configured.
const DefaultBrand = "Our Team"

//go:embed email_wrapper.html
var defaultWrapper string

// WrapperData is the per-message input of the wrapper.
type WrapperData struct {
	Subject string
	// Body is trusted HTML produced by the block converter and is not escaped.
	Body     string
	From     string
	TicketID string
	// Creator is the author name added to the signature, empty to sign as the team only.
	Creator string
}

// WrapperCache loads the wrapper template once and renders every outbound message with it.
// A wrapper file in the template directory replaces the built-in one. The cache is never
// invalidated; edits to the file need a restart.
type WrapperCache struct {
	Brand   string
	IconURL string
	Footer  string

	dir  string
	once sync.Once
	tmpl *pongo2.Template
	err  error
}

// NewWrapperCache creates a cache reading overrides from templateDir, which may be empty.
func NewWrapperCache(templateDir, brand string) *WrapperCache {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		brand = DefaultBrand
	}
	return &WrapperCache{
		Brand:  brand,
		Footer: fmt.Sprintf("You received this email from %s.", brand),
		dir:    templateDir,
	}
}

func (c *WrapperCache) load() (*pongo2.Template, error) {
	c.once.Do(func() {
		if c.dir != "" {
			path := filepath.Join(c.dir, WrapperFile)
			if _, err := os.Stat(path); err == nil {
				c.tmpl, c.err = pongo2.FromFile(path)
				if c.err != nil {
					c.err = fmt.Errorf("template: parse %s: %w", path, c.err)
				}
				return
			} else if !errors.Is(err, os.ErrNotExist) {
				c.err = fmt.Errorf("template: stat %s: %w", path, err)
				return
			}
		}
		c.tmpl, c.err = pongo2.FromString(defaultWrapper)
	})
	return c.tmpl, c.err
}

// Render returns the complete HTML document for one message.
func (c *WrapperCache) Render(data WrapperData) (string, error) {
	tmpl, err := c.load()
	if err != nil {
		return "", err
	}
	ticketText := ""
	if id := strings.TrimSpace(data.TicketID); id != "" {
		ticketText = "Ticket [" + id + "]"
	}
	out, err := tmpl.Execute(pongo2.Context{
		"subject":     data.Subject,
		"brand":       c.Brand,
		"icon_url":    c.IconURL,
		"ticket_text": ticketText,
		"body":        data.Body,
		"signature":   c.Signature(data.From, data.Creator),
		"footer":      c.Footer,
	})
	if err != nil {
		return "", fmt.Errorf("template: render wrapper: %w", err)
	}
	return out, nil
}

// Signature returns the sign-off line: the team name derived from the sender's local part,
// prefixed by the creator when one is given.
func (c *WrapperCache) Signature(from, creator string) string {
	team := c.Brand + " Team"
	if at := strings.Index(from, "@"); at > 0 {
		local := from[:at]
		if i := strings.LastIndex(local, "<"); i >= 0 {
			local = local[i+1:]
		}
		if local = strings.TrimSpace(local); local != "" {
			team = c.Brand + " " + strings.ToUpper(local[:1]) + strings.ToLower(local[1:]) + " Team"
		}
	}
	if creator = strings.TrimSpace(creator); creator != "" {
		return creator + ", " + team
	}
	return team
}
