package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validator collects configuration problems. Errors fail validation, warnings are reported only.
type Validator struct {
	config   *Config
	errors   []string
	warnings []string
}

func NewValidator(cfg *Config) *Validator {
	return &Validator{
		config:   cfg,
		errors:   []string{},
		warnings: []string{},
	}
}

// Validate checks the settings both loops need.
func Validate(cfg *Config) error {
	v := NewValidator(cfg)
	v.checkStore()
	v.checkInbound()
	v.checkOutbound()
	return v.Err()
}

// ValidateInbound checks the settings the inbound loop needs.
func ValidateInbound(cfg *Config) error {
	v := NewValidator(cfg)
	v.checkStore()
	v.checkInbound()
	return v.Err()
}

// ValidateOutbound checks the settings the outbound loop needs.
func ValidateOutbound(cfg *Config) error {
	v := NewValidator(cfg)
	v.checkStore()
	v.checkOutbound()
	return v.Err()
}

// Err returns nil or an error wrapping ErrInvalid that lists every problem found.
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n%s", ErrInvalid, strings.Join(v.errors, "\n"))
}

// Warnings returns the non-fatal findings.
func (v *Validator) Warnings() []string {
	return v.warnings
}

func (v *Validator) checkStore() {
	s := v.config.Store
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "memory":
		v.addWarning("store.driver is memory; records are lost on exit")
	case "sqlite", "sqlite3", "postgres", "postgresql", "mysql":
		if strings.TrimSpace(s.DSN) == "" {
			v.addError("store.dsn is not set")
		}
	case "":
		v.addError("store.driver is not set")
	default:
		v.addError(fmt.Sprintf("store.driver %q is not supported", s.Driver))
	}
}

func (v *Validator) checkInbound() {
	m := v.config.IMAP
	if strings.TrimSpace(m.Host) == "" {
		v.addError("imap.host is not set")
	}
	if strings.TrimSpace(m.Username) == "" {
		v.addError("imap.username is not set")
	}
	if m.Password == "" {
		v.addError("imap.password is not set")
	}
	switch strings.ToLower(m.Type) {
	case "imap", "imaps", "imaptls":
	default:
		v.addError(fmt.Sprintf("imap.type %q is not supported", m.Type))
	}
	if m.Port < 0 || m.Port > 65535 {
		v.addError(fmt.Sprintf("imap.port %d is out of range", m.Port))
	}
	if m.AutoArchive && strings.TrimSpace(m.ArchiveFolder) == "" {
		v.addError("imap.archive_folder is required with imap.auto_archive")
	}

	r := v.config.Routing
	if r.TechnicalAlias == "" && r.SupportAlias == "" && r.TrackingAlias == "" {
		v.addError("routing needs at least one of technical_alias, support_alias, tracking_alias")
	}
	for name, alias := range map[string]string{
		"routing.technical_alias": r.TechnicalAlias,
		"routing.support_alias":   r.SupportAlias,
		"routing.tracking_alias":  r.TrackingAlias,
	} {
		if alias != "" && !strings.Contains(alias, "@") {
			v.addError(fmt.Sprintf("%s %q is not an address", name, alias))
		}
	}
	switch r.TrackingPolicy {
	case "", "keep", "resolve":
	default:
		v.addError(fmt.Sprintf("routing.tracking_policy %q must be keep or resolve", r.TrackingPolicy))
	}
	if len(r.InternalDomains) == 0 {
		v.addWarning("routing.internal_domains is empty; every sender counts as external")
	}
	v.checkInterval("inbound.poll_interval", v.config.Inbound.PollInterval)

	switch v.config.Convert.PlainTextMode {
	case "", "paragraphs", "markdown":
	default:
		v.addError(fmt.Sprintf("convert.plain_text_mode %q must be paragraphs or markdown", v.config.Convert.PlainTextMode))
	}
	v.checkStorage()
}

func (v *Validator) checkOutbound() {
	o := v.config.Outbound
	v.checkInterval("outbound.poll_interval", o.PollInterval)
	if o.SendEnabled {
		s := v.config.SMTP
		if strings.TrimSpace(s.Host) == "" {
			v.addError("smtp.host is not set")
		}
		if strings.TrimSpace(s.From) == "" {
			v.addError("smtp.from is not set")
		}
		switch strings.ToLower(s.TLSMode) {
		case "", "none", "starttls", "tls", "ssl":
		default:
			v.addError(fmt.Sprintf("smtp.tls_mode %q is not supported", s.TLSMode))
		}
		if s.SkipVerify {
			v.addWarning("smtp.skip_verify disables certificate checks")
		}
	} else if strings.TrimSpace(o.RenderDir) == "" {
		v.addError("outbound.render_dir is required when outbound.send_enabled is false")
	}
	if o.DownloadConcurrency < 1 {
		v.addWarning("outbound.download_concurrency below 1; using 1")
	}
}

func (v *Validator) checkStorage() {
	s := v.config.Storage
	switch strings.ToLower(s.Type) {
	case "", "none":
	case "fs", "filesystem", "local":
		if s.FSPath == "" {
			v.addError("storage.fs_path is not set")
		}
	case "s3":
		if s.S3Bucket == "" {
			v.addError("storage.s3_bucket is not set")
		}
	default:
		v.addError(fmt.Sprintf("storage.type %q is not supported", s.Type))
	}
}

func (v *Validator) checkInterval(key string, d time.Duration) {
	if d <= 0 {
		v.addError(key + " must be positive")
	}
}

func (v *Validator) addError(message string) {
	v.errors = append(v.errors, "   - "+message)
}

func (v *Validator) addWarning(message string) {
	v.warnings = append(v.warnings, "   - "+message)
}
