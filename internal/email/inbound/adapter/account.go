package adapter

import (
	"strings"

	"github.com/gotrs-io/casesync/internal/config"
	"github.com/gotrs-io/casesync/internal/email/inbound/connector"
)

// AccountFromConfig converts the imap config section to the connector payload.
func AccountFromConfig(c config.IMAPConfig) connector.Account {
	accountType := strings.ToLower(strings.TrimSpace(c.Type))
	if accountType == "" {
		accountType = "imaps"
	}
	return connector.Account{
		Type:          accountType,
		Host:          strings.TrimSpace(c.Host),
		Port:          c.Port,
		Username:      strings.TrimSpace(c.Username),
		Password:      []byte(c.Password),
		Folder:        strings.TrimSpace(c.Folder),
		ArchiveFolder: strings.TrimSpace(c.ArchiveFolder),
		AutoArchive:   c.AutoArchive,
		BatchSize:     c.BatchSize,
	}
}
