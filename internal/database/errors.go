package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// IsConnectionError reports whether err means the store could not be reached, as opposed to
// a bad query or bad data. A pass that fails this way is retried on the next interval.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"connection refused",
		"connection reset",
		"host is unreachable",
		"network is unreachable",
		"broken pipe",
		"bad connection",
		"database is closed",
		"database is locked",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
