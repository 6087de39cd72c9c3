// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"errors"
	"fmt"
	"strings"

	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotOpen is returned by History methods on a nil or closed DB.
var ErrNotOpen = errors.New("coredb: database not initialised")

// SchemaVersionError reports a history file created by a newer kfpt.
type SchemaVersionError struct {
	Found     int64
	Supported int64
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("coredb: history schema v%d is newer than supported v%d", e.Found, e.Supported)
}

type codeError interface {
	Code() int
}

// IsQuotaExceeded reports whether err means the history hit its size cap.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	var coder codeError
	if errors.As(err, &coder) && coder.Code()&0xff == sqlite3.SQLITE_FULL {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database or disk is full") ||
		(strings.Contains(msg, "quota") && strings.Contains(msg, "exceeded"))
}
