// Package utils contains small helpers for diagnostics and resource
// cleanup.
package utils

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/siddontang/loggers"
)

const (
	PrimaryKeySeparator = "-#-" // used to hash a composite primary key
)

// HashKey converts a composite key into a string so it can be used as a
// map key (e.g. tracking which primary keys a batch has already touched).
func HashKey(key []interface{}) string {
	var pk []string
	for _, v := range key {
		pk = append(pk, fmt.Sprintf("%v", v))
	}
	return strings.Join(pk, PrimaryKeySeparator)
}

// UnhashKey converts a hashed key back into a SQL literal list suitable for
// an IN(...) or tuple-equality clause, e.g. for ad hoc diagnostics. The
// synchronization core itself never builds literal SQL (see pkg/statement);
// this exists for tooling built on top of it.
func UnhashKey(key string) string {
	parts := strings.Split(key, PrimaryKeySeparator)
	for i, v := range parts {
		parts[i] = "'" + escapeString(v) + "'"
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// escapeString escapes a value for safe inclusion inside single quotes in a
// diagnostic SQL string. It is deliberately minimal — the synchronization
// path itself never interpolates values, it always binds them.
func escapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\'', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ErrInErr is a wrapper func to not nest too deeply in an error being
// handled inside of an already error path. Not catching the error makes
// linters unhappy, but because it's already in an error path, there's not
// much to do.
func ErrInErr(_ error) {
}

// CloseAndLog closes a resource, discarding the error. For use in defers
// where a Close() failure isn't actionable (e.g. closing a connection pool
// on shutdown).
func CloseAndLog(c interface{ Close() error }) {
	_ = c.Close()
}

// CloseRowsAndLog closes a *sql.Rows and logs any non-nil close error at
// the given logger's warn level, for use in defers deeper inside a request
// path where silently discarding the error would hide driver problems.
func CloseRowsAndLog(rows *sql.Rows, logger loggers.Advanced) {
	if rows == nil {
		return
	}
	if err := rows.Close(); err != nil && logger != nil {
		logger.Warnf("error closing rows: %v", err)
	}
}

func StripPort(hostname string) string {
	if strings.Contains(hostname, ":") {
		return strings.Split(hostname, ":")[0]
	}
	return hostname
}
