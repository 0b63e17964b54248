// Package check implements preflight checks the Strategy Driver runs
// before synchronize() touches either connection: a supported-version
// check and a privilege check. These are ambient safety checks, not part
// of the core algorithm spec.md §4 describes — grounded on the teacher's
// check package contract (Resources-plus-logger checks, version_test.go's
// isMySQL8 gate).
package check

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"
)

// Resources is the set of things a check needs. Not every check uses
// every field.
type Resources struct {
	DB                 *sql.DB
	RequiredPrivileges []string // e.g. "ALTER", "CREATE", "DROP", "INSERT", "SELECT"
}

// Check is one preflight check; Run returns a descriptive error on
// failure.
type Check interface {
	Name() string
	Run(ctx context.Context, r Resources, logger loggers.Advanced) error
}

// Checks is the default preflight suite the Strategy Driver runs against
// both the target and source connections before any mutation.
var Checks = []Check{versionCheck{}, privilegeCheck{}}

// RunAll runs every check in order, stopping at the first failure —
// matching spec.md §7's "Precondition failure" kind, which aborts before
// any mutation.
func RunAll(ctx context.Context, r Resources, logger loggers.Advanced) error {
	for _, c := range Checks {
		if err := c.Run(ctx, r, logger); err != nil {
			return errors.Annotatef(err, "check %q failed", c.Name())
		}
		if logger != nil {
			logger.Infof("check %q passed", c.Name())
		}
	}
	return nil
}

type versionCheck struct{}

func (versionCheck) Name() string { return "version" }

// Run requires MySQL 8.0+, matching the teacher's isMySQL8 gate: older
// versions do not reliably support the session-level settings (binary
// charset, sql_mode reset) the rest of this module depends on.
func (versionCheck) Run(ctx context.Context, r Resources, _ loggers.Advanced) error {
	var version string
	if err := r.DB.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return errors.Annotate(err, "check: reading server version")
	}
	if !isMySQL8Plus(version) {
		return fmt.Errorf("check: unsupported server version %q, MySQL 8.0+ is required", version)
	}
	return nil
}

func isMySQL8Plus(version string) bool {
	major := 0
	fmt.Sscanf(version, "%d", &major) //nolint:errcheck
	return major >= 8
}

type privilegeCheck struct{}

func (privilegeCheck) Name() string { return "privileges" }

// Run confirms the connection's current user holds every privilege
// RequiredPrivileges names, via SHOW GRANTS — the constraint-envelope
// choreography needs ALTER/DROP/INDEX on the target, so a permission gap
// should surface before any constraint is dropped, not mid-run.
func (privilegeCheck) Run(ctx context.Context, r Resources, _ loggers.Advanced) error {
	if len(r.RequiredPrivileges) == 0 {
		return nil
	}
	rows, err := r.DB.QueryContext(ctx, "SHOW GRANTS")
	if err != nil {
		return errors.Annotate(err, "check: reading grants")
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return errors.Trace(err)
		}
		grants = append(grants, strings.ToUpper(grant))
	}
	if err := rows.Err(); err != nil {
		return errors.Trace(err)
	}

	combined := strings.Join(grants, "\n")
	if strings.Contains(combined, "ALL PRIVILEGES") {
		return nil
	}
	var missing []string
	for _, p := range r.RequiredPrivileges {
		if !strings.Contains(combined, strings.ToUpper(p)) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("check: missing required privilege(s): %s", strings.Join(missing, ", "))
	}
	return nil
}
