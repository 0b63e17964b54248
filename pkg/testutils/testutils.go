// Package testutils provides the small integration-test helpers the
// package tests gated on a live MySQL instance share: a DSN read from the
// environment, and a helper to run setup/teardown SQL against it. Every
// caller skips instead of failing when the environment variable isn't
// set, the same gating the teacher's live-database tests use.
package testutils

import (
	"context"
	"database/sql"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
)

// DSNEnvVar is the environment variable integration tests read the
// target/source test database DSN from.
const DSNEnvVar = "RESYNC_TEST_DSN"

// DSN returns the configured test DSN, or "" if none is set.
func DSN() string {
	return os.Getenv(DSNEnvVar)
}

// RunSQL opens DSN and executes each statement in order, closing the
// connection afterward. Intended for fixture setup/teardown in tests
// gated on testutils.DSN() being non-empty.
func RunSQL(ctx context.Context, dsn string, stmts ...string) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return errors.Trace(err)
	}
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Annotatef(err, "testutils: executing %q", stmt)
		}
	}
	return nil
}
