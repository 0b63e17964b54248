package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errCannotConnect   = 2003
	errConnLost        = 2013
	errReadOnly        = 1290
	errQueryKilled     = 1836
)

// DBConfig carries connection- and session-level settings applied to both
// the source and target connections a Context holds. It is intentionally
// symmetric: the differential sync compares two sides that must behave
// identically with respect to time zone, SQL mode and lock waits, or the
// comparator in pkg/compare would be comparing apples to oranges.
type DBConfig struct {
	LockWaitTimeout       int
	InnodbLockWaitTimeout int
	MaxRetries            int
	MaxOpenConnections    int
	TLSMode               string // DISABLED, PREFERRED, REQUIRED, VERIFY_CA, VERIFY_IDENTITY
	TLSCertificatePath    string
}

func NewDBConfig() *DBConfig {
	return &DBConfig{
		LockWaitTimeout:       30,
		InnodbLockWaitTimeout: 3,
		MaxRetries:            5,
		MaxOpenConnections:    8,
		TLSMode:               "PREFERRED",
	}
}

func standardizeConn(ctx context.Context, conn *sql.Conn, config *DBConfig) error {
	for _, stmt := range standardizeStmts(config) {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func standardizeTrx(ctx context.Context, trx *sql.Tx, config *DBConfig) error {
	for _, stmt := range standardizeStmts(config) {
		if _, err := trx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func standardizeStmts(config *DBConfig) []string {
	return []string{
		"SET time_zone='+00:00'",
		// A user might have SQL mode set even though the session DSN asked
		// for it to be empty (pooled connections, proxies). Unset it
		// explicitly so binary comparison of values is not affected by
		// mode-dependent coercion on either side.
		"SET sql_mode=''",
		"SET NAMES 'binary'",
		fmt.Sprintf("SET innodb_lock_wait_timeout=%d", config.InnodbLockWaitTimeout),
		fmt.Sprintf("SET lock_wait_timeout=%d", config.LockWaitTimeout),
	}
}

// canRetryError looks at the MySQL error and decides if it is considered a
// transient, retryable failure. This only applies to the ambient
// constraint-teardown/restoration DDL and session setup — the core merge
// and batch-flush path never retries (spec: "no retry is attempted by the
// core").
func canRetryError(err error) bool {
	var errNumber uint16
	if val, ok := err.(*mysql.MySQLError); ok {
		errNumber = val.Number
	}
	switch errNumber {
	case errLockWaitTimeout, errDeadlock, errCannotConnect, errConnLost, errReadOnly, errQueryKilled:
		return true
	default:
		return false
	}
}

// RetryableDDLs runs each statement in its own standardized transaction,
// retrying the whole statement (not resuming mid-way) on a transient error.
// Used for constraint drop/restore, which is outside the per-table
// transactional scope the merge itself runs in.
func RetryableDDLs(ctx context.Context, db *sql.DB, config *DBConfig, stmts ...string) error {
	for _, stmt := range stmts {
		if stmt == "" {
			continue
		}
		if err := retryableExec(ctx, db, config, stmt); err != nil {
			return err
		}
	}
	return nil
}

func retryableExec(ctx context.Context, db *sql.DB, config *DBConfig, stmt string) error {
	var err error
RETRYLOOP:
	for i := 0; i < config.MaxRetries; i++ {
		var trx *sql.Tx
		if trx, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}); err != nil {
			backoff(i)
			continue RETRYLOOP
		}
		if err = standardizeTrx(ctx, trx, config); err != nil {
			_ = trx.Rollback()
			backoff(i)
			continue RETRYLOOP
		}
		if _, err = trx.ExecContext(ctx, stmt); err != nil {
			_ = trx.Rollback()
			if canRetryError(err) {
				backoff(i)
				continue RETRYLOOP
			}
			return err
		}
		if err = trx.Commit(); err != nil {
			_ = trx.Rollback()
			backoff(i)
			continue RETRYLOOP
		}
		return nil
	}
	return err
}

// backoff sleeps a few milliseconds before retrying.
func backoff(i int) {
	randFactor := i * rand.Intn(10) * int(time.Millisecond)
	time.Sleep(time.Duration(randFactor))
}

// BeginStandardTrx is like db.BeginTx but applies the session
// standardization in advance, and returns the connection id so callers
// (e.g. a run lock or table lock) can reference the session later.
func BeginStandardTrx(ctx context.Context, db *sql.DB, config *DBConfig) (*sql.Tx, int, error) {
	trx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	if err := standardizeTrx(ctx, trx, config); err != nil {
		_ = trx.Rollback()
		return nil, 0, err
	}
	var connectionID int
	if err := trx.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&connectionID); err != nil {
		_ = trx.Rollback()
		return nil, 0, err
	}
	return trx, connectionID, nil
}

// StandardizeConn applies the same session standardization used for
// transactions to a single checked-out *sql.Conn.
func StandardizeConn(ctx context.Context, conn *sql.Conn, config *DBConfig) error {
	return standardizeConn(ctx, conn, config)
}
