package dbconn

import (
	"context"
	"crypto/sha1" //nolint:gosec // used only to derive a short advisory-lock name, not for security
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/siddontang/loggers"
)

var (
	// getLockTimeout is how long RunLock waits to acquire GET_LOCK. Zero
	// means fail fast: if another invocation already holds the run lock,
	// this one should not queue up behind it — it should tell the caller
	// immediately that a synchronization is already in progress against
	// this target.
	getLockTimeout  = 0 * time.Second
	refreshInterval = 1 * time.Minute
)

// RunLock is a named advisory lock, held on a dedicated connection for the
// lifetime of one synchronize() invocation. It exists because the Strategy
// Driver mutates the target's constraint envelope (drops FKs and unique
// constraints) across the whole run; two concurrent invocations against the
// same target would race on that envelope. This does not change the
// synchronization semantics — it only serializes runs against one target.
type RunLock struct {
	cancel  context.CancelFunc
	closeCh chan error
	ticker  *time.Ticker
	dbConn  *sql.DB
}

// LockNameForTarget derives a short, stable advisory-lock name from a
// target DSN and schema, so independent resync processes racing for the
// same target naturally agree on the same lock name without configuration.
func LockNameForTarget(dsn, schema string) string {
	sum := sha1.Sum([]byte(dsn + "/" + schema)) //nolint:gosec
	return "resync-" + hex.EncodeToString(sum[:])[:16]
}

// NewRunLock acquires the named lock or returns an error immediately.
func NewRunLock(ctx context.Context, dsn, lockName string, logger loggers.Advanced) (*RunLock, error) {
	if lockName == "" {
		return nil, errors.New("run lock name is empty")
	}
	if len(lockName) > 64 {
		return nil, fmt.Errorf("run lock name is too long: %d, max length is 64", len(lockName))
	}

	config := NewDBConfig()
	config.MaxOpenConnections = 1
	dbConn, err := New(dsn, config)
	if err != nil {
		return nil, err
	}

	getLock := func() error {
		// https://dev.mysql.com/doc/refman/8.0/en/locking-functions.html#function_get-lock
		var answer int
		if err := dbConn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", lockName, getLockTimeout.Seconds()).Scan(&answer); err != nil {
			return fmt.Errorf("could not acquire run lock: %w", err)
		}
		if answer == 0 {
			return fmt.Errorf("could not acquire run lock %q: held by another synchronization run", lockName)
		} else if answer != 1 {
			return fmt.Errorf("could not acquire run lock %q: GET_LOCK returned %d", lockName, answer)
		}
		return nil
	}

	logger.Infof("attempting to acquire run lock: %s", lockName)
	if err := getLock(); err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	logger.Infof("acquired run lock: %s", lockName)

	rl := &RunLock{dbConn: dbConn}
	ctx, rl.cancel = context.WithCancel(ctx)
	rl.closeCh = make(chan error)
	go func() {
		rl.ticker = time.NewTicker(refreshInterval)
		defer rl.ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Infof("releasing run lock: %s", lockName)
				rl.closeCh <- dbConn.Close()
				return
			case <-rl.ticker.C:
				if err := getLock(); err != nil {
					logger.Errorf("could not refresh run lock: %v", err)
				}
			}
		}
	}()

	return rl, nil
}

// Close releases the run lock by closing its dedicated connection.
func (rl *RunLock) Close() error {
	if rl.cancel == nil {
		if rl.dbConn != nil {
			return rl.dbConn.Close()
		}
		return nil
	}
	rl.cancel()
	return <-rl.closeCh
}
