// Package batch implements the Batch Executor (C3): a thin wrapper around
// the three prepared DML statements for one table iteration, counting
// rows toward a configurable flush bound.
//
// Go's database/sql has no equivalent of JDBC's PreparedStatement.addBatch
// / executeBatch — there is no client-side buffer to flush as one network
// round trip. Each bound row is therefore executed against its prepared
// statement immediately (the ordinary Go idiom for parameterized DML), and
// "flush" is only a logging boundary: every MaxBatch-th row of an
// operation is logged. The per-operation counters are running totals for
// the table and are never reset, and there is no separate table-end drain
// step, since no row is ever left pending. Because every row is already
// its own Exec call, the max-batch invariant (spec.md §8 property 4 — "no batch submitted to the driver
// exceeds max_batch_size") holds trivially: every submitted unit is one
// row.
package batch

import (
	"context"
	"database/sql"

	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"
)

// Config carries the two tunables spec.md §5 names for C3.
type Config struct {
	MaxBatch  int // >= 1, default 100
	FetchSize int // 0 = driver default; carried in the config but not applied to any query
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{MaxBatch: 100, FetchSize: 0}
}

// Sink is the per-table Batch State of spec.md §3: three prepared
// statements and their pending counts modulo MaxBatch. Update is nil iff
// the table's projection has no value columns (pure-PK table).
type Sink struct {
	Insert *sql.Stmt
	Update *sql.Stmt // optional
	Delete *sql.Stmt

	config Config
	logger loggers.Advanced

	inserted, updated, deleted int
}

// New prepares the three DML statements on trx. updateSQL may be empty,
// in which case Sink.Update is left nil and AddUpdate must never be
// called (tablesync skips the UPDATE branch entirely for pure-PK tables,
// per spec.md §4.4).
func New(ctx context.Context, trx *sql.Tx, insertSQL, updateSQL, deleteSQL string, config Config, logger loggers.Advanced) (*Sink, error) {
	if config.MaxBatch < 1 {
		return nil, errors.New("batch: max_batch must be >= 1")
	}
	insertStmt, err := trx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return nil, errors.Annotate(err, "batch: prepare insert")
	}
	deleteStmt, err := trx.PrepareContext(ctx, deleteSQL)
	if err != nil {
		return nil, errors.Annotate(err, "batch: prepare delete")
	}
	var updateStmt *sql.Stmt
	if updateSQL != "" {
		updateStmt, err = trx.PrepareContext(ctx, updateSQL)
		if err != nil {
			return nil, errors.Annotate(err, "batch: prepare update")
		}
	}
	return &Sink{
		Insert: insertStmt,
		Update: updateStmt,
		Delete: deleteStmt,
		config: config,
		logger: logger,
	}, nil
}

// AddInsert binds and executes one INSERT row, advancing the insert
// counter and flushing (logging) at the configured bound.
func (s *Sink) AddInsert(ctx context.Context, args ...any) error {
	if _, err := s.Insert.ExecContext(ctx, args...); err != nil {
		return errors.Annotate(err, "batch: insert")
	}
	s.inserted++
	s.maybeFlush("insert", s.inserted)
	return nil
}

// AddUpdate binds and executes one UPDATE row. Callers must not call this
// when Sink.Update is nil.
func (s *Sink) AddUpdate(ctx context.Context, args ...any) error {
	if s.Update == nil {
		return errors.New("batch: update called on a pure-PK table with no update statement")
	}
	if _, err := s.Update.ExecContext(ctx, args...); err != nil {
		return errors.Annotate(err, "batch: update")
	}
	s.updated++
	s.maybeFlush("update", s.updated)
	return nil
}

// AddDelete binds and executes one DELETE row.
func (s *Sink) AddDelete(ctx context.Context, args ...any) error {
	if _, err := s.Delete.ExecContext(ctx, args...); err != nil {
		return errors.Annotate(err, "batch: delete")
	}
	s.deleted++
	s.maybeFlush("delete", s.deleted)
	return nil
}

func (s *Sink) maybeFlush(op string, count int) {
	if count%s.config.MaxBatch == 0 && s.logger != nil {
		s.logger.Debugf("batch: flushed %d %s rows", count, op)
	}
}

// Counts returns the per-operation totals for the table (spec.md §4.5
// "Log per-table INSERT/UPDATE/DELETE counters").
func (s *Sink) Counts() (inserted, updated, deleted int) {
	return s.inserted, s.updated, s.deleted
}

// Close releases all prepared statements exactly once, tolerating a nil
// Update statement.
func (s *Sink) Close() error {
	var errs []error
	if err := s.Insert.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.Update != nil {
		if err := s.Update.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.Delete.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Annotatef(errs[0], "batch: close (%d error(s))", len(errs))
	}
	return nil
}
