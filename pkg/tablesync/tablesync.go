// Package tablesync implements the Table Synchronizer (C5): it
// orchestrates the Statement Builder, Batch Executor and Dual-Cursor
// Merge for a single table inside one target transaction (spec.md §4.5).
package tablesync

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"

	"github.com/block/resync/pkg/batch"
	"github.com/block/resync/pkg/catalog"
	"github.com/block/resync/pkg/compare"
	"github.com/block/resync/pkg/dbconn"
	"github.com/block/resync/pkg/dialect"
	"github.com/block/resync/pkg/merge"
	"github.com/block/resync/pkg/statement"
	"github.com/block/resync/pkg/syncexec"
	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"
)

// Config carries the tunables spec.md §5 names for the core, plus the
// batch flush bound C3 needs.
type Config struct {
	Batch          batch.Config
	VersionPattern *regexp.Regexp
	// DryRun, when set, runs the merge and reports the counts it would
	// have applied, then rolls back instead of committing. Additive
	// observability (SPEC_FULL.md §9 supplemented feature), not a
	// semantic change to the merge itself.
	DryRun bool
}

// Result is the per-table outcome: the counters spec.md §4.5 requires be
// logged, plus the table they belong to.
type Result struct {
	Table  string
	DryRun bool
	merge.Result
}

// Synchronizer owns the source and target connections and the
// collaborators every table iteration needs.
type Synchronizer struct {
	SourceDB *sql.DB
	TargetDB *sql.DB
	DBConfig *dbconn.DBConfig
	Dialect  dialect.Dialect
	Executor syncexec.Executor
	Logger   loggers.Advanced
}

// SyncTable runs one full table iteration: resolve projection, build SQL,
// fill both cursors in parallel, merge, and commit. Any failure rolls
// back the target transaction and is returned for the caller (the
// Strategy Driver) to abort the whole run with, per spec.md §4.5's
// "Failure at any step within the table loop rolls back the target
// transaction and aborts the whole strategy".
func (s *Synchronizer) SyncTable(ctx context.Context, table catalog.TableProperties, cfg Config) (Result, error) {
	result := Result{Table: table.QualifiedName(), DryRun: cfg.DryRun}

	proj, err := catalog.BuildProjection(table, cfg.VersionPattern)
	if err != nil {
		return result, errors.Trace(err)
	}
	stmts := statement.Build(table, proj)
	if s.Logger != nil {
		s.Logger.Debugf("table %s: select=%q insert=%q update=%q delete=%q",
			result.Table, stmts.Select, stmts.Insert, stmts.Update, stmts.Delete)
	}

	pkTypes, valTypes := projectionTypes(table, proj, s.Dialect)

	// Target SELECT runs on the auxiliary worker; source SELECT runs in
	// the foreground — both fill in parallel (spec.md §4.4).
	future := s.Executor.Submit(ctx, func(ctx context.Context) (*sql.Rows, error) {
		return s.TargetDB.QueryContext(ctx, stmts.Select)
	})
	sourceRows, err := s.SourceDB.QueryContext(ctx, stmts.Select)
	if err != nil {
		return result, errors.Annotatef(err, "table %s: source select", result.Table)
	}
	defer sourceRows.Close()

	targetRows, err := future.Wait()
	if err != nil {
		return result, errors.Annotatef(err, "table %s: target select", result.Table)
	}
	defer targetRows.Close()

	trx, _, err := dbconn.BeginStandardTrx(ctx, s.TargetDB, s.DBConfig)
	if err != nil {
		return result, errors.Annotatef(err, "table %s: begin target transaction", result.Table)
	}

	sink, err := batch.New(ctx, trx, stmts.Insert, stmts.Update, stmts.Delete, cfg.Batch, s.Logger)
	if err != nil {
		_ = trx.Rollback()
		return result, errors.Annotatef(err, "table %s: prepare batch statements", result.Table)
	}

	mergeResult, err := merge.Run(ctx,
		newRowCursor(sourceRows, pkTypes, valTypes),
		newRowCursor(targetRows, pkTypes, valTypes),
		proj, sink)
	if err != nil {
		_ = sink.Close()
		_ = trx.Rollback()
		return result, errors.Annotatef(err, "table %s: merge", result.Table)
	}
	result.Result = mergeResult

	if err := sink.Close(); err != nil {
		_ = trx.Rollback()
		return result, errors.Annotatef(err, "table %s: close batch statements", result.Table)
	}

	if cfg.DryRun {
		if err := trx.Rollback(); err != nil {
			return result, errors.Annotatef(err, "table %s: dry-run rollback", result.Table)
		}
	} else if err := trx.Commit(); err != nil {
		return result, errors.Annotatef(err, "table %s: commit", result.Table)
	}

	if s.Logger != nil {
		suffix := ""
		if cfg.DryRun {
			suffix = " (dry run, rolled back)"
		}
		s.Logger.Infof("table %s: inserted=%d updated=%d deleted=%d%s",
			result.Table, result.Inserted, result.Updated, result.Deleted, suffix)
	}
	return result, nil
}

// colType is the dialect-resolved type code for one select_cols column,
// plus the signedness BuildProjection's caller needs to parse an
// unsigned BIGINT's text-protocol bytes correctly.
type colType struct {
	code     byte
	unsigned bool
}

// projectionTypes resolves the dialect type code for every column in
// select_cols, split into the PK prefix and the value suffix, matching
// merge.Row's PK/Values split.
func projectionTypes(table catalog.TableProperties, proj catalog.Projection, d dialect.Dialect) (pk, val []colType) {
	resolve := func(name string) colType {
		col, ok := table.ColumnProperties(name)
		if !ok {
			return colType{}
		}
		return colType{code: d.ColumnType(col.ColumnProperties), unsigned: col.Unsigned}
	}
	pk = make([]colType, len(proj.PKCols))
	for i, c := range proj.PKCols {
		pk[i] = resolve(c)
	}
	valCols := proj.SelectCols[len(proj.PKCols):]
	val = make([]colType, len(valCols))
	for i, c := range valCols {
		val[i] = resolve(c)
	}
	return pk, val
}

// rowCursor adapts a *sql.Rows into merge.Cursor. Because the core's
// SELECTs (statement.Build) carry no placeholders, go-sql-driver/mysql
// issues them over the text protocol, where every column — including
// integer and decimal primary keys — comes back as []byte, not as a
// native int64/float64. Scanning into `any` and using it unconverted
// would make compare.Order fall into the []byte arm and compare PKs
// lexically, while the SELECT's ORDER BY sorts them numerically —
// valueOf below converts []byte into the numeric Go type compare.Order
// expects, using the dialect type code resolved per column.
type rowCursor struct {
	rows     *sql.Rows
	pkTypes  []colType
	valTypes []colType
	current  merge.Row
}

func newRowCursor(rows *sql.Rows, pkTypes, valTypes []colType) *rowCursor {
	return &rowCursor{rows: rows, pkTypes: pkTypes, valTypes: valTypes}
}

func (c *rowCursor) Advance(context.Context) (bool, error) {
	if !c.rows.Next() {
		return false, c.rows.Err()
	}
	n := len(c.pkTypes) + len(c.valTypes)
	dest := make([]any, n)
	for i := range dest {
		var v any
		dest[i] = &v
	}
	if err := c.rows.Scan(dest...); err != nil {
		return false, errors.Trace(err)
	}

	pk := make([]compare.Value, len(c.pkTypes))
	for i, ct := range c.pkTypes {
		v, err := valueOf(ct, dest[i])
		if err != nil {
			return false, errors.Annotatef(err, "tablesync: decoding primary key ordinal %d", i)
		}
		pk[i] = v
	}
	vals := make([]compare.Value, len(c.valTypes))
	for i, ct := range c.valTypes {
		v, err := valueOf(ct, dest[len(c.pkTypes)+i])
		if err != nil {
			return false, errors.Annotatef(err, "tablesync: decoding value ordinal %d", i)
		}
		vals[i] = v
	}
	c.current = merge.Row{PK: pk, Values: vals}
	return true, nil
}

func (c *rowCursor) Row() merge.Row {
	return c.current
}

// valueOf builds the compare.Value for one scanned column. A nil driver
// value becomes a typed NULL; a []byte value for an integral or
// decimal/float column (compare.IsIntegral/compare.IsFloat) is parsed
// into int64/uint64/float64 so compare.Order sorts it the same way MySQL's
// ORDER BY does — numerically, not by byte value. A []byte value for a
// blob column (compare.IsBinary) and everything else (already-native
// types, plain strings) is carried through unchanged, landing in
// compare.Order/Equal's []byte arm.
func valueOf(ct colType, dest any) (compare.Value, error) {
	v := *(dest.(*any))
	if v == nil {
		return compare.NewNull(ct.code), nil
	}
	b, ok := v.([]byte)
	if !ok {
		return compare.Value{Type: ct.code, Raw: v}, nil
	}
	switch {
	case compare.IsIntegral(ct.code):
		if ct.unsigned {
			n, err := strconv.ParseUint(string(b), 10, 64)
			if err != nil {
				return compare.Value{}, errors.Annotatef(err, "parsing %q as uint64", b)
			}
			return compare.Value{Type: ct.code, Raw: n}, nil
		}
		n, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return compare.Value{}, errors.Annotatef(err, "parsing %q as int64", b)
		}
		return compare.Value{Type: ct.code, Raw: n}, nil
	case compare.IsFloat(ct.code):
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return compare.Value{}, errors.Annotatef(err, "parsing %q as float64", b)
		}
		return compare.Value{Type: ct.code, Raw: f}, nil
	case compare.IsBinary(ct.code):
		// Blob columns keep the []byte compare.Order/Equal's binary arm
		// expects; unlike the integral/float arms above, no parse is
		// needed since byte-for-byte equality is already the right rule.
		return compare.Value{Type: ct.code, Raw: b}, nil
	default:
		// Plain string columns (VARCHAR/TEXT/ENUM, etc.) also arrive as
		// []byte over the text protocol; carried through as bytes
		// since compare.Order/Equal's []byte arm covers them too.
		return compare.Value{Type: ct.code, Raw: b}, nil
	}
}
