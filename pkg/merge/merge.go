// Package merge implements the Dual-Cursor Merge (C4), the algorithmic
// heart of the strategy: a merge-join over two already-ordered cursors
// that emits INSERT/UPDATE/DELETE decisions by primary-key comparison.
package merge

import (
	"context"

	"github.com/block/resync/pkg/catalog"
	"github.com/block/resync/pkg/compare"
	"github.com/pingcap/errors"
)

// Row is one select_cols-ordered tuple: PK holds the pk_cols values, in
// catalog order; Values holds whatever follows in select_cols — either
// the non-PK columns, or the single version column when one is
// configured (spec.md §3 "select_cols = pk_cols ++ (version_col ?
// [version_col] : non_pk_cols)").
type Row struct {
	PK     []compare.Value
	Values []compare.Value
}

// Cursor is a thin wrapper over a single ordered result stream (source or
// target). Advance must be called once before the first Row() to
// position the cursor, matching spec.md §4.4 ("both already positioned on
// their first row, or exhausted").
type Cursor interface {
	// Advance moves to the next row, returning false when the stream is
	// exhausted. Errors from the underlying driver are returned as-is.
	Advance(ctx context.Context) (bool, error)
	Row() Row
}

// Sink is the subset of batch.Sink the merge loop drives. Declared here
// (rather than imported) so merge can be tested against a fake without
// a database at all.
type Sink interface {
	AddInsert(ctx context.Context, args ...any) error
	AddUpdate(ctx context.Context, args ...any) error
	AddDelete(ctx context.Context, args ...any) error
}

// Result reports the per-table counters spec.md §4.5 requires be logged.
type Result struct {
	Inserted int
	Updated  int
	Deleted  int
}

// Run drives source and target to exhaustion, positioning both first,
// then looping per spec.md §4.4. proj.VersionCol (if set) narrows the
// UPDATE branch's value-column comparison to that single column; when
// proj has no value columns at all (pure PK table) the UPDATE branch
// never fires and sink.AddUpdate is never called.
func Run(ctx context.Context, source, target Cursor, proj catalog.Projection, sink Sink) (Result, error) {
	var result Result

	hasS, err := source.Advance(ctx)
	if err != nil {
		return result, errors.Annotate(err, "merge: initial source advance")
	}
	hasT, err := target.Advance(ctx)
	if err != nil {
		return result, errors.Annotate(err, "merge: initial target advance")
	}

	valueColCount := len(valueCols(proj))

	for hasS || hasT {
		cmp, err := compareRows(hasS, hasT, source, target)
		if err != nil {
			return result, errors.Trace(err)
		}

		switch {
		case cmp > 0:
			// Target surplus: the source has nothing at this key.
			args := pkArgs(target.Row())
			if err := sink.AddDelete(ctx, args...); err != nil {
				return result, errors.Trace(err)
			}
			result.Deleted++

		case cmp < 0:
			// Source surplus: insert the whole source row. Nullability
			// is preserved because compare.Value carries IsNull and
			// bindArg below maps that straight to a typed nil.
			args := insertArgs(source.Row())
			if err := sink.AddInsert(ctx, args...); err != nil {
				return result, errors.Trace(err)
			}
			result.Inserted++

		default:
			if valueColCount > 0 {
				updated, args, err := updateArgsIfChanged(source.Row(), target.Row())
				if err != nil {
					return result, errors.Trace(err)
				}
				if updated {
					if err := sink.AddUpdate(ctx, args...); err != nil {
						return result, errors.Trace(err)
					}
					result.Updated++
				}
			}
		}

		if cmp <= 0 && hasS {
			hasS, err = source.Advance(ctx)
			if err != nil {
				return result, errors.Annotate(err, "merge: source advance")
			}
		}
		if cmp >= 0 && hasT {
			hasT, err = target.Advance(ctx)
			if err != nil {
				return result, errors.Annotate(err, "merge: target advance")
			}
		}
	}

	return result, nil
}

// valueCols mirrors statement.updateValueCols: the version column alone
// when configured, otherwise all non-PK columns.
func valueCols(proj catalog.Projection) []string {
	if proj.VersionCol != "" {
		return []string{proj.VersionCol}
	}
	return proj.NonPKCols
}

func compareRows(hasS, hasT bool, source, target Cursor) (int, error) {
	switch {
	case !hasS:
		return 1, nil
	case !hasT:
		return -1, nil
	}
	sPK, tPK := source.Row().PK, target.Row().PK
	if len(sPK) != len(tPK) {
		return 0, errors.Errorf("merge: primary-key arity mismatch: source has %d, target has %d", len(sPK), len(tPK))
	}
	for i := range sPK {
		cmp, err := compare.Order(sPK[i], tPK[i])
		if err != nil {
			return 0, errors.Annotatef(err, "merge: comparing primary-key ordinal %d", i)
		}
		if cmp != 0 {
			return cmp, nil
		}
	}
	return 0, nil
}

func pkArgs(row Row) []any {
	args := make([]any, len(row.PK))
	for i, v := range row.PK {
		args[i] = bindArg(v)
	}
	return args
}

// insertArgs binds the full select_cols tuple (pk ++ values), matching
// the INSERT statement's column list exactly, including the version
// column when one is configured (spec.md §4.4: "the insert carries the
// version").
func insertArgs(row Row) []any {
	args := make([]any, 0, len(row.PK)+len(row.Values))
	for _, v := range row.PK {
		args = append(args, bindArg(v))
	}
	for _, v := range row.Values {
		args = append(args, bindArg(v))
	}
	return args
}

// updateArgsIfChanged implements spec.md §4.4's UPDATE candidate branch:
// bind every value column from the source (or typed NULL), decide
// "updated" per-column, then append the trailing PK parameters. The
// caller only emits the UPDATE when the returned bool is true.
func updateArgsIfChanged(sourceRow, targetRow Row) (bool, []any, error) {
	if len(sourceRow.Values) != len(targetRow.Values) {
		return false, nil, errors.Errorf("merge: value-column arity mismatch: source has %d, target has %d", len(sourceRow.Values), len(targetRow.Values))
	}
	args := make([]any, 0, len(sourceRow.Values)+len(sourceRow.PK))
	updated := false
	for i := range sourceRow.Values {
		sv, tv := sourceRow.Values[i], targetRow.Values[i]
		args = append(args, bindArg(sv))
		switch {
		case sv.IsNull != tv.IsNull:
			updated = true
		case sv.IsNull && tv.IsNull:
			// both null: no change at this ordinal.
		default:
			eq, err := compare.Equal(sv, tv)
			if err != nil {
				return false, nil, errors.Annotatef(err, "merge: comparing value ordinal %d", i)
			}
			if !eq {
				updated = true
			}
		}
	}
	for _, v := range sourceRow.PK {
		args = append(args, bindArg(v))
	}
	return updated, args, nil
}

// bindArg converts a compare.Value into the driver argument database/sql
// expects: a typed nil for NULLs (preserving nullability per spec.md
// §4.4 "Nullability is preserved by binding NULL when the source reports
// null"), and the raw deserialized value otherwise.
func bindArg(v compare.Value) any {
	if v.IsNull {
		return nil
	}
	return v.Raw
}
