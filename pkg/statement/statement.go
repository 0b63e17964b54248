// Package statement builds the four SQL texts the core drives: the
// per-table SELECT, INSERT, UPDATE and DELETE, from a table's qualified
// name and its column projection. Per spec.md §4.2/§6, identifiers are
// emitted verbatim from the catalog — this package does not quote them;
// quoting is a Dialect concern reserved for DDL the core itself never
// produces (constraint and sequence maintenance).
package statement

import (
	"fmt"
	"strings"

	"github.com/block/resync/pkg/catalog"
)

// Set holds the four statements for one table iteration. Update is empty
// when the table's projection has no non-PK columns (pure-PK table,
// spec.md §3 "Batch State").
type Set struct {
	Select string
	Insert string
	Update string
	Delete string
}

// Build produces the Set for table T with the given projection.
func Build(table catalog.TableProperties, proj catalog.Projection) Set {
	name := table.QualifiedName()
	return Set{
		Select: buildSelect(name, proj),
		Insert: buildInsert(name, proj),
		Update: buildUpdate(name, proj),
		Delete: buildDelete(name, proj),
	}
}

func buildSelect(table string, proj catalog.Projection) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(proj.SelectCols, ","),
		table,
		strings.Join(proj.PKCols, ","),
	)
}

func buildInsert(table string, proj catalog.Projection) string {
	placeholders := make([]string, len(proj.SelectCols))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(proj.SelectCols, ","),
		strings.Join(placeholders, ","),
	)
}

func buildDelete(table string, proj catalog.Projection) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", table, whereClause(proj.PKCols))
}

// buildUpdate returns "" when the table has no value columns to update
// (pure-PK table); C5/C3 must skip preparing an UPDATE statement in that
// case (spec.md §4.3 "Batch State").
func buildUpdate(table string, proj catalog.Projection) string {
	valueCols := updateValueCols(proj)
	if len(valueCols) == 0 {
		return ""
	}
	sets := make([]string, len(valueCols))
	for i, c := range valueCols {
		sets[i] = fmt.Sprintf("%s = ?", c)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ","), whereClause(proj.PKCols))
}

// updateValueCols returns the columns the UPDATE branch binds: the
// version column alone when one is configured (spec.md §4.4 "Version fast
// path" — only the version column is bound/compared), otherwise all
// non-PK columns.
func updateValueCols(proj catalog.Projection) []string {
	if proj.VersionCol != "" {
		return []string{proj.VersionCol}
	}
	return proj.NonPKCols
}

func whereClause(pkCols []string) string {
	clauses := make([]string, len(pkCols))
	for i, c := range pkCols {
		clauses[i] = fmt.Sprintf("%s = ?", c)
	}
	return strings.Join(clauses, " AND ")
}
