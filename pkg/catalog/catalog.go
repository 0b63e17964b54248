// Package catalog is the read-only view of the source schema the core
// drives off: an ordered list of tables, and for each table its columns,
// primary key, and per-column dialect-resolved properties. It is consumed,
// never mutated, by the synchronization core (spec.md §3).
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/block/resync/pkg/dialect"
	"github.com/pingcap/errors"
)

// ColumnProperties describes one column as the Dialect needs to see it.
type ColumnProperties struct {
	Name       string
	OrdinalPos int
	dialect.ColumnProperties
}

// TableProperties is the per-table view spec.md §3 names: qualified name,
// ordered columns, ordered non-empty primary key, and column lookup.
type TableProperties struct {
	Schema  string
	Name    string
	Columns []ColumnProperties
	PK      []string // ordered, non-empty for any table the strategy will touch
}

// QualifiedName returns "schema.table", used verbatim (unquoted) in the
// statements pkg/statement builds.
func (t TableProperties) QualifiedName() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// ColumnProperties looks up a column by name.
func (t TableProperties) ColumnProperties(name string) (ColumnProperties, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnProperties{}, false
}

// Catalog is the collaborator named in spec.md §6: tables() plus
// per-table accessors, all already folded into TableProperties above.
type Catalog interface {
	Tables(ctx context.Context) ([]TableProperties, error)
}

// MySQL is an information_schema-backed Catalog for a single schema.
type MySQL struct {
	DB     *sql.DB
	Schema string
}

var _ Catalog = (*MySQL)(nil)

// Tables enumerates the schema's base tables in deterministic
// (alphabetical) order, and for each resolves its columns and primary key
// from information_schema. Catalog order is what the Strategy Driver
// iterates in (spec.md §5: "tables are processed in catalog iteration
// order").
func (m *MySQL) Tables(ctx context.Context) ([]TableProperties, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, m.Schema)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Trace(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	tables := make([]TableProperties, 0, len(names))
	for _, name := range names {
		tp, err := m.tableProperties(ctx, name)
		if err != nil {
			return nil, errors.Annotatef(err, "table %s.%s", m.Schema, name)
		}
		tables = append(tables, tp)
	}
	return tables, nil
}

func (m *MySQL) tableProperties(ctx context.Context, name string) (TableProperties, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT COLUMN_NAME, ORDINAL_POSITION, DATA_TYPE, COLUMN_TYPE
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, m.Schema, name)
	if err != nil {
		return TableProperties{}, errors.Trace(err)
	}
	defer rows.Close()

	var cols []ColumnProperties
	for rows.Next() {
		var colName, dataType, columnType string
		var ordinal int
		if err := rows.Scan(&colName, &ordinal, &dataType, &columnType); err != nil {
			return TableProperties{}, errors.Trace(err)
		}
		cols = append(cols, ColumnProperties{
			Name:       colName,
			OrdinalPos: ordinal,
			ColumnProperties: dialect.ColumnProperties{
				Name:     colName,
				DataType: dataType,
				Unsigned: containsUnsigned(columnType),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return TableProperties{}, errors.Trace(err)
	}

	pk, err := m.primaryKey(ctx, name)
	if err != nil {
		return TableProperties{}, err
	}

	return TableProperties{
		Schema:  m.Schema,
		Name:    name,
		Columns: cols,
		PK:      pk,
	}, nil
}

func (m *MySQL) primaryKey(ctx context.Context, name string) ([]string, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`, m.Schema, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, errors.Trace(err)
		}
		pk = append(pk, col)
	}
	return pk, errors.Trace(rows.Err())
}

func containsUnsigned(columnType string) bool {
	for i := 0; i+len("unsigned") <= len(columnType); i++ {
		if columnType[i:i+len("unsigned")] == "unsigned" {
			return true
		}
	}
	return false
}

// Projection is the Column Projection of spec.md §3: pk_cols, non_pk_cols,
// an optional version_col, and the derived select_cols with the PK-first
// invariant.
type Projection struct {
	PKCols     []string
	NonPKCols  []string
	VersionCol string // empty when none configured or none matched
	SelectCols []string
}

// BuildProjection resolves T's projection. versionPattern, when non-nil,
// selects the version column when exactly one non-PK column matches it
// (spec.md §5: "selects the version column when exactly one non-PK column
// matches; otherwise ignored").
func BuildProjection(t TableProperties, versionPattern *regexp.Regexp) (Projection, error) {
	if len(t.PK) == 0 {
		return Projection{}, fmt.Errorf("catalog: table %s has no primary key", t.QualifiedName())
	}
	pkSet := make(map[string]bool, len(t.PK))
	for _, pk := range t.PK {
		pkSet[pk] = true
	}

	var nonPK []string
	for _, c := range t.Columns {
		if !pkSet[c.Name] {
			nonPK = append(nonPK, c.Name)
		}
	}

	proj := Projection{
		PKCols:    append([]string(nil), t.PK...),
		NonPKCols: nonPK,
	}

	if versionPattern != nil {
		var matches []string
		for _, c := range nonPK {
			if versionPattern.MatchString(c) {
				matches = append(matches, c)
			}
		}
		if len(matches) == 1 {
			proj.VersionCol = matches[0]
		}
	}

	if proj.VersionCol != "" {
		proj.SelectCols = append(append([]string(nil), proj.PKCols...), proj.VersionCol)
	} else {
		proj.SelectCols = append(append([]string(nil), proj.PKCols...), proj.NonPKCols...)
	}
	return proj, nil
}
