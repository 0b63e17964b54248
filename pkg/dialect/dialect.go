// Package dialect resolves catalog column properties to the SQL type code
// the rest of the core dispatches on, and quotes identifiers for the DDL
// this module emits outside the four core-projection statements (those are
// emitted with verbatim, unquoted identifiers per spec — see pkg/statement).
package dialect

import (
	"fmt"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// ColumnProperties is the subset of catalog metadata a Dialect needs to
// resolve a type code. Declared here (not imported from pkg/catalog) so
// pkg/catalog can depend on pkg/dialect without a cycle.
type ColumnProperties struct {
	Name     string
	DataType string // information_schema.COLUMNS.DATA_TYPE, e.g. "varchar", "bigint"; signedness is in Unsigned
	Unsigned bool
}

// Dialect is the single collaborator named in spec.md §6: columnType
// resolves a column's dialect-specific SQL type code.
type Dialect interface {
	ColumnType(col ColumnProperties) byte
	QuoteIdentifier(name string) string
	QuoteQualified(schema, name string) string
}

// MySQL is the only Dialect implementation this module ships; the core
// packages only depend on the interface.
type MySQL struct{}

var _ Dialect = MySQL{}

// ColumnType maps an information_schema DATA_TYPE string to the
// go-mysql-org field-type tag compare.Value carries. Unrecognized types
// fall back to MYSQL_TYPE_VAR_STRING (carried as raw bytes), which is always
// a safe — if coarse — comparator arm; it is never silently treated as
// numeric.
func (MySQL) ColumnType(col ColumnProperties) byte {
	switch strings.ToLower(col.DataType) {
	case "tinyint":
		return mysql.MYSQL_TYPE_TINY
	case "smallint":
		return mysql.MYSQL_TYPE_SHORT
	case "mediumint":
		return mysql.MYSQL_TYPE_INT24
	case "int", "integer":
		return mysql.MYSQL_TYPE_LONG
	case "bigint":
		return mysql.MYSQL_TYPE_LONGLONG
	case "year":
		return mysql.MYSQL_TYPE_YEAR
	case "float":
		return mysql.MYSQL_TYPE_FLOAT
	case "double", "double precision", "real":
		return mysql.MYSQL_TYPE_DOUBLE
	case "decimal", "numeric":
		return mysql.MYSQL_TYPE_NEWDECIMAL
	case "date":
		return mysql.MYSQL_TYPE_DATE
	case "datetime":
		return mysql.MYSQL_TYPE_DATETIME
	case "timestamp":
		return mysql.MYSQL_TYPE_TIMESTAMP
	case "time":
		return mysql.MYSQL_TYPE_TIME
	case "tinyblob":
		return mysql.MYSQL_TYPE_TINY_BLOB
	case "mediumblob":
		return mysql.MYSQL_TYPE_MEDIUM_BLOB
	case "longblob":
		return mysql.MYSQL_TYPE_LONG_BLOB
	case "blob", "binary", "varbinary":
		return mysql.MYSQL_TYPE_BLOB
	case "geometry", "point", "linestring", "polygon":
		return mysql.MYSQL_TYPE_GEOMETRY
	case "json":
		return mysql.MYSQL_TYPE_JSON
	case "bit":
		return mysql.MYSQL_TYPE_BIT
	case "enum":
		return mysql.MYSQL_TYPE_ENUM
	case "set":
		return mysql.MYSQL_TYPE_SET
	case "char", "varchar", "text", "tinytext", "mediumtext", "longtext":
		return mysql.MYSQL_TYPE_VAR_STRING
	default:
		return mysql.MYSQL_TYPE_VAR_STRING
	}
}

// QuoteIdentifier backtick-quotes a single identifier, escaping any
// embedded backtick by doubling it, matching the teacher's quoting idiom
// in pkg/migration/cutover.go.
func (MySQL) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteQualified backtick-quotes a schema-qualified name, e.g. for
// constraint and sequence DDL that references a table outside the core's
// own verbatim-identifier projection statements.
func (d MySQL) QuoteQualified(schema, name string) string {
	if schema == "" {
		return d.QuoteIdentifier(name)
	}
	return fmt.Sprintf("%s.%s", d.QuoteIdentifier(schema), d.QuoteIdentifier(name))
}
