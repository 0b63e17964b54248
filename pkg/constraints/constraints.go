// Package constraints implements the ConstraintOps collaborator
// (spec.md §6): dropping and restoring foreign keys and unique
// constraints around the target's mutation window. It introspects
// SHOW CREATE TABLE via the tidb SQL parser (the same parser the teacher
// uses for ALTER-clause inspection in pkg/utils and pkg/lint) so restore
// DDL is generated from the table's own current definition rather than a
// second schema source.
package constraints

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/block/resync/pkg/dbconn"
	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver" //nolint:revive // registers literal value eval needed by parser.Parse
	"github.com/siddontang/loggers"
)

// Ops is the collaborator spec.md §6 names: drop/restore of foreign keys
// and unique constraints on the target, taken as a unit across all of its
// tables for the run.
type Ops interface {
	DropForeignKeys(ctx context.Context) error
	DropUniqueConstraints(ctx context.Context) error
	RestoreUniqueConstraints(ctx context.Context) error
	RestoreForeignKeys(ctx context.Context) error
}

type foreignKey struct {
	table string
	name  string
	ddl   string // full "ADD CONSTRAINT `fk` FOREIGN KEY (...) REFERENCES ..." clause
}

type uniqueConstraint struct {
	table string
	name  string
	ddl   string // full "ADD UNIQUE KEY `name` (...)" clause
}

// MySQL is the default Ops implementation. It caches the constraints it
// drops so the matching restore call can re-add exactly what was removed,
// even though the two calls are separated by the whole per-table sync
// pass (spec.md §4.6 steps 2 and 5).
type MySQL struct {
	DB     *sql.DB
	Config *dbconn.DBConfig
	Schema string
	Logger loggers.Advanced

	fks  []foreignKey
	uniq []uniqueConstraint
}

var _ Ops = (*MySQL)(nil)

// DropForeignKeys drops every foreign key on every table in the schema,
// recording each one's definition for RestoreForeignKeys.
func (m *MySQL) DropForeignKeys(ctx context.Context) error {
	tables, err := m.tableNames(ctx)
	if err != nil {
		return err
	}
	m.fks = nil
	for _, table := range tables {
		fks, err := m.foreignKeysOf(ctx, table)
		if err != nil {
			return errors.Annotatef(err, "constraints: inspecting foreign keys of %s", table)
		}
		for _, fk := range fks {
			stmt := fmt.Sprintf("ALTER TABLE `%s`.`%s` DROP FOREIGN KEY `%s`", m.Schema, table, fk.name)
			if err := dbconn.RetryableDDLs(ctx, m.DB, m.Config, stmt); err != nil {
				return errors.Annotatef(err, "constraints: dropping foreign key %s on %s", fk.name, table)
			}
			m.fks = append(m.fks, fk)
		}
	}
	m.logf("dropped %d foreign key(s) across %d table(s)", len(m.fks), len(tables))
	return nil
}

// DropUniqueConstraints drops every non-primary unique index on every
// table in the schema, recording each one's definition for
// RestoreUniqueConstraints.
func (m *MySQL) DropUniqueConstraints(ctx context.Context) error {
	tables, err := m.tableNames(ctx)
	if err != nil {
		return err
	}
	m.uniq = nil
	for _, table := range tables {
		uniques, err := m.uniqueConstraintsOf(ctx, table)
		if err != nil {
			return errors.Annotatef(err, "constraints: inspecting unique constraints of %s", table)
		}
		for _, u := range uniques {
			stmt := fmt.Sprintf("ALTER TABLE `%s`.`%s` DROP INDEX `%s`", m.Schema, table, u.name)
			if err := dbconn.RetryableDDLs(ctx, m.DB, m.Config, stmt); err != nil {
				return errors.Annotatef(err, "constraints: dropping unique constraint %s on %s", u.name, table)
			}
			m.uniq = append(m.uniq, u)
		}
	}
	m.logf("dropped %d unique constraint(s) across %d table(s)", len(m.uniq), len(tables))
	return nil
}

// RestoreUniqueConstraints re-adds everything DropUniqueConstraints
// removed, in reverse order.
func (m *MySQL) RestoreUniqueConstraints(ctx context.Context) error {
	for i := len(m.uniq) - 1; i >= 0; i-- {
		u := m.uniq[i]
		stmt := fmt.Sprintf("ALTER TABLE `%s`.`%s` %s", m.Schema, u.table, u.ddl)
		if err := dbconn.RetryableDDLs(ctx, m.DB, m.Config, stmt); err != nil {
			return errors.Annotatef(err, "constraints: restoring unique constraint %s on %s", u.name, u.table)
		}
	}
	m.logf("restored %d unique constraint(s)", len(m.uniq))
	m.uniq = nil
	return nil
}

// RestoreForeignKeys re-adds everything DropForeignKeys removed, in
// reverse order (so a table referenced by a later-dropped FK already has
// its own constraints back before the reference is restored).
func (m *MySQL) RestoreForeignKeys(ctx context.Context) error {
	for i := len(m.fks) - 1; i >= 0; i-- {
		fk := m.fks[i]
		stmt := fmt.Sprintf("ALTER TABLE `%s`.`%s` %s", m.Schema, fk.table, fk.ddl)
		if err := dbconn.RetryableDDLs(ctx, m.DB, m.Config, stmt); err != nil {
			return errors.Annotatef(err, "constraints: restoring foreign key %s on %s", fk.name, fk.table)
		}
	}
	m.logf("restored %d foreign key(s)", len(m.fks))
	m.fks = nil
	return nil
}

func (m *MySQL) logf(format string, args ...any) {
	if m.Logger != nil {
		m.Logger.Infof(format, args...)
	}
}

func (m *MySQL) tableNames(ctx context.Context) ([]string, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`, m.Schema)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Trace(err)
		}
		names = append(names, n)
	}
	return names, errors.Trace(rows.Err())
}

func (m *MySQL) showCreateTable(ctx context.Context, table string) (ast.StmtNode, error) {
	var name, createSQL string
	row := m.DB.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE TABLE `%s`.`%s`", m.Schema, table))
	if err := row.Scan(&name, &createSQL); err != nil {
		return nil, errors.Trace(err)
	}
	p := parser.New()
	stmtNodes, _, err := p.Parse(createSQL, "", "")
	if err != nil {
		return nil, errors.Annotatef(err, "constraints: parsing SHOW CREATE TABLE for %s", table)
	}
	if len(stmtNodes) != 1 {
		return nil, errors.Errorf("constraints: expected one statement parsing %s, got %d", table, len(stmtNodes))
	}
	return stmtNodes[0], nil
}

func (m *MySQL) foreignKeysOf(ctx context.Context, table string) ([]foreignKey, error) {
	stmt, err := m.showCreateTable(ctx, table)
	if err != nil {
		return nil, err
	}
	createStmt, ok := stmt.(*ast.CreateTableStmt)
	if !ok {
		return nil, errors.Errorf("constraints: expected CREATE TABLE, got %T", stmt)
	}
	var fks []foreignKey
	for _, c := range createStmt.Constraints {
		if c.Tp != ast.ConstraintForeignKey {
			continue
		}
		fks = append(fks, foreignKey{
			table: table,
			name:  c.Name,
			ddl:   "ADD " + constraintDDL(c),
		})
	}
	return fks, nil
}

func (m *MySQL) uniqueConstraintsOf(ctx context.Context, table string) ([]uniqueConstraint, error) {
	stmt, err := m.showCreateTable(ctx, table)
	if err != nil {
		return nil, err
	}
	createStmt, ok := stmt.(*ast.CreateTableStmt)
	if !ok {
		return nil, errors.Errorf("constraints: expected CREATE TABLE, got %T", stmt)
	}
	var uniques []uniqueConstraint
	for _, c := range createStmt.Constraints {
		switch c.Tp { //nolint:exhaustive
		case ast.ConstraintUniq, ast.ConstraintUniqKey, ast.ConstraintUniqIndex:
			uniques = append(uniques, uniqueConstraint{
				table: table,
				name:  c.Name,
				ddl:   "ADD " + constraintDDL(c),
			})
		}
	}
	return uniques, nil
}

// constraintDDL renders a parsed ast.Constraint back into the clause text
// used to re-add it. The parser's own Restore() would require threading a
// format.RestoreCtx through; a direct column-list rendering is simpler
// and sufficient for the two constraint kinds this package cares about.
func constraintDDL(c *ast.Constraint) string {
	cols := make([]string, 0, len(c.Keys))
	for _, key := range c.Keys {
		cols = append(cols, "`"+key.Column.Name.O+"`")
	}
	switch c.Tp {
	case ast.ConstraintForeignKey:
		refCols := make([]string, 0, len(c.Refer.IndexPartSpecifications))
		for _, part := range c.Refer.IndexPartSpecifications {
			refCols = append(refCols, "`"+part.Column.Name.O+"`")
		}
		return fmt.Sprintf("CONSTRAINT `%s` FOREIGN KEY (%s) REFERENCES `%s` (%s)",
			c.Name, strings.Join(cols, ","), c.Refer.Table.Name.O, strings.Join(refCols, ","))
	default:
		return fmt.Sprintf("UNIQUE KEY `%s` (%s)", c.Name, strings.Join(cols, ","))
	}
}
