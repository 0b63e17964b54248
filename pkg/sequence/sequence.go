// Package sequence implements the SequenceOps collaborator (spec.md §6):
// reseeding identity columns and sequences on the target after a
// synchronization pass, so new rows written directly against the target
// afterward do not collide with values the merge just copied in.
package sequence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/block/resync/pkg/catalog"
	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"
)

// Ops is the collaborator spec.md §6 names.
type Ops interface {
	SynchronizeIdentityColumns(ctx context.Context) error
	SynchronizeSequences(ctx context.Context) error
}

// MySQL reseeds AUTO_INCREMENT columns from the target's own post-sync
// contents. MySQL has no sequence object distinct from AUTO_INCREMENT, so
// SynchronizeSequences is a deliberate no-op here — every other SQL
// dialect HA-JDBC targets has both, but this module's Dialect is fixed to
// MySQL (spec.md's Out of scope explicitly treats sequence reseeding as
// an external collaborator, not core semantics).
type MySQL struct {
	DB     *sql.DB
	Schema string
	Tables []catalog.TableProperties
	Logger loggers.Advanced
}

var _ Ops = (*MySQL)(nil)

// SynchronizeIdentityColumns reseeds AUTO_INCREMENT for every table with a
// single-column integer primary key, to one past the current maximum.
func (m *MySQL) SynchronizeIdentityColumns(ctx context.Context) error {
	for _, t := range m.Tables {
		if len(t.PK) != 1 {
			continue
		}
		isAutoInc, err := m.isAutoIncrement(ctx, t.Name, t.PK[0])
		if err != nil {
			return errors.Annotatef(err, "sequence: checking auto_increment on %s", t.QualifiedName())
		}
		if !isAutoInc {
			continue
		}
		var max sql.NullInt64
		q := fmt.Sprintf("SELECT MAX(`%s`) FROM `%s`.`%s`", t.PK[0], m.Schema, t.Name)
		if err := m.DB.QueryRowContext(ctx, q).Scan(&max); err != nil {
			return errors.Annotatef(err, "sequence: reading max(%s) on %s", t.PK[0], t.QualifiedName())
		}
		if !max.Valid {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE `%s`.`%s` AUTO_INCREMENT = %d", m.Schema, t.Name, max.Int64+1)
		if _, err := m.DB.ExecContext(ctx, stmt); err != nil {
			return errors.Annotatef(err, "sequence: reseeding auto_increment on %s", t.QualifiedName())
		}
		if m.Logger != nil {
			m.Logger.Infof("reseeded auto_increment on %s to %d", t.QualifiedName(), max.Int64+1)
		}
	}
	return nil
}

// SynchronizeSequences is a no-op for MySQL; see the package doc comment.
func (m *MySQL) SynchronizeSequences(context.Context) error {
	return nil
}

func (m *MySQL) isAutoIncrement(ctx context.Context, table, column string) (bool, error) {
	var extra string
	q := `SELECT EXTRA FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND COLUMN_NAME = ?`
	if err := m.DB.QueryRowContext(ctx, q, m.Schema, table, column).Scan(&extra); err != nil {
		return false, errors.Trace(err)
	}
	return extra == "auto_increment", nil
}
