package sequence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/block/resync/pkg/catalog"
	"github.com/stretchr/testify/require"
)

func TestSynchronizeIdentityColumnsReseedsAutoIncrement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXTRA FROM information_schema.COLUMNS").
		WithArgs("db", "orders", "id").
		WillReturnRows(sqlmock.NewRows([]string{"EXTRA"}).AddRow("auto_increment"))
	mock.ExpectQuery("SELECT MAX\\(`id`\\) FROM `db`.`orders`").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(41))
	mock.ExpectExec("ALTER TABLE `db`.`orders` AUTO_INCREMENT = 42").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ops := &MySQL{
		DB:     db,
		Schema: "db",
		Tables: []catalog.TableProperties{{Schema: "db", Name: "orders", PK: []string{"id"}}},
	}
	require.NoError(t, ops.SynchronizeIdentityColumns(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSynchronizeIdentityColumnsSkipsCompositeKeys(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ops := &MySQL{
		DB:     db,
		Schema: "db",
		Tables: []catalog.TableProperties{{Schema: "db", Name: "links", PK: []string{"a", "b"}}},
	}
	require.NoError(t, ops.SynchronizeIdentityColumns(context.Background()))
}

func TestSynchronizeSequencesIsNoOp(t *testing.T) {
	ops := &MySQL{}
	require.NoError(t, ops.SynchronizeSequences(context.Background()))
}
