package tablesync

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/block/resync/pkg/batch"
	"github.com/block/resync/pkg/catalog"
	"github.com/block/resync/pkg/dbconn"
	"github.com/block/resync/pkg/dialect"
	"github.com/block/resync/pkg/syncexec"
	"github.com/stretchr/testify/require"
)

func TestSyncTableMixedDrift(t *testing.T) {
	sourceDB, sourceMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	targetDB, targetMock, err := sqlmock.New()
	require.NoError(t, err)
	defer targetDB.Close()

	table := catalog.TableProperties{
		Schema: "db",
		Name:   "orders",
		PK:     []string{"id"},
		Columns: []catalog.ColumnProperties{
			{Name: "id", ColumnProperties: dialect.ColumnProperties{Name: "id", DataType: "int"}},
			{Name: "val", ColumnProperties: dialect.ColumnProperties{Name: "val", DataType: "varchar"}},
		},
	}

	sourceMock.ExpectQuery("SELECT id,val FROM db.orders ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "val"}).
			AddRow(1, "a").
			AddRow(2, "B").
			AddRow(4, "d"))

	targetMock.ExpectQuery("SELECT id,val FROM db.orders ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "val"}).
			AddRow(1, "a").
			AddRow(2, "b").
			AddRow(3, "c"))

	targetMock.ExpectBegin()
	targetMock.ExpectExec("SET time_zone").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("SET sql_mode").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("SET NAMES 'binary'").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("SET innodb_lock_wait_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("SET lock_wait_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectQuery("SELECT CONNECTION_ID").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	targetMock.ExpectPrepare("INSERT INTO db.orders")
	targetMock.ExpectPrepare("DELETE FROM db.orders")
	targetMock.ExpectPrepare("UPDATE db.orders")

	targetMock.ExpectExec("UPDATE db.orders").WithArgs("B", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectExec("DELETE FROM db.orders").WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 1))
	targetMock.ExpectExec("INSERT INTO db.orders").WithArgs(4, "d").WillReturnResult(sqlmock.NewResult(4, 1))

	targetMock.ExpectCommit()

	sync := &Synchronizer{
		SourceDB: sourceDB,
		TargetDB: targetDB,
		DBConfig: dbconn.NewDBConfig(),
		Dialect:  dialect.MySQL{},
		Executor: syncexec.Group{},
	}

	result, err := sync.SyncTable(context.Background(), table, Config{Batch: batch.DefaultConfig()})
	require.NoError(t, err)
	require.Equal(t, 1, result.Inserted)
	require.Equal(t, 1, result.Updated)
	require.Equal(t, 1, result.Deleted)

	require.NoError(t, sourceMock.ExpectationsWereMet())
	require.NoError(t, targetMock.ExpectationsWereMet())
}

// TestSyncTableMultiDigitIntegerPKsAsBytes exercises the representation a
// real *sql.Rows yields for a parameter-free SELECT: go-sql-driver/mysql's
// text protocol returns every column, integer primary keys included, as
// []byte rather than int64. A multi-digit PK drift (source {10}, target
// {2,10}, both already sorted ascending the way the driver/MySQL would
// deliver them) is the smallest case where lexical []byte ordering and
// numeric ordering disagree: lexically "10" < "2", but numerically
// 10 > 2. If the cursor values were compared as raw bytes instead of
// being parsed to int64 first, this would misdrive the merge into
// INSERTing a row whose key already exists in the target (and, on a real
// target, colliding on the primary key). The only correct outcome here is
// a single DELETE of target row 2; row 10 is identical on both sides.
func TestSyncTableMultiDigitIntegerPKsAsBytes(t *testing.T) {
	sourceDB, sourceMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	targetDB, targetMock, err := sqlmock.New()
	require.NoError(t, err)
	defer targetDB.Close()

	table := catalog.TableProperties{
		Schema: "db",
		Name:   "orders",
		PK:     []string{"id"},
		Columns: []catalog.ColumnProperties{
			{Name: "id", ColumnProperties: dialect.ColumnProperties{Name: "id", DataType: "int"}},
			{Name: "val", ColumnProperties: dialect.ColumnProperties{Name: "val", DataType: "varchar"}},
		},
	}

	sourceMock.ExpectQuery("SELECT id,val FROM db.orders ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "val"}).
			AddRow([]byte("10"), []byte("x")))

	targetMock.ExpectQuery("SELECT id,val FROM db.orders ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "val"}).
			AddRow([]byte("2"), []byte("y")).
			AddRow([]byte("10"), []byte("x")))

	targetMock.ExpectBegin()
	targetMock.ExpectExec("SET time_zone").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("SET sql_mode").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("SET NAMES 'binary'").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("SET innodb_lock_wait_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("SET lock_wait_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectQuery("SELECT CONNECTION_ID").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	targetMock.ExpectPrepare("INSERT INTO db.orders")
	targetMock.ExpectPrepare("DELETE FROM db.orders")
	targetMock.ExpectPrepare("UPDATE db.orders")

	targetMock.ExpectExec("DELETE FROM db.orders").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))

	targetMock.ExpectCommit()

	sync := &Synchronizer{
		SourceDB: sourceDB,
		TargetDB: targetDB,
		DBConfig: dbconn.NewDBConfig(),
		Dialect:  dialect.MySQL{},
		Executor: syncexec.Group{},
	}

	result, err := sync.SyncTable(context.Background(), table, Config{Batch: batch.DefaultConfig()})
	require.NoError(t, err)
	require.Equal(t, 0, result.Inserted)
	require.Equal(t, 0, result.Updated)
	require.Equal(t, 1, result.Deleted)

	require.NoError(t, sourceMock.ExpectationsWereMet())
	require.NoError(t, targetMock.ExpectationsWereMet())
}
