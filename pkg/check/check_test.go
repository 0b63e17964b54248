package check

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCheckRejectsOldMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT VERSION\\(\\)").WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow("5.7.32-log"))
	err = versionCheck{}.Run(context.Background(), Resources{DB: db}, nil)
	assert.Error(t, err)
}

func TestVersionCheckAcceptsMySQL8(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT VERSION\\(\\)").WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow("8.0.35-log"))
	err = versionCheck{}.Run(context.Background(), Resources{DB: db}, nil)
	assert.NoError(t, err)
}

func TestPrivilegeCheckReportsMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW GRANTS").WillReturnRows(sqlmock.NewRows([]string{"grant"}).
		AddRow("GRANT SELECT, INSERT ON `db`.* TO 'u'@'%'"))
	err = privilegeCheck{}.Run(context.Background(), Resources{DB: db, RequiredPrivileges: []string{"ALTER", "SELECT"}}, nil)
	assert.ErrorContains(t, err, "ALTER")
}

func TestPrivilegeCheckAllPrivilegesPasses(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW GRANTS").WillReturnRows(sqlmock.NewRows([]string{"grant"}).
		AddRow("GRANT ALL PRIVILEGES ON *.* TO 'root'@'%'"))
	err = privilegeCheck{}.Run(context.Background(), Resources{DB: db, RequiredPrivileges: []string{"ALTER"}}, nil)
	assert.NoError(t, err)
}
