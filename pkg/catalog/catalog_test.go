package catalog

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func tableFixture() TableProperties {
	return TableProperties{
		Schema: "db",
		Name:   "orders",
		PK:     []string{"id"},
		Columns: []ColumnProperties{
			{Name: "id"},
			{Name: "ver"},
			{Name: "payload"},
		},
	}
}

func TestBuildProjectionNoVersionColumn(t *testing.T) {
	proj, err := BuildProjection(tableFixture(), nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{"id"}, proj.PKCols)
	assert.Equal(t, []string{"ver", "payload"}, proj.NonPKCols)
	assert.Empty(t, proj.VersionCol)
	assert.Equal(t, []string{"id", "ver", "payload"}, proj.SelectCols)
}

func TestBuildProjectionVersionColumn(t *testing.T) {
	proj, err := BuildProjection(tableFixture(), regexp.MustCompile(`(?i)^ver$`))
	assert.NoError(t, err)
	assert.Equal(t, "ver", proj.VersionCol)
	// select_cols = pk_cols ++ [version_col] when a version column matched.
	assert.Equal(t, []string{"id", "ver"}, proj.SelectCols)
}

func TestBuildProjectionVersionPatternAmbiguousIgnored(t *testing.T) {
	tbl := tableFixture()
	tbl.Columns = append(tbl.Columns, ColumnProperties{Name: "version"})
	// Both "ver" and "version" match this pattern, so it must be ignored.
	proj, err := BuildProjection(tbl, regexp.MustCompile(`(?i)ver`))
	assert.NoError(t, err)
	assert.Empty(t, proj.VersionCol, "pattern matching more than one column must be ignored")
}

func TestBuildProjectionNoPrimaryKeyIsError(t *testing.T) {
	tbl := tableFixture()
	tbl.PK = nil
	_, err := BuildProjection(tbl, nil)
	assert.Error(t, err)
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, "db.orders", tableFixture().QualifiedName())
}
