package merge

import (
	"context"
	"testing"

	"github.com/block/resync/pkg/catalog"
	"github.com/block/resync/pkg/compare"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceCursor struct {
	rows []Row
	pos  int
}

func newSliceCursor(rows []Row) *sliceCursor {
	return &sliceCursor{rows: rows, pos: -1}
}

func (c *sliceCursor) Advance(context.Context) (bool, error) {
	c.pos++
	return c.pos < len(c.rows), nil
}

func (c *sliceCursor) Row() Row {
	return c.rows[c.pos]
}

type fakeSink struct {
	inserts, updates, deletes [][]any
}

func (s *fakeSink) AddInsert(_ context.Context, args ...any) error {
	s.inserts = append(s.inserts, args)
	return nil
}

func (s *fakeSink) AddUpdate(_ context.Context, args ...any) error {
	s.updates = append(s.updates, args)
	return nil
}

func (s *fakeSink) AddDelete(_ context.Context, args ...any) error {
	s.deletes = append(s.deletes, args)
	return nil
}

func intPK(n int64) []compare.Value {
	return []compare.Value{{Type: mysql.MYSQL_TYPE_LONG, Raw: n}}
}

func strVal(s string) compare.Value {
	return compare.Value{Type: mysql.MYSQL_TYPE_VAR_STRING, Raw: s}
}

func nullVal(t byte) compare.Value {
	return compare.NewNull(t)
}

var noVersionProj = catalog.Projection{PKCols: []string{"id"}, NonPKCols: []string{"val"}}

// S1: empty target, three-row source.
func TestRunEmptyTargetThreeRowSource(t *testing.T) {
	source := newSliceCursor([]Row{
		{PK: intPK(1), Values: []compare.Value{strVal("a")}},
		{PK: intPK(2), Values: []compare.Value{strVal("b")}},
		{PK: intPK(3), Values: []compare.Value{strVal("c")}},
	})
	target := newSliceCursor(nil)
	sink := &fakeSink{}

	result, err := Run(context.Background(), source, target, noVersionProj, sink)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 3, Updated: 0, Deleted: 0}, result)
	assert.Len(t, sink.inserts, 3)
	assert.Empty(t, sink.updates)
	assert.Empty(t, sink.deletes)
}

// S2: identical sides.
func TestRunIdenticalSides(t *testing.T) {
	rows := []Row{
		{PK: intPK(1), Values: []compare.Value{strVal("a")}},
		{PK: intPK(2), Values: []compare.Value{strVal("b")}},
	}
	sink := &fakeSink{}
	result, err := Run(context.Background(), newSliceCursor(rows), newSliceCursor(append([]Row(nil), rows...)), noVersionProj, sink)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

// S3: mixed drift.
func TestRunMixedDrift(t *testing.T) {
	source := newSliceCursor([]Row{
		{PK: intPK(1), Values: []compare.Value{strVal("a")}},
		{PK: intPK(2), Values: []compare.Value{strVal("B")}},
		{PK: intPK(4), Values: []compare.Value{strVal("d")}},
	})
	target := newSliceCursor([]Row{
		{PK: intPK(1), Values: []compare.Value{strVal("a")}},
		{PK: intPK(2), Values: []compare.Value{strVal("b")}},
		{PK: intPK(3), Values: []compare.Value{strVal("c")}},
	})
	sink := &fakeSink{}
	result, err := Run(context.Background(), source, target, noVersionProj, sink)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 1, Updated: 1, Deleted: 1}, result)
	require.Len(t, sink.inserts, 1)
	assert.Equal(t, []any{int64(4), "d"}, sink.inserts[0])
	require.Len(t, sink.updates, 1)
	assert.Equal(t, []any{"B", int64(2)}, sink.updates[0])
	require.Len(t, sink.deletes, 1)
	assert.Equal(t, []any{int64(3)}, sink.deletes[0])
}

// S4: null transitions, both directions.
func TestRunNullTransitions(t *testing.T) {
	source := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{nullVal(mysql.MYSQL_TYPE_VAR_STRING)}}})
	target := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{strVal("x")}}})
	sink := &fakeSink{}
	result, err := Run(context.Background(), source, target, noVersionProj, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, sink.updates, 1)
	assert.Nil(t, sink.updates[0][0], "NULL source value must bind as typed nil")

	source2 := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{strVal("x")}}})
	target2 := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{nullVal(mysql.MYSQL_TYPE_VAR_STRING)}}})
	sink2 := &fakeSink{}
	result2, err := Run(context.Background(), source2, target2, noVersionProj, sink2)
	require.NoError(t, err)
	assert.Equal(t, 1, result2.Updated)
}

// S5: blob column equality/inequality.
func TestRunBlobEquality(t *testing.T) {
	blobProj := catalog.Projection{PKCols: []string{"id"}, NonPKCols: []string{"data"}}
	blobVal := func(b []byte) compare.Value { return compare.Value{Type: mysql.MYSQL_TYPE_BLOB, Raw: b} }

	source := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{blobVal([]byte{0x00, 0x01})}}})
	target := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{blobVal([]byte{0x00, 0x01})}}})
	sink := &fakeSink{}
	result, err := Run(context.Background(), source, target, blobProj, sink)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Updated)

	target2 := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{blobVal([]byte{0x00, 0x02})}}})
	sink2 := &fakeSink{}
	source2 := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{blobVal([]byte{0x00, 0x01})}}})
	result2, err := Run(context.Background(), source2, target2, blobProj, sink2)
	require.NoError(t, err)
	assert.Equal(t, 1, result2.Updated)
}

// S6: version fast path — only the version column drives the update
// decision; other projected columns are never fetched in this mode.
func TestRunVersionFastPath(t *testing.T) {
	versionProj := catalog.Projection{PKCols: []string{"id"}, NonPKCols: []string{"payload"}, VersionCol: "ver"}

	source := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{{Type: mysql.MYSQL_TYPE_LONG, Raw: int64(5)}}}})
	target := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{{Type: mysql.MYSQL_TYPE_LONG, Raw: int64(4)}}}})
	sink := &fakeSink{}
	result, err := Run(context.Background(), source, target, versionProj, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, sink.updates, 1)
	assert.Equal(t, []any{int64(5), int64(1)}, sink.updates[0])

	source2 := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{{Type: mysql.MYSQL_TYPE_LONG, Raw: int64(5)}}}})
	target2 := newSliceCursor([]Row{{PK: intPK(1), Values: []compare.Value{{Type: mysql.MYSQL_TYPE_LONG, Raw: int64(5)}}}})
	sink2 := &fakeSink{}
	result2, err := Run(context.Background(), source2, target2, versionProj, sink2)
	require.NoError(t, err)
	assert.Equal(t, 0, result2.Updated, "equal version column means zero updates even if payload would differ")
}

// Pure-PK table: the update branch must never fire.
func TestRunPurePKTableSkipsUpdateBranch(t *testing.T) {
	proj := catalog.Projection{PKCols: []string{"id"}}
	source := newSliceCursor([]Row{{PK: intPK(1)}})
	target := newSliceCursor([]Row{{PK: intPK(1)}})
	sink := &fakeSink{}
	result, err := Run(context.Background(), source, target, proj, sink)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	assert.Empty(t, sink.updates)
}
