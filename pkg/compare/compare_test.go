package compare

import (
	"testing"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/stretchr/testify/assert"
)

func TestOrderIntegers(t *testing.T) {
	a := Value{Type: mysql.MYSQL_TYPE_LONG, Raw: int64(1)}
	b := Value{Type: mysql.MYSQL_TYPE_LONG, Raw: int64(2)}
	ord, err := Order(a, b)
	assert.NoError(t, err)
	assert.Equal(t, -1, ord)

	ord, err = Order(b, a)
	assert.NoError(t, err)
	assert.Equal(t, 1, ord)

	ord, err = Order(a, a)
	assert.NoError(t, err)
	assert.Equal(t, 0, ord)
}

func TestOrderRejectsNull(t *testing.T) {
	a := NewNull(mysql.MYSQL_TYPE_LONG)
	b := Value{Type: mysql.MYSQL_TYPE_LONG, Raw: int64(2)}
	_, err := Order(a, b)
	assert.Error(t, err)
}

func TestOrderRejectsUnsupportedType(t *testing.T) {
	a := Value{Type: mysql.MYSQL_TYPE_LONG, Raw: struct{}{}}
	b := Value{Type: mysql.MYSQL_TYPE_LONG, Raw: struct{}{}}
	_, err := Order(a, b)
	assert.Error(t, err)
}

// S5: blob equality — same content, no update; different content, update.
func TestEqualBlob(t *testing.T) {
	a := Value{Type: mysql.MYSQL_TYPE_BLOB, Raw: []byte{0x00, 0x01}}
	b := Value{Type: mysql.MYSQL_TYPE_BLOB, Raw: []byte{0x00, 0x01}}
	eq, err := Equal(a, b)
	assert.NoError(t, err)
	assert.True(t, eq)

	c := Value{Type: mysql.MYSQL_TYPE_BLOB, Raw: []byte{0x00, 0x02}}
	eq, err = Equal(a, c)
	assert.NoError(t, err)
	assert.False(t, eq)
}

func TestEqualStrings(t *testing.T) {
	a := Value{Type: mysql.MYSQL_TYPE_VARCHAR, Raw: "a"}
	b := Value{Type: mysql.MYSQL_TYPE_VARCHAR, Raw: "B"}
	eq, err := Equal(a, b)
	assert.NoError(t, err)
	assert.False(t, eq)

	eq, err = Equal(a, a)
	assert.NoError(t, err)
	assert.True(t, eq)
}

func TestEqualRejectsNullOperand(t *testing.T) {
	a := NewNull(mysql.MYSQL_TYPE_VARCHAR)
	b := Value{Type: mysql.MYSQL_TYPE_VARCHAR, Raw: "x"}
	_, err := Equal(a, b)
	assert.Error(t, err)
}

func TestIsIntegralAndIsBinary(t *testing.T) {
	assert.True(t, IsIntegral(mysql.MYSQL_TYPE_LONG))
	assert.False(t, IsIntegral(mysql.MYSQL_TYPE_VARCHAR))
	assert.True(t, IsBinary(mysql.MYSQL_TYPE_BLOB))
	assert.False(t, IsBinary(mysql.MYSQL_TYPE_LONG))
}

func TestIsFloat(t *testing.T) {
	assert.True(t, IsFloat(mysql.MYSQL_TYPE_NEWDECIMAL))
	assert.True(t, IsFloat(mysql.MYSQL_TYPE_DOUBLE))
	assert.False(t, IsFloat(mysql.MYSQL_TYPE_LONG))
	assert.False(t, IsFloat(mysql.MYSQL_TYPE_VARCHAR))
}

// Multi-digit []byte PKs (the text-protocol representation a real
// *sql.Rows yields for a parameter-free SELECT) must sort numerically,
// not lexically, once parsed — "10" < "2" as bytes but 10 > 2 as the
// ORDER BY clause sorts them. This asserts the post-parse contract
// pkg/tablesync's valueOf relies on: compare.Order never sees the raw
// []byte for an integral column, only the parsed int64.
func TestOrderIntegersParsedFromBytesSortsNumerically(t *testing.T) {
	ten := Value{Type: mysql.MYSQL_TYPE_LONG, Raw: int64(10)}
	two := Value{Type: mysql.MYSQL_TYPE_LONG, Raw: int64(2)}
	ord, err := Order(ten, two)
	assert.NoError(t, err)
	assert.Equal(t, 1, ord, "10 must sort after 2 numerically")
}
