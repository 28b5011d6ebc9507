package store

import (
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowBatch_Documents(t *testing.T) {
	b := &RowBatch{
		Columns: []Column{{Name: "id"}, {Name: "name"}},
		Rows: [][]any{
			{"A1", "first"},
			{"A2", "second"},
		},
	}

	docs := b.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "A1", docs[0]["id"])
	assert.Equal(t, "first", docs[0]["name"])
	assert.Equal(t, "A2", docs[1]["id"])
}

func TestRowBatch_DocumentsNil(t *testing.T) {
	var b *RowBatch
	assert.Nil(t, b.Documents())
	assert.Equal(t, 0, b.Len())
}

func TestRowBatch_ColumnIndex(t *testing.T) {
	b := &RowBatch{Columns: []Column{{Name: "id"}, {Name: "payload"}}}
	assert.Equal(t, 1, b.ColumnIndex("payload"))
	assert.Equal(t, -1, b.ColumnIndex("missing"))
}

func TestMarshalKeyedPayloads(t *testing.T) {
	doc, err := MarshalKeyedPayloads("account_nbr", []string{"A1", "A2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"account_nbr":["A1","A2"]}`, doc)
}

func TestMarshalKeyedPayloads_NilIsEmptyArray(t *testing.T) {
	doc, err := MarshalKeyedPayloads("k", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":[]}`, doc)
}

func TestMarshalKeyedPayloads_EmptyKey(t *testing.T) {
	_, err := MarshalKeyedPayloads("", []string{"A1"})
	require.Error(t, err)
}

func TestSelectStatement(t *testing.T) {
	stmt, err := selectStatement("get_asset", 2)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM get_asset($1, $2)", stmt)

	stmt, err = selectStatement("daas.get_asset", 0)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM daas.get_asset()", stmt)
}

func TestSelectStatement_RejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"", "get asset", "get_asset; DROP TABLE x", "fn(", "a.b.c"} {
		_, err := selectStatement(name, 0)
		assert.Error(t, err, name)
	}
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.True(t, IsConnectionError(io.EOF))
	assert.True(t, IsConnectionError(io.ErrUnexpectedEOF))
	assert.True(t, IsConnectionError(&net.OpError{Op: "read", Err: io.EOF}))
	assert.True(t, IsConnectionError(&pgconn.PgError{Code: "08006"}))
	assert.True(t, IsConnectionError(&pgconn.PgError{Code: "57P01"}))
	assert.False(t, IsConnectionError(&pgconn.PgError{Code: "42883"})) // undefined function
	assert.False(t, IsConnectionError(assert.AnError))
}
