package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/apps/search-indexer/internal/store"
)

func TestValue_TimestampUTCMilliseconds(t *testing.T) {
	// 12:34:56.789123 at UTC+2 must surface as 10:34:56.789Z.
	loc := time.FixedZone("CEST", 2*60*60)
	in := time.Date(2024, 6, 1, 12, 34, 56, 789123000, loc)

	out := Value(in)
	assert.Equal(t, "2024-06-01T10:34:56.789Z", out)
}

func TestValue_TimestampRegexShape(t *testing.T) {
	out, ok := Value(time.Now()).(string)
	require.True(t, ok)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, out)
}

func TestValue_NilStaysNil(t *testing.T) {
	assert.Nil(t, Value(nil))
}

func TestValue_JSONArrayTextDecoded(t *testing.T) {
	out := Value(`["x","y"]`)
	assert.Equal(t, []any{"x", "y"}, out)
}

func TestValue_NonJSONTextUnchanged(t *testing.T) {
	assert.Equal(t, "not json", Value("not json"))
}

func TestValue_JSONObjectTextUnchanged(t *testing.T) {
	// Only arrays are decoded; object text passes through as-is.
	assert.Equal(t, `{"a":1}`, Value(`{"a":1}`))
}

func TestValue_JSONScalarTextUnchanged(t *testing.T) {
	assert.Equal(t, "123", Value("123"))
	assert.Equal(t, "true", Value("true"))
}

func TestValue_NativeObjectBecomesText(t *testing.T) {
	out := Value(map[string]any{"a": float64(1)})
	assert.Equal(t, `{"a":1}`, out)
}

func TestValue_StringSliceFlattened(t *testing.T) {
	out := Value([]string{"a", "b"})
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestValue_SliceElementsNormalised(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	out := Value([]any{ts, "plain"})
	assert.Equal(t, []any{"2024-01-02T03:04:05.000Z", "plain"}, out)
}

func TestValue_NumbersPassThrough(t *testing.T) {
	assert.Equal(t, int64(7), Value(int64(7)))
	assert.Equal(t, 1.5, Value(1.5))
}

func TestBatch_NormalisesEveryCellInPlace(t *testing.T) {
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	b := &store.RowBatch{
		Columns: []store.Column{{Name: "id"}, {Name: "updated_at"}, {Name: "tags"}},
		Rows: [][]any{
			{"A1", ts, `["x","y"]`},
			{"A2", nil, "not json"},
		},
	}

	out := Batch(b)
	require.Same(t, b, out)
	assert.Equal(t, "2024-06-01T10:00:00.000Z", b.Rows[0][1])
	assert.Equal(t, []any{"x", "y"}, b.Rows[0][2])
	assert.Nil(t, b.Rows[1][1])
	assert.Equal(t, "not json", b.Rows[1][2])
}

func TestBatch_Idempotent(t *testing.T) {
	b := &store.RowBatch{
		Columns: []store.Column{{Name: "updated_at"}, {Name: "tags"}, {Name: "n"}},
		Rows: [][]any{
			{time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), `["x"]`, 1.5},
		},
	}
	Batch(b)
	first := make([]any, len(b.Rows[0]))
	copy(first, b.Rows[0])

	Batch(b)
	assert.Equal(t, first, b.Rows[0])
}

func TestBatch_NilPassesThrough(t *testing.T) {
	assert.Nil(t, Batch(nil))
}
