package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/apps/search-indexer/internal/store"
)

func TestApply_MissingHookIsNonFatal(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	b := &store.RowBatch{Columns: []store.Column{{Name: "id"}}, Rows: [][]any{{"A1"}}}

	err := r.Apply(context.Background(), "ASSET", b)
	require.NoError(t, err)
	assert.Equal(t, "A1", b.Rows[0][0]) // untouched
}

func TestApply_MutatesBatchInPlace(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.Register("ASSET", TransformFunc(func(_ context.Context, batch *store.RowBatch) error {
		for _, row := range batch.Rows {
			row[0] = "seen:" + row[0].(string)
		}
		return nil
	}))

	b := &store.RowBatch{Columns: []store.Column{{Name: "id"}}, Rows: [][]any{{"A1"}}}
	require.NoError(t, r.Apply(context.Background(), "ASSET", b))
	assert.Equal(t, "seen:A1", b.Rows[0][0])
}

func TestApply_DomainLookupIsCaseInsensitive(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	called := false
	r.Register("asset", TransformFunc(func(context.Context, *store.RowBatch) error {
		called = true
		return nil
	}))

	require.NoError(t, r.Apply(context.Background(), "ASSET", &store.RowBatch{}))
	assert.True(t, called)
}

func TestApply_HookErrorPropagates(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	boom := errors.New("hook exploded")
	r.Register("ASSET", TransformFunc(func(context.Context, *store.RowBatch) error {
		return boom
	}))

	err := r.Apply(context.Background(), "ASSET", &store.RowBatch{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
