package solr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUpsert_PostsBatchWithCommit(t *testing.T) {
	var (
		gotPath  string
		gotQuery string
		gotBody  []byte
		gotUser  string
		gotPass  string
		gotOK    bool
		gotCType string
		requests int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		gotUser, gotPass, gotOK = r.BasicAuth()
		gotCType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "solr", "hunter2", zaptest.NewLogger(t))
	docs := []map[string]any{
		{"id": "A1", "name": "first"},
		{"id": "A2", "name": "second"},
	}
	err := c.Upsert(context.Background(), "asset", docs)
	require.NoError(t, err)

	assert.Equal(t, 1, requests)
	assert.Equal(t, "/asset/update", gotPath)
	assert.Equal(t, "commit=true", gotQuery)
	assert.Equal(t, "application/json", gotCType)
	require.True(t, gotOK)
	assert.Equal(t, "solr", gotUser)
	assert.Equal(t, "hunter2", gotPass)

	var posted []map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &posted))
	require.Len(t, posted, 2)
	assert.Equal(t, "A1", posted[0]["id"])
	assert.Equal(t, "A2", posted[1]["id"])
}

func TestUpsert_ServerErrorFailsWholeCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "update handler exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", zaptest.NewLogger(t))
	err := c.Upsert(context.Background(), "asset", []map[string]any{{"id": "C1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestUpsert_EmptyBatchIsNoOp(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", zaptest.NewLogger(t))
	require.NoError(t, c.Upsert(context.Background(), "asset", nil))
	require.NoError(t, c.Upsert(context.Background(), "asset", []map[string]any{}))
	assert.Equal(t, 0, requests)
}

func TestUpsert_NoAuthHeaderWithoutUser(t *testing.T) {
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, sawAuth = r.BasicAuth()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", zaptest.NewLogger(t))
	require.NoError(t, c.Upsert(context.Background(), "asset", []map[string]any{{"id": "A1"}}))
	assert.False(t, sawAuth)
}
