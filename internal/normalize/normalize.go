// Package normalize reduces raw procedure-call results to the shapes the
// search collection accepts: ISO-8601 UTC strings for timestamps, flat
// slices for arrays, plain text for JSON objects. Normalising an
// already-normalised batch is a no-op.
package normalize

import (
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/arc-self/apps/search-indexer/internal/store"
)

// TimeLayout is the wire format for every timestamp field: UTC, millisecond
// precision, trailing Z.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Batch normalises every cell in place and returns the batch. Nil batches
// pass through.
func Batch(b *store.RowBatch) *store.RowBatch {
	if b == nil {
		return nil
	}
	for _, row := range b.Rows {
		for i, v := range row {
			row[i] = Value(v)
		}
	}
	return b
}

// Value normalises a single cell:
//
//  1. timestamps become UTC ISO-8601 strings with millisecond precision
//  2. text that parses as a JSON array becomes that array; any other text
//     is left untouched (parse failure is silent)
//  3. database arrays become flat slices, elements normalised
//  4. JSON objects are re-encoded as text
//  5. numerics are unwrapped to primitives; everything else passes through
func Value(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(TimeLayout)
	case string:
		if arr, ok := decodeJSONArray(val); ok {
			return arr
		}
		return val
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Value(e)
		}
		return out
	case map[string]any:
		// jsonb objects are not index-safe; carry them as text, the same
		// way the fetch path would have delivered un-decoded JSON.
		enc, err := json.Marshal(val)
		if err != nil {
			return val
		}
		return string(enc)
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return val
		}
		return f.Float64
	default:
		return val
	}
}

// decodeJSONArray reports whether s is a JSON array, returning the decoded
// slice when it is. Objects, scalars, and invalid JSON all decline.
func decodeJSONArray(s string) ([]any, bool) {
	t := trimLeading(s)
	if t == "" || t[0] != '[' {
		return nil, false
	}
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return nil, false
	}
	return arr, true
}

func trimLeading(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return s[i:]
		}
	}
	return ""
}
