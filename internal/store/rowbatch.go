package store

// Column carries the metadata the normaliser and document builder need:
// the column name as returned by the stored procedure, and the Postgres
// type OID reported by the wire protocol.
type Column struct {
	Name    string
	TypeOID uint32
}

// RowBatch is the columnar result of one procedure call: named columns plus
// row-major values. Values are whatever pgx decoded from the wire; the
// normalize package is responsible for reducing them to index-safe shapes.
type RowBatch struct {
	Columns []Column
	Rows    [][]any
}

// Len returns the number of rows in the batch.
func (b *RowBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// ColumnIndex returns the position of the named column, or -1.
func (b *RowBatch) ColumnIndex(name string) int {
	for i, c := range b.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Documents converts the batch into the field-name → value maps the index
// accepts. Rows shorter than the column list (never produced by the
// gateway, but possible for hand-built batches) are zipped up to the
// shorter length.
func (b *RowBatch) Documents() []map[string]any {
	if b == nil {
		return nil
	}
	docs := make([]map[string]any, 0, len(b.Rows))
	for _, row := range b.Rows {
		doc := make(map[string]any, len(b.Columns))
		for i, col := range b.Columns {
			if i >= len(row) {
				break
			}
			doc[col.Name] = row[i]
		}
		docs = append(docs, doc)
	}
	return docs
}
