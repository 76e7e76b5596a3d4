package artifacts

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/manumartinm/ps3-worker/internal/evidence"
)

// ParquetEncoder writes tables as Parquet with one optional column per table
// column. Booleans and numbers keep their physical types; everything else is
// stored as UTF-8 strings. Parquet groups order columns by name.
type ParquetEncoder struct{}

func (ParquetEncoder) Extension() string   { return "parquet" }
func (ParquetEncoder) ContentType() string { return "application/vnd.apache.parquet" }

// Encode serializes table.
func (ParquetEncoder) Encode(table evidence.Table, name string) ([]byte, error) {
	types := make(map[string]columnType, len(table.Columns))
	group := parquet.Group{}
	for i, column := range table.Columns {
		kind := inferColumn(table, i)
		types[column] = kind
		group[column] = parquet.Optional(parquetNode(kind))
	}
	schema := parquet.NewSchema(name, group)

	var buf bytes.Buffer
	writer := parquet.NewWriter(&buf, schema)
	rows := make([]parquet.Row, 0, table.Len())
	fields := schema.Fields()
	for r := range table.Rows {
		row := make(parquet.Row, 0, len(fields))
		for leaf, field := range fields {
			col := table.ColumnIndex(field.Name())
			row = append(row, parquetValue(cellAt(table.Rows[r], col), types[field.Name()]).Level(0, definitionLevel(cellAt(table.Rows[r], col)), leaf))
		}
		rows = append(rows, row)
	}
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetNode(kind columnType) parquet.Node {
	switch kind {
	case columnBool:
		return parquet.Leaf(parquet.BooleanType)
	case columnNumber:
		return parquet.Leaf(parquet.DoubleType)
	default:
		return parquet.String()
	}
}

func parquetValue(v any, kind columnType) parquet.Value {
	if v == nil {
		return parquet.NullValue()
	}
	switch kind {
	case columnBool:
		if b, ok := v.(bool); ok {
			return parquet.BooleanValue(b)
		}
	case columnNumber:
		if f, ok := numberValue(v); ok {
			return parquet.DoubleValue(f)
		}
	}
	return parquet.ByteArrayValue([]byte(stringValue(v)))
}

func definitionLevel(v any) int {
	if v == nil {
		return 0
	}
	return 1
}
