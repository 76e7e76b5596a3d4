package artifacts

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/evidence"
	"github.com/manumartinm/ps3-worker/internal/services"
)

// Encoder serializes a table into a file format.
type Encoder interface {
	Encode(table evidence.Table, name string) ([]byte, error)
	Extension() string
	ContentType() string
}

// NewEncoder returns the encoder for artifacts.table_format.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case config.FormatParquet, "":
		return ParquetEncoder{}, nil
	case config.FormatXLSX:
		return XLSXEncoder{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown table format %q", services.ErrConfiguration, format)
	}
}

type columnType int

const (
	columnNull columnType = iota
	columnBool
	columnNumber
	columnString
)

// inferColumn picks the narrowest type that holds every non-null cell. Mixed
// columns fall back to strings.
func inferColumn(table evidence.Table, col int) columnType {
	kind := columnNull
	for _, row := range table.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		var cell columnType
		switch row[col].(type) {
		case bool:
			cell = columnBool
		case float64, float32, int, int32, int64, json.Number:
			cell = columnNumber
		default:
			cell = columnString
		}
		switch {
		case kind == columnNull:
			kind = cell
		case kind != cell:
			return columnString
		}
	}
	return kind
}

func cellAt(row []any, col int) any {
	if col >= len(row) {
		return nil
	}
	return row[col]
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
