package artifacts_test

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/manumartinm/ps3-worker/internal/artifacts"
	"github.com/manumartinm/ps3-worker/internal/evidence"
)

func TestParquetEncoderWritesAllRowsAndColumns(t *testing.T) {
	table := sampleTable()
	table.Columns = append(table.Columns, "note")
	table.Rows[0] = append(table.Rows[0], json.Number("12"))
	table.Rows[1] = append(table.Rows[1], "free text")

	data, err := artifacts.ParquetEncoder{}.Encode(table, "odds_path")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if file.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", file.NumRows())
	}
	var names []string
	for _, field := range file.Schema().Fields() {
		names = append(names, field.Name())
	}
	want := append([]string(nil), table.Columns...)
	sort.Strings(want)
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected columns %v", names)
	}
	for _, field := range file.Schema().Fields() {
		if !field.Optional() {
			t.Fatalf("column %s should be optional", field.Name())
		}
	}
}

func TestParquetEncoderEmptyTable(t *testing.T) {
	table := evidence.Table{Columns: []string{"gene"}}
	data, err := artifacts.ParquetEncoder{}.Encode(table, "explanations")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if file.NumRows() != 0 {
		t.Fatalf("expected no rows, got %d", file.NumRows())
	}
}

func TestXLSXEncoderKeepsColumnOrder(t *testing.T) {
	data, err := artifacts.XLSXEncoder{}.Encode(sampleTable(), "odds_path")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer book.Close()

	rows, err := book.GetRows("odds_path")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "gene,replicates,reproducible,odds_path" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "BRCA1" || rows[1][1] != "3" || rows[1][2] != "TRUE" || rows[1][3] != "4" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[2][0] != "TP53" || rows[2][1] != "" {
		t.Fatalf("null cells must stay empty, got %v", rows[2])
	}
}
