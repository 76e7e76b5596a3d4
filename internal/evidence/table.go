package evidence

import (
	"path"
	"strings"
)

// Table is a column-ordered set of rows. Cells hold strings, json.Number,
// float64, bool or nil.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Len reports the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of name or -1.
func (t Table) ColumnIndex(name string) int {
	for i, column := range t.Columns {
		if column == name {
			return i
		}
	}
	return -1
}

// Cell returns the value at (row, name).
func (t Table) Cell(row int, name string) (any, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 || row < 0 || row >= len(t.Rows) || idx >= len(t.Rows[row]) {
		return nil, false
	}
	return t.Rows[row][idx], true
}

// RowMap returns row as a column-keyed map.
func (t Table) RowMap(row int) map[string]any {
	out := make(map[string]any, len(t.Columns))
	for i, column := range t.Columns {
		if i < len(t.Rows[row]) {
			out[column] = t.Rows[row][i]
		}
	}
	return out
}

// BuildTables projects the value and explanation of every field of every
// record into two parallel tables in FieldOrder, followed by a source_doi
// column shared by both. Row i of each table describes records[i].
func BuildTables(records []Record, doi string) (values Table, explanations Table) {
	columns := append(FieldOrder(), SourceDOIColumn)
	values = Table{Columns: columns, Rows: make([][]any, 0, len(records))}
	explanations = Table{Columns: append([]string(nil), columns...), Rows: make([][]any, 0, len(records))}
	for _, record := range records {
		valueRow := make([]any, 0, len(columns))
		explanationRow := make([]any, 0, len(columns))
		for _, name := range fieldOrder {
			field := record[name]
			valueRow = append(valueRow, field.Value)
			explanationRow = append(explanationRow, field.Explanation)
		}
		values.Rows = append(values.Rows, append(valueRow, doi))
		explanations.Rows = append(explanations.Rows, append(explanationRow, doi))
	}
	return values, explanations
}

// DOIFromFilename recovers the article DOI from an uploaded file name: the
// first "-" stands for the DOI's "/" and the ".pdf" suffix is dropped, so
// "10.1016-j.cell.2020.01.001.pdf" becomes "10.1016/j.cell.2020.01.001".
func DOIFromFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.Replace(base, "-", "/", 1)
	return strings.ReplaceAll(base, ".pdf", "")
}
