package artifacts

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/manumartinm/ps3-worker/internal/evidence"
)

const defaultSheet = "Sheet1"

// XLSXEncoder writes tables as a single-sheet workbook with a header row.
// Column order follows the table.
type XLSXEncoder struct{}

func (XLSXEncoder) Extension() string { return "xlsx" }
func (XLSXEncoder) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Encode serializes table into a sheet called name.
func (XLSXEncoder) Encode(table evidence.Table, name string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := name
	if sheet == "" {
		sheet = defaultSheet
	}
	if sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
	}

	for i, column := range table.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, column); err != nil {
			return nil, fmt.Errorf("write header %s: %w", column, err)
		}
	}
	for r, row := range table.Rows {
		for c, value := range row {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("data cell: %w", err)
			}
			if f64, ok := numberValue(value); ok {
				value = f64
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
