package oddspath_test

import (
	"encoding/json"
	"testing"

	"github.com/manumartinm/ps3-worker/internal/evidence"
	"github.com/manumartinm/ps3-worker/internal/oddspath"
)

func baseRow() map[string]any {
	return map[string]any{
		"pathogenicVariants":         10,
		"totalVariants":              20,
		"pathogenicAbnormalVariants": 8,
		"replicates":                 3,
		"reproducible":               true,
		"validationProcess":          "Western blot",
		"statisticalAnalysis":        "t-test, p<0.05",
	}
}

func with(row map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	out[key] = value
	return out
}

func TestClassifyReferenceRow(t *testing.T) {
	result := oddspath.Classify(baseRow())
	if !result.Computed || result.OddsRatio == nil {
		t.Fatalf("expected computed odds ratio, got %+v", result)
	}
	if *result.OddsRatio != 4.0 {
		t.Fatalf("expected odds ratio 4.0, got %v", *result.OddsRatio)
	}
	// 4.0 sits between the 2.1 and 4.3 bounds.
	if result.Category != oddspath.CategoryPS3Supporting {
		t.Fatalf("expected PS3_supporting, got %q", result.Category)
	}
}

func TestClassifyGating(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]any
	}{
		{name: "not reproducible", row: with(baseRow(), "reproducible", false)},
		{name: "reproducible string no", row: with(baseRow(), "reproducible", "no")},
		{name: "single replicate", row: with(baseRow(), "replicates", 1)},
		{name: "replicates missing", row: with(baseRow(), "replicates", nil)},
		{name: "replicates text", row: with(baseRow(), "replicates", "several")},
		{name: "validation not specified", row: with(baseRow(), "validationProcess", "Not Specified")},
		{name: "validation none", row: with(baseRow(), "validationProcess", "NONE")},
		{name: "validation empty", row: with(baseRow(), "validationProcess", "  ")},
		{name: "validation null", row: with(baseRow(), "validationProcess", nil)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := oddspath.Classify(tc.row)
			if result.Category != oddspath.CategoryDoNotUse {
				t.Fatalf("expected %q, got %q", oddspath.CategoryDoNotUse, result.Category)
			}
			if result.OddsRatio == nil || !result.Computed {
				t.Fatalf("gated rows still carry the odds ratio: %+v", result)
			}
		})
	}
}

func TestClassifyReproducibleStrings(t *testing.T) {
	for _, value := range []any{"true", "Yes", " TRUE "} {
		result := oddspath.Classify(with(baseRow(), "reproducible", value))
		if result.Category == oddspath.CategoryDoNotUse {
			t.Fatalf("reproducible=%q should pass gating", value)
		}
	}
}

func TestClassifyDegenerate(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]any
	}{
		{name: "no pathogenic", row: with(baseRow(), "pathogenicVariants", 0)},
		{name: "all pathogenic", row: with(baseRow(), "pathogenicVariants", 20)},
		{name: "no variants", row: with(with(with(baseRow(), "pathogenicVariants", 0), "totalVariants", 0), "pathogenicAbnormalVariants", 0)},
		{name: "no abnormal", row: with(baseRow(), "pathogenicAbnormalVariants", 0)},
		{name: "all abnormal", row: with(with(baseRow(), "pathogenicAbnormalVariants", 10), "totalVariants", 20)},
		{name: "missing count", row: with(baseRow(), "totalVariants", nil)},
		{name: "fractional count", row: with(baseRow(), "totalVariants", 20.5)},
		{name: "text count", row: with(baseRow(), "pathogenicVariants", "ten")},
		{name: "boolean count", row: with(baseRow(), "pathogenicVariants", true)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := oddspath.Classify(tc.row)
			if result.Category != oddspath.CategoryIndeterminate || result.OddsRatio != nil || result.Computed {
				t.Fatalf("expected degenerate Indeterminate, got %+v", result)
			}
		})
	}
}

func TestClassifyCoercesNumbers(t *testing.T) {
	rows := []map[string]any{
		with(baseRow(), "pathogenicVariants", "10"),
		with(baseRow(), "pathogenicVariants", 10.0),
		with(baseRow(), "pathogenicVariants", json.Number("10")),
		with(baseRow(), "totalVariants", json.Number("20.0")),
		with(baseRow(), "replicates", "3"),
	}
	want := oddspath.Classify(baseRow())
	for i, row := range rows {
		got := oddspath.Classify(row)
		if got.Category != want.Category || got.OddsRatio == nil || *got.OddsRatio != *want.OddsRatio {
			t.Fatalf("row %d: got %+v want %+v", i, got, want)
		}
	}
}

func TestClassifyWithoutStatistics(t *testing.T) {
	tests := []struct {
		name     string
		p, total int
		abnormal int
		want     oddspath.Category
	}{
		{name: "eleven controls", p: 5, total: 11, abnormal: 4, want: oddspath.CategoryMaxModerate},
		{name: "ten controls", p: 5, total: 10, abnormal: 4, want: oddspath.CategoryMaxSupporting},
	}
	for _, tc := range tests {
		for _, stats := range []string{"No specific statistical test was reported", "not specified"} {
			row := baseRow()
			row["pathogenicVariants"] = tc.p
			row["totalVariants"] = tc.total
			row["pathogenicAbnormalVariants"] = tc.abnormal
			row["statisticalAnalysis"] = stats
			got := oddspath.Classify(row)
			if got.Category != tc.want {
				t.Fatalf("%s/%q: expected %q, got %q", tc.name, stats, tc.want, got.Category)
			}
		}
	}
}

func TestBandBoundaries(t *testing.T) {
	tests := []struct {
		or   float64
		want oddspath.Category
	}{
		{0, oddspath.CategoryBS3},
		{0.052, oddspath.CategoryBS3},
		{0.053, oddspath.CategoryBS3Moderate},
		{0.229, oddspath.CategoryBS3Moderate},
		{0.23, oddspath.CategoryBS3Supporting},
		{0.479, oddspath.CategoryBS3Supporting},
		{0.48, oddspath.CategoryIndeterminate},
		{2.1, oddspath.CategoryIndeterminate},
		{2.1001, oddspath.CategoryPS3Supporting},
		{4.3, oddspath.CategoryPS3Supporting},
		{4.31, oddspath.CategoryPS3Moderate},
		{18.7, oddspath.CategoryPS3Moderate},
		{18.71, oddspath.CategoryPS3},
		{350, oddspath.CategoryPS3},
		{350.01, oddspath.CategoryPS3VeryStrong},
	}
	for _, tc := range tests {
		if got := oddspath.Band(tc.or); got != tc.want {
			t.Fatalf("Band(%v) = %q, want %q", tc.or, got, tc.want)
		}
	}
}

func TestClassifyIsDeterministicAndEnumerated(t *testing.T) {
	for p := 1; p < 12; p++ {
		for total := p + 1; total < 14; total++ {
			for a := 0; a <= total-p; a++ {
				row := baseRow()
				row["pathogenicVariants"] = p
				row["totalVariants"] = total
				row["pathogenicAbnormalVariants"] = a
				first := oddspath.Classify(row)
				second := oddspath.Classify(row)
				if !first.Category.Valid() {
					t.Fatalf("category %q is not enumerated", first.Category)
				}
				if first.Category != second.Category || (first.OddsRatio == nil) != (second.OddsRatio == nil) {
					t.Fatalf("non-deterministic result for p=%d t=%d a=%d", p, total, a)
				}
				if first.OddsRatio != nil && *first.OddsRatio != *second.OddsRatio {
					t.Fatalf("non-deterministic odds ratio for p=%d t=%d a=%d", p, total, a)
				}
				if first.OddsRatio == nil && first.Category != oddspath.CategoryIndeterminate {
					t.Fatalf("nil odds ratio with category %q", first.Category)
				}
			}
		}
	}
}

func TestClassifyTable(t *testing.T) {
	records := []evidence.Record{
		{
			"pathogenicVariants":         {Value: json.Number("10")},
			"totalVariants":              {Value: json.Number("20")},
			"pathogenicAbnormalVariants": {Value: json.Number("8")},
			"replicates":                 {Value: json.Number("3")},
			"reproducible":               {Value: true},
			"validationProcess":          {Value: "Western blot"},
			"statisticalAnalysis":        {Value: "t-test"},
		},
		{"pathogenicVariants": {Value: json.Number("0")}},
	}
	values, _ := evidence.BuildTables(records, "10.1/x")
	table, results := oddspath.ClassifyTable(values)

	if len(table.Columns) != len(values.Columns)+3 {
		t.Fatalf("expected three appended columns, got %v", table.Columns)
	}
	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	if got, _ := table.Cell(0, oddspath.ColumnOddsPath); got != 4.0 {
		t.Fatalf("unexpected odds_path %v", got)
	}
	if got, _ := table.Cell(1, oddspath.ColumnOddsPath); got != nil {
		t.Fatalf("expected nil odds_path for degenerate row, got %v", got)
	}
	if got, _ := table.Cell(1, oddspath.ColumnCategory); got != "Indeterminate" {
		t.Fatalf("unexpected category %v", got)
	}
	if got, _ := table.Cell(1, oddspath.ColumnComputed); got != false {
		t.Fatalf("expected computed=false, got %v", got)
	}
	if got, _ := table.Cell(0, evidence.SourceDOIColumn); got != "10.1/x" {
		t.Fatalf("source doi must survive classification, got %v", got)
	}
}

func TestAllCategories(t *testing.T) {
	all := oddspath.AllCategories()
	if len(all) != 11 {
		t.Fatalf("expected 11 categories, got %d", len(all))
	}
	if oddspath.Category("PS4").Valid() {
		t.Fatal("unknown category must not be valid")
	}
}
