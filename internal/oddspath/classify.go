package oddspath

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/manumartinm/ps3-worker/internal/evidence"
)

// Output columns appended to the value table.
const (
	ColumnOddsPath = "odds_path"
	ColumnCategory = "category"
	ColumnComputed = "odds_path_computed"
)

const (
	minReplicates           = 2
	moderateControlsMinimum = 11
)

// Result is the classification of one evidence row.
//
// OddsRatio is nil exactly when Computed is false: the counts were missing,
// non-integral or produced a degenerate proportion, and Category is then
// always Indeterminate.
type Result struct {
	OddsRatio *float64
	Category  Category
	Computed  bool
}

// Classify derives the odds ratio and category for one value-table row.
func Classify(row map[string]any) Result {
	pathogenic, okP := toInt(row[evidence.FieldPathogenicVariants])
	total, okT := toInt(row[evidence.FieldTotalVariants])
	abnormal, okA := toInt(row[evidence.FieldPathogenicAbnormalVariants])
	if !okP || !okT || !okA {
		return degenerate()
	}

	benign := total - pathogenic
	normal := benign - abnormal
	if pathogenic+benign == 0 || abnormal+normal == 0 {
		return degenerate()
	}
	p1 := float64(pathogenic) / float64(pathogenic+benign)
	p2 := float64(abnormal) / float64(abnormal+normal)
	if p1 == 0 || p1 == 1 || p2 == 0 || p2 == 1 {
		return degenerate()
	}

	oddsRatio := (p2 * (1 - p1)) / ((1 - p2) * p1)
	rounded := math.Round(oddsRatio*1000) / 1000
	result := Result{OddsRatio: &rounded, Computed: true}

	fold := cases.Fold()
	switch {
	case !passesGating(row, fold):
		result.Category = CategoryDoNotUse
	case hasStatistics(row, fold):
		result.Category = Band(oddsRatio)
	default:
		result.Category = capByControls(pathogenic + benign)
	}
	return result
}

func degenerate() Result {
	return Result{Category: CategoryIndeterminate}
}

// passesGating requires at least two replicates, a reproducible result and
// a named validation process.
func passesGating(row map[string]any, fold cases.Caser) bool {
	replicates, ok := toInt(row[evidence.FieldReplicates])
	if !ok || replicates < minReplicates {
		return false
	}
	if !isTrue(row[evidence.FieldReproducible], fold) {
		return false
	}
	validation := fold.String(strings.TrimSpace(toText(row[evidence.FieldValidationProcess])))
	switch validation {
	case "", "not specified", "none":
		return false
	}
	return true
}

func hasStatistics(row map[string]any, fold cases.Caser) bool {
	text := fold.String(toText(row[evidence.FieldStatisticalAnalysis]))
	return !strings.Contains(text, "no specific statistical") && !strings.Contains(text, "not specified")
}

// capByControls limits the strength of evidence reported without statistics.
func capByControls(controls int) Category {
	switch {
	case controls >= moderateControlsMinimum:
		return CategoryMaxModerate
	case controls >= 1:
		return CategoryMaxSupporting
	default:
		return CategoryDoNotUse
	}
}

// ClassifyTable classifies every row of a value table and returns a copy with
// odds_path, category and odds_path_computed columns appended.
func ClassifyTable(values evidence.Table) (evidence.Table, []Result) {
	out := evidence.Table{
		Columns: append(append([]string(nil), values.Columns...), ColumnOddsPath, ColumnCategory, ColumnComputed),
		Rows:    make([][]any, 0, values.Len()),
	}
	results := make([]Result, 0, values.Len())
	for i := range values.Rows {
		result := Classify(values.RowMap(i))
		results = append(results, result)

		row := make([]any, 0, len(out.Columns))
		row = append(row, values.Rows[i]...)
		var oddsRatio any
		if result.OddsRatio != nil {
			oddsRatio = *result.OddsRatio
		}
		row = append(row, oddsRatio, string(result.Category), result.Computed)
		out.Rows = append(out.Rows, row)
	}
	return out, results
}

// toInt accepts integers, floats without a fractional part and numeric
// strings. Booleans are rejected.
func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return floatToInt(v)
	case float32:
		return floatToInt(float64(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
		if f, err := v.Float64(); err == nil {
			return floatToInt(f)
		}
		return 0, false
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func isTrue(value any, fold cases.Caser) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch fold.String(strings.TrimSpace(v)) {
		case "true", "yes":
			return true
		}
	}
	return false
}

func toText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
