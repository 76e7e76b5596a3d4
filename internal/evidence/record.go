package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field names in table order.
const (
	FieldArticle                    = "articulo"
	FieldDOI                        = "doi"
	FieldDisease                    = "disease"
	FieldGene                       = "gene"
	FieldVariantName                = "variant_name"
	FieldType                       = "type"
	FieldModelSystem                = "modelSystem"
	FieldExperimentalMethod         = "experimentalMethod"
	FieldOutcomeEvaluated           = "outcomeEvaluated"
	FieldPositiveControls           = "positiveControls"
	FieldNegativeControls           = "negativeControls"
	FieldPathogenicVariants         = "pathogenicVariants"
	FieldPathogenicAbnormalVariants = "pathogenicAbnormalVariants"
	FieldTotalVariants              = "totalVariants"
	FieldReplicates                 = "replicates"
	FieldStatisticalAnalysis        = "statisticalAnalysis"
	FieldValidationProcess          = "validationProcess"
	FieldReproducible               = "reproducible"
	FieldRobustnessData             = "robustnessData"
	FieldFunctionalImpact           = "functionalImpact"
)

// SourceDOIColumn is appended to both output tables.
const SourceDOIColumn = "source_doi"

var fieldOrder = []string{
	FieldArticle,
	FieldDOI,
	FieldDisease,
	FieldGene,
	FieldVariantName,
	FieldType,
	FieldModelSystem,
	FieldExperimentalMethod,
	FieldOutcomeEvaluated,
	FieldPositiveControls,
	FieldNegativeControls,
	FieldPathogenicVariants,
	FieldPathogenicAbnormalVariants,
	FieldTotalVariants,
	FieldReplicates,
	FieldStatisticalAnalysis,
	FieldValidationProcess,
	FieldReproducible,
	FieldRobustnessData,
	FieldFunctionalImpact,
}

// FieldOrder returns the twenty extraction fields in their fixed table order.
func FieldOrder() []string {
	return append([]string(nil), fieldOrder...)
}

// Field is one extracted value with the model's justification.
type Field struct {
	Value       any    `json:"value"`
	Explanation string `json:"explanation"`
}

// Record is the extraction result for one variant, keyed by field name.
type Record map[string]Field

// Value returns the value of name, or nil when the field is missing.
func (r Record) Value(name string) any {
	return r[name].Value
}

// ParseRecord reads a validated extraction reply ({"data": {...}}). Numbers
// are kept as json.Number so integer counts survive without float rounding.
func ParseRecord(raw json.RawMessage) (Record, error) {
	var envelope struct {
		Data map[string]Field `json:"data"`
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("decode record: missing data object")
	}
	return Record(envelope.Data), nil
}
