package evidence

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VariantKey identifies one gene/variant pair found in an article.
type VariantKey struct {
	Gene    string `json:"gene"`
	Variant string `json:"variant"`
}

func (k VariantKey) String() string {
	return k.Gene + " " + k.Variant
}

// variantPrefixes lists the accepted HGVS levels: protein, coding, RNA.
var variantPrefixes = []string{"p.", "c.", "r."}

// NormalizeVariants trims whitespace, drops entries with an empty gene or a
// variant outside the accepted HGVS levels, and removes duplicates. Genes
// compare case-insensitively; variants compare exactly. The first spelling
// seen wins and input order is preserved.
func NormalizeVariants(keys []VariantKey) []VariantKey {
	out := make([]VariantKey, 0, len(keys))
	seen := make(map[VariantKey]struct{}, len(keys))
	for _, key := range keys {
		gene := strings.TrimSpace(key.Gene)
		variant := strings.TrimSpace(key.Variant)
		if gene == "" || !hasVariantPrefix(variant) {
			continue
		}
		id := VariantKey{Gene: strings.ToUpper(gene), Variant: variant}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, VariantKey{Gene: gene, Variant: variant})
	}
	return out
}

func hasVariantPrefix(variant string) bool {
	for _, prefix := range variantPrefixes {
		if strings.HasPrefix(variant, prefix) {
			return true
		}
	}
	return false
}

// ParseVariants reads a validated discovery reply ({"data": [...]}) and
// returns the normalized variant set.
func ParseVariants(raw json.RawMessage) ([]VariantKey, error) {
	var envelope struct {
		Data []VariantKey `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	return NormalizeVariants(envelope.Data), nil
}
