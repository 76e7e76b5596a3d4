package evidence

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/variants.txt
var variantsPrompt string

//go:embed prompts/extraction.tmpl
var extractionPromptSource string

var extractionPrompt = template.Must(template.New("extraction").Option("missingkey=error").Parse(extractionPromptSource))

// VariantsPrompt returns the discovery prompt sent with every page image.
func VariantsPrompt() string {
	return variantsPrompt
}

// ExtractionPrompt renders the per-variant extraction prompt.
func ExtractionPrompt(key VariantKey) (string, error) {
	var b strings.Builder
	if err := extractionPrompt.Execute(&b, key); err != nil {
		return "", fmt.Errorf("render extraction prompt for %s: %w", key, err)
	}
	return b.String(), nil
}
