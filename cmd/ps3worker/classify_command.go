package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/manumartinm/ps3-worker/internal/evidence"
	"github.com/manumartinm/ps3-worker/internal/oddspath"
)

type classifiedRow struct {
	Variant   string   `json:"variant_name,omitempty"`
	OddsPath  *float64 `json:"odds_path"`
	Category  string   `json:"category"`
	Computed  bool     `json:"odds_path_computed"`
	RowNumber int      `json:"row"`
}

func newClassifyCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify <rows.json|->",
		Short: "Classify evidence rows without calling the LLM",
		Long: "Read a JSON array of value-table rows (the twenty extraction fields) and print the " +
			"odds path and PS3/BS3 category of each row. Use - to read from stdin.",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readRows(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			classified := make([]classifiedRow, 0, len(rows))
			for i, row := range rows {
				result := oddspath.Classify(row)
				variant, _ := row[evidence.FieldVariantName].(string)
				classified = append(classified, classifiedRow{
					Variant:   variant,
					OddsPath:  result.OddsRatio,
					Category:  string(result.Category),
					Computed:  result.Computed,
					RowNumber: i + 1,
				})
			}
			if asJSON {
				return writeJSON(cmd, classified)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderClassification(classified))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func readRows(stdin io.Reader, source string) ([]map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode rows: expected a JSON array of objects: %w", err)
	}
	return rows, nil
}

func renderClassification(rows []classifiedRow) string {
	body := make([][]string, 0, len(rows))
	for _, row := range rows {
		oddsPath := "-"
		if row.OddsPath != nil {
			oddsPath = strconv.FormatFloat(*row.OddsPath, 'f', 3, 64)
		}
		body = append(body, []string{strconv.Itoa(row.RowNumber), row.Variant, oddsPath, row.Category})
	}
	return renderTable(
		[]string{"#", "Variant", "OddsPath", "Category"},
		body,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	)
}
