// Package oddspath classifies functional-assay evidence into ACMG PS3/BS3
// strength categories.
//
// The odds of pathogenicity compares the proportion of abnormal readouts
// among pathogenic controls (P2) with the proportion of pathogenic variants
// in the assay (P1):
//
//	OddsPath = P2(1-P1) / ((1-P2)P1)
//
// Rows with insufficient replicates, no reproducibility or no validation
// process are never banded. Rows without statistical analysis are capped by
// the number of controls. Classification is pure and deterministic.
package oddspath
