// Package evidence holds the functional-assay evidence model extracted from
// articles: variant keys, per-variant records, the prompts and JSON schemas
// that shape the LLM replies, and the value/explanation tables built from
// them.
package evidence
