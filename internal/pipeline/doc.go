// Package pipeline runs the per-document stages of a task: rasterize the PDF,
// discover functional variants, extract one evidence record per variant,
// classify the rows and build the explanations table. Progress is reported
// through a progress.Publisher at fixed percentages so clients can render a
// bar without knowing the stage list.
package pipeline
