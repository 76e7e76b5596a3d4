// Package workflow runs one task descriptor end to end.
//
// The Runner is the glue between the consumer and the domain packages: it
// marks the task processing, downloads the PDF into a per-task work
// directory, runs the extraction pipeline, uploads both result tables,
// records their object keys and marks the task completed. Any failure marks
// the task failed with a human-readable message, emits status and error
// events, and is returned so the consumer can reject the delivery. The work
// directory is removed on every path.
//
// Each step is logged as a stage with stage_start/stage_complete/
// stage_failure event types and a stage_duration attribute.
package workflow
