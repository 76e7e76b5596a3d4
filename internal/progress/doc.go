// Package progress broadcasts per-task pipeline events to observers.
//
// A Broadcaster keeps the last HistoryLimit events of each task and hands
// them to new subscribers before live delivery starts. Publishing is
// non-blocking: every subscriber owns a buffered channel and an event that
// does not fit is dropped for that subscriber only. Events of one task are
// numbered by Seq and delivered in publish order.
package progress
