// Package taskstore persists task status documents.
//
// A task moves queued → processing → completed|failed and never leaves a
// terminal status. Both backends enforce that rule inside the write itself
// (a filtered upsert in MongoDB, a conditional UPSERT in SQLite) so two
// workers racing on the same id cannot regress a finished task. Writes that
// would do so fail with ErrInvalidTransition.
//
// MongoDB is the shared store the rest of the system reads. The SQLite
// backend keeps a local ledger for single-host deployments and the operator
// CLI.
package taskstore
