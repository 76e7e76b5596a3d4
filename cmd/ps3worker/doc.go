// Command ps3worker is the operator CLI for the PS3/BS3 odds-path worker.
//
// It runs the worker in the foreground, inspects the task ledger and the
// progress history exposed by the HTTP API, enqueues descriptors for
// uploaded PDFs, checks external dependencies, and classifies evidence rows
// offline.
package main
