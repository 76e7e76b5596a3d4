// Package preflight provides readiness checks for the services and paths
// the worker depends on.
//
// The checks run in two places:
//   - the daemon runs RunAll at startup and logs every failure before it
//     starts consuming, and serves the same probes from /healthz;
//   - "ps3worker preflight" prints them as a table and exits non-zero when a
//     required check fails.
//
// Probes for remote services are injected so the caller decides which
// connections to open; a nil probe is reported as skipped.
package preflight
