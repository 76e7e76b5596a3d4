// Package daemon owns the long-running worker process lifecycle.
//
// It takes a flock-based lock so only one worker runs per state directory,
// starts the optional progress API, and runs the queue consumer until the
// context is cancelled or the consumer gives up. Wiring of the concrete
// services lives in daemonrun; this package only sequences start and stop.
package daemon
