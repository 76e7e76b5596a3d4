// Package daemonrun assembles the worker from configuration and runs it
// until SIGINT or SIGTERM.
package daemonrun
