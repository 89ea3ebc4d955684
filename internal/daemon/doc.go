// Package daemon wires the capture services together and runs them as a
// single background process: durable store, network monitor, sync engine,
// status reporter, HTTP capture API, and a file lock that guarantees one
// daemon per machine.
package daemon
