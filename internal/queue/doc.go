// Package queue provides the durable capture queue backed by SQLite.
//
// Every capture taken while the device is offline lands here first and is
// only removed once the backend has acknowledged it. The store survives
// process restarts; in-flight items from a crashed run are demoted back to
// pending on open so nothing is lost or double-counted.
package queue
