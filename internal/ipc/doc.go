// Package ipc provides JSON-RPC over a Unix domain socket between the
// fairsync CLI and the daemon.
package ipc
