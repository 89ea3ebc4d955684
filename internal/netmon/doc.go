// Package netmon tracks backend reachability for the capture daemon.
//
// Rather than watching interface state, the monitor issues lightweight HTTP
// probes against the backend health endpoint. Transitions fan out to
// subscribed listeners; the sync engine uses the offline-to-online edge to
// start draining the queue automatically.
package netmon
