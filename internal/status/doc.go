// Package status derives the live status surface shown to users.
//
// The reporter is a thin read-side over the store, sync engine, and network
// monitor, plus the two user actions the banner exposes: trigger a sync and
// purge the queue.
package status
