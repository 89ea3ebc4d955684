// Package backend implements the HTTP client for the CRM ingest endpoints.
//
// Card captures go up as multipart uploads, QR scans as JSON. The queue item
// id doubles as an idempotency key so retried deliveries cannot duplicate
// records. Errors are classified as permanent (backend rejected the payload)
// or transient (network failure, timeout, server error) to drive the sync
// engine's retry decisions.
package backend
