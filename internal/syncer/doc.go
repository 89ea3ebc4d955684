// Package syncer drains the capture queue to the backend.
//
// The engine is strictly single-flight and strictly FIFO: one drain run at a
// time, one item at a time, oldest first. Transient delivery failures retry
// with exponential backoff up to a configured attempt budget; permanent
// backend rejections park the item as failed. Losing connectivity mid-run
// returns the current item to pending without consuming an attempt and ends
// the run.
package syncer
