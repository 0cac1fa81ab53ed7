// Package maintenance runs periodic cleanup. Expired session rows are
// purged, retention jobs such as the audit log prune old rows, and stale
// in-memory limiter and bot-score state is dropped. Runs are scheduled with
// robfig/cron; a panicking or overlapping run is recovered or skipped.
package maintenance
