// Package workers implements the anchor worker pool.
//
// The pool manages a fixed number of goroutines that:
//   - Consume anchor jobs from the event bus
//   - Record session commitments and seed reveals on chain
//   - Attach transaction references to the session records
//
// Anchoring is best-effort and never blocks session progress. The health
// monitor tracks worker status and exports metrics.
package workers
