// Package worker runs dispatch tasks off the queue: the quota gate, the
// per-task dispatcher, the claim pool, and the periodic queue maintenance.
package worker
