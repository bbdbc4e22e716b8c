// Package ledger is the delivery ledger: one record per dispatch attempt,
// the send and open facts recorded against it, and the rolling send counts
// the quota gate reads.
//
// Every write is a single statement against the repository. MarkSent and
// MarkOpened touch disjoint columns, so a pixel hit racing a late send
// confirmation never loses either fact.
package ledger
