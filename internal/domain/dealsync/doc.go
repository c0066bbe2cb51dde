// Package dealsync contains the Deal Synchronization bounded context.
// It keeps the local relational copy of broker loan deals consistent with the
// upstream loan-origination system across repeated, possibly interrupted runs.
//
// Key concepts:
//   - RawDeal: strict schema for one source deal document
//   - RowSet: the normalized row groups produced by Transform, each tagged with a Collection
//   - Collection/Strategy: how the reconciler converges a child collection (index keyed, replace all, one to one)
//   - Partition: an independently synced broker account with its own watermark
//   - PartitionRun: the per-partition state machine of one batch run
//   - FailureRecord: a ledger entry for a deal that failed to sync, used to drive targeted retries
//
// Index-keyed child rows take their id from the parent id and their position in
// the source list. A source that reorders a list rewrites rows in place; it
// never duplicates them.
//
// Design Pattern: Ports & Adapters
//   - Ports (DealSource, DealReconciler, FailureLedger, PartitionRepository, QuarantineStore) are defined here
//   - Adapters live in the infrastructure layer
package dealsync
