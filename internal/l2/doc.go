// Package l2 is the second-level cache: regions holding query results
// across sessions, and the invalidation protocol bulk statements follow.
//
// Entries are tagged with the table spaces they were read from. A region
// stamps every space with a logical time whenever it is invalidated; an
// entry is served only when it was read after the last invalidation of
// each of its spaces and none of them is soft-locked.
//
// A bulk update or delete runs a BulkInvalidation: before the statement it
// soft-locks and evicts the affected spaces, and once the transaction
// completes it evicts them again and releases every lock exactly once,
// whether or not an earlier step failed.
package l2
