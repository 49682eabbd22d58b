// Package store is the statement-execution provider: a SQLite database
// opened with the pragmas the engine relies on.
//
// Statements arrive fully rendered with positional arguments; the store
// never builds SQL. Rows are returned as generic value slices in select
// list order, which is the shape the result assembler consumes.
//
// One connection is kept open. SQLite allows a single writer, and an
// in-memory database only exists for the connection that created it.
package store
