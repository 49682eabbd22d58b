// Package engine executes compiled query plans against the store.
//
// A Session is one unit of work. Queries created from it are compiled
// through the shared plan.Compiler, bound with per-invocation parameter
// values, executed through the store, and assembled into object graphs by
// a fresh result.Assembler per invocation.
//
// EXECUTION RESULT CONTRACT:
//
//	List          eagerly materialized results
//	Iterate       lazy, single-pass, non-restartable results
//	Scroll        a scroll.Cursor in the requested mode
//	ExecuteUpdate affected row count of an update or delete
//
// Nested loads (immediate select fetches, Ref.Load) run as internal
// queries through the same session, sharing the registry of the
// invocation that triggered them, so every entity is instantiated once per
// invocation whatever path reaches it.
//
// Every invocation is stamped with an execution ID (UUIDv7) that appears
// in its log lines. Execution errors carry the rendered SQL, never the
// bound values.
//
// Bulk updates and deletes invalidate the second-level cache spaces they
// touch: soft locks are taken before the statement runs and released when
// the surrounding transaction completes.
package engine
