// Package store implements the client-resident, optimistically consistent
// record store.
//
// A [Store] is the single source of truth for record data and status in one
// store layer. It owns per-record status bits, the current data slot, the
// last-committed snapshot and the changed-key bookkeeping that together
// drive the commit/rollback protocol with an external [Source].
//
// # Critical Patterns
//
// CP-1: One Core State
//   - Every storeKey holds exactly one of EMPTY/READY/DESTROYED/NON_EXISTENT
//   - Modifier bits (LOADING, COMMITTING, NEW, DIRTY, OBSOLETE) layer on top
//
// CP-2: Dirty Bookkeeping Travels Together
//   - committed snapshot and changed map are both present or both absent
//   - an edit that returns every field to its committed value collapses the
//     dirty state entirely (no ghost dirty records)
//
// CP-3: At Most One In-Flight Commit Per Record
//   - records already COMMITTING are excluded from the outgoing batch;
//     their accumulated edits ship in the next cycle
//
// CP-4: Misuse Never Throws
//   - writes against unready records and double-creates are reported through
//     the didError hook and become no-ops; the store stays consistent
//
// # Scheduling
//
// The original design batched commits "by end of the current run loop
// turn". Here that is an explicit [Scheduler]: CommitChanges enqueues a
// keyed task and the host calls Flush at the end of its tick. The model is
// single-threaded and cooperative; nothing in this package blocks.
//
// A [NestedStore] layers copy-on-write overlays over a parent Store for
// transactional edit buffers; see nested.go.
package store
