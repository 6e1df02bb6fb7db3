// Package harness executes YAML scenarios against a live store wired to a
// deterministic in-memory source, and compares the resulting traces against
// golden files.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: edit_during_commit
//	description: "Edits made while a commit is in flight stay dirty"
//	schema: ../schema
//	deferred: true
//	seed:
//	  - type: task
//	    records:
//	      - { id: t1, title: "one" }
//	steps:
//	  - { op: get, ref: rec, type: task, id: t1 }
//	  - { op: deliver, ref: rec }
//	  - { op: set, ref: rec, data: { title: "two" } }
//	  - { op: commit, ref: rec }
//	  - { op: flush, ref: rec }
//	assertions:
//	  - { type: record_state, ref: rec, is: "READY" }
//	  - { type: record_data, ref: rec, expect: { title: "two" } }
//	  - { type: source_count, line: "commit", count: 1 }
//
// The schema path names a CUE directory, resolved relative to the scenario
// file. With deferred set, source callbacks queue until a deliver step runs
// them, which is how in-flight interleavings are scripted.
//
// # Steps
//
//   - get: load a record by type and id, binding its store key to ref
//   - new: create a record from data, binding its store key to ref
//   - set: apply a partial data object to ref's record
//   - destroy: destroy ref's record
//   - commit: queue a commit round
//   - flush: drain the scheduler (runs queued commits)
//   - deliver: run queued source callbacks (count, default all)
//   - mode: set the source's answer to the next commit
//     (accept, decline, reject_transient, reject_permanent)
//   - offline: toggle the source offline
//
// Any step may carry a ref; the record's status after the step is recorded
// in the trace.
//
// # Assertions
//
//   - record_state: ref's final status renders as the given string
//   - record_data: ref's final data contains the expected fields
//   - source_log: some source log line contains the given substring
//   - source_order: substrings match distinct log lines in order
//   - source_count: exactly count log lines contain the substring
//
// # Determinism
//
// Scenarios run with serial store keys, sequence-allocated server ids and
// state tokens, and sorted commit batches, so the same scenario produces a
// byte-identical trace on every run. Golden files are regenerated with:
//
//	go test ./internal/harness -update
package harness
