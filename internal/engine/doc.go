// Package engine implements the harnessforge scheduler: the closed loop
// that moves harness candidates through validation, repair, and mutation.
//
// ARCHITECTURE:
//
// Result Loop:
// Run owns all lineage state. It reacts to three event sources, one at a
// time, under a single lock:
//   - validation results from the worker pool
//   - generation replies (repairs and mutations)
//   - budget expiry (deadline or cancellation)
//
// Validation Workers:
// A fixed pool (errgroup with SetLimit) drains a bounded candidate queue
// and runs each candidate through the Validator. Workers never touch
// lineage state; they only report results.
//
// Generation Slots:
// Repair and mutation requests wait in a priority queue (repairs first)
// and are dispatched to the collaborator while a slot is free. Each call
// goes through generation.Call for timeouts and retries.
//
// Lineage Lifecycle:
// Generated -> Validating -> {CompileError, RuntimeError, Timeout, Success}
// then RepairPending or MutationPending, ending in exactly one of
// Saved-Harness, Saved-Exception or Budget-Exhausted. Every terminal
// transition emits one artifact through the Sink.
//
// Budgets:
// Repair attempts are counted per lineage, mutation rounds per run. When
// the deadline passes, queued and pending work is abandoned; validations
// already running finish and their lineages end Budget-Exhausted.
package engine
