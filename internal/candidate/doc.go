// Package candidate holds the harness candidate arena.
//
// A Candidate is an immutable snapshot of harness source plus the metadata the
// scheduler needs to reason about it: which lineage it belongs to, which
// candidate it was derived from, and the generation counter it was stamped
// with. Validation results attach to a candidate exactly once.
//
// Lineages group the candidates produced by successive repairs of one seed.
// The Store keeps parent pointers only; walking a chain from head to root is
// the only traversal the scheduler needs.
//
// The package contains no scheduling policy. Status transitions are validated
// against a fixed table but the decision to transition belongs to the engine.
package candidate
