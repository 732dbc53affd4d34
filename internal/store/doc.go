// Package store provides the SQLite-backed run index and the artifact
// recorder that writes bucket files to disk.
//
// The index holds two tables:
//   - runs: one row per engine run with its summary counters
//   - artifacts: one row per terminal lineage, pointing at the files
//     written under the output directory
//
// # Critical Patterns
//
// One Row Per Lineage
//   - UNIQUE(run_id, lineage) with ON CONFLICT DO NOTHING
//   - A lineage's artifact is recorded at most once even if emitted twice
//
// Deterministic Listing
//   - Artifacts are listed ORDER BY seq ASC (emission order)
//   - Runs are listed ORDER BY started_at DESC, id ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Coverage maps are stored as msgpack blobs (coverage.Encode).
package store
