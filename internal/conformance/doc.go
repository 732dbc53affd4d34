// Package conformance runs YAML scenarios against the real engine.
//
// A scenario scripts the two collaborators the engine cannot control: the
// sandbox (which outcome each candidate gets, matched on source text) and
// the generation service (whether it answers or fails). The engine itself
// is the production one, so transitions, budgets and artifacts come from
// the code under test, not from the scenario.
//
// Lineage ids, candidate generations and artifact timestamps are fixed by
// deterministic generators, which makes single-lineage traces stable
// enough for golden comparison:
//
//	go test ./internal/conformance -update
//
// Assertions check the outcome independently of the golden trace:
//
//   - artifact: a lineage ended with the given status, tag or reason
//   - artifact_count: how many artifacts match a kind and/or status
//   - transitions: the exact status sequence one lineage went through
//   - transition_count: how often any lineage entered a status
//   - coverage: the cumulative hit count of a location
//   - validations: how many validations ran
//   - repair_prompt: some repair request carried the given text
package conformance
