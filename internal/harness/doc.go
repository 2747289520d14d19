// Package harness runs merge scenarios against the reshuffle engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: divergent_tails
//	description: "Two replicas append different tails after a shared prefix"
//	reshuffle: timestamp-index
//	target:
//	  - "0 0:0"
//	  - "A1 1:0@5"
//	incoming:
//	  - "0 0:0"
//	  - "B1 1:0"
//	expect:
//	  ids: [op-0, op-B1, op-A1]
//	  indexes: ["0:0", "2:1", "3:0"]
//	assertions:
//	  - type: commutative
//	  - type: order
//	    ids: [op-B1, op-A1]
//
// Each operation is written LABEL INDEX:SKIP with an optional @SECONDS
// timestamp offset from testutil.BaseTime; without one the offset equals the
// index. The operation id is "op-" + LABEL and its hash "hash-" + LABEL, so
// the same label on both sides denotes the same operation.
//
// # Assertion Types
//
//   - commutative: merging the sides in the opposite order gives the same result
//   - idempotent: merging the result with itself changes nothing
//   - contiguous: the result passes reshuffle.CheckIntegrity
//   - order: the listed ids appear in the result in this relative order
//   - absent: none of the listed ids appear in the result
//
// A scenario whose expect block names an error passes when the merge fails
// with an integrity issue of that code.
//
// # Golden Files
//
// RunWithGolden renders the merged history one "index:skip id" line per
// operation and compares it with testdata/golden/<name>.golden. Regenerate
// with:
//
//	go test ./internal/harness -update
package harness
