// Package reshuffle merges divergent operation histories into one canonical,
// gap-free history.
//
// Every function here is pure: inputs are never mutated and the same inputs
// always produce the same output. Two replicas that merge the same pair of
// histories with the same Reshuffler produce identical results.
//
// Pipeline (see Merge):
//
//	GarbageCollect both sides -> Split at the longest common prefix ->
//	FilterDuplicated incoming ops -> Reshuffler renumbers the tails
//
// Example with ByTimestampAndIndex:
//
//	[0:0, 1:0, 2:0, A3:0, A4:0, A5:0] + [0:0, 1:0, 2:0, B3:0, B4:2, B5:0]
//	GC        => [0:0, 1:0, 2:0, A3:0, A4:0, A5:0] + [0:0, 1:0, B4:2, B5:0]
//	Split     => [0:0, 1:0] + [2:0, A3:0, A4:0, A5:0] + [B4:2, B5:0]
//	Reshuffle => start 6, skip 4
//	Merge     => [0:0, 1:0, 6:4, 7:0, 8:0, 9:0, 10:0, 11:0]
package reshuffle
