// Package rle implements run-length-encoded indexed sequences: the data
// structure substrate used by the causal graph, the operation log and the
// merge tracker's marker table.
//
// Entries are modeled as plain values with a small functional capability
// set (length, merge test, merge, split) rather than mutate-in-place
// methods, which keeps RleVec free of aliasing concerns when entries are
// stored directly in a slice.
package rle

// Entry is the capability set every run-length span must support:
//   - Len: the span's length, always >= 1 for a stored entry.
//   - CanAppend: true iff other is contiguous with and mergeable into the
//     receiver.
//   - Append: returns the merged entry for receiver followed by other. Only
//     called when CanAppend(other) holds.
//   - SplitAt: splits the receiver into [0, at) and [at, Len()). Both
//     halves must be independently valid entries; re-merging them with
//     Append must reproduce the original.
type Entry[V any] interface {
	Len() int
	CanAppend(other V) bool
	Append(other V) V
	SplitAt(at int) (left, right V)
}

// Keyed entries additionally carry an integer key. The span covers
// [RleKey(), RleKey()+Len()).
type Keyed[V any] interface {
	Entry[V]
	RleKey() int
}
