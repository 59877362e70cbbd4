package rle

import (
	"github.com/cockroachdb/errors"
)

// RleVec is an ordered sequence of keyed RLE spans. Consecutive entries
// never satisfy CanAppend; pushes amortized O(1)
// via coalescence with the last entry, lookups O(log n) via binary search
// on RleKey.
type RleVec[V Keyed[V]] struct {
	entries []V
}

// New returns an empty RleVec.
func New[V Keyed[V]]() *RleVec[V] {
	return &RleVec[V]{}
}

// Len returns the number of stored entries (not the covered key range).
func (r *RleVec[V]) Len() int { return len(r.entries) }

// IsEmpty reports whether the vector holds no entries.
func (r *RleVec[V]) IsEmpty() bool { return len(r.entries) == 0 }

// End returns the exclusive end of the covered key range, i.e. the key one
// past the last entry, or 0 if empty.
func (r *RleVec[V]) End() int {
	if len(r.entries) == 0 {
		return 0
	}
	last := r.entries[len(r.entries)-1]
	return last.RleKey() + last.Len()
}

// At returns the entry at the given slice index (not a key lookup).
func (r *RleVec[V]) At(idx int) V { return r.entries[idx] }

// Entries exposes the underlying packed slice for read-only iteration.
func (r *RleVec[V]) Entries() []V { return r.entries }

// Push appends v to the end of the vector, coalescing with the last entry
// when CanAppend holds. v's key must equal r.End(); callers must hold
// exclusive access.
func (r *RleVec[V]) Push(v V) {
	if v.Len() == 0 {
		return
	}
	if n := len(r.entries); n > 0 {
		last := r.entries[n-1]
		if last.CanAppend(v) {
			r.entries[n-1] = last.Append(v)
			return
		}
	}
	r.entries = append(r.entries, v)
}

// FindIndex does a binary search for needle, returning the slice index
// containing it and found=true, or the insertion index (where an entry
// covering needle would be inserted) and found=false.
func (r *RleVec[V]) FindIndex(needle int) (idx int, found bool) {
	lo, hi := 0, len(r.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		e := r.entries[mid]
		switch {
		case needle < e.RleKey():
			hi = mid
		case needle >= e.RleKey()+e.Len():
			lo = mid + 1
		default:
			return mid, true
		}
	}
	return lo, false
}

// Find returns the entry containing needle, if any.
func (r *RleVec[V]) Find(needle int) (V, bool) {
	idx, found := r.FindIndex(needle)
	var zero V
	if !found {
		return zero, false
	}
	return r.entries[idx], true
}

// FindWithOffset returns the entry containing needle together with
// needle's offset within it.
func (r *RleVec[V]) FindWithOffset(needle int) (entry V, offset int, ok bool) {
	e, found := r.Find(needle)
	if !found {
		var zero V
		return zero, 0, false
	}
	return e, needle - e.RleKey(), true
}

// FindSparse returns either the entry containing needle (found=true), or
// the bounds of the surrounding void range [voidStart, voidEnd) that would
// contain needle if it doesn't fall inside any stored entry.
func (r *RleVec[V]) FindSparse(needle int) (entry V, voidStart, voidEnd int, found bool) {
	idx, ok := r.FindIndex(needle)
	if ok {
		return r.entries[idx], 0, 0, true
	}
	voidStart = 0
	if idx > 0 {
		prev := r.entries[idx-1]
		voidStart = prev.RleKey() + prev.Len()
	}
	voidEnd = int(^uint(0) >> 1) // max int: unbounded to the right
	if idx < len(r.entries) {
		voidEnd = r.entries[idx].RleKey()
	}
	var zero V
	return zero, voidStart, voidEnd, false
}

// Insert inserts v into the vector at its key, which must not overlap any
// existing entry. O(n): first tries to extend the previous entry, then to
// merge into the following entry, then falls back to a shifting insert.
func (r *RleVec[V]) Insert(v V) error {
	if v.Len() == 0 {
		return nil
	}
	idx, found := r.FindIndex(v.RleKey())
	if found {
		return errors.Newf("rle: insert at key %d overlaps existing entry", v.RleKey())
	}

	if idx > 0 {
		prev := r.entries[idx-1]
		if prev.CanAppend(v) {
			r.entries[idx-1] = prev.Append(v)
			// The merged previous entry might now also merge with what
			// follows it (e.g. filling a gap exactly). Attempt that too.
			if idx < len(r.entries) {
				merged := r.entries[idx-1]
				next := r.entries[idx]
				if merged.CanAppend(next) {
					r.entries[idx-1] = merged.Append(next)
					r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
				}
			}
			return nil
		}
	}
	if idx < len(r.entries) {
		next := r.entries[idx]
		if v.CanAppend(next) {
			r.entries[idx] = v.Append(next)
			return nil
		}
	}

	r.entries = append(r.entries, v) // grow capacity
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = v
	return nil
}

// IterRangePacked returns the entries covering [lo, hi), with the first and
// last entries trimmed (via SplitAt) to exactly match the requested window.
func (r *RleVec[V]) IterRangePacked(lo, hi int) []V {
	if lo >= hi {
		return nil
	}
	// If lo falls in a void, FindIndex reports the insertion index, which is
	// exactly the next present entry.
	startIdx, _ := r.FindIndex(lo)
	var out []V
	for i := startIdx; i < len(r.entries); i++ {
		e := r.entries[i]
		key := e.RleKey()
		end := key + e.Len()
		if key >= hi {
			break
		}
		if end <= lo {
			continue
		}
		if key < lo {
			_, e = e.SplitAt(lo - key)
			key = lo
		}
		if end := key + e.Len(); end > hi {
			e, _ = e.SplitAt(hi - key)
		}
		out = append(out, e)
	}
	return out
}

// ReplaceRange overwrites the key range covered by v (v.RleKey() to
// v.RleKey()+v.Len()) with v, splitting any entries that straddle the
// boundaries and discarding whatever they used to hold there. Used by the
// merge package's marker table (insert-leaf and delete-target markers),
// which (unlike the rest of this module) needs to overwrite a
// previously-written span rather than only ever append or insert into a
// gap.
func (r *RleVec[V]) ReplaceRange(v V) {
	lo, hi := v.RleKey(), v.RleKey()+v.Len()
	if r.IsEmpty() {
		r.entries = []V{v}
		return
	}
	end := r.End()
	if hi > end {
		end = hi
	}
	before := r.IterRangePacked(0, lo)
	after := r.IterRangePacked(hi, end)
	r.entries = nil
	for _, e := range before {
		r.Push(e)
	}
	r.Push(v)
	for _, e := range after {
		r.Push(e)
	}
}

// VoidRange describes a gap with no stored entry, [Start, End).
type VoidRange struct {
	Start, End int
}

// ForEachSparse visits every present entry and every void range up to end,
// in key order, with no gaps and no overlaps.
func (r *RleVec[V]) ForEachSparse(end int, visitEntry func(V), visitVoid func(VoidRange)) {
	pos := 0
	for _, e := range r.entries {
		key := e.RleKey()
		if key >= end {
			break
		}
		if key > pos {
			visitVoid(VoidRange{pos, key})
		}
		eEnd := key + e.Len()
		if eEnd > end {
			e, _ = e.SplitAt(end - key)
			eEnd = end
		}
		visitEntry(e)
		pos = eEnd
	}
	if pos < end {
		visitVoid(VoidRange{pos, end})
	}
}

// CheckPacked asserts the no-adjacent-mergeable-neighbours invariant; used
// by property tests, not on the hot path.
func (r *RleVec[V]) CheckPacked() error {
	for i := 1; i < len(r.entries); i++ {
		prev, cur := r.entries[i-1], r.entries[i]
		if prev.RleKey()+prev.Len() > cur.RleKey() {
			return errors.Newf("rle: entries %d and %d overlap", i-1, i)
		}
		if prev.CanAppend(cur) {
			return errors.Newf("rle: entries %d and %d should have been merged", i-1, i)
		}
	}
	return nil
}
