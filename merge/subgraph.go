package merge

import (
	"container/heap"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/egwalker/merge/causalgraph"
)

// DiffFlag labels which side of a merge a conflict-zone span is visible
// from.
type DiffFlag uint8

const (
	OnlyA DiffFlag = iota
	OnlyB
	Shared
)

func (f DiffFlag) String() string {
	switch f {
	case OnlyA:
		return "OnlyA"
	case OnlyB:
		return "OnlyB"
	default:
		return "Shared"
	}
}

// ConflictGraphEntry is one node of the conflict sub-graph: an LV span
// (empty for pure merge nodes) plus bookkeeping. Parents are indexes into
// the sub-graph, always greater than the entry's own index; the graph is
// stored in reverse topological order with the merger at index 0.
type ConflictGraphEntry struct {
	Parents     []int
	Span        LVRange
	NumChildren int
	Flag        DiffFlag
}

// ConflictSubgraph is the reduced DAG over the conflict zone between two
// frontiers, rooted at a single virtual merge node.
type ConflictSubgraph struct {
	Entries []ConflictGraphEntry

	// BaseVersion is the version the walk bottomed out at: the merge base
	// the plan starts from.
	BaseVersion Frontier
}

// cmpRevFrontier orders ascending-sorted frontiers by comparing their
// highest elements first, so a max-heap of queue entries pops the
// causally latest versions before their ancestors.
func cmpRevFrontier(a, b Frontier) int {
	i, j := len(a)-1, len(b)-1
	for i >= 0 && j >= 0 {
		if a[i] != b[j] {
			if a[i] < b[j] {
				return -1
			}
			return 1
		}
		i--
		j--
	}
	switch {
	case i < 0 && j < 0:
		return 0
	case i < 0:
		return -1
	default:
		return 1
	}
}

type queueEntry struct {
	version    Frontier // sorted ascending
	flag       DiffFlag
	childIndex int
}

type queueHeap []queueEntry

func (h queueHeap) Len() int            { return len(h) }
func (h queueHeap) Less(i, j int) bool  { return cmpRevFrontier(h[i].version, h[j].version) > 0 }
func (h queueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *queueHeap) Push(x interface{}) { *h = append(*h, x.(queueEntry)) }
func (h *queueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func sortedFrontier(f Frontier) Frontier {
	out := append(Frontier(nil), f...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func frontiersEqual(a, b Frontier) bool {
	return cmpRevFrontier(sortedFrontier(a), sortedFrontier(b)) == 0
}

// BuildConflictSubgraph builds the conflict sub-graph between frontiers a
// and b: a DAG whose spans cover exactly the union of both sides'
// histories above the merge base, each labelled OnlyA, OnlyB or Shared.
//
// The construction runs a max-heap of frontier queue entries: each pop
// coalesces identical versions (upgrading the flag to Shared on
// conflict), shatters multi-element frontiers into per-version pushes,
// then walks down through the containing causal span, emitting sub-graph
// entries whenever another queued version falls inside the span. It
// terminates when the queue drains to a single shared version or the
// root.
func BuildConflictSubgraph(cg *causalgraph.CausalGraph, a, b Frontier) (*ConflictSubgraph, error) {
	if frontiersEqual(a, b) {
		return &ConflictSubgraph{BaseVersion: sortedFrontier(a)}, nil
	}

	// Entry 0 is the merger: the union of A and B, flagged Shared by
	// convention.
	result := []ConflictGraphEntry{{Flag: Shared}}

	pushResult := func(span LVRange, flag DiffFlag, children *[]int) int {
		newIndex := len(result)
		for _, c := range *children {
			result[c].Parents = append(result[c].Parents, newIndex)
		}
		result = append(result, ConflictGraphEntry{
			Span:        span,
			NumChildren: len(*children),
			Flag:        flag,
		})
		*children = (*children)[:0]
		return newIndex
	}

	q := &queueHeap{}
	heap.Push(q, queueEntry{version: sortedFrontier(a), flag: OnlyA, childIndex: 0})
	heap.Push(q, queueEntry{version: sortedFrontier(b), flag: OnlyB, childIndex: 0})

	var children []int
	var base Frontier

outer:
	for {
		entry := heap.Pop(q).(queueEntry)
		flag := entry.flag
		children = append(children, entry.childIndex)

		// Coalesce every queued entry with the same version.
		for q.Len() > 0 && cmpRevFrontier((*q)[0].version, entry.version) == 0 {
			pe := heap.Pop(q).(queueEntry)
			if pe.flag != flag {
				flag = Shared
			}
			children = append(children, pe.childIndex)
		}

		if len(entry.version) == 0 {
			// Hit the root.
			base = Frontier{}
			break
		}
		v := entry.version[len(entry.version)-1]
		mergedWith := entry.version[:len(entry.version)-1]

		if q.Len() == 0 {
			// A common version for the whole graph; nothing past this point
			// matters.
			base = append(Frontier(nil), entry.version...)
			break
		}

		if len(mergedWith) > 0 {
			// A merge point: emit a dedicated merge entry, then shatter the
			// frontier into per-version queue entries.
			processHere := true
			if q.Len() > 0 {
				pv := (*q)[0].version
				if len(pv) > 1 && pv[len(pv)-1] == v {
					processHere = false
				}
			}

			newIndex := pushResult(LVRange{}, flag, &children)
			for _, m := range mergedWith {
				heap.Push(q, queueEntry{version: Frontier{m}, flag: flag, childIndex: newIndex})
			}
			if !processHere {
				heap.Push(q, queueEntry{version: Frontier{v}, flag: flag, childIndex: newIndex})
				continue
			}
			children = append(children, newIndex)
		}

		txn, _, ok := causalgraph.LookupEntry(cg, v)
		if !ok {
			return nil, errors.Newf("merge: version %d not in the causal graph", v)
		}
		last := v

		// Consume every other queued version falling inside this span.
		for {
			if q.Len() == 0 {
				base = Frontier{last}
				break outer
			}
			pv := (*q)[0].version
			if len(pv) == 0 {
				break
			}
			peekV := pv[len(pv)-1]
			if peekV < txn.Version {
				break
			}

			if len(pv) > 1 {
				// A merge is queued inside this span; flush the range above
				// it and requeue the plain version behind the merger.
				newIndex := pushResult(LVRange{Start: peekV + 1, End: last + 1}, flag, &children)
				heap.Push(q, queueEntry{version: Frontier{peekV}, flag: flag, childIndex: newIndex})
				continue outer
			}

			pe := heap.Pop(q).(queueEntry)
			if peekV == last {
				children = append(children, pe.childIndex)
			} else {
				newIndex := pushResult(LVRange{Start: peekV + 1, End: last + 1}, flag, &children)
				children = append(children, pe.childIndex, newIndex)
				last = peekV
			}
			if pe.flag != flag {
				flag = Shared
			}
		}

		// Emit the remainder of the span and queue its parents.
		newIndex := pushResult(LVRange{Start: txn.Version, End: last + 1}, flag, &children)
		heap.Push(q, queueEntry{
			version:    sortedFrontier(txn.Parents),
			flag:       flag,
			childIndex: newIndex,
		})
	}

	if len(children) > 1 {
		pushResult(LVRange{}, Shared, &children)
	}

	return &ConflictSubgraph{Entries: result, BaseVersion: base}, nil
}

// CheckInvariants verifies the sub-graph's structural guarantees: entry
// 0 is the only childless entry, only the last entry has empty parents,
// child counts are self-consistent, parent indexes strictly increase,
// and flags only specialise to Shared along parent edges.
func (g *ConflictSubgraph) CheckInvariants() error {
	if len(g.Entries) == 0 {
		return nil
	}
	if g.Entries[0].NumChildren != 0 {
		return errors.Newf("merge: entry 0 (the merger) must have no children")
	}
	for idx, e := range g.Entries {
		actual := 0
		for _, o := range g.Entries {
			for _, p := range o.Parents {
				if p == idx {
					actual++
				}
			}
		}
		if actual != e.NumChildren {
			return errors.Newf("merge: entry %d claims %d children, found %d", idx, e.NumChildren, actual)
		}
		if idx > 0 && actual == 0 {
			return errors.Newf("merge: entry %d has no children; only the merger may", idx)
		}
		if len(e.Parents) == 0 && idx != len(g.Entries)-1 {
			return errors.Newf("merge: entry %d has no parents but is not the last entry", idx)
		}
		if e.Span.Len() == 0 && idx != 0 && len(e.Parents) == 1 {
			return errors.Newf("merge: entry %d is a no-op", idx)
		}
		if e.Span.Len() > 0 && len(e.Parents) > 1 {
			return errors.Newf("merge: entry %d both merges and carries a span", idx)
		}
		for _, p := range e.Parents {
			if p <= idx || p >= len(g.Entries) {
				return errors.Newf("merge: entry %d has out-of-order parent %d", idx, p)
			}
			if idx > 0 {
				pf := g.Entries[p].Flag
				if pf != e.Flag && pf != Shared {
					return errors.Newf("merge: entry %d flag %v conflicts with parent %d flag %v", idx, e.Flag, p, pf)
				}
			}
		}
	}
	return nil
}

// SpansByFlag collects the union of entry spans per flag, as sorted
// disjoint ranges.
func (g *ConflictSubgraph) SpansByFlag(flag DiffFlag) []LVRange {
	var out []LVRange
	for i, e := range g.Entries {
		if i == 0 || e.Span.Len() == 0 || e.Flag != flag {
			continue
		}
		out = append(out, e.Span)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	var merged []LVRange
	for _, r := range out {
		if n := len(merged); n > 0 && merged[n-1].End == r.Start {
			merged[n-1].End = r.End
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
