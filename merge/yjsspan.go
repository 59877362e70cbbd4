// Package merge implements the Yjs-style (Fugue-variant) merge engine:
// the conflict sub-graph over two frontiers, its linearisation into a
// merge plan, the tracker that replays the plan over an order-statistic
// tree of CRDT items, and the transformed-operation iterator that turns
// the result into plain positional edits.
package merge

import (
	"github.com/egwalker/merge/causalgraph"
	"github.com/egwalker/merge/oplog"
	"github.com/egwalker/merge/rangetree"
)

type (
	// LV and friends are shared with the causal graph.
	LV       = causalgraph.LV
	LVRange  = causalgraph.LVRange
	Frontier = causalgraph.Frontier
)

const LVMax = causalgraph.LVMax

// UnderwaterStart is the first LV of the sentinel region representing the
// base document inside a fresh tracker. It sits far above any real LV, so
// synthetic items never collide with assigned versions.
const UnderwaterStart LV = 1 << 62

const underwaterLen = 1 << 40

// ItemState is a CRDT item's visibility at the tracker's current
// traversal point. Negative means not inserted yet, zero inserted, and a
// positive value n a concurrent-delete count of n.
type ItemState int

const (
	NotInsertedYet ItemState = -1
	Inserted       ItemState = 0
)

// DeletedN returns the state for an item deleted n (>= 1) times.
func DeletedN(n int) ItemState { return ItemState(n) }

func (s ItemState) IsDeleted() bool { return s > 0 }

// CRDTSpan is a run of CRDT items sharing origins and state: the entry
// type stored in the tracker's range tree.
type CRDTSpan struct {
	ID          LVRange
	OriginLeft  LV
	OriginRight LV
	State       ItemState
	EverDeleted bool
}

func (s CRDTSpan) Len() int { return s.ID.Len() }

func (s CRDTSpan) CanAppend(o CRDTSpan) bool {
	return o.ID.Start == s.ID.End &&
		o.OriginLeft == o.ID.Start-1 &&
		o.OriginRight == s.OriginRight &&
		o.State == s.State &&
		o.EverDeleted == s.EverDeleted
}

func (s CRDTSpan) Append(o CRDTSpan) CRDTSpan {
	s.ID.End = o.ID.End
	return s
}

func (s CRDTSpan) SplitAt(at int) (left, right CRDTSpan) {
	mid := s.ID.Start + LV(at)
	left = s
	left.ID.End = mid
	right = s
	right.ID.Start = mid
	right.OriginLeft = mid - 1
	return left, right
}

// originLeftAtOffset is the left origin of the item at offset within the
// run: the run's own left origin for the first item, the previous item
// otherwise.
func (s CRDTSpan) originLeftAtOffset(off int) LV {
	if off == 0 {
		return s.OriginLeft
	}
	return s.ID.Start + LV(off) - 1
}

func newUnderwater() CRDTSpan {
	return CRDTSpan{
		ID:          LVRange{Start: UnderwaterStart, End: UnderwaterStart + underwaterLen},
		OriginLeft:  LVMax,
		OriginRight: LVMax,
		State:       Inserted,
	}
}

// docWidth is the tracker tree's index value: Raw counts every item, Cur
// counts items visible at the current traversal point, and End counts
// items present in the merged output document (everything never
// deleted).
type docWidth struct {
	Raw, Cur, End int
}

type docIndex struct{}

func (docIndex) Zero() docWidth { return docWidth{} }

func (docIndex) Add(a, b docWidth) docWidth {
	return docWidth{Raw: a.Raw + b.Raw, Cur: a.Cur + b.Cur, End: a.End + b.End}
}

func (docIndex) Width(e CRDTSpan) docWidth {
	w := docWidth{Raw: e.Len()}
	if e.State == Inserted {
		w.Cur = e.Len()
	}
	if !e.EverDeleted {
		w.End = e.Len()
	}
	return w
}

func (docIndex) WidthAt(e CRDTSpan, off int) docWidth {
	w := docWidth{Raw: off}
	if e.State == Inserted {
		w.Cur = off
	}
	if !e.EverDeleted {
		w.End = off
	}
	return w
}

type (
	itemTree   = rangetree.Tree[CRDTSpan, docWidth, docIndex]
	itemLeaf   = rangetree.Leaf[CRDTSpan, docWidth, docIndex]
	itemCursor = rangetree.Cursor[CRDTSpan, docWidth, docIndex]
)

func curLen(e CRDTSpan) int {
	if e.State == Inserted {
		return e.Len()
	}
	return 0
}

// Re-exported oplog kinds, used pervasively below.
const (
	opIns = oplog.Ins
	opDel = oplog.Del
)
